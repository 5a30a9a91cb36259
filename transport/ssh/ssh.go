// Package ssh implements transport.Roundtripper over git's SSH
// carrier: dial, run "git-upload-pack '<path>'" on the remote, and
// expose its stdin/stdout as the discovery and negotiation streams.
// Host key verification uses ~/.ssh/known_hosts; authentication
// prefers a running ssh-agent, falling back to an explicit key.
package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/grahambrooks/gitkit/transport/sshconfig"
	"github.com/skeema/knownhosts"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
)

// Transport dials a single git-over-ssh remote per call; git's SSH
// carrier has no separate discovery/negotiate sessions, so Discover
// and UploadPack each open a new session against the same connection.
type Transport struct {
	Host string
	Path string // repository path on the remote, as in "git@host:path.git"
	User string
	Port int

	Signers []ssh.Signer // explicit keys; tried if no agent is available

	conn      *ssh.Client
	agentConn net.Conn
}

// New returns a Transport for host/path, resolving ~/.ssh/config and
// ~/.ssh/known_hosts lazily on first dial.
func New(host, path, user string, port int) *Transport {
	return &Transport{Host: host, Path: path, User: user, Port: port}
}

func (t *Transport) dial(ctx context.Context) (*ssh.Client, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	ep, err := sshconfig.Resolve(t.Host, t.User, t.Port)
	if err != nil {
		return nil, fmt.Errorf("transport/ssh: resolving config: %w", err)
	}

	khPath := filepath.Join(homeOr(""), ".ssh", "known_hosts")
	hostKeyCallback, err := knownhosts.New(khPath)
	if err != nil {
		return nil, fmt.Errorf("transport/ssh: loading known_hosts: %w", err)
	}

	authMethods, agentConn, err := t.authMethods()
	if err != nil {
		return nil, err
	}
	t.agentConn = agentConn

	cfg := &ssh.ClientConfig{
		User:              ep.User,
		Auth:              authMethods,
		HostKeyCallback:   ssh.HostKeyCallback(hostKeyCallback),
		HostKeyAlgorithms: hostKeyCallback.HostKeyAlgorithms(net.JoinHostPort(ep.Hostname, ep.Port)),
		Timeout:           15 * time.Second,
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ep.Hostname, ep.Port))
	if err != nil {
		return nil, fmt.Errorf("transport/ssh: dial: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, net.JoinHostPort(ep.Hostname, ep.Port), cfg)
	if err != nil {
		return nil, fmt.Errorf("transport/ssh: handshake: %w", err)
	}
	t.conn = ssh.NewClient(clientConn, chans, reqs)
	return t.conn, nil
}

// authMethods prefers a running ssh-agent (so the caller is never
// forced to load a private key into process memory) and falls back to
// any explicitly configured signer.
func (t *Transport) authMethods() ([]ssh.AuthMethod, net.Conn, error) {
	if agentClient, conn, err := sshagent.New(); err == nil {
		signers, err := agentClient.Signers()
		if err == nil && len(signers) > 0 {
			return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, conn, nil
		}
		if conn != nil {
			conn.Close()
		}
	}
	if len(t.Signers) > 0 {
		return []ssh.AuthMethod{ssh.PublicKeys(t.Signers...)}, nil, nil
	}
	return nil, nil, fmt.Errorf("transport/ssh: no ssh-agent running and no explicit key configured")
}

// Discover implements transport.Roundtripper by running git-upload-pack
// and reading its ref advertisement off stdout.
func (t *Transport) Discover(ctx context.Context, service string) (io.ReadCloser, error) {
	return t.runCommand(ctx, service)
}

// UploadPack implements transport.Roundtripper. It starts a new
// "git-upload-pack" session on the same SSH connection Discover used,
// writes body to that session's stdin, and returns its stdout; the
// session that carried Discover's ref advertisement is not reused.
func (t *Transport) UploadPack(ctx context.Context, body io.Reader) (io.ReadCloser, error) {
	rc, stdin, err := t.startCommand(ctx, "git-upload-pack")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(stdin, body); err != nil {
		rc.Close()
		return nil, err
	}
	return rc, nil
}

func (t *Transport) runCommand(ctx context.Context, service string) (io.ReadCloser, error) {
	rc, _, err := t.startCommand(ctx, service)
	return rc, err
}

type sessionReadCloser struct {
	io.Reader
	session *ssh.Session
}

func (s *sessionReadCloser) Close() error { return s.session.Close() }

func (t *Transport) startCommand(ctx context.Context, service string) (io.ReadCloser, io.WriteCloser, error) {
	client, err := t.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("transport/ssh: new session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	if err := session.Start(fmt.Sprintf("%s '%s'", service, t.Path)); err != nil {
		session.Close()
		return nil, nil, fmt.Errorf("transport/ssh: starting %s: %w", service, err)
	}
	return &sessionReadCloser{Reader: stdout, session: session}, stdin, nil
}

// Close releases the underlying connection and any forwarded agent socket.
func (t *Transport) Close() error {
	if t.agentConn != nil {
		t.agentConn.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func homeOr(fallback string) string {
	h, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return h
}
