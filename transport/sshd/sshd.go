// Package sshd is a minimal in-process SSH server used to exercise
// transport/ssh against a real (if local) listener in tests, rather
// than mocking the protocol entirely. It understands exactly one
// thing: a "git-upload-pack '<path>'" command, whose stdin/stdout it
// wires to a caller-supplied handler.
package sshd

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"

	gossh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"
)

// Handler serves one "git-upload-pack" invocation: read the
// negotiation request from in, write the advertisement/pack response
// to out.
type Handler func(in io.Reader, out io.Writer) error

var uploadPackCmd = regexp.MustCompile(`^git-upload-pack '(.+)'$`)

// Server wraps a gliderlabs/ssh.Server configured to accept any
// public key (test harness only — never use NoClientAuth-equivalent
// trust in production) and dispatch upload-pack commands to Handler.
type Server struct {
	ln      net.Listener
	srv     *gossh.Server
	handler Handler
}

// New starts listening on addr ("127.0.0.1:0" for an ephemeral port).
func New(addr string, handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{ln: ln, handler: handler}
	s.srv = &gossh.Server{
		Handler: s.handleSession,
		PublicKeyHandler: func(ctx gossh.Context, key gossh.PublicKey) bool {
			return true // test harness: accept any key, host verification is exercised client-side
		},
	}
	signer, err := generateHostKey()
	if err != nil {
		ln.Close()
		return nil, err
	}
	s.srv.AddHostKey(signer)

	go s.srv.Serve(ln)
	return s, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close shuts the server down.
func (s *Server) Close() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleSession(sess gossh.Session) {
	cmd := sess.RawCommand()
	m := uploadPackCmd.FindStringSubmatch(cmd)
	if m == nil {
		fmt.Fprintf(sess.Stderr(), "sshd: unsupported command %q\n", cmd)
		sess.Exit(1)
		return
	}
	if err := s.handler(sess, sess); err != nil {
		fmt.Fprintf(sess.Stderr(), "sshd: %v\n", err)
		sess.Exit(1)
		return
	}
	sess.Exit(0)
}

func generateHostKey() (ssh.Signer, error) {
	key, err := generateEd25519()
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}
