package sshd_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"testing"

	"github.com/grahambrooks/gitkit/transport/sshd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestServerDispatchesUploadPack(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromSigner(priv)
	require.NoError(t, err)

	srv, err := sshd.New("127.0.0.1:0", func(in io.Reader, out io.Writer) error {
		body, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		if string(body) != "0032want aaaa0000" {
			_, err := out.Write([]byte("unexpected body"))
			return err
		}
		_, err = out.Write([]byte("ack"))
		return err
	})
	require.NoError(t, err)
	defer srv.Close()

	client, err := ssh.Dial("tcp", srv.Addr(), &ssh.ClientConfig{
		User:            "git",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	require.NoError(t, err)
	defer client.Close()

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()

	stdin, err := session.StdinPipe()
	require.NoError(t, err)
	stdout, err := session.StdoutPipe()
	require.NoError(t, err)

	require.NoError(t, session.Start("git-upload-pack 'repo.git'"))
	_, err = stdin.Write([]byte("0032want aaaa0000"))
	require.NoError(t, err)
	require.NoError(t, stdin.Close())

	out, err := io.ReadAll(stdout)
	require.NoError(t, err)
	assert.Equal(t, "ack", string(out))
	assert.NoError(t, session.Wait())
}
