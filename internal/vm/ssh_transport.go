package vm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHTransport runs guest commands over SSH. Stdout and stderr of the
// session are merged into one buffer in arrival order.
type SSHTransport struct {
	// Addr is the guest SSH endpoint, e.g. "192.168.64.2:22".
	Addr string

	// User is the guest login user.
	User string

	// Signer authenticates the session.
	Signer ssh.Signer

	// DialTimeout bounds connection establishment. Zero means 10s.
	DialTimeout time.Duration
}

func (t *SSHTransport) Run(ctx context.Context, command string) (string, int, error) {
	dialTimeout := t.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	clientCfg := &ssh.ClientConfig{
		User: t.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(t.Signer)},
		// The guest is ephemeral and rebuilt from images; its host key
		// changes on every provision.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", t.Addr, clientCfg)
	if err != nil {
		return "", 0, fmt.Errorf("dial guest ssh %s: %w", t.Addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", 0, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Kill the remote process, then tear the connection down so the
		// session goroutine unblocks.
		_ = session.Signal(ssh.SIGKILL)
		client.Close()
		<-done
		return output.String(), ExitTimeout, ctx.Err()
	case err := <-done:
		if err == nil {
			return output.String(), 0, nil
		}
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return output.String(), exitErr.ExitStatus(), nil
		}
		return output.String(), 0, fmt.Errorf("run guest command: %w", err)
	}
}

// LoadSigner parses an OpenSSH private key file into a signer for the
// transport.
func LoadSigner(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
