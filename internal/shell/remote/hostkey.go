package remote

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// =============================================================================
// Host Key Verification
// =============================================================================

// hostKeyCallback returns the verification callback for dials. Without a
// configured known-hosts file the host key is not verified, matching the
// default posture for single-host targets provisioned out of band.
func (e *Executor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.host.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if err := ensureFile(e.host.KnownHostsPath); err != nil {
		return nil, fmt.Errorf("preparing known hosts file: %w", err)
	}
	callback, err := knownhosts.New(e.host.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}
	return callback, nil
}

// isUnknownHostKey reports whether the dial failed only because the host
// has no known-hosts entry yet. A mismatch against a recorded key is not
// unknown and must never be repaired automatically.
func isUnknownHostKey(err error) bool {
	var keyErr *knownhosts.KeyError
	return errors.As(err, &keyErr) && len(keyErr.Want) == 0
}

// registerHostKey performs a discovery handshake against addr, records
// the presented host key in the known-hosts file and disconnects. The
// handshake aborts at authentication, which is expected: only the key
// exchange matters here.
func (e *Executor) registerHostKey(addr string) error {
	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User: e.host.User,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return nil
		},
		Timeout: e.config.ConnectTimeout,
	}
	client, err := ssh.Dial("tcp", addr, config)
	if client != nil {
		client.Close()
	}
	if captured == nil {
		return fmt.Errorf("host key discovery failed: %w", err)
	}

	line := knownhosts.Line([]string{addr}, captured)
	f, err := os.OpenFile(e.host.KnownHostsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening known hosts file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("recording host key: %w", err)
	}
	e.logger.Info("registered host key", "address", addr)
	return nil
}

func ensureFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}
