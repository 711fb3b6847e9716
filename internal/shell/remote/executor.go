// Package remote ships deployment routines to target hosts over SSH and
// runs them. Each invocation walks a fixed lifecycle: stage the key
// material, connect, transfer and invoke the routine, then clear every
// staged credential. The clearing step runs on every return path,
// including cancellation and connection failures.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/shipway/shipway/internal/core/deploy"
)

// =============================================================================
// Errors
// =============================================================================

// ErrRoutineFailed marks a routine that ran on the host and exited
// non-zero. The caller classifies the failure from the captured output.
var ErrRoutineFailed = errors.New("remote routine exited non-zero")

// =============================================================================
// Types
// =============================================================================

// State is the observable position of an executor in its invocation
// lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateCredentialStaged  State = "credential_staged"
	StateConnected         State = "connected"
	StateExecuted          State = "executed"
	StateCredentialCleared State = "credential_cleared"
)

// Config bounds the phases of a remote invocation.
type Config struct {
	ConnectTimeout time.Duration // SSH dial and handshake
	UploadTimeout  time.Duration // routine transfer
	ExecTimeout    time.Duration // routine run, dominated by image pull
	CleanupTimeout time.Duration // remote script removal
	StagingDir     string        // parent for staged key material, defaults to the system temp dir
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 60 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 10 * time.Minute
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 15 * time.Second
	}
	return c
}

// Executor runs deployment routines on a single host. It holds no open
// connection between invocations; every call establishes and tears down
// its own session state.
type Executor struct {
	host   deploy.HostSpec
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// NewExecutor builds an executor for one host.
func NewExecutor(host deploy.HostSpec, config Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		host:   host,
		config: config.withDefaults(),
		logger: logger.With("component", "remote-executor", "host", host.Address),
		state:  StateIdle,
	}
}

// State reports the executor's position in the invocation lifecycle.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Executor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// =============================================================================
// Invocation
// =============================================================================

const remoteDir = "~/.shipway"

// Execute transfers the routine to the host and runs it with the given
// environment. The returned output is the combined stdout and stderr of
// the routine, captured even when it fails so the caller can classify
// the failure. The staged key and the transferred script are removed on
// every return path.
func (e *Executor) Execute(ctx context.Context, script string, env map[string]string) ([]byte, error) {
	scriptPath := fmt.Sprintf("%s/routine-%s.sh", remoteDir, uuid.New().String()[:8])

	var output []byte
	err := e.withSession(ctx, func(client *ssh.Client) error {
		if err := e.upload(ctx, client, scriptPath, script); err != nil {
			return err
		}
		defer e.removeScript(client, scriptPath)

		out, err := e.run(ctx, client, deploy.InvokeCommand(scriptPath, env), e.config.ExecTimeout)
		output = out
		e.setState(StateExecuted)
		return err
	})
	return output, err
}

// Capture runs a single diagnostic command on the host and returns its
// combined output. It follows the same credential lifecycle as Execute.
func (e *Executor) Capture(ctx context.Context, command string) ([]byte, error) {
	var output []byte
	err := e.withSession(ctx, func(client *ssh.Client) error {
		out, err := e.run(ctx, client, command, e.config.CleanupTimeout)
		output = out
		e.setState(StateExecuted)
		return err
	})
	return output, err
}

// withSession stages the key, dials the host and hands the connected
// client to fn. Staged material is cleared before it returns, whatever
// path fn or the dial takes.
func (e *Executor) withSession(ctx context.Context, fn func(*ssh.Client) error) error {
	keyPath, err := e.stageKey()
	if err != nil {
		e.setState(StateCredentialCleared)
		return fmt.Errorf("%w: staging key material: %v", deploy.ErrRemoteConnection, err)
	}
	e.setState(StateCredentialStaged)
	defer func() {
		if rmErr := os.RemoveAll(filepath.Dir(keyPath)); rmErr != nil {
			e.logger.Warn("failed to clear staged key material", "error", rmErr)
		}
		e.setState(StateCredentialCleared)
	}()

	client, err := e.connect(ctx, keyPath)
	if err != nil {
		return err
	}
	e.setState(StateConnected)
	defer client.Close()

	return fn(client)
}

// stageKey writes the host's private key to a mode 0600 file inside a
// fresh mode 0700 directory and returns the file path.
func (e *Executor) stageKey() (string, error) {
	dir, err := os.MkdirTemp(e.config.StagingDir, "shipway-cred-")
	if err != nil {
		return "", err
	}
	keyPath := filepath.Join(dir, "id")
	if err := os.WriteFile(keyPath, e.host.PrivateKeyPEM, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return keyPath, nil
}

// connect dials the host using the staged key. When a known-hosts file
// is configured and the host is not yet registered, the host key is
// recorded once and the dial retried; a key mismatch is never retried.
func (e *Executor) connect(ctx context.Context, keyPath string) (*ssh.Client, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading staged key: %v", deploy.ErrRemoteConnection, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", deploy.ErrRemoteConnection, err)
	}

	port := e.host.SSHPort
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(e.host.Address, strconv.Itoa(port))

	callback, err := e.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deploy.ErrRemoteConnection, err)
	}

	client, err := e.dial(ctx, addr, signer, callback)
	if err == nil {
		return client, nil
	}
	if e.host.KnownHostsPath != "" && isUnknownHostKey(err) {
		if regErr := e.registerHostKey(addr); regErr != nil {
			e.logger.Warn("failed to register host key", "error", regErr)
			return nil, fmt.Errorf("%w: %w", deploy.ErrRemoteConnection, err)
		}
		callback, cbErr := e.hostKeyCallback()
		if cbErr != nil {
			return nil, fmt.Errorf("%w: %v", deploy.ErrRemoteConnection, cbErr)
		}
		client, err = e.dial(ctx, addr, signer, callback)
		if err == nil {
			return client, nil
		}
	}
	return nil, fmt.Errorf("%w: dialing %s: %w", deploy.ErrRemoteConnection, addr, err)
}

func (e *Executor) dial(ctx context.Context, addr string, signer ssh.Signer, callback ssh.HostKeyCallback) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            e.host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: callback,
		Timeout:         e.config.ConnectTimeout,
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, config)
		done <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.client, r.err
	}
}

// =============================================================================
// Transfer and Run
// =============================================================================

// upload writes the routine to scriptPath on the host and marks it
// executable. The script travels as session stdin, never through argv.
func (e *Executor) upload(ctx context.Context, client *ssh.Client, scriptPath, script string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: opening transfer session: %v", deploy.ErrRemoteConnection, err)
	}
	defer session.Close()

	session.Stdin = strings.NewReader(script)
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && chmod +x %s", remoteDir, scriptPath, scriptPath)

	if err := e.waitRun(ctx, session, cmd, e.config.UploadTimeout); err != nil {
		return fmt.Errorf("%w: transferring routine: %v", deploy.ErrRemoteConnection, err)
	}
	return nil
}

// run executes cmd on the host and returns its combined output. A
// non-zero exit becomes ErrRoutineFailed; the output is returned in
// either case.
func (e *Executor) run(ctx context.Context, client *ssh.Client, cmd string, timeout time.Duration) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: opening session: %v", deploy.ErrRemoteConnection, err)
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	if err := e.waitRun(ctx, session, cmd, timeout); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return buf.Bytes(), fmt.Errorf("%w: exit status %d", ErrRoutineFailed, exitErr.ExitStatus())
		}
		return buf.Bytes(), err
	}
	return buf.Bytes(), nil
}

// waitRun runs cmd on the session, bounded by the context and timeout.
func (e *Executor) waitRun(ctx context.Context, session *ssh.Session, cmd string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return ctx.Err()
	case <-time.After(timeout):
		session.Close()
		<-done
		return fmt.Errorf("%w: command timed out after %s", deploy.ErrRemoteConnection, timeout)
	case err := <-done:
		return err
	}
}

// removeScript deletes the transferred routine. Runs during cleanup, so
// it is bounded by its own timer and never fails the invocation.
func (e *Executor) removeScript(client *ssh.Client, scriptPath string) {
	session, err := client.NewSession()
	if err != nil {
		e.logger.Warn("failed to open cleanup session", "error", err, "script", scriptPath)
		return
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		done <- session.Run("rm -f " + scriptPath)
	}()
	select {
	case <-time.After(e.config.CleanupTimeout):
		session.Close()
		<-done
		e.logger.Warn("cleanup timed out removing routine", "script", scriptPath)
	case err := <-done:
		if err != nil {
			e.logger.Warn("failed to remove routine", "error", err, "script", scriptPath)
		}
	}
}
