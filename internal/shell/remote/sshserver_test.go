package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// =============================================================================
// In-Process SSH Server
// =============================================================================

// testServer accepts SSH sessions, records every exec request together
// with its stdin, and answers with scripted output and exit codes.
type testServer struct {
	listener net.Listener
	hostKey  ssh.Signer

	mu        sync.Mutex
	commands  []string
	stdins    []string
	responses []scriptedResponse
}

type scriptedResponse struct {
	match  string
	output string
	status uint32
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	s := &testServer{listener: listener, hostKey: hostSigner}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	config.AddHostKey(hostSigner)

	go s.serve(config)
	t.Cleanup(func() { listener.Close() })
	return s
}

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// respond scripts the reply for any exec command containing match.
func (s *testServer) respond(match, output string, status uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scriptedResponse{match: match, output: output, status: status})
}

func (s *testServer) recorded() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...), append([]string(nil), s.stdins...)
}

func (s *testServer) serve(config *ssh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn, config)
	}
}

func (s *testServer) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *testServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go s.runExec(channel, payload.Command)
		default:
			req.Reply(false, nil)
		}
	}
}

// runExec drains stdin, records the invocation, writes the scripted
// output and reports the exit status.
func (s *testServer) runExec(channel ssh.Channel, command string) {
	stdin, _ := io.ReadAll(channel)

	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.stdins = append(s.stdins, string(stdin))
	response := scriptedResponse{status: 0}
	for _, r := range s.responses {
		if strings.Contains(command, r.match) {
			response = r
			break
		}
	}
	s.mu.Unlock()

	if response.output != "" {
		channel.Write([]byte(response.output))
	}
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{response.status}))
	channel.Close()
}

// =============================================================================
// Key Material
// =============================================================================

// testKeyPEM generates a client key pair and returns the PEM-encoded
// private key alongside its signer.
func testKeyPEM(t *testing.T) ([]byte, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(block), signer
}
