// Package deploy holds the pure deployment model: the per-invocation
// request, the ordered workload-replacement plan, the rendered remote
// routine, and the failure taxonomy. Nothing here performs I/O; the shell
// executes what this package composes.
package deploy

import (
	"errors"

	"github.com/shipway/shipway/internal/core/artifact"
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

var (
	ErrRegistryAuth     = errors.New("registry authentication rejected")
	ErrArtifactPull     = errors.New("artifact pull failed")
	ErrRemoteConnection = errors.New("remote connection failed")
	ErrRemoteDeployment = errors.New("remote deployment failed")
	ErrHealthTimeout    = errors.New("health check timed out")
)

// FailureStage names the pipeline step a deployment failed at.
type FailureStage string

const (
	FailureNone    FailureStage = ""
	FailureResolve FailureStage = "resolve"
	FailureAuth    FailureStage = "auth"
	FailurePull    FailureStage = "pull"
	FailureConnect FailureStage = "connect"
	FailureExecute FailureStage = "execute"
	FailureHealth  FailureStage = "health"
)

// Classify maps an error to the pipeline step that produced it.
func Classify(err error) FailureStage {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, artifact.ErrInvalidReference):
		return FailureResolve
	case errors.Is(err, ErrRegistryAuth):
		return FailureAuth
	case errors.Is(err, ErrArtifactPull):
		return FailurePull
	case errors.Is(err, ErrRemoteConnection):
		return FailureConnect
	case errors.Is(err, ErrHealthTimeout):
		return FailureHealth
	default:
		return FailureExecute
	}
}

// =============================================================================
// Request
// =============================================================================

// Transport selects how an environment's host is reached.
type Transport string

const (
	// TransportSSH ships the rendered routine to the host over SSH.
	TransportSSH Transport = "ssh"
	// TransportDocker drives the local Docker daemon directly.
	TransportDocker Transport = "docker"
)

// HostSpec describes the machine an environment deploys to.
type HostSpec struct {
	Transport      Transport
	Address        string
	SSHPort        int
	User           string
	PrivateKeyPEM  []byte
	KnownHostsPath string
	// DockerDaemon is the daemon endpoint for the docker transport.
	// Empty means the environment default.
	DockerDaemon string
}

// RegistryCredential is the login material for the artifact registry.
// The password never appears in a rendered routine; it travels in the
// invocation environment only.
type RegistryCredential struct {
	Host     string
	Username string
	Password string
}

// Request is one deployment invocation: created per stage run, consumed
// once, never persisted.
type Request struct {
	Environment string
	Artifact    artifact.Reference
	Version     string
	Host        HostSpec
	Registry    RegistryCredential
}

// =============================================================================
// Outcome
// =============================================================================

// Outcome is the immutable result of one Request.
type Outcome struct {
	Success      bool         `json:"success"`
	FailureStage FailureStage `json:"failure_stage,omitempty"`
	Diagnostics  string       `json:"diagnostics,omitempty"`
}

// Failure builds a failed outcome from an error and the diagnostics
// captured for it.
func Failure(err error, diagnostics string) Outcome {
	return Outcome{
		Success:      false,
		FailureStage: Classify(err),
		Diagnostics:  diagnostics,
	}
}
