package workload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/shipway/shipway/internal/core/deploy"
)

// =============================================================================
// Docker Transport
// =============================================================================

// DockerHost interprets replacement plans against a Docker daemon through
// the SDK. It is selected for environments the engine can reach without a
// remote shell, typically the engine's own machine.
type DockerHost struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewDockerHost creates the Docker transport. An empty daemon endpoint
// uses the environment default.
func NewDockerHost(daemon string, logger *slog.Logger) (*DockerHost, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if daemon != "" {
		opts = append(opts, client.WithHost(daemon))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating docker client: %v", deploy.ErrRemoteConnection, err)
	}
	return &DockerHost{
		cli:    cli,
		logger: logger.With("component", "docker-host"),
	}, nil
}

// Close releases the daemon connection.
func (h *DockerHost) Close() error {
	return h.cli.Close()
}

// Apply runs the replacement steps in plan order: pull, stop, remove,
// create, start. A missing previous instance is tolerated; the named
// container is the only one touched.
func (h *DockerHost) Apply(ctx context.Context, plan deploy.Plan) ([]byte, error) {
	var out bytes.Buffer

	fmt.Fprintf(&out, "pulling %s\n", plan.Image)
	if err := h.pull(ctx, plan); err != nil {
		return out.Bytes(), err
	}

	fmt.Fprintf(&out, "replacing container %s\n", plan.ContainerName)
	stopTimeout := 10
	err := h.cli.ContainerStop(ctx, plan.ContainerName, container.StopOptions{Timeout: &stopTimeout})
	if err != nil && !client.IsErrNotFound(err) {
		return out.Bytes(), fmt.Errorf("%w: stopping %s: %v", deploy.ErrRemoteDeployment, plan.ContainerName, err)
	}
	err = h.cli.ContainerRemove(ctx, plan.ContainerName, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return out.Bytes(), fmt.Errorf("%w: removing %s: %v", deploy.ErrRemoteDeployment, plan.ContainerName, err)
	}

	id, err := h.create(ctx, plan)
	if err != nil {
		return out.Bytes(), err
	}
	if err := h.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return out.Bytes(), fmt.Errorf("%w: starting %s: %v", deploy.ErrRemoteDeployment, plan.ContainerName, err)
	}

	fmt.Fprintf(&out, "started %s (%s)\n", plan.ContainerName, id[:12])
	return out.Bytes(), nil
}

func (h *DockerHost) pull(ctx context.Context, plan deploy.Plan) error {
	pullOpts := image.PullOptions{}
	if plan.Registry.Username != "" {
		auth, err := registryAuth(plan.Registry)
		if err != nil {
			return fmt.Errorf("%w: %v", deploy.ErrRegistryAuth, err)
		}
		pullOpts.RegistryAuth = auth
	}

	reader, err := h.cli.ImagePull(ctx, plan.Image, pullOpts)
	if err != nil {
		return classifyPullError(plan.Image, err)
	}
	defer reader.Close()

	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("%w: pulling %s: %v", deploy.ErrArtifactPull, plan.Image, err)
	}
	return nil
}

func (h *DockerHost) create(ctx context.Context, plan deploy.Plan) (string, error) {
	env := make([]string, 0, len(plan.Env))
	for k, v := range plan.Env {
		env = append(env, k+"="+v)
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", plan.Port))
	config := &container.Config{
		Image:        plan.Image,
		Env:          env,
		Labels:       plan.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(plan.Port)}},
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(plan.RestartPolicy),
		},
	}

	resp, err := h.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, plan.ContainerName)
	if err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", deploy.ErrRemoteDeployment, plan.ContainerName, err)
	}
	return resp.ID, nil
}

// Diagnostics captures the tail of the workload's log stream.
func (h *DockerHost) Diagnostics(ctx context.Context, plan deploy.Plan) ([]byte, error) {
	tail := plan.LogTail
	if tail <= 0 {
		tail = 100
	}
	reader, err := h.cli.ContainerLogs(ctx, plan.ContainerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, fmt.Errorf("capturing logs for %s: %w", plan.ContainerName, err)
	}
	defer reader.Close()

	// Log streams from non-TTY containers are multiplexed.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return buf.Bytes(), fmt.Errorf("demultiplexing logs for %s: %w", plan.ContainerName, err)
	}
	return buf.Bytes(), nil
}

// Prune removes images older than the plan's retention window.
func (h *DockerHost) Prune(ctx context.Context, plan deploy.Plan) error {
	until := plan.PruneAfter
	if until <= 0 {
		until = 72 * time.Hour
	}
	_, err := h.cli.ImagesPrune(ctx, filters.NewArgs(
		filters.Arg("dangling", "false"),
		filters.Arg("until", until.String()),
	))
	if err != nil {
		return fmt.Errorf("pruning images: %w", err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// registryAuth encodes the pull credential the way the daemon expects it.
func registryAuth(cred deploy.RegistryCredential) (string, error) {
	payload, err := json.Marshal(registrytypes.AuthConfig{
		Username:      cred.Username,
		Password:      cred.Password,
		ServerAddress: cred.Host,
	})
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(payload), nil
}

// classifyPullError separates rejected credentials from missing artifacts.
func classifyPullError(ref string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication required"):
		return fmt.Errorf("%w: pulling %s: %v", deploy.ErrRegistryAuth, ref, err)
	default:
		return fmt.Errorf("%w: pulling %s: %v", deploy.ErrArtifactPull, ref, err)
	}
}
