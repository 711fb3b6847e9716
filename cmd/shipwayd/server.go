package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shipway/shipway/internal/core/deploy"
	"github.com/shipway/shipway/internal/shell/api"
	"github.com/shipway/shipway/internal/shell/deployer"
	"github.com/shipway/shipway/internal/shell/health"
	"github.com/shipway/shipway/internal/shell/promoter"
	"github.com/shipway/shipway/internal/shell/registry"
	"github.com/shipway/shipway/internal/shell/remote"
	"github.com/shipway/shipway/internal/shell/scheduler"
	"github.com/shipway/shipway/internal/shell/store"
	"github.com/shipway/shipway/internal/shell/suite"
	"github.com/shipway/shipway/internal/shell/workload"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitStoreError  = 2
	ExitServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server is the assembled Shipway daemon.
type Server struct {
	config      *Config
	httpServer  *http.Server
	store       store.Store
	coordinator *promoter.Coordinator
	scheduler   *scheduler.Service
	dockerHosts []*workload.DockerHost
	logger      *slog.Logger
}

// NewServer wires the daemon from configuration.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Open the run journal
	s, err := store.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitStoreError,
		}
	}

	// Registry client with the configured credential source
	source, err := credentialSource(cfg, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	reg, err := registry.NewClient(cfg.Registry.Repository, source, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	// Per-environment deployment targets
	envs, dockerHosts, err := buildEnvironments(cfg, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	// Deployment pipeline
	w := deploy.Workload{
		Name:        cfg.Workload.Name,
		Port:        cfg.Workload.Port,
		HealthPath:  cfg.Workload.HealthPath,
		SettleDelay: cfg.Workload.SettleDelay,
		LogTail:     cfg.Workload.LogTail,
		PruneAfter:  cfg.Workload.PruneAfter,
	}
	prober := health.New(cfg.Health.MaxAttempts, cfg.Health.Delay, nil, logger)
	replacer := deployer.New(reg, prober, w, logger)
	suiteRunner := suite.NewRunner(cfg.Suite.Command, cfg.Suite.Timeout, logger)

	coordinator := promoter.New(reg, replacer, suiteRunner, s, envs, promoter.Config{
		TargetVersion: cfg.Promotion.TargetVersion,
		Discovery:     cfg.Promotion.Discovery,
		Workload:      w,
	}, logger)

	// Control surfaces
	handler := api.NewHandler(coordinator, s, cfg.API.Token, Version, logger)
	sched := scheduler.NewService(coordinator, cfg.Promotion.Schedule, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:      cfg,
		httpServer:  httpServer,
		store:       s,
		coordinator: coordinator,
		scheduler:   sched,
		dockerHosts: dockerHosts,
		logger:      logger,
	}, nil
}

// credentialSource builds the registry credential source for the
// configured auth mode.
func credentialSource(cfg *Config, logger *slog.Logger) (registry.CredentialSource, error) {
	auth := cfg.Registry.Auth
	host := cfg.Registry.Host
	if host == "" {
		host = registryHostOf(cfg.Registry.Repository)
	}

	switch auth.Mode {
	case "static":
		return registry.StaticSource{
			Host:     host,
			Username: auth.Username,
			Password: auth.Password,
		}, nil
	case "keychain":
		return registry.KeychainSource{Registry: host}, nil
	case "ecr":
		return registry.NewECRSource(host, auth.Region, auth.AccessKeyID, auth.SecretAccessKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown registry auth mode: %s", auth.Mode)
	}
}

// registryHostOf extracts the registry host from a repository like
// ghcr.io/acme/app.
func registryHostOf(repository string) string {
	for i := 0; i < len(repository); i++ {
		if repository[i] == '/' {
			return repository[:i]
		}
	}
	return repository
}

// buildEnvironments assembles the deployment targets. Docker transports
// hold a live client and are returned separately for shutdown.
func buildEnvironments(cfg *Config, logger *slog.Logger) ([]promoter.Environment, []*workload.DockerHost, error) {
	var envs []promoter.Environment
	var dockerHosts []*workload.DockerHost

	for name, envCfg := range cfg.Environments {
		spec := deploy.HostSpec{
			Transport:      deploy.Transport(envCfg.Transport),
			Address:        envCfg.Address,
			SSHPort:        envCfg.Port,
			User:           envCfg.User,
			KnownHostsPath: envCfg.KnownHostsPath,
			DockerDaemon:   envCfg.DockerDaemon,
		}

		var transport workload.Host
		switch spec.Transport {
		case deploy.TransportSSH:
			pem, err := privateKeyPEM(envCfg)
			if err != nil {
				return nil, nil, fmt.Errorf("environments.%s: %w", name, err)
			}
			spec.PrivateKeyPEM = pem
			transport = workload.NewSSHHost(spec, remote.Config{}, logger)
		case deploy.TransportDocker:
			host, err := workload.NewDockerHost(envCfg.DockerDaemon, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("environments.%s: %w", name, err)
			}
			dockerHosts = append(dockerHosts, host)
			transport = host
		default:
			return nil, nil, fmt.Errorf("environments.%s: unknown transport %q", name, envCfg.Transport)
		}

		envs = append(envs, promoter.Environment{
			Name:      name,
			Host:      spec,
			Transport: transport,
		})
	}

	return envs, dockerHosts, nil
}

// privateKeyPEM resolves the SSH key material: inline value wins, then
// the key file.
func privateKeyPEM(envCfg EnvironmentConfig) ([]byte, error) {
	if envCfg.PrivateKey != "" {
		return []byte(envCfg.PrivateKey), nil
	}
	pem, err := os.ReadFile(envCfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return pem, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the acceptance cron
	if err := s.scheduler.Start(ctx); err != nil {
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the cron and wait for an in-flight acceptance run
	s.scheduler.Stop()

	// Close docker transports
	for _, host := range s.dockerHosts {
		if err := host.Close(); err != nil {
			s.logger.Error("docker host close error", "error", err)
		}
	}

	// Close the journal
	if err := s.store.Close(); err != nil {
		s.logger.Error("journal close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
