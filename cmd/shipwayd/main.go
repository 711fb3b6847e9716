package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the shipwayd config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("shipwayd %s (built %s, %s)\n", Version, BuildTime, runtime.Version())
		os.Exit(ExitSuccess)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shipwayd: %v\n", err)
		os.Exit(ExitConfigError)
	}

	logger := SetupLogger(cfg)
	logger.Info("starting shipwayd",
		"version", Version,
		"repository", cfg.Registry.Repository,
		"auth_mode", cfg.Registry.Auth.Mode,
		"environments", len(cfg.Environments),
		"schedule", cfg.Promotion.Schedule,
	)

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to assemble server", "error", err)
		os.Exit(exitCode(err))
	}

	if err := server.Start(context.Background()); err != nil {
		logger.Error("shipwayd exited", "error", err)
		os.Exit(exitCode(err))
	}
	os.Exit(ExitSuccess)
}

// exitCode maps assembly and runtime failures onto process exit codes.
func exitCode(err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return sErr.ExitCode
	}
	return ExitServerError
}
