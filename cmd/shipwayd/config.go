package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all daemon configuration.
type Config struct {
	Server       ServerConfig                 `mapstructure:"server"`
	Log          LogConfig                    `mapstructure:"log"`
	Registry     RegistryConfig               `mapstructure:"registry"`
	Workload     WorkloadConfig               `mapstructure:"workload"`
	Health       HealthConfig                 `mapstructure:"health"`
	Promotion    PromotionConfig              `mapstructure:"promotion"`
	Suite        SuiteConfig                  `mapstructure:"suite"`
	Environments map[string]EnvironmentConfig `mapstructure:"environments" validate:"required,dive"`
	Journal      JournalConfig                `mapstructure:"journal"`
	API          APIConfig                    `mapstructure:"api"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RegistryConfig names the artifact repository and how to log into it.
type RegistryConfig struct {
	Host       string             `mapstructure:"host"`
	Repository string             `mapstructure:"repository" validate:"required"`
	Auth       RegistryAuthConfig `mapstructure:"auth"`
}

// RegistryAuthConfig selects the credential source.
// "static" uses a fixed username/password pair, "keychain" resolves the
// ambient docker keychain, "ecr" mints short-lived ECR tokens.
type RegistryAuthConfig struct {
	Mode            string `mapstructure:"mode" validate:"oneof=static keychain ecr"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// WorkloadConfig is the process shape deployed to every environment.
type WorkloadConfig struct {
	Name        string        `mapstructure:"name" validate:"required"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	HealthPath  string        `mapstructure:"health_path"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	LogTail     int           `mapstructure:"log_tail"`
	PruneAfter  time.Duration `mapstructure:"prune_after"`
}

// HealthConfig bounds the liveness probe loop.
type HealthConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

// PromotionConfig tunes the promotion chain.
type PromotionConfig struct {
	TargetVersion string `mapstructure:"target_version"`
	Schedule      string `mapstructure:"schedule"`
	Discovery     string `mapstructure:"discovery" validate:"oneof=digest always"`
}

// SuiteConfig is the external acceptance test suite invocation.
type SuiteConfig struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EnvironmentConfig describes one deployment target host.
type EnvironmentConfig struct {
	Transport      string `mapstructure:"transport" validate:"oneof=ssh docker"`
	Address        string `mapstructure:"address"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	PrivateKey     string `mapstructure:"private_key"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	KnownHostsPath string `mapstructure:"known_hosts_path"`
	DockerDaemon   string `mapstructure:"docker_daemon"`
}

// JournalConfig holds the run journal location.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig holds the API authentication settings.
type APIConfig struct {
	Token string `mapstructure:"token"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8422)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "20m") // stage runs are synchronous
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("registry.auth.mode", "keychain")
	v.SetDefault("workload.port", 8080)
	v.SetDefault("workload.health_path", "/health")
	v.SetDefault("workload.settle_delay", "5s")
	v.SetDefault("workload.log_tail", 100)
	v.SetDefault("workload.prune_after", "168h")
	v.SetDefault("health.max_attempts", 30)
	v.SetDefault("health.delay", "2s")
	v.SetDefault("promotion.target_version", "auto")
	v.SetDefault("promotion.schedule", "")
	v.SetDefault("promotion.discovery", "digest")
	v.SetDefault("suite.timeout", "10m")
	v.SetDefault("journal.path", "./data/shipway.db")
	v.SetDefault("api.token", "")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SHIPWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the unmarshalled configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Registry.Auth.Mode == "static" && (c.Registry.Auth.Username == "" || c.Registry.Auth.Password == "") {
		return fmt.Errorf("registry.auth: static mode requires username and password")
	}
	if c.Registry.Auth.Mode == "ecr" && c.Registry.Auth.Region == "" {
		return fmt.Errorf("registry.auth: ecr mode requires region")
	}

	for name, env := range c.Environments {
		if env.Transport == "ssh" {
			if env.Address == "" || env.User == "" {
				return fmt.Errorf("environments.%s: ssh transport requires address and user", name)
			}
			if env.PrivateKey == "" && env.PrivateKeyPath == "" {
				return fmt.Errorf("environments.%s: ssh transport requires private_key or private_key_path", name)
			}
		}
	}

	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
