// Package config loads controller settings from an optional YAML file and
// environment variables, the latter taking precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config holds all configuration values for the application.
type Config struct {
	// Persistence backend: postgres, sqlite or memory.
	Store string

	// Database connection string, required for the postgres store.
	DatabaseURL string

	// File used by the sqlite store.
	SQLitePath string

	// HTTP server port for the controller
	HTTPPort int

	// Maximum number of jobs executing at once.
	WorkerConcurrency int

	LogLevel string

	// OTLP gRPC collector address.
	OTELEndpoint   string
	TracingEnabled bool

	// Bearer token required on /jobs routes. Empty disables auth.
	APIToken string

	// Submissions per second per client IP; 0 disables limiting.
	RateLimit      float64
	RateLimitBurst int

	// How long in-flight jobs get to finish on shutdown.
	ShutdownTimeout time.Duration

	// Working directory root for the command processor.
	CommandWorkDir string

	Kubernetes KubernetesConfig

	// Registers the docker processor; needs a reachable Docker daemon.
	DockerEnabled bool
}

// KubernetesConfig configures the kubernetes processor.
type KubernetesConfig struct {
	Enabled        bool
	Namespace      string
	ServiceAccount string
	CPULimit       string
	MemoryLimit    string
}

var envBindings = map[string]string{
	"store":                      "STORE",
	"database_url":               "DATABASE_URL",
	"sqlite_path":                "SQLITE_PATH",
	"http_port":                  "PORT",
	"worker_concurrency":         "WORKER_CONCURRENCY",
	"log_level":                  "LOG_LEVEL",
	"otel_endpoint":              "OTEL_EXPORTER_OTLP_ENDPOINT",
	"tracing_enabled":            "TRACING_ENABLED",
	"api_token":                  "API_TOKEN",
	"rate_limit":                 "RATE_LIMIT",
	"rate_limit_burst":           "RATE_LIMIT_BURST",
	"shutdown_timeout":           "SHUTDOWN_TIMEOUT",
	"command_workdir":            "COMMAND_WORKDIR",
	"docker_enabled":             "DOCKER_ENABLED",
	"kubernetes.enabled":         "KUBERNETES_ENABLED",
	"kubernetes.namespace":       "KUBERNETES_NAMESPACE",
	"kubernetes.service_account": "KUBERNETES_SERVICE_ACCOUNT",
	"kubernetes.cpu_limit":       "KUBERNETES_CPU_LIMIT",
	"kubernetes.memory_limit":    "KUBERNETES_MEMORY_LIMIT",
}

// Load reads configuration from path (or jobrunner.yaml in the working
// directory when path is empty and the file exists) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store", StorePostgres)
	v.SetDefault("sqlite_path", "jobrunner.db")
	v.SetDefault("http_port", 6161)
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("tracing_enabled", true)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("docker_enabled", false)
	v.SetDefault("kubernetes.enabled", false)
	v.SetDefault("kubernetes.namespace", "default")
	v.SetDefault("kubernetes.cpu_limit", "500m")
	v.SetDefault("kubernetes.memory_limit", "256Mi")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("jobrunner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		Store:             v.GetString("store"),
		DatabaseURL:       v.GetString("database_url"),
		SQLitePath:        v.GetString("sqlite_path"),
		HTTPPort:          v.GetInt("http_port"),
		WorkerConcurrency: v.GetInt("worker_concurrency"),
		LogLevel:          v.GetString("log_level"),
		OTELEndpoint:      v.GetString("otel_endpoint"),
		TracingEnabled:    v.GetBool("tracing_enabled"),
		APIToken:          v.GetString("api_token"),
		RateLimit:         v.GetFloat64("rate_limit"),
		RateLimitBurst:    v.GetInt("rate_limit_burst"),
		ShutdownTimeout:   v.GetDuration("shutdown_timeout"),
		CommandWorkDir:    v.GetString("command_workdir"),
		DockerEnabled:     v.GetBool("docker_enabled"),
		Kubernetes: KubernetesConfig{
			Enabled:        v.GetBool("kubernetes.enabled"),
			Namespace:      v.GetString("kubernetes.namespace"),
			ServiceAccount: v.GetString("kubernetes.service_account"),
			CPULimit:       v.GetString("kubernetes.cpu_limit"),
			MemoryLimit:    v.GetString("kubernetes.memory_limit"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required (env: SQLITE_PATH)")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store %q: must be postgres, sqlite or memory", c.Store)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("invalid worker_concurrency %d: must be positive", c.WorkerConcurrency)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid rate_limit %v: must not be negative", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("invalid rate_limit_burst %d: must be positive when rate_limit is set", c.RateLimitBurst)
	}
	return nil
}
