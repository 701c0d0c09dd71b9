// Package main is the entry point for the jobrunner controller: the HTTP API
// and the in-process worker pool that executes submitted jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"jobrunner/internal/config"
	"jobrunner/internal/controller"
	"jobrunner/internal/controller/handlers"
	"jobrunner/internal/coordinator"
	"jobrunner/internal/logger"
	"jobrunner/internal/observability"
	"jobrunner/internal/processor"
	"jobrunner/internal/store"
	"jobrunner/internal/store/memory"
	"jobrunner/internal/store/postgres"
	"jobrunner/internal/store/sqlite"
	"jobrunner/internal/worker"
)

var version = "dev"

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: jobrunner.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, *migrateFlag, log); err != nil {
		log.Error("controller exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrate bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, migrate, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Tracing
	if cfg.TracingEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:    "jobrunner-controller",
			ServiceVersion: version,
			Endpoint:       cfg.OTELEndpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("failed to shutdown tracer", slog.Any("error", err))
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", slog.Any("error", err))
		}
	}()
	if err := observability.RegisterGauge("jobrunner.jobs.active",
		"Current number of jobs not in a terminal state", st.CountActive, log); err != nil {
		log.Warn("failed to register active jobs gauge", slog.Any("error", err))
	}

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}

	pool := worker.NewPool(worker.PoolConfig{Concurrency: cfg.WorkerConcurrency}, log)
	coord := coordinator.New(st, registry, pool, log)

	if err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	srv := controller.New(controller.Options{
		Addr:           fmt.Sprintf(":%d", cfg.HTTPPort),
		APIToken:       cfg.APIToken,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
	}, handlers.New(coord, st, log), log)

	log.Info("jobrunner controller starting",
		slog.String("version", version),
		slog.String("store", cfg.Store),
		slog.Int("port", cfg.HTTPPort),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Any("processors", registry.Names()),
	)

	// Run blocks until a signal arrives, then drains HTTP.
	serveErr := srv.Run(ctx)

	log.Info("shutting down, waiting for running jobs", slog.Duration("timeout", cfg.ShutdownTimeout))
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(drainCtx); err != nil {
		// Jobs cut off here stay RUNNING and are failed by the next Recover.
		log.Warn("worker pool did not drain", slog.Int64("active", pool.Active()), slog.Any("error", err))
	}

	if serveErr != nil {
		return fmt.Errorf("server stopped: %w", serveErr)
	}
	log.Info("controller exited properly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (store.Gateway, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory store, jobs are lost on restart")
		return memory.New(), nil

	case config.StoreSQLite:
		st, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		// The file is private to this process, so its schema is always kept current.
		if err := sqlite.Migrate(st.DB()); err != nil {
			st.Close()
			return nil, fmt.Errorf("sqlite migration failed: %w", err)
		}
		return st, nil

	default:
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		if migrate {
			log.Info("running database migrations")
			if err := postgres.Migrate(st.DB()); err != nil {
				st.Close()
				return nil, fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations completed successfully")
		}
		return st, nil
	}
}

func buildRegistry(cfg *config.Config, log *slog.Logger) (*processor.Registry, error) {
	registry := processor.NewRegistry(processor.Builtins()...)
	registry.Register(processor.NewCommand(cfg.CommandWorkDir))

	if cfg.DockerEnabled {
		docker, err := processor.NewDocker(log)
		if err != nil {
			return nil, fmt.Errorf("failed to create docker processor: %w", err)
		}
		registry.Register(docker)
	}

	if cfg.Kubernetes.Enabled {
		k8s, err := processor.NewKubernetes(processor.KubernetesConfig{
			Namespace:          cfg.Kubernetes.Namespace,
			ServiceAccount:     cfg.Kubernetes.ServiceAccount,
			DefaultCPULimit:    cfg.Kubernetes.CPULimit,
			DefaultMemoryLimit: cfg.Kubernetes.MemoryLimit,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes processor: %w", err)
		}
		registry.Register(k8s)
	}
	return registry, nil
}
