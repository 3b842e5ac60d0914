package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Johnshah/My/config"
	"github.com/Johnshah/My/internal/adapters/reaper"
	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/observability/statsd"
	"github.com/Johnshah/My/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Stores   *Stores
	Executor *service.Executor
	Jobs     *service.JobService
	Sources  core.SourceAnalyzer
	Reaper   *reaper.Runner
	Metrics  *statsd.Client
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB               // Optional: nil with the memory backend
	RedisClient redis.UniversalClient // Optional: required only when the config needs Redis
	Logger      *slog.Logger
}

// NewServices wires stores, collaborators and the services built on them.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stores, err := BuildStores(StoreDeps{
		Config: cfg.Store,
		DB:     deps.DB,
		Redis:  deps.RedisClient,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	sink, err := newMetricsClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	tables, err := LoadPhaseTables(cfg.Executor.PhaseTablesFile)
	if err != nil {
		return nil, err
	}

	collab, err := BuildCollaborators(CollaboratorDeps{
		Generator: cfg.Generator,
		Source:    cfg.Source,
		Artifacts: stores.Artifacts,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	executor, err := service.NewExecutor(service.ExecutorOptions{
		Jobs:          stores.Jobs,
		Publisher:     stores.Publisher,
		Collaborators: collab,
		Tables:        tables,
		Config:        cfg.Executor,
		InstanceID:    cfg.InstanceID,
		Metrics:       sink,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire executor: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:      stores.Jobs,
		Artifacts: stores.Artifacts,
		Progress:  stores.Hub,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire job service: %w", err)
	}

	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		Repo:       stores.Jobs,
		Artifacts:  stores.Artifacts,
		Publisher:  stores.Publisher,
		Config:     cfg.Reaper,
		InstanceID: cfg.InstanceID,
		Metrics:    sink,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &ServiceContainer{
		Stores:   stores,
		Executor: executor,
		Jobs:     jobs,
		Sources:  collab.Analyzer,
		Reaper:   runner,
		Metrics:  sink,
	}, nil
}

// newMetricsClient returns a statsd client; it discards metrics unless
// METRICS_ENABLED is set.
func newMetricsClient(cfg *config.AppConfig, logger *slog.Logger) (*statsd.Client, error) {
	address := ""
	if cfg.Metrics.IsEnabled() {
		address = cfg.Metrics.StatsdAddress
	}
	client, err := statsd.NewClient(statsd.Config{
		Address:    address,
		Prefix:     cfg.Metrics.Prefix,
		GlobalTags: map[string]string{"instance": cfg.InstanceID},
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}
	if address != "" {
		logger.Info("metrics enabled", "statsd_address", address, "prefix", cfg.Metrics.Prefix)
	}
	return client, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, logger *slog.Logger, errCh chan<- error, descriptor backgroundService) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func buildBackgroundServices(services *ServiceContainer, enabled map[config.ServiceMode]bool) []backgroundService {
	var out []backgroundService
	if enabled[config.ServiceModeReaper] && services.Reaper != nil {
		out = append(out, backgroundService{
			mode:  config.ServiceModeReaper,
			name:  "reaper",
			start: services.Reaper.Run,
		})
	}
	return out
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	return runServices(cfg, quit)
}

func runServices(cfg *ServiceOrchestrationConfig, quit <-chan os.Signal) error {
	if cfg == nil || cfg.Services == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	// Jobs this instance owned before a restart can never finish; fail them
	// before new work is accepted.
	if enabled[config.ServiceModeHTTP] && cfg.Services.Reaper != nil {
		if err := cfg.Services.Reaper.Recover(serviceCtx); err != nil {
			return err
		}
	}

	errCh := make(chan error, errorChannelBufferSize(enabled))

	var server *http.Server
	if enabled[config.ServiceModeHTTP] {
		server = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		}, errCh)
	}

	var handles []backgroundServiceHandle
	for _, svc := range buildBackgroundServices(cfg.Services, enabled) {
		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: launchBackground(serviceCtx, logger, errCh, svc),
		})
	}

	return waitForShutdown(shutdownConfig{
		quit:        quit,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  server,
		httpTimeout: cfg.Config.HTTP.ShutdownTimeout,
		services:    cfg.Services,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	quit        <-chan os.Signal
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	httpTimeout time.Duration
	services    *ServiceContainer
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	select {
	case <-cfg.quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel() // Cancel service context before waiting
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel() // Cancel service context before waiting
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops services in dependency order. Running jobs are failed
// first so their subscribers receive a terminal snapshot, then remaining
// progress streams are closed and the server drains.
func gracefulStop(cfg shutdownConfig) error {
	var errs []error

	if cfg.services != nil && cfg.services.Executor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		if err := cfg.services.Executor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop executor: %w", err))
		}
		cancel()
	}
	if cfg.services != nil && cfg.services.Stores != nil && cfg.services.Stores.Hub != nil {
		cfg.services.Stores.Hub.StopAll()
	}

	if err := ShutdownHTTPServer(ShutdownConfig{
		Server:  cfg.httpServer,
		Timeout: cfg.httpTimeout,
		Logger:  cfg.logger,
	}); err != nil {
		errs = append(errs, err)
	}

	// Wait for background services to finish
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.services != nil {
		if err := cfg.services.Metrics.Close(); err != nil {
			cfg.logger.Warn("close statsd client failed", "error", err)
		}
	}

	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
