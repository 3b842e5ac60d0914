package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Johnshah/My/config"
	"github.com/Johnshah/My/internal/adapters/gitsource"
	"github.com/Johnshah/My/internal/adapters/llm"
	"github.com/Johnshah/My/internal/adapters/packager"
	redisbus "github.com/Johnshah/My/internal/adapters/redis"
	"github.com/Johnshah/My/internal/adapters/scaffold"
	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/data"
	"github.com/Johnshah/My/internal/domain/phase"
	"github.com/Johnshah/My/internal/domain/progress"
	"github.com/Johnshah/My/internal/service"
)

// Stores groups the persistence and progress plumbing shared by services.
type Stores struct {
	Jobs      data.JobStore
	Artifacts *data.FileArtifactStore
	// Publisher receives every snapshot the executor and reaper write.
	Publisher core.ProgressPublisher
	// Hub serves progress subscriptions of this process.
	Hub *progress.Hub
}

// StoreDeps groups inputs for BuildStores.
type StoreDeps struct {
	Config config.StoreConfig
	DB     *sql.DB               // Required for the postgres backend and bus
	Redis  redis.UniversalClient // Required when Config.NeedsRedis()
	Logger *slog.Logger
}

// BuildStores selects the Job Record store, the optional snapshot cache and
// the progress bus.
func BuildStores(deps StoreDeps) (*Stores, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	var jobs data.JobStore
	switch cfg.Backend {
	case config.StoreBackendMemory:
		jobs = data.NewMemoryJobRepo(nil)
	case config.StoreBackendPostgres:
		if deps.DB == nil {
			return nil, errors.New("postgres store requires a database connection")
		}
		jobs = data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.NeedsRedis() && deps.Redis == nil {
		return nil, errors.New("redis client is required by the progress bus or snapshot cache")
	}
	if cfg.SnapshotCacheEnabled {
		jobs = data.NewSnapshotCache(data.SnapshotCacheOptions{
			Store:  jobs,
			Cache:  data.NewRedisCacheRepo(deps.Redis),
			TTL:    cfg.SnapshotCacheTTL,
			Logger: logger,
		})
	}

	artifacts, err := data.NewFileArtifactStore(cfg.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	stores := &Stores{Jobs: jobs, Artifacts: artifacts}
	switch cfg.ProgressBus {
	case config.ProgressBusRedis:
		bus := redisbus.NewProgressBus(redisbus.ProgressBusOptions{Client: deps.Redis, Logger: logger})
		stores.Hub = progress.NewHub(progress.HubOptions{Source: bus, Logger: logger})
		stores.Publisher = bus
	case config.ProgressBusPostgres:
		if deps.DB == nil {
			return nil, errors.New("postgres progress bus requires a database connection")
		}
		bus := data.NewPGProgressBus(deps.DB, jobs, logger)
		stores.Hub = progress.NewHub(progress.HubOptions{Source: bus, Logger: logger})
		stores.Publisher = bus
	default:
		stores.Hub = progress.NewHub(progress.HubOptions{Logger: logger})
		stores.Publisher = stores.Hub
	}

	logger.Info("stores ready",
		"backend", cfg.Backend,
		"progress_bus", cfg.ProgressBus,
		"snapshot_cache", cfg.SnapshotCacheEnabled,
		"artifact_dir", cfg.ArtifactDir,
	)
	return stores, nil
}

// CollaboratorDeps groups inputs for BuildCollaborators.
type CollaboratorDeps struct {
	Generator config.GeneratorConfig
	Source    config.SourceConfig
	Artifacts core.ArtifactStore
	Logger    *slog.Logger
}

// BuildCollaborators wires the source analyzer, the configured generator
// backend and the packager.
func BuildCollaborators(deps CollaboratorDeps) (service.Collaborators, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Artifacts == nil {
		return service.Collaborators{}, errors.New("artifact store is required")
	}

	var generator core.Generator
	switch deps.Generator.Backend {
	case config.GeneratorBackendOpenAI:
		g, err := llm.NewGenerator(llm.GeneratorOptions{
			APIKey:     deps.Generator.OpenAI.APIKey,
			BaseURL:    deps.Generator.OpenAI.BaseURL,
			Model:      deps.Generator.OpenAI.Model,
			Timeout:    deps.Generator.OpenAI.Timeout,
			MaxRetries: deps.Generator.OpenAI.MaxRetries,
			Logger:     logger,
		})
		if err != nil {
			return service.Collaborators{}, fmt.Errorf("create openai generator: %w", err)
		}
		generator = g
	default:
		g, err := scaffold.NewGenerator(scaffold.GeneratorOptions{
			PackagePrefix: deps.Generator.PackagePrefix,
			Logger:        logger,
		})
		if err != nil {
			return service.Collaborators{}, fmt.Errorf("create scaffold generator: %w", err)
		}
		generator = g
	}

	return service.Collaborators{
		Analyzer: gitsource.NewAnalyzer(gitsource.AnalyzerOptions{
			AllowedHosts:  deps.Source.AllowedHosts,
			AllowFileURLs: deps.Source.AllowFileURLs,
			CloneDepth:    deps.Source.CloneDepth,
			MaxFiles:      deps.Source.MaxFiles,
			Logger:        logger,
		}),
		Generator: generator,
		Builder:   packager.NewBuilder(packager.BuilderOptions{Store: deps.Artifacts, Logger: logger}),
	}, nil
}

// LoadPhaseTables returns the built-in tables, or the ones in path when set.
func LoadPhaseTables(path string) (*phase.Tables, error) {
	if path == "" {
		return phase.DefaultTables(), nil
	}
	tables, err := phase.LoadTables(path)
	if err != nil {
		return nil, fmt.Errorf("load phase tables: %w", err)
	}
	return tables, nil
}
