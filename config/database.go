package config

import (
	"fmt"
	"strings"
	"time"
)

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"appgen"`
	Password string `env:"PASSWORD"                envDefault:"appgen"`
	Name     string `env:"NAME"                    envDefault:"appgen"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// DSN returns a libpq style connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}

// StoreBackend selects where Job Records live.
type StoreBackend string

// ProgressBus selects how progress crosses process boundaries.
type ProgressBus string

const (
	// StoreBackendPostgres keeps Job Records in PostgreSQL; they survive restarts.
	StoreBackendPostgres StoreBackend = "postgres"
	// StoreBackendMemory keeps Job Records in process memory.
	StoreBackendMemory StoreBackend = "memory"

	// ProgressBusLocal delivers progress only to subscribers of this process.
	ProgressBusLocal ProgressBus = "local"
	// ProgressBusRedis relays snapshots over Redis pub/sub.
	ProgressBusRedis ProgressBus = "redis"
	// ProgressBusPostgres relays job ids over LISTEN/NOTIFY.
	ProgressBusPostgres ProgressBus = "postgres"
)

// StoreConfig configures job persistence and progress delivery.
type StoreConfig struct {
	Backend     StoreBackend `env:"STORE_BACKEND" envDefault:"postgres"`
	ProgressBus ProgressBus  `env:"PROGRESS_BUS"  envDefault:"local"`

	// ArtifactDir is the root directory of packaged artifacts.
	ArtifactDir string `env:"ARTIFACT_DIR" envDefault:"./data/artifacts"`

	// SnapshotCacheEnabled caches terminal snapshots in Redis.
	SnapshotCacheEnabled bool          `env:"SNAPSHOT_CACHE_ENABLED" envDefault:"false"`
	SnapshotCacheTTL     time.Duration `env:"SNAPSHOT_CACHE_TTL"     envDefault:"1h"`
}

// Sanitize normalises enum casing and clamps the cache TTL.
func (s *StoreConfig) Sanitize() {
	s.Backend = StoreBackend(strings.ToLower(strings.TrimSpace(string(s.Backend))))
	s.ProgressBus = ProgressBus(strings.ToLower(strings.TrimSpace(string(s.ProgressBus))))
	if s.Backend == "" {
		s.Backend = StoreBackendPostgres
	}
	if s.ProgressBus == "" {
		s.ProgressBus = ProgressBusLocal
	}
	s.ArtifactDir = strings.TrimSpace(s.ArtifactDir)
	if s.ArtifactDir == "" {
		s.ArtifactDir = "./data/artifacts"
	}
	if s.SnapshotCacheTTL < time.Minute {
		s.SnapshotCacheTTL = time.Minute
	}
}

// Validate rejects unknown backends.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %q (valid options: postgres, memory)", s.Backend)
	}
	switch s.ProgressBus {
	case ProgressBusLocal, ProgressBusRedis, ProgressBusPostgres:
	default:
		return fmt.Errorf("invalid PROGRESS_BUS: %q (valid options: local, redis, postgres)", s.ProgressBus)
	}
	return nil
}

// NeedsRedis reports whether any enabled feature talks to Redis.
func (s *StoreConfig) NeedsRedis() bool {
	return s.ProgressBus == ProgressBusRedis || s.SnapshotCacheEnabled
}

// NeedsPostgres reports whether the store or the progress bus uses PostgreSQL.
func (s *StoreConfig) NeedsPostgres() bool {
	return s.Backend == StoreBackendPostgres || s.ProgressBus == ProgressBusPostgres
}
