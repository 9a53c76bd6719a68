package domain

import "time"

// Config holds the complete creditscore configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are used
	Tier ProductTier `json:"tier" mapstructure:"tier"`

	// Scoring is the engine configuration surface
	Scoring ScoringConfig `json:"scoring" mapstructure:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ScoringConfig is the externally supplied engine configuration.
type ScoringConfig struct {
	Weights Weights `json:"weights" mapstructure:"weights"`

	// WindowDays is the trailing period scored. 0 scores all history.
	WindowDays int `json:"windowDays" mapstructure:"windowdays"`

	// SubPeriodDays is the bucket length for the consistency signal.
	SubPeriodDays int `json:"subPeriodDays" mapstructure:"subperioddays"`

	// ExpectedCollectionCadenceDays is how often credits are expected.
	ExpectedCollectionCadenceDays int `json:"expectedCollectionCadenceDays" mapstructure:"expectedcollectioncadencedays"`

	// GrowthSaturationRate is the median month-over-month growth that maps
	// to a growth signal of 1.0 (0.10 = 10%).
	GrowthSaturationRate float64 `json:"growthSaturationRate" mapstructure:"growthsaturationrate"`

	// ClockSkew is how far in the future a timestamp may be before the
	// normalizer rejects it.
	ClockSkew time.Duration `json:"clockSkew" mapstructure:"clockskew"`

	// HistoryEpoch is the history granularity: "daily" or "weekly".
	HistoryEpoch string `json:"historyEpoch" mapstructure:"historyepoch"`
}

// DefaultScoringConfig returns the default engine configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:                       DefaultWeights(),
		WindowDays:                    365,
		SubPeriodDays:                 7,
		ExpectedCollectionCadenceDays: 7,
		GrowthSaturationRate:          0.10,
		ClockSkew:                     5 * time.Minute,
		HistoryEpoch:                  "daily",
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds

	// MaxBodyBytes bounds request bodies; a year of dense ledger fits the
	// default.
	MaxBodyBytes int64 `json:"maxBodyBytes" mapstructure:"maxbodybytes"`

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// reflects any origin.
	CORSOrigins []string `json:"corsOrigins" mapstructure:"corsorigins"`
}

// WorkerConfig holds settings for the re-scoring worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TenantIDs to subscribe for. Empty subscribes across all tenants.
	TenantIDs []string `json:"tenantIds" mapstructure:"tenantids"`

	// RecordHistory appends an epoch entry after every re-score.
	RecordHistory bool `json:"recordHistory" mapstructure:"recordhistory"`

	// HandlerTimeout bounds one re-score, in seconds.
	HandlerTimeout int `json:"handlerTimeout" mapstructure:"handlertimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"servicename"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Environment string `json:"environment" mapstructure:"environment"`
}

// ProductTier selects the backend set.
type ProductTier string

const (
	// TierCommunity runs on SQLite, an in-memory cache and channels
	TierCommunity ProductTier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro ProductTier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 16 << 20,
		},
		Tier:    TierCommunity,
		Scoring: DefaultScoringConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./creditscore.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ScoreTTL:     24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:        true,
			HandlerTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "creditscore",
		},
		Metrics: MetricsConfig{
			Enabled:     true,
			Environment: "dev",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "creditscore",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		ScoreTTL:       24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "creditscore",
	}
	cfg.Worker.RecordHistory = true
	cfg.Tracing.Enabled = true
	return cfg
}
