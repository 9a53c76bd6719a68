// Package domain defines the core interfaces and types for creditscore.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for the ledger and score-history store.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Ledger operations. Records are appended, never updated. Records whose
	// ID is already stored for the merchant are skipped; the number actually
	// appended is returned.
	SaveTransactions(ctx context.Context, tenantID string, merchantID string, records []TransactionRecord) (int, error)
	ListTransactions(ctx context.Context, tenantID string, merchantID string, since, until time.Time) ([]TransactionRecord, error)

	// Score history operations. One entry per merchant and epoch.
	AppendScore(ctx context.Context, tenantID string, entry *ScoreEntry) error
	ListScoreHistory(ctx context.Context, tenantID string, merchantID string, limit int) ([]*ScoreEntry, error)
	LatestScore(ctx context.Context, tenantID string, merchantID string) (*ScoreEntry, error)

	// Insight rule configuration
	SaveInsightRule(ctx context.Context, tenantID string, rule *InsightRule) error
	ListInsightRules(ctx context.Context, tenantID string) ([]*InsightRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific; ":memory:" keeps the store in process
	SQLitePath string `mapstructure:"sqlitepath"`

	// PostgreSQL specific. PostgresURL, when set, takes precedence over
	// the discrete fields it already carries.
	PostgresURL      string `mapstructure:"postgresurl"`
	PostgresHost     string `mapstructure:"postgreshost"`
	PostgresPort     int    `mapstructure:"postgresport"`
	PostgresUser     string `mapstructure:"postgresuser"`
	PostgresPassword string `mapstructure:"postgrespassword"`
	PostgresDB       string `mapstructure:"postgresdb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}
