package repository

// Schema definitions for the creditscore database.
// Compatible with both SQLite and PostgreSQL. Instants are stored as Unix
// nanoseconds so ordering and round trips are exact on both drivers.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    tenant_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    seq BIGINT NOT NULL,
    id TEXT NOT NULL,
    occurred_at BIGINT NOT NULL,
    amount_minor BIGINT NOT NULL,
    direction TEXT NOT NULL,
    channel TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, merchant_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_record ON transactions(tenant_id, merchant_id, id);
CREATE INDEX IF NOT EXISTS idx_transactions_occurred ON transactions(tenant_id, merchant_id, occurred_at);
`

const schemaScoreHistory = `
CREATE TABLE IF NOT EXISTS score_history (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    epoch BIGINT NOT NULL,
    raw_score REAL NOT NULL,
    normalized_score INTEGER NOT NULL,
    tier TEXT NOT NULL,
    result TEXT NOT NULL,
    recorded_at BIGINT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_score_history_epoch ON score_history(tenant_id, merchant_id, epoch);
`

const schemaInsightRules = `
CREATE TABLE IF NOT EXISTS insight_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    message TEXT NOT NULL,
    severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_insight_rules_enabled ON insight_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaScoreHistory,
		schemaInsightRules,
	}
}
