// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/history"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEpoch = history.ErrDuplicateEpoch
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New opens the configured store, applies pool settings and brings the
// schema up to date.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver, now: time.Now}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for i, stmt := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// SaveTransactions appends records to a merchant's ledger. Each record is
// stored after the merchant's existing records, in the order given; records
// without an ID get a generated one. A record whose ID is already stored is
// skipped.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID, merchantID string, records []domain.TransactionRecord) (int, error) {
	if tenantID == "" || merchantID == "" {
		return 0, fmt.Errorf("%w: tenantID and merchantID are required", ErrInvalidInput)
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockMerchant(ctx, tx, "ledger", tenantID, merchantID); err != nil {
		return 0, err
	}

	var next int64
	err = tx.QueryRowContext(ctx, r.rebind(`
		SELECT COALESCE(MAX(seq), -1) + 1 FROM transactions
		WHERE tenant_id = ? AND merchant_id = ?
	`), tenantID, merchantID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO transactions (
			tenant_id, merchant_id, seq, id, occurred_at,
			amount_minor, direction, channel, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, merchant_id, id) DO NOTHING
	`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	createdAt := r.now().UTC().UnixNano()
	appended := 0
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := stmt.ExecContext(ctx,
			tenantID, merchantID, next, id, rec.Timestamp.UnixNano(),
			rec.AmountMinor, string(rec.Direction), rec.Channel, createdAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			appended++
			next++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ledger append: %w", err)
	}
	return appended, nil
}

// ListTransactions returns a merchant's records with since <= timestamp <=
// until, in ledger order. A zero bound is open.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID, merchantID string, since, until time.Time) ([]domain.TransactionRecord, error) {
	if tenantID == "" || merchantID == "" {
		return nil, fmt.Errorf("%w: tenantID and merchantID are required", ErrInvalidInput)
	}

	query := `
		SELECT seq, id, occurred_at, amount_minor, direction, channel
		FROM transactions
		WHERE tenant_id = ? AND merchant_id = ?
	`
	args := []any{tenantID, merchantID}
	if !since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, since.UnixNano())
	}
	if !until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, until.UnixNano())
	}
	query += " ORDER BY occurred_at, seq"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var occurred int64
		var direction string

		if err := rows.Scan(&rec.Seq, &rec.ID, &occurred, &rec.AmountMinor, &direction, &rec.Channel); err != nil {
			return nil, err
		}
		rec.MerchantID = merchantID
		rec.Timestamp = time.Unix(0, occurred).UTC()
		rec.Direction = domain.Direction(direction)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// AppendScore records a score history entry. The entry's epoch must be
// after every recorded epoch of the merchant: an equal epoch returns
// ErrDuplicateEpoch and an earlier one history.ErrOutOfOrder, as decided by
// history.Check. Entries are never updated.
func (r *SQLRepository) AppendScore(ctx context.Context, tenantID string, entry *domain.ScoreEntry) error {
	if tenantID == "" || entry == nil || entry.MerchantID == "" {
		return fmt.Errorf("%w: tenantID and merchantID are required", ErrInvalidInput)
	}
	if entry.Epoch.IsZero() {
		return fmt.Errorf("%w: epoch is required", ErrInvalidInput)
	}

	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("failed to encode score result: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.lockMerchant(ctx, tx, "history", tenantID, entry.MerchantID); err != nil {
		return err
	}

	var last sql.NullInt64
	err = tx.QueryRowContext(ctx, r.rebind(`
		SELECT MAX(epoch) FROM score_history
		WHERE tenant_id = ? AND merchant_id = ?
	`), tenantID, entry.MerchantID).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to read last epoch: %w", err)
	}

	epoch := entry.Epoch.UTC().UnixNano()
	if last.Valid {
		if err := history.Check(time.Unix(0, last.Int64), entry.Epoch); err != nil {
			return err
		}
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = r.now().UTC()
	}
	entry.TenantID = tenantID

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO score_history (
			id, tenant_id, merchant_id, epoch, raw_score,
			normalized_score, tier, result, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID, tenantID, entry.MerchantID, epoch, entry.Result.RawScore,
		entry.Result.NormalizedScore, string(entry.Result.Tier), string(result),
		entry.RecordedAt.UTC().UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateEpoch, entry.Epoch.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return fmt.Errorf("failed to insert score entry: %w", err)
	}

	return tx.Commit()
}

// ListScoreHistory returns the most recent limit entries, oldest first.
// limit <= 0 returns every entry.
func (r *SQLRepository) ListScoreHistory(ctx context.Context, tenantID, merchantID string, limit int) ([]*domain.ScoreEntry, error) {
	if tenantID == "" || merchantID == "" {
		return nil, fmt.Errorf("%w: tenantID and merchantID are required", ErrInvalidInput)
	}

	query := `
		SELECT id, merchant_id, epoch, result, recorded_at
		FROM score_history
		WHERE tenant_id = ? AND merchant_id = ?
		ORDER BY epoch DESC
	`
	args := []any{tenantID, merchantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ScoreEntry
	for rows.Next() {
		entry, err := scanScoreEntry(rows)
		if err != nil {
			return nil, err
		}
		entry.TenantID = tenantID
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest were selected first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// LatestScore returns the merchant's most recent history entry.
func (r *SQLRepository) LatestScore(ctx context.Context, tenantID, merchantID string) (*domain.ScoreEntry, error) {
	entries, err := r.ListScoreHistory(ctx, tenantID, merchantID, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScoreEntry(s scanner) (*domain.ScoreEntry, error) {
	var entry domain.ScoreEntry
	var epoch, recordedAt int64
	var result string

	if err := s.Scan(&entry.ID, &entry.MerchantID, &epoch, &result, &recordedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(result), &entry.Result); err != nil {
		return nil, fmt.Errorf("failed to decode score result %s: %w", entry.ID, err)
	}
	entry.Epoch = time.Unix(0, epoch).UTC()
	entry.RecordedAt = time.Unix(0, recordedAt).UTC()
	return &entry, nil
}

// SaveInsightRule creates or replaces an insight rule with tenant isolation.
func (r *SQLRepository) SaveInsightRule(ctx context.Context, tenantID string, rule *domain.InsightRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}

	now := r.now().UTC().UnixNano()
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	severity := rule.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}

	query := `
		INSERT INTO insight_rules (
			id, tenant_id, name, description, expression,
			message, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			message = excluded.message,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Expression,
		rule.Message, string(severity), enabled, now, now,
	)
	return err
}

// ListInsightRules returns a tenant's insight rules ordered by ID.
func (r *SQLRepository) ListInsightRules(ctx context.Context, tenantID string) ([]*domain.InsightRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, message, severity, enabled
		FROM insight_rules
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.InsightRule
	for rows.Next() {
		var rule domain.InsightRule
		var description sql.NullString
		var severity string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description,
			&rule.Expression, &rule.Message, &severity, &enabled,
		); err != nil {
			return nil, err
		}
		rule.Description = description.String
		rule.Severity = domain.InsightSeverity(severity)
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// lockMerchant serializes writers of one merchant's rows in scope until tx
// ends. Postgres takes a transaction-scoped advisory lock; SQLite write
// transactions already hold the database lock.
func (r *SQLRepository) lockMerchant(ctx context.Context, tx *sql.Tx, scope, tenantID, merchantID string) error {
	query := merchantLockQuery(r.driver)
	if query == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, query, scope+":"+tenantID+":"+merchantID); err != nil {
		return fmt.Errorf("failed to lock %s for merchant %s: %w", scope, merchantID, err)
	}
	return nil
}

func merchantLockQuery(driver string) string {
	if driver == "postgres" {
		return "SELECT pg_advisory_xact_lock(hashtext($1))"
	}
	return ""
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
