package repository

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/notenetra/creditscore/internal/domain"
)

const pingTimeout = 5 * time.Second

// opener opens a driver's database without verifying it.
type opener func(cfg domain.RepositoryConfig) (*sql.DB, error)

var openers = map[string]opener{
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// openDB opens the configured driver and pings it.
func openDB(cfg domain.RepositoryConfig) (*sql.DB, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s unreachable: %w", cfg.Driver, err)
	}
	return db, nil
}

// postgresDSN renders the connection URL. PostgresURL wins when set; the
// discrete fields fill in whatever it leaves out.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	u := &url.URL{Scheme: "postgres"}
	if cfg.PostgresURL != "" {
		parsed, err := url.Parse(cfg.PostgresURL)
		if err != nil {
			return "", fmt.Errorf("invalid postgres url: %w", err)
		}
		u = parsed
	}

	if u.Host == "" {
		host := cmp.Or(cfg.PostgresHost, "localhost")
		port := cfg.PostgresPort
		if port == 0 {
			port = 5432
		}
		u.Host = host + ":" + strconv.Itoa(port)
	}
	if u.User == nil && cfg.PostgresUser != "" {
		if cfg.PostgresPassword != "" {
			u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
		} else {
			u.User = url.User(cfg.PostgresUser)
		}
	}
	if strings.TrimPrefix(u.Path, "/") == "" {
		u.Path = "/" + cmp.Or(cfg.PostgresDB, "creditscore")
	}

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", cmp.Or(cfg.PostgresSSLMode, "disable"))
	}
	if q.Get("application_name") == "" {
		q.Set("application_name", "creditscore")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// sqliteDSN adds the pragmas every connection needs. ":memory:" maps to a
// uniquely named shared-cache database: pool connections of one store see
// the same data, separate stores never do.
func sqliteDSN(path string) string {
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(ON)",
	}
	if path == ":memory:" {
		return "file:" + uuid.NewString() + "?mode=memory&cache=shared&" + strings.Join(pragmas, "&")
	}
	// a deferred read-then-write fails on a stale WAL snapshot; writers lock at BEGIN
	pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cmp.Or(cfg.SQLitePath, "./creditscore.db")
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// the shared in-memory database lives as long as one connection does
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
		db.SetMaxIdleConns(1)
	}
	return db, nil
}
