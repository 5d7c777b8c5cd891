package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/healwise/apiserver/config"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names the SQL dialect behind a connection.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

const (
	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25
)

// ParseDriver normalizes a configured driver name.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, Driver, error) {
	driver, err := ParseDriver(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch driver {
	case DriverSQLite:
		db, err = OpenSQLite(cfg.SQLitePath)
	default:
		db, err = sql.Open("postgres", PostgresURL(cfg))
		if err == nil {
			db.SetConnMaxIdleTime(defaultConnMaxIdle)
			db.SetConnMaxLifetime(defaultConnMaxLife)
			db.SetMaxIdleConns(defaultMaxIdleConns)
			db.SetMaxOpenConns(defaultMaxOpenConns)
		}
	}
	if err != nil {
		return nil, "", err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, driver, nil
}

// OpenSQLite opens a SQLite database file with foreign keys and WAL enabled.
// SQLite allows a single writer, so the pool is capped at one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// PostgresURL builds a connection URL, preferring DATABASE_URL when set.
func PostgresURL(cfg config.DatabaseConfig) string {
	if strings.TrimSpace(cfg.URL) != "" {
		return strings.TrimSpace(cfg.URL)
	}

	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}
