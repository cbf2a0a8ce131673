// Package postgres provides a PostgreSQL-backed plugin registry.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"pluginhost/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Registry = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/pluginhost?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

const createTable = `CREATE TABLE IF NOT EXISTS plugins (
	plugin_type TEXT NOT NULL,
	plugin_name TEXT NOT NULL,
	version TEXT NOT NULL,
	installed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (plugin_type, plugin_name)
)`

// Store keeps one row per plugin key in the plugins table.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed registry using dsn (falls back to
// DefaultDSN), pings the server and ensures the plugins table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure plugins table: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the record for key or nil.
func (s *Store) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	var rec domain.Record
	err := s.db.QueryRowContext(ctx,
		`SELECT plugin_type, plugin_name, version, installed_at FROM plugins WHERE plugin_type = $1 AND plugin_name = $2`,
		key.Type, key.Name).Scan(&rec.Type, &rec.Name, &rec.Version, &rec.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return &rec, nil
}

// Put upserts rec.
func (s *Store) Put(ctx context.Context, rec domain.Record) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO plugins (plugin_type, plugin_name, version, installed_at) VALUES ($1, $2, $3, $4) ON CONFLICT (plugin_type, plugin_name) DO UPDATE SET version = EXCLUDED.version, installed_at = EXCLUDED.installed_at`,
		rec.Type, rec.Name, rec.Version, rec.InstalledAt.UTC()); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return nil
}

// Delete removes the record for key if present.
func (s *Store) Delete(ctx context.Context, key domain.Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE plugin_type = $1 AND plugin_name = $2`, key.Type, key.Name); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListAll returns every record.
func (s *Store) ListAll(ctx context.Context) (domain.Installed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plugin_type, plugin_name, version, installed_at FROM plugins`)
	if err != nil {
		return nil, fmt.Errorf("select plugins: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(domain.Installed)
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(&rec.Type, &rec.Name, &rec.Version, &rec.InstalledAt); err != nil {
			return nil, fmt.Errorf("scan plugin: %w", err)
		}
		out.Add(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugins: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
