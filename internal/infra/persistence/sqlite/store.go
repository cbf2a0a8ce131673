// Package sqlite persists installed-plugin records in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"pluginhost/pkg/domain"
)

var _ domain.Registry = (*Store)(nil)

const defaultPath = "pluginhost.db"

// Store keeps one row per plugin key in the plugins table.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the SQLite registry at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serialises writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS plugins (
		plugin_type TEXT NOT NULL,
		plugin_name TEXT NOT NULL,
		version TEXT NOT NULL,
		installed_at TEXT NOT NULL,
		PRIMARY KEY (plugin_type, plugin_name)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create plugins table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Get returns the record for key or nil.
func (s *Store) Get(ctx context.Context, key domain.Key) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT plugin_type, plugin_name, version, installed_at FROM plugins WHERE plugin_type = ? AND plugin_name = ?`,
		key.Type, key.Name)
	rec, err := scanRecord(row)
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
		`INSERT INTO plugins(plugin_type, plugin_name, version, installed_at) VALUES(?,?,?,?)
		ON CONFLICT(plugin_type, plugin_name) DO UPDATE SET version=excluded.version, installed_at=excluded.installed_at`,
		rec.Type, rec.Name, rec.Version, rec.InstalledAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return nil
}

// Delete removes the record for key if present.
func (s *Store) Delete(ctx context.Context, key domain.Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM plugins WHERE plugin_type = ? AND plugin_name = ?`, key.Type, key.Name); err != nil {
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
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out.Add(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plugins: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.Record, error) {
	var rec domain.Record
	var installedAt string
	if err := row.Scan(&rec.Type, &rec.Name, &rec.Version, &installedAt); err != nil {
		return domain.Record{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, installedAt)
	if err != nil {
		return domain.Record{}, fmt.Errorf("parse installed_at %q: %w", installedAt, err)
	}
	rec.InstalledAt = ts
	return rec, nil
}
