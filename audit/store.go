// Package audit is the append-only persistence layer for moderation
// and admin actions. Rooms and sessions are deliberately non-durable,
// but the audit trail survives restarts, so it gets its own
// SQLite-backed store: embedded golang-migrate migrations run against
// a modernc.org/sqlite connection capped at one open connection to
// avoid SQLITE_BUSY.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*
var migrations embed.FS

// Store persists audit records to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates a new Store backed by the database at dbFilePath,
// running any pending migrations. If the database does not already
// exist, a new one is created with the required schema.
func Open(dbFilePath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys=on", dbFilePath))
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	// Serialize all access to avoid SQLITE_BUSY under concurrent
	// admin actions.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: run migrations: %w", err)
	}
	return store, nil
}

func (s *Store) runMigrations() error {
	migrationFS, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("prepare migration subdirectory: %w", err)
	}

	sourceInstance, err := httpfs.New(http.FS(migrationFS), ".")
	if err != nil {
		return fmt.Errorf("create source instance from embedded filesystem: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("httpfs", sourceInstance, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Record appends one audit entry. It satisfies service.AuditRecorder.
func (s *Store) Record(ctx context.Context, action, actor string, targetUserID uint32, detail string) error {
	const q = `INSERT INTO audit_log (recorded_at, action, actor, target_user_id, detail) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, time.Now().UTC(), action, actor, targetUserID, detail)
	if err != nil {
		return fmt.Errorf("audit: record %q: %w", action, err)
	}
	return nil
}

// Record is one persisted audit entry, as returned by Recent.
type Record struct {
	ID           int64
	RecordedAt   time.Time
	Action       string
	Actor        string
	TargetUserID uint32
	Detail       string
}

// Recent returns the most recent audit records, newest first, capped
// at limit rows.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	const q = `SELECT id, recorded_at, action, actor, target_user_id, detail
	           FROM audit_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RecordedAt, &r.Action, &r.Actor, &r.TargetUserID, &r.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
