// Package store adapts a relational database into the narrow capability the
// upsert engine consumes: dedicated connections with per-connection
// transaction control and isolation selection, an atomic conditional
// insert-or-update statement, schema bootstrap, and row read-back.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"upsertcore/internal/engine"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// ErrNoRow indicates no event row exists for the requested id.
var ErrNoRow = errors.New("event not found")

// Store wraps a database handle together with its dialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenPostgres opens a Postgres-backed store via the pgx stdlib driver.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Store{db: db, dialect: Postgres{}}, nil
}

// OpenSQLite opens a file-backed SQLite store. WAL mode plus a generous busy
// timeout lets concurrent writers queue on the single-writer lock instead of
// failing immediately.
func OpenSQLite(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db, dialect: SQLite{}}, nil
}

// Wrap adapts an existing database handle with the given dialect. Used by
// tests that install a stub driver.
func Wrap(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the endpoint is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.Name(), err)
	}
	return nil
}

// Conn acquires a dedicated connection. Each upsert operation owns exactly
// one; the caller is responsible for releasing it.
func (s *Store) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// EnsureSchema creates the event table if it does not exist. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.SchemaSQL()); err != nil {
		return fmt.Errorf("ensure event table: %w", err)
	}
	return nil
}

// Event reads the single row for id. Returns ErrNoRow when absent.
func (s *Store) Event(ctx context.Context, id uuid.UUID) (engine.Record, error) {
	records, err := s.EventsByID(ctx, id)
	if err != nil {
		return engine.Record{}, err
	}
	if len(records) == 0 {
		return engine.Record{}, fmt.Errorf("event %s: %w", id, ErrNoRow)
	}
	return records[0], nil
}

// EventsByID reads every row matching id. The primary key makes more than one
// impossible in a healthy store; the verifier still checks defensively.
func (s *Store) EventsByID(ctx context.Context, id uuid.UUID) ([]engine.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.SelectByIDSQL(), id.String())
	if err != nil {
		return nil, fmt.Errorf("select event: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []engine.Record
	for rows.Next() {
		var rawID string
		var rec engine.Record
		if err := rows.Scan(&rawID, &rec.Name, &rec.Version); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.ID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", rawID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}
