package store

import "database/sql"

// Dialect captures the store-specific pieces of the conditional upsert: the
// statement text, the schema DDL, the read-back query, and how requested
// isolation levels map onto what the driver actually supports.
type Dialect interface {
	Name() string
	UpsertSQL() string
	SchemaSQL() string
	SelectByIDSQL() string
	Isolation(level Isolation) sql.IsolationLevel
}

// Postgres is the pgx-backed dialect. The update branch of the upsert applies
// only when the proposed version is strictly greater, evaluated atomically by
// the store inside the single INSERT statement.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) UpsertSQL() string {
	return `INSERT INTO event (id, name, version) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, version = excluded.version
WHERE event.version < excluded.version`
}

func (Postgres) SchemaSQL() string {
	// id is TEXT so the same uuid string binding works across dialects.
	return `CREATE TABLE IF NOT EXISTS event (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 0
)`
}

func (Postgres) SelectByIDSQL() string {
	return `SELECT id, name, version FROM event WHERE id = $1`
}

func (Postgres) Isolation(level Isolation) sql.IsolationLevel { return level.Level() }

// SQLite is the modernc.org/sqlite-backed dialect.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) UpsertSQL() string {
	return `INSERT INTO event (id, name, version) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, version = excluded.version
WHERE excluded.version > event.version`
}

func (SQLite) SchemaSQL() string {
	return `CREATE TABLE IF NOT EXISTS event (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
)`
}

func (SQLite) SelectByIDSQL() string {
	return `SELECT id, name, version FROM event WHERE id = ?`
}

// Isolation always reports the driver default: SQLite transactions are
// serializable and the driver rejects explicit weaker levels.
func (SQLite) Isolation(Isolation) sql.IsolationLevel { return sql.LevelDefault }
