package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"upsertcore/internal/store"
	"upsertcore/internal/store/testutil"
)

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema second call: %v", err)
	}
}

func TestSQLiteUpsertRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	id := uuid.New()
	upsert := s.Dialect().UpsertSQL()
	for _, step := range []struct {
		name     string
		version  int64
		wantRows int64
	}{
		{"created", 3, 1},
		{"stale is ignored", 2, 0},
		{"higher wins", 4, 1},
	} {
		res, err := s.DB().ExecContext(ctx, upsert, id.String(), step.name, step.version)
		if err != nil {
			t.Fatalf("upsert %q: %v", step.name, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			t.Fatalf("rows affected: %v", err)
		}
		if rows != step.wantRows {
			t.Fatalf("step %q: rows = %d, want %d", step.name, rows, step.wantRows)
		}
	}

	rec, err := s.Event(ctx, id)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if rec.Version != 4 || rec.Name != "higher wins" {
		t.Fatalf("final row = %+v, want version 4", rec)
	}
}

func TestEventNotFound(t *testing.T) {
	db, _ := testutil.NewStubDB()
	s := store.Wrap(db, store.SQLite{})
	_, err := s.Event(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNoRow) {
		t.Fatalf("err = %v, want ErrNoRow", err)
	}
}

func TestEventReadsCommittedRow(t *testing.T) {
	db, state := testutil.NewStubDB()
	s := store.Wrap(db, store.SQLite{})
	id := uuid.New()
	state.SetRow(id.String(), "persisted", 7)

	rec, err := s.Event(context.Background(), id)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if rec.ID != id || rec.Name != "persisted" || rec.Version != 7 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDialectUpsertGuardsOnVersion(t *testing.T) {
	for _, d := range []store.Dialect{store.Postgres{}, store.SQLite{}} {
		sqlText := d.UpsertSQL()
		if !strings.Contains(sqlText, "ON CONFLICT (id) DO UPDATE") {
			t.Fatalf("%s upsert lacks conflict clause: %s", d.Name(), sqlText)
		}
		if !strings.Contains(sqlText, "excluded.version") || !strings.Contains(sqlText, "event.version") {
			t.Fatalf("%s upsert lacks version guard: %s", d.Name(), sqlText)
		}
	}
}

func TestPostgresIsolationPassesThrough(t *testing.T) {
	d := store.Postgres{}
	cases := map[store.Isolation]sql.IsolationLevel{
		store.ReadUncommitted: sql.LevelReadUncommitted,
		store.ReadCommitted:   sql.LevelReadCommitted,
		store.RepeatableRead:  sql.LevelRepeatableRead,
		store.Serializable:    sql.LevelSerializable,
	}
	for iso, want := range cases {
		if got := d.Isolation(iso); got != want {
			t.Fatalf("postgres %v -> %v, want %v", iso, got, want)
		}
	}
}

func TestSQLiteCoercesIsolationToDefault(t *testing.T) {
	d := store.SQLite{}
	for _, iso := range []store.Isolation{store.ReadUncommitted, store.ReadCommitted, store.RepeatableRead, store.Serializable} {
		if got := d.Isolation(iso); got != sql.LevelDefault {
			t.Fatalf("sqlite %v -> %v, want driver default", iso, got)
		}
	}
}
