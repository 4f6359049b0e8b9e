package testutil

import (
	"context"
	"database/sql"
	"testing"
)

const upsertSQL = "INSERT INTO event (id, name, version) VALUES (?, ?, ?)"

func TestAutocommitUpsertSemantics(t *testing.T) {
	db, state := NewStubDB()
	ctx := context.Background()

	steps := []struct {
		name     string
		version  int64
		wantRows int64
	}{
		{"insert", 1, 1},
		{"update", 2, 1},
		{"stale", 1, 0},
		{"equal", 2, 0},
	}
	for _, step := range steps {
		res, err := db.ExecContext(ctx, upsertSQL, "id-1", step.name, step.version)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		rows, _ := res.RowsAffected()
		if rows != step.wantRows {
			t.Fatalf("%s: rows = %d, want %d", step.name, rows, step.wantRows)
		}
	}
	row, ok := state.Row("id-1")
	if !ok || row.Version != 2 || row.Name != "update" {
		t.Fatalf("final row = %+v", row)
	}
}

func TestMariaDBCountsReportTwoOnUpdate(t *testing.T) {
	db, state := NewStubDB()
	state.MariaDBCounts = true
	ctx := context.Background()

	res, _ := db.ExecContext(ctx, upsertSQL, "id-1", "a", 1)
	if rows, _ := res.RowsAffected(); rows != 1 {
		t.Fatalf("insert rows = %d, want 1", rows)
	}
	res, _ = db.ExecContext(ctx, upsertSQL, "id-1", "b", 2)
	if rows, _ := res.RowsAffected(); rows != 2 {
		t.Fatalf("update rows = %d, want 2", rows)
	}
}

func TestRollbackDiscardsStagedWrite(t *testing.T) {
	db, state := NewStubDB()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := tx.ExecContext(ctx, upsertSQL, "id-1", "staged", 1); err != nil {
		t.Fatalf("exec in tx: %v", err)
	}
	if state.RowCount() != 0 {
		t.Fatalf("staged write visible before commit")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if state.RowCount() != 0 {
		t.Fatalf("rolled-back write persisted")
	}
}

func TestCommitAppliesStagedWrite(t *testing.T) {
	db, state := NewStubDB()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := tx.ExecContext(ctx, upsertSQL, "id-1", "staged", 3); err != nil {
		t.Fatalf("exec in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	row, ok := state.Row("id-1")
	if !ok || row.Version != 3 {
		t.Fatalf("committed row = %+v", row)
	}
}

func TestFailCommitDiscardsStagedWrite(t *testing.T) {
	db, state := NewStubDB()
	state.FailCommit = true
	ctx := context.Background()

	tx, _ := db.BeginTx(ctx, nil)
	if _, err := tx.ExecContext(ctx, upsertSQL, "id-1", "lost", 1); err != nil {
		t.Fatalf("exec in tx: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	if state.RowCount() != 0 {
		t.Fatalf("failed commit persisted staged write")
	}
}

func TestBeginTxRecordsIsolation(t *testing.T) {
	db, state := NewStubDB()
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	_ = tx.Rollback()

	state.mu.Lock()
	defer state.mu.Unlock()
	if len(state.Isolations) != 1 || state.Isolations[0] != sql.LevelSerializable {
		t.Fatalf("recorded isolations = %v", state.Isolations)
	}
}

func TestSelectByIDReturnsCommittedRowOnly(t *testing.T) {
	db, state := NewStubDB()
	state.SetRow("id-1", "visible", 2)
	ctx := context.Background()

	rows, err := db.QueryContext(ctx, "SELECT id, name, version FROM event WHERE id = ?", "id-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		t.Fatalf("expected one row")
	}
	var id, name string
	var version int64
	if err := rows.Scan(&id, &name, &version); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if id != "id-1" || name != "visible" || version != 2 {
		t.Fatalf("row = %s/%s/%d", id, name, version)
	}
	if rows.Next() {
		t.Fatalf("unexpected second row")
	}
}
