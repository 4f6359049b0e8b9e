// Package testutil provides a stub database driver implementing the event
// table's conditional-upsert semantics in memory, with failure toggles for
// exercising every error path of an upsert operation without a live store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq uint64

// Row is one stored event row.
type Row struct {
	ID      string
	Name    string
	Version int64
}

// StubState is the shared in-memory store behind every connection a stub
// database hands out. Writes issued inside a transaction stay staged until
// commit, so rollback genuinely discards them.
type StubState struct {
	mu   sync.Mutex
	rows map[string]Row

	// Failure toggles.
	FailPrepare  bool
	FailExec     bool
	FailCommit   bool
	FailRollback bool

	// MariaDBCounts reports 2 affected rows on the update path, imitating
	// stores that bill the conflicting insert attempt and the update
	// separately.
	MariaDBCounts bool

	// Observed activity.
	StmtCloses int
	Commits    int
	Rollbacks  int
	Isolations []sql.IsolationLevel
}

// NewStubDB registers a fresh stub driver and opens a database over it.
func NewStubDB() (*sql.DB, *StubState) {
	state := &StubState{rows: make(map[string]Row)}
	name := fmt.Sprintf("stubupsert%d", atomic.AddUint64(&stubSeq, 1))
	sql.Register(name, &stubDriver{state: state})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, state
}

// SetRow seeds a committed row.
func (st *StubState) SetRow(id, name string, version int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rows[id] = Row{ID: id, Name: name, Version: version}
}

// Row returns the committed row for id.
func (st *StubState) Row(id string) (Row, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rows[id]
	return r, ok
}

// RowCount reports the number of committed rows.
func (st *StubState) RowCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.rows)
}

// Counts returns observed statement closes, commits, and rollbacks.
func (st *StubState) Counts() (stmtCloses, commits, rollbacks int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.StmtCloses, st.Commits, st.Rollbacks
}

type stubDriver struct {
	state *StubState
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return &stubSession{state: d.state}, nil
}

// stubSession is one driver connection. Every sql.Conn acquired from the pool
// maps to its own session, matching the engine's connection-per-operation
// contract.
type stubSession struct {
	state *StubState
	tx    *stubTx
}

func (c *stubSession) Prepare(query string) (driver.Stmt, error) {
	c.state.mu.Lock()
	fail := c.state.FailPrepare
	c.state.mu.Unlock()
	if fail {
		return nil, errors.New("prepare refused")
	}
	return &stubStmt{session: c, query: query}, nil
}

func (c *stubSession) Close() error { return nil }

func (c *stubSession) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx and records the requested isolation.
func (c *stubSession) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.state.mu.Lock()
	c.state.Isolations = append(c.state.Isolations, sql.IsolationLevel(opts.Isolation))
	c.state.mu.Unlock()
	tx := &stubTx{session: c, staged: make(map[string]Row)}
	c.tx = tx
	return tx, nil
}

type stubStmt struct {
	session *stubSession
	query   string
}

func (s *stubStmt) Close() error {
	st := s.session.state
	st.mu.Lock()
	st.StmtCloses++
	st.mu.Unlock()
	return nil
}

func (s *stubStmt) NumInput() int { return strings.Count(s.query, "?") }

func (s *stubStmt) Exec(args []driver.Value) (driver.Result, error) {
	named := make([]driver.NamedValue, len(args))
	for i, a := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}
	return s.ExecContext(context.Background(), named)
}

// ExecContext accepts schema DDL as a no-op and otherwise implements the
// conditional upsert: insert when absent, overwrite only when the proposed
// version is strictly greater.
func (s *stubStmt) ExecContext(_ context.Context, args []driver.NamedValue) (driver.Result, error) {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(s.query)), "CREATE") {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 3 {
		return nil, fmt.Errorf("upsert expects 3 args, got %d", len(args))
	}
	id, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("id arg must be string, got %T", args[0].Value)
	}
	name, ok := args[1].Value.(string)
	if !ok {
		return nil, fmt.Errorf("name arg must be string, got %T", args[1].Value)
	}
	version, ok := args[2].Value.(int64)
	if !ok {
		return nil, fmt.Errorf("version arg must be int64, got %T", args[2].Value)
	}

	st := s.session.state
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.FailExec {
		return nil, errors.New("write refused")
	}

	cur, exists := st.rows[id]
	if tx := s.session.tx; tx != nil {
		if staged, ok := tx.staged[id]; ok {
			cur, exists = staged, true
		}
	}

	var affected int64
	switch {
	case !exists:
		affected = 1
	case version > cur.Version:
		affected = 1
		if st.MariaDBCounts {
			affected = 2
		}
	default:
		affected = 0
	}
	if affected > 0 {
		row := Row{ID: id, Name: name, Version: version}
		if tx := s.session.tx; tx != nil {
			tx.staged[id] = row
		} else {
			st.rows[id] = row
		}
	}
	return driver.RowsAffected(affected), nil
}

func (s *stubStmt) Query(args []driver.Value) (driver.Rows, error) {
	named := make([]driver.NamedValue, len(args))
	for i, a := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}
	return s.QueryContext(context.Background(), named)
}

// QueryContext serves the select-by-id read-back over committed rows.
func (s *stubStmt) QueryContext(_ context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("select expects 1 arg, got %d", len(args))
	}
	id, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("id arg must be string, got %T", args[0].Value)
	}
	st := s.session.state
	st.mu.Lock()
	defer st.mu.Unlock()
	var values [][]driver.Value
	if row, ok := st.rows[id]; ok {
		values = append(values, []driver.Value{row.ID, row.Name, row.Version})
	}
	return &stubRows{cols: []string{"id", "name", "version"}, rows: values}, nil
}

type stubTx struct {
	session *stubSession
	staged  map[string]Row
}

func (t *stubTx) Commit() error {
	st := t.session.state
	st.mu.Lock()
	defer st.mu.Unlock()
	t.session.tx = nil
	st.Commits++
	if st.FailCommit {
		return errors.New("commit refused")
	}
	for id, row := range t.staged {
		st.rows[id] = row
	}
	return nil
}

func (t *stubTx) Rollback() error {
	st := t.session.state
	st.mu.Lock()
	defer st.mu.Unlock()
	t.session.tx = nil
	st.Rollbacks++
	if st.FailRollback {
		return errors.New("rollback refused")
	}
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
