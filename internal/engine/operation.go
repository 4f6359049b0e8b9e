package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// Operation binds one Proposal to one dedicated connection and one prepared
// conditional-write statement. It is single-shot: construct, Execute once,
// Close. The conditional comparison (insert if absent, overwrite only when
// the proposed version is strictly greater) is evaluated atomically by the
// store inside a single statement, so there is no read-then-write window.
type Operation struct {
	conn     *sql.Conn
	tx       *sql.Tx
	stmt     *sql.Stmt
	proposal Proposal
	logger   *slog.Logger

	beforeCommit func(context.Context) error
	executed     atomic.Bool
}

// Result is the immutable terminal outcome of one operation. Outcome and
// RowsAffected are meaningful only when Committed is true.
type Result struct {
	Proposal     Proposal
	Outcome      Outcome
	RowsAffected int64
	Committed    bool
	Err          error
}

// Option configures an Operation at construction time.
type Option func(*Operation)

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(op *Operation) {
		if l != nil {
			op.logger = l
		}
	}
}

// WithBeforeCommit installs a fault-injection hook invoked between the
// conditional write and the commit. A hook error is treated exactly like a
// commit failure: the transaction is rolled back and the operation fails.
// Intended for tests only.
func WithBeforeCommit(hook func(context.Context) error) Option {
	return func(op *Operation) { op.beforeCommit = hook }
}

// NewOperation begins a transaction on conn at the given isolation level and
// prepares the conditional-write statement for p. The connection must be
// dedicated to this operation; the caller releases it via Close after
// Execute. Setup failures are returned as *ConfigError and the operation
// never runs.
func NewOperation(ctx context.Context, conn *sql.Conn, upsertSQL string, isolation sql.IsolationLevel, p Proposal, opts ...Option) (*Operation, error) {
	op := &Operation{
		conn:     conn,
		proposal: p,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(op)
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return nil, &ConfigError{Stage: "begin", Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			op.logger.Warn("rollback after failed prepare", "error", rbErr)
		}
		return nil, &ConfigError{Stage: "prepare", Err: err}
	}
	op.tx = tx
	op.stmt = stmt
	return op, nil
}

// Proposal returns the proposal this operation was bound to.
func (op *Operation) Proposal() Proposal { return op.proposal }

// Execute issues the conditional write and commits. All store errors are
// converted into the returned Result; nothing propagates past this boundary.
// A second call does not touch the store and reports ErrAlreadyExecuted.
func (op *Operation) Execute(ctx context.Context) Result {
	if !op.executed.CompareAndSwap(false, true) {
		return Result{Proposal: op.proposal, Err: ErrAlreadyExecuted}
	}
	defer func() {
		// Scoped resource: the statement is released on every exit path.
		if err := op.stmt.Close(); err != nil {
			op.logger.Warn("close statement", "version", op.proposal.Version, "error", err)
		}
	}()

	res, err := op.stmt.ExecContext(ctx, op.proposal.ID.String(), op.proposal.Name, op.proposal.Version)
	if err != nil {
		return op.fail(fmt.Errorf("conditional write: %w", err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return op.fail(fmt.Errorf("affected rows: %w", err))
	}
	if op.beforeCommit != nil {
		if err := op.beforeCommit(ctx); err != nil {
			return op.fail(fmt.Errorf("before commit: %w", err))
		}
	}
	if err := op.tx.Commit(); err != nil {
		return op.fail(fmt.Errorf("commit: %w", err))
	}

	outcome := Classify(rows)
	op.logger.Debug("upsert committed",
		"id", op.proposal.ID,
		"version", op.proposal.Version,
		"outcome", outcome.String(),
		"rows", rows)
	return Result{
		Proposal:     op.proposal,
		Outcome:      outcome,
		RowsAffected: rows,
		Committed:    true,
	}
}

// fail rolls back and produces the failed terminal result. A rollback failure
// is secondary: logged, never allowed to change the already-failed outcome.
func (op *Operation) fail(err error) Result {
	op.logger.Error("upsert failed, rolling back",
		"id", op.proposal.ID,
		"version", op.proposal.Version,
		"error", err)
	if rbErr := op.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		op.logger.Warn("rollback failed", "version", op.proposal.Version, "error", rbErr)
	}
	return Result{Proposal: op.proposal, Err: err}
}

// Close releases the owned connection. Release errors are logged, never
// surfaced: by this point the write's outcome is already fixed and a
// connection-release failure must not be mistaken for an upsert failure.
func (op *Operation) Close() {
	if err := op.conn.Close(); err != nil {
		op.logger.Warn("close connection", "version", op.proposal.Version, "error", err)
	}
}
