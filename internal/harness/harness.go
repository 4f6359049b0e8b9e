// Package harness drives many versioned upsert operations at a single record
// concurrently and verifies that the persisted state converges on the highest
// submitted version.
package harness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"upsertcore/internal/engine"
	"upsertcore/internal/store"
)

// ErrTimeout is returned by Run when operations are still in flight at the
// deadline. Timed-out operations are abandoned and their connections leak;
// this mirrors a bounded await without per-operation cancellation and is a
// recognized limitation of the harness, not a guarantee.
var ErrTimeout = errors.New("trial timed out awaiting operations")

const (
	defaultStagger = 200 * time.Millisecond
	defaultTimeout = 5 * time.Second
)

// Submission is one (name, version) candidate for the trial's id.
type Submission struct {
	Name    string
	Version int64
}

// Trial runs N concurrent upsert operations against one record. Each
// operation gets its own dedicated connection and transaction; the only
// shared mutable resource is the row itself, and all coordination over it is
// delegated to the store's locking at the configured isolation level.
type Trial struct {
	Store       *store.Store
	ID          uuid.UUID
	Submissions []Submission
	Isolation   store.Isolation

	// Stagger delays each worker's start so operations accumulate before any
	// begins, widening the contention window. Timeout bounds the await.
	Stagger time.Duration
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics

	// BeforeCommit, when set, selects a fault-injection hook per proposal.
	// Returning nil leaves that operation unhooked. Test use only.
	BeforeCommit func(engine.Proposal) func(context.Context) error
}

// Run constructs one operation per submission, randomizes submission order,
// executes them all concurrently, and returns each operation's terminal
// result. Individual failures are reported in the results, never aggregated
// into a run-level error; the only run-level error is ErrTimeout.
func (t *Trial) Run(ctx context.Context) ([]engine.Result, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dialect := t.Store.Dialect()
	isolation := dialect.Isolation(t.Isolation)

	var mu sync.Mutex
	var results []engine.Result
	var ops []*engine.Operation
	for _, sub := range t.Submissions {
		proposal := engine.Proposal{ID: t.ID, Name: sub.Name, Version: sub.Version}
		conn, err := t.Store.Conn(ctx)
		if err != nil {
			results = append(results, engine.Result{Proposal: proposal, Err: err})
			continue
		}
		opts := []engine.Option{engine.WithLogger(logger)}
		if t.BeforeCommit != nil {
			if hook := t.BeforeCommit(proposal); hook != nil {
				opts = append(opts, engine.WithBeforeCommit(hook))
			}
		}
		op, err := engine.NewOperation(ctx, conn, dialect.UpsertSQL(), isolation, proposal, opts...)
		if err != nil {
			// Configuration failure: the operation never executes.
			_ = conn.Close()
			results = append(results, engine.Result{Proposal: proposal, Err: err})
			continue
		}
		ops = append(ops, op)
	}

	// Decouple outcome from construction order.
	rand.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })

	stagger := t.Stagger
	if stagger <= 0 {
		stagger = defaultStagger
	}

	var wg sync.WaitGroup
	for _, op := range ops {
		wg.Add(1)
		go func(op *engine.Operation) {
			defer wg.Done()
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
			}
			start := time.Now()
			res := op.Execute(ctx)
			t.Metrics.Observe(res, time.Since(start))
			if res.Err != nil {
				logger.Error("operation failed",
					"id", res.Proposal.ID,
					"version", res.Proposal.Version,
					"error", res.Err)
			}
			op.Close()
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(op)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	select {
	case <-done:
		return results, nil
	case <-time.After(timeout):
		mu.Lock()
		snapshot := append([]engine.Result(nil), results...)
		mu.Unlock()
		logger.Warn("trial timed out, abandoning in-flight operations",
			"completed", len(snapshot),
			"submitted", len(t.Submissions))
		return snapshot, ErrTimeout
	}
}

// Expected returns the submission that must win the trial: the one carrying
// the highest version.
func Expected(subs []Submission) (Submission, bool) {
	if len(subs) == 0 {
		return Submission{}, false
	}
	winner := subs[0]
	for _, s := range subs[1:] {
		if s.Version > winner.Version {
			winner = s
		}
	}
	return winner, true
}
