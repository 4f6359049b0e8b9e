// Package report turns trial runs into archivable JSON documents. A
// convergence trial is a measurement; archiving its report keeps a record of
// how a store behaved under a given isolation level and contention pattern.
package report

import (
	"time"

	"github.com/google/uuid"

	"upsertcore/internal/engine"
)

// TrialReport is the archived record of one convergence trial.
type TrialReport struct {
	TrialID    string            `json:"trial_id"`
	Store      string            `json:"store"`
	Isolation  string            `json:"isolation"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Operations []OperationReport `json:"operations"`
	Converged  *RowReport        `json:"converged,omitempty"`
	Divergence string            `json:"divergence,omitempty"`
}

// OperationReport is one operation's terminal outcome.
type OperationReport struct {
	Name         string `json:"name"`
	Version      int64  `json:"version"`
	Outcome      string `json:"outcome"`
	RowsAffected int64  `json:"rows_affected"`
	Committed    bool   `json:"committed"`
	Error        string `json:"error,omitempty"`
}

// RowReport is the persisted row the trial converged to.
type RowReport struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Build assembles a report from a trial's raw results. verifyErr, when
// non-nil, is recorded as the divergence; row may be nil when no row was
// readable.
func Build(trialID uuid.UUID, storeName, isolation string, results []engine.Result, row *engine.Record, verifyErr error, started, finished time.Time) TrialReport {
	rep := TrialReport{
		TrialID:    trialID.String(),
		Store:      storeName,
		Isolation:  isolation,
		StartedAt:  started,
		FinishedAt: finished,
	}
	for _, res := range results {
		op := OperationReport{
			Name:         res.Proposal.Name,
			Version:      res.Proposal.Version,
			RowsAffected: res.RowsAffected,
			Committed:    res.Committed,
		}
		if res.Committed {
			op.Outcome = res.Outcome.String()
		} else {
			op.Outcome = "failed"
		}
		if res.Err != nil {
			op.Error = res.Err.Error()
		}
		rep.Operations = append(rep.Operations, op)
	}
	if row != nil {
		rep.Converged = &RowReport{ID: row.ID.String(), Name: row.Name, Version: row.Version}
	}
	if verifyErr != nil {
		rep.Divergence = verifyErr.Error()
	}
	return rep
}
