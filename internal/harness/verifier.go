package harness

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"upsertcore/internal/store"
)

// Verify reads back the persisted state for id and checks convergence:
// exactly one row exists, its version equals the expected maximum, and its
// name is the one paired with that maximum. The single-row check is
// defensive; the store's key constraint already enforces uniqueness.
func Verify(ctx context.Context, s *store.Store, id uuid.UUID, wantName string, wantVersion int64) error {
	records, err := s.EventsByID(ctx, id)
	if err != nil {
		return fmt.Errorf("read back event: %w", err)
	}
	switch {
	case len(records) == 0:
		return fmt.Errorf("event %s: no row persisted", id)
	case len(records) > 1:
		return fmt.Errorf("event %s: %d rows persisted, want exactly one", id, len(records))
	}
	rec := records[0]
	if rec.ID != id {
		return fmt.Errorf("event %s: row carries id %s", id, rec.ID)
	}
	if rec.Version != wantVersion {
		return fmt.Errorf("event %s: converged to version %d, want %d", id, rec.Version, wantVersion)
	}
	if rec.Name != wantName {
		return fmt.Errorf("event %s: converged to name %q, want %q", id, rec.Name, wantName)
	}
	return nil
}
