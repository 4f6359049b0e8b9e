// Package engine implements the single-record versioned upsert protocol:
// one proposal, one dedicated connection, one conditional write that only
// overwrites the stored row when the proposed version is strictly greater.
package engine

import "github.com/google/uuid"

// Proposal is one caller's candidate state for an event record. It is a plain
// value owned by exactly one Operation and never shared between operations.
type Proposal struct {
	ID      uuid.UUID
	Name    string
	Version int64
}

// Record is the persisted image of an event row.
type Record struct {
	ID      uuid.UUID
	Name    string
	Version int64
}
