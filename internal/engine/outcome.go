package engine

// Outcome classifies the effect of one conditional write.
type Outcome int

const (
	// OutcomeNoop means the row was left unchanged: the stored version was
	// already greater than or equal to the proposed one.
	OutcomeNoop Outcome = iota
	// OutcomeApplied means the write inserted the row or replaced its
	// name/version. Whether it was an insert or an update is not recoverable
	// from the affected-row count and is deliberately not reported.
	OutcomeApplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	default:
		return "noop"
	}
}

// Classify maps a store-reported affected-row count to an Outcome.
//
// Stores disagree on the exact count for the update path: MariaDB reports 2
// for an update (billing the conflicting insert attempt and the update
// separately), Postgres and SQLite report 1. The count is therefore treated
// as zero versus nonzero only; the raw value is kept purely for diagnostics.
func Classify(rowsAffected int64) Outcome {
	if rowsAffected == 0 {
		return OutcomeNoop
	}
	return OutcomeApplied
}
