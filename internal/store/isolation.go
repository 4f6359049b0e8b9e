package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Isolation enumerates the transaction isolation levels the adapter accepts.
// The zero value is read committed, the protocol's default: the conditional
// write needs at least read-committed semantics for concurrent proposals to
// serialize on the row's check-and-write.
type Isolation int

const (
	ReadCommitted Isolation = iota
	ReadUncommitted
	RepeatableRead
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadUncommitted:
		return "read-uncommitted"
	case RepeatableRead:
		return "repeatable-read"
	case Serializable:
		return "serializable"
	default:
		return "read-committed"
	}
}

// Level maps to the database/sql isolation constant.
func (i Isolation) Level() sql.IsolationLevel {
	switch i {
	case ReadUncommitted:
		return sql.LevelReadUncommitted
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

// ParseIsolation converts a CLI/config string into an Isolation.
func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "read-committed", "read_committed":
		return ReadCommitted, nil
	case "read-uncommitted", "read_uncommitted":
		return ReadUncommitted, nil
	case "repeatable-read", "repeatable_read":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return ReadCommitted, fmt.Errorf("unknown isolation level %q", s)
	}
}
