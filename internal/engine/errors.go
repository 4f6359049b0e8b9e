package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyExecuted is returned by Execute when called on an operation that
// has already run. Operations are single-shot; the write is never re-issued.
var ErrAlreadyExecuted = errors.New("upsert operation already executed")

// ConfigError reports a failure while setting up an operation's transaction
// or statement. An operation that fails configuration never executes.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configure upsert (%s): %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
