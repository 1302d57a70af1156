// Package taskerr defines the error kinds a snapshot task can fail with.
//
// Callers distinguish them with errors.As. Configuration errors are raised
// before any filesystem mutation; transfer and delete errors abort the
// remainder of a run and are healed by the stale-clone cleanup of the next run.
package taskerr

import (
	"fmt"

	"github.com/paulschiretz/pgl-snap/pkg/hints"
)

// ErrTaskBusy is returned when another run holds the task lock. It is a hint:
// the task is skipped, not failed.
var ErrTaskBusy = hints.New("task is already running")

// ConfigError reports an invalid task definition: a bad source, an
// unparsable policy or a non-monotonic window sequence.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError is a shorthand for building a ConfigError from a message.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// ToolUnavailableError is returned when an external tool kept producing
// unusable output after all retry attempts.
type ToolUnavailableError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error { return e.Err }

// TransferError wraps a failed send/receive of one snapshot.
type TransferError struct {
	Snapshot string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %v", e.Snapshot, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// DeleteError wraps a failed snapshot deletion.
type DeleteError struct {
	Path string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete of %s failed: %v", e.Path, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }
