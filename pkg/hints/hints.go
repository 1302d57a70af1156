// Package hints marks errors that mean "skipped" rather than "failed".
//
// A task that is already running elsewhere, an adjust request the snapshot
// engine does not implement, and a hook with no command configured all end a
// step early without anything being wrong. The runner reports such tasks as
// skipped and the hook wrappers ignore them, without importing the sentinel of
// every producer.
package hints

import "errors"

type skip struct {
	msg string
}

func (s *skip) Error() string {
	if s == nil || s.msg == "" {
		return "skipped"
	}
	return s.msg
}

func (s *skip) IsHint() bool { return true }

// New returns a sentinel that IsHint recognizes, also after wrapping.
func New(msg string) error {
	return &skip{msg: msg}
}

// IsHint reports whether err or anything it wraps is a skip signal.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}
