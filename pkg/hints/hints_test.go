package hints_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/paulschiretz/pgl-snap/pkg/hints"
)

func TestIsHint(t *testing.T) {
	errBusy := hints.New("task is already running")
	errPlain := errors.New("btrfs send failed")

	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Nil", nil, false},
		{"Plain Error", errPlain, false},
		{"Skip Sentinel", errBusy, true},
		{"Wrapped Skip", fmt.Errorf("task home: %w", errBusy), true},
		{"Wrapped Plain", fmt.Errorf("task home: %w", errPlain), false},
		{"Joined With Skip", errors.Join(errPlain, errBusy), true},
		{"Double Wrapped Skip", fmt.Errorf("run: %w", fmt.Errorf("task home: %w", errBusy)), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hints.IsHint(tc.err); got != tc.expected {
				t.Errorf("IsHint() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := hints.New("nothing to execute")
	if err.Error() != "nothing to execute" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if hints.New("a") == hints.New("a") {
		t.Error("each call must return a distinct sentinel")
	}
	if !errors.Is(fmt.Errorf("hook: %w", err), err) {
		t.Error("errors.Is must match the sentinel through wrapping")
	}
}
