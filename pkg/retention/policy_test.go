package retention

import (
	"errors"
	"testing"

	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

func TestParsePolicy(t *testing.T) {
	testCases := []struct {
		name       string
		descriptor string
		expected   Policy
		canonical  string
	}{
		{"Full policy", "10h3d2m1y", Policy{Hours: 10, Days: 3, Months: 2, Years: 1}, "10h3d2m1y"},
		{"Any order", "1y2d", Policy{Days: 2, Years: 1}, "2d1y"},
		{"Explicit zero", "0h", Policy{}, "0h"},
		{"Empty", "", Policy{}, "0h"},
		{"Unknown tokens ignored", "5x3d-7w", Policy{Days: 3}, "3d"},
		{"First occurrence wins", "3d9d", Policy{Days: 3}, "3d"},
		{"Upper case units", "4H2D", Policy{Hours: 4, Days: 2}, "4h2d"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePolicy(tc.descriptor)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("ParsePolicy(%q) = %+v, want %+v", tc.descriptor, got, tc.expected)
			}
			if got.String() != tc.canonical {
				t.Errorf("String() = %q, want %q", got.String(), tc.canonical)
			}
		})
	}
}

func TestParsePolicy_OutOfRange(t *testing.T) {
	_, err := ParsePolicy("99999999999999999999999h")
	var cfgErr *taskerr.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	if _, err := ParsePolicy("1001d"); err == nil {
		t.Error("expected error for a count above the cap")
	}
}
