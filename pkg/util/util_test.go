package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"No tilde", "/var/backups", "/var/backups"},
		{"Tilde only", "~", home},
		{"Tilde with subdir", "~/snapshots", filepath.Join(home, "snapshots")},
		{"Relative path", "data/snaps", "data/snaps"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandPath(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestAbsPath(t *testing.T) {
	got, err := AbsPath("/mnt/backup/../pool/./home")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/mnt/pool/home" {
		t.Errorf("expected cleaned absolute path, got %q", got)
	}
}

func TestInvertMap(t *testing.T) {
	m := map[int]string{1: "one", 2: "two"}
	inv := InvertMap(m)
	if len(inv) != 2 || inv["one"] != 1 || inv["two"] != 2 {
		t.Errorf("unexpected inverted map: %v", inv)
	}
}

func TestMatchAnyPattern(t *testing.T) {
	testCases := []struct {
		name     string
		patterns []string
		input    string
		expected bool
	}{
		{"Empty list matches all", nil, "home", true},
		{"Exact match", []string{"home"}, "home", true},
		{"Glob match", []string{"root-*"}, "root-daily", true},
		{"No match", []string{"home", "var"}, "root", false},
		{"Malformed pattern", []string{"[a-"}, "a", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchAnyPattern(tc.patterns, tc.input); got != tc.expected {
				t.Errorf("MatchAnyPattern(%v, %q) = %v, want %v", tc.patterns, tc.input, got, tc.expected)
			}
		})
	}
}
