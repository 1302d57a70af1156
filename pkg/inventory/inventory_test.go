package inventory

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// fakeLister serves directory listings and read-only flags from maps.
type fakeLister struct {
	dirs     map[string][]string
	writable map[string]bool
	roErr    error
}

func (f *fakeLister) ListDir(ctx context.Context, dir string) ([]string, error) {
	names, ok := f.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, fs.ErrNotExist)
	}
	return names, nil
}

func (f *fakeLister) IsReadOnly(ctx context.Context, path string) (bool, error) {
	if f.roErr != nil {
		return false, f.roErr
	}
	return !f.writable[path], nil
}

func TestNameRoundTrip(t *testing.T) {
	tag := ScopeTag("/mnt/backup/home")
	ts := time.Date(2024, 2, 29, 23, 59, 58, 123456789, time.FixedZone("CET", 3600))

	name := Name("home", tag, ts)
	if !strings.HasPrefix(name, "home."+tag+".2024-02-29T22-59-58") {
		t.Fatalf("unexpected name %q", name)
	}

	parsed, ok, err := ParseName(name, "home", tag)
	if err != nil || !ok {
		t.Fatalf("ParseName(%q) failed: ok=%v err=%v", name, ok, err)
	}
	if !parsed.Equal(ts.Truncate(time.Second)) {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, ts.Truncate(time.Second))
	}
	if parsed.Location() != time.UTC {
		t.Errorf("parsed timestamp must be UTC, got %s", parsed.Location())
	}
}

func TestScopeTag(t *testing.T) {
	a := ScopeTag("/mnt/backup/home")
	if len(a) != 8 {
		t.Errorf("expected 8 hex characters, got %q", a)
	}
	if a != ScopeTag("/mnt/backup/home/") || a != ScopeTag("/mnt/backup/./home") {
		t.Error("scope tag must not depend on path spelling")
	}
	if a == ScopeTag("/mnt/offsite/home") {
		t.Error("different destinations must get different scope tags")
	}
}

func TestParseName(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expectOK  bool
		expectErr bool
	}{
		{"Valid", "root.deadbeef.2024-01-02T03-04-05", true, false},
		{"Other base", "home.deadbeef.2024-01-02T03-04-05", false, false},
		{"Other tag", "root.cafebabe.2024-01-02T03-04-05", false, false},
		{"Bad timestamp", "root.deadbeef.2024-13-02T03-04-05", true, true},
		{"Truncated timestamp", "root.deadbeef.2024-01-02", true, true},
		{"Unrelated", "lost+found", false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := ParseName(tc.input, "root", "deadbeef")
			if ok != tc.expectOK {
				t.Errorf("expected ok=%v, got %v", tc.expectOK, ok)
			}
			if (err != nil) != tc.expectErr {
				t.Errorf("expected error=%v, got %v", tc.expectErr, err)
			}
		})
	}
}

func TestScan(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	loc := "/mnt/backup"
	lister := &fakeLister{
		dirs: map[string][]string{
			loc: {
				"root.deadbeef.2024-01-02T00-00-00",
				"root.deadbeef.2024-01-01T00-00-00",
				"root.deadbeef.garbage",
				"root.cafebabe.2024-01-01T00-00-00",
				"home.deadbeef.2024-01-01T00-00-00",
			},
		},
		writable: map[string]bool{
			filepath.Join(loc, "root.deadbeef.2024-01-02T00-00-00"): true,
		},
	}

	inv, err := Scan(context.Background(), lister, loc, "root", "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", inv.Len())
	}
	entries := inv.Entries()
	if !entries[0].Timestamp.Before(entries[1].Timestamp) {
		t.Error("entries must be sorted oldest first")
	}
	if !entries[0].ReadOnly || entries[1].ReadOnly {
		t.Errorf("unexpected read-only flags: %+v", entries)
	}
	if w := inv.Writable(); len(w) != 1 || w[0].Name != "root.deadbeef.2024-01-02T00-00-00" {
		t.Errorf("unexpected writable entries: %+v", w)
	}
	if !strings.Contains(logBuf.String(), "root.deadbeef.garbage") {
		t.Errorf("expected a warning about the unparsable name, got: %s", logBuf.String())
	}
}

func TestScan_MissingLocation(t *testing.T) {
	inv, err := Scan(context.Background(), &fakeLister{}, "/nowhere", "root", "deadbeef")
	if err != nil {
		t.Fatalf("missing location must not be an error, got %v", err)
	}
	if inv.Len() != 0 {
		t.Errorf("expected empty inventory, got %d entries", inv.Len())
	}
}

func TestScan_ReadOnlyQueryFails(t *testing.T) {
	lister := &fakeLister{
		dirs:  map[string][]string{"/src": {"root.deadbeef.2024-01-01T00-00-00"}},
		roErr: fmt.Errorf("btrfs: permission denied"),
	}
	if _, err := Scan(context.Background(), lister, "/src", "root", "deadbeef"); err == nil {
		t.Error("expected the read-only query error to propagate")
	}
}

func TestSetOperations(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	src := New("/src", "root", "deadbeef")
	dst := New("/dst", "root", "deadbeef")
	for _, ts := range []time.Time{t2, t0, t1} {
		src.Put(ts)
	}
	dst.Put(t1)

	if got := src.Difference(dst); !slices.EqualFunc(got, []time.Time{t0, t2}, time.Time.Equal) {
		t.Errorf("unexpected difference: %v", got)
	}
	if got := src.Intersection(dst); !slices.EqualFunc(got, []time.Time{t1}, time.Time.Equal) {
		t.Errorf("unexpected intersection: %v", got)
	}

	latest, ok := src.Latest()
	if !ok || !latest.Timestamp.Equal(t2) {
		t.Errorf("expected latest %s, got %+v", t2, latest)
	}

	clone := src.Clone()
	clone.Remove(t2)
	if !src.Has(t2) {
		t.Error("removing from a clone must not affect the original")
	}
	if e, _ := src.Get(t0); e.Path != filepath.Join("/src", Name("root", "deadbeef", t0)) {
		t.Errorf("unexpected path %q", e.Path)
	}
}
