// Package inventory lists the snapshots of one series at one location.
//
// A series is identified by (location, baseName, scopeTag). The filesystem is
// the only state: every scan rebuilds the inventory from directory entries.
package inventory

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// Lister is the part of the storage layer a scan needs.
type Lister interface {
	// ListDir returns the entry names of dir. A missing dir yields an error
	// matching fs.ErrNotExist.
	ListDir(ctx context.Context, dir string) ([]string, error)
	// IsReadOnly reports whether the snapshot at path is read-only.
	IsReadOnly(ctx context.Context, path string) (bool, error)
}

// Entry is one snapshot found during a scan.
type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	ReadOnly  bool      `json:"readOnly"`
}

// Inventory holds at most one entry per timestamp.
type Inventory struct {
	Location string
	BaseName string
	ScopeTag string

	entries map[int64]Entry
}

// New returns an empty inventory for a series.
func New(location, baseName, scopeTag string) *Inventory {
	return &Inventory{
		Location: location,
		BaseName: baseName,
		ScopeTag: scopeTag,
		entries:  make(map[int64]Entry),
	}
}

func key(ts time.Time) int64 { return ts.Unix() }

// Scan reads location and collects all snapshots of the series. Names of the
// series with an unparsable timestamp are logged and skipped.
func Scan(ctx context.Context, l Lister, location, baseName, scopeTag string) (*Inventory, error) {
	inv := New(location, baseName, scopeTag)

	names, err := l.ListDir(ctx, location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			plog.Debug("Snapshot location does not exist yet", "location", location)
			return inv, nil
		}
		return nil, err
	}

	for _, name := range names {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ts, ok, err := ParseName(name, baseName, scopeTag)
		if !ok {
			continue
		}
		if err != nil {
			plog.Warn("Skipping snapshot with unparsable name", "location", location, "name", name, "error", err)
			continue
		}

		path := filepath.Join(location, name)
		readOnly, err := l.IsReadOnly(ctx, path)
		if err != nil {
			return nil, err
		}
		inv.Add(Entry{Name: name, Path: path, Timestamp: ts, ReadOnly: readOnly})
	}
	return inv, nil
}

// Add records an entry, replacing any entry with the same timestamp.
func (inv *Inventory) Add(e Entry) {
	inv.entries[key(e.Timestamp)] = e
}

// Put records a read-only snapshot at ts under its canonical name.
func (inv *Inventory) Put(ts time.Time) Entry {
	name := Name(inv.BaseName, inv.ScopeTag, ts)
	e := Entry{Name: name, Path: filepath.Join(inv.Location, name), Timestamp: ts.UTC(), ReadOnly: true}
	inv.Add(e)
	return e
}

// Remove drops the entry at ts, if any.
func (inv *Inventory) Remove(ts time.Time) {
	delete(inv.entries, key(ts))
}

// Get returns the entry at ts.
func (inv *Inventory) Get(ts time.Time) (Entry, bool) {
	e, ok := inv.entries[key(ts)]
	return e, ok
}

// Has reports whether a snapshot exists at ts.
func (inv *Inventory) Has(ts time.Time) bool {
	_, ok := inv.entries[key(ts)]
	return ok
}

// Len returns the number of entries.
func (inv *Inventory) Len() int { return len(inv.entries) }

// Entries returns all entries, oldest first.
func (inv *Inventory) Entries() []Entry {
	out := slices.Collect(maps.Values(inv.entries))
	slices.SortFunc(out, func(a, b Entry) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

// Timestamps returns all timestamps, oldest first.
func (inv *Inventory) Timestamps() []time.Time {
	entries := inv.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Timestamp
	}
	return out
}

// Latest returns the newest entry.
func (inv *Inventory) Latest() (Entry, bool) {
	entries := inv.Entries()
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// Writable returns the entries that are not read-only, oldest first.
func (inv *Inventory) Writable() []Entry {
	var out []Entry
	for _, e := range inv.Entries() {
		if !e.ReadOnly {
			out = append(out, e)
		}
	}
	return out
}

// Difference returns the timestamps present in inv but not in other, oldest first.
func (inv *Inventory) Difference(other *Inventory) []time.Time {
	var out []time.Time
	for _, ts := range inv.Timestamps() {
		if !other.Has(ts) {
			out = append(out, ts)
		}
	}
	return out
}

// Intersection returns the timestamps present in both inventories, oldest first.
func (inv *Inventory) Intersection(other *Inventory) []time.Time {
	var out []time.Time
	for _, ts := range inv.Timestamps() {
		if other.Has(ts) {
			out = append(out, ts)
		}
	}
	return out
}

// Clone returns an independent copy.
func (inv *Inventory) Clone() *Inventory {
	c := New(inv.Location, inv.BaseName, inv.ScopeTag)
	maps.Copy(c.entries, inv.entries)
	return c
}
