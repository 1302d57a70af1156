package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the sortable timestamp encoded in every snapshot name.
// Changing it orphans all existing snapshots.
const TimestampLayout = "2006-01-02T15-04-05"

// scopeTagLen is the number of hex characters kept from the destination hash.
const scopeTagLen = 8

// ScopeTag fingerprints a destination path so that one source backed up to
// several destinations keeps a separate snapshot series per destination.
func ScopeTag(destination string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(destination)))
	return hex.EncodeToString(sum[:])[:scopeTagLen]
}

// Name returns the snapshot name for (baseName, scopeTag, ts). Timestamps are
// rendered in UTC at second resolution.
func Name(baseName, scopeTag string, ts time.Time) string {
	return fmt.Sprintf("%s.%s.%s", baseName, scopeTag, ts.UTC().Format(TimestampLayout))
}

// Prefix returns the part of a snapshot name shared by the whole series.
func Prefix(baseName, scopeTag string) string {
	return baseName + "." + scopeTag + "."
}

// ParseName extracts the timestamp from a snapshot name. ok is false when the
// name belongs to another series. A name of the series whose timestamp does
// not parse returns ok=true and a non-nil error.
func ParseName(name, baseName, scopeTag string) (ts time.Time, ok bool, err error) {
	rest, found := strings.CutPrefix(name, Prefix(baseName, scopeTag))
	if !found {
		return time.Time{}, false, nil
	}
	ts, err = time.ParseInLocation(TimestampLayout, rest, time.UTC)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("invalid snapshot timestamp in %q: %w", name, err)
	}
	return ts, true, nil
}
