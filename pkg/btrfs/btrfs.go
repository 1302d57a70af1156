// Package btrfs drives the btrfs command line tools and answers the
// filesystem questions the snapshot engine asks.
package btrfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/paulschiretz/pgl-snap/pkg/command"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/retry"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
	"github.com/paulschiretz/pgl-snap/pkg/util"
)

// Default tool names, resolved through PATH.
const (
	DefaultBinary  = "btrfs"
	DefaultFindmnt = "findmnt"
)

// ErrNotBtrfs is returned on platforms without btrfs support.
var ErrNotBtrfs = errors.New("btrfs is only supported on linux")

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// errMalformedID marks an instance identifier query that returned no usable
// value. The query is known to return empty output now and then.
var errMalformedID = errors.New("malformed filesystem identifier")

// Btrfs implements the snapshot primitives on top of the btrfs tools.
type Btrfs struct {
	runner  *command.Runner
	binary  string
	findmnt string
}

// New creates a Btrfs using the given runner and tool paths. Empty tool
// paths fall back to the defaults.
func New(runner *command.Runner, binary, findmnt string) *Btrfs {
	if binary == "" {
		binary = DefaultBinary
	}
	if findmnt == "" {
		findmnt = DefaultFindmnt
	}
	return &Btrfs{runner: runner, binary: binary, findmnt: findmnt}
}

// ListDir returns the names of the entries in dir.
func (b *Btrfs) ListDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// MkdirAll creates dir and its parents.
func (b *Btrfs) MkdirAll(ctx context.Context, dir string) error {
	return os.MkdirAll(dir, util.UserWritableDirPerms)
}

// IsReadOnly reports the ro property of a subvolume.
func (b *Btrfs) IsReadOnly(ctx context.Context, path string) (bool, error) {
	out, err := b.runner.Output(ctx, b.binary, "property", "get", "-ts", path, "ro")
	if err != nil {
		return false, err
	}
	return parseReadOnly(string(out))
}

func parseReadOnly(out string) (bool, error) {
	switch strings.TrimSpace(out) {
	case "ro=true":
		return true, nil
	case "ro=false":
		return false, nil
	}
	return false, fmt.Errorf("unexpected ro property output %q", strings.TrimSpace(out))
}

// InstanceID returns the UUID of the filesystem holding path. A path that
// does not exist yet is answered for its deepest existing ancestor. The value
// can be empty; use ResolveInstanceID for a validated result.
func (b *Btrfs) InstanceID(ctx context.Context, path string) (string, error) {
	target := filepath.Clean(path)
	for {
		if _, err := os.Stat(target); err == nil || filepath.Dir(target) == target {
			break
		}
		target = filepath.Dir(target)
	}
	out, err := b.runner.Output(ctx, b.findmnt, "-n", "-o", "UUID", "--target", target)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Snapshot creates a read-only snapshot of source at target.
func (b *Btrfs) Snapshot(ctx context.Context, source, target string) error {
	plog.Notice("Creating snapshot", "source", source, "target", target)
	return b.runner.Run(ctx, b.binary, "subvolume", "snapshot", "-r", source, target)
}

// Transfer sends snapshot into destDir. Each reference is passed as a clone
// source so unchanged extents are shared instead of copied.
func (b *Btrfs) Transfer(ctx context.Context, snapshot string, refs []string, destDir string) error {
	args := []string{"send", "-q"}
	for _, ref := range refs {
		args = append(args, "-c", ref)
	}
	args = append(args, snapshot)

	plog.Notice("Transferring snapshot", "snapshot", snapshot, "destination", destDir, "references", len(refs))
	return b.runner.Pipe(ctx,
		command.Spec{Name: b.binary, Args: args},
		command.Spec{Name: b.binary, Args: []string{"receive", destDir}},
	)
}

// Delete removes a snapshot. A snapshot that is already gone counts as deleted.
func (b *Btrfs) Delete(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		plog.Debug("Snapshot already gone", "path", path)
		return nil
	}
	plog.Notice("Deleting snapshot", "path", path)
	return b.runner.Run(ctx, b.binary, "subvolume", "delete", path)
}

// InstanceQuerier returns the filesystem instance identifier for a path.
type InstanceQuerier interface {
	InstanceID(ctx context.Context, path string) (string, error)
}

// ResolveInstanceID queries the instance identifier until it is a well-formed
// UUID. When the attempts are used up it returns a ToolUnavailableError.
func ResolveInstanceID(ctx context.Context, q InstanceQuerier, path string, p retry.Policy) (string, error) {
	var id string
	err := retry.Do(ctx, "filesystem identifier query", p, func(ctx context.Context) error {
		v, err := q.InstanceID(ctx, path)
		if err != nil {
			return err
		}
		if !uuidPattern.MatchString(v) {
			return fmt.Errorf("%w for %s: %q", errMalformedID, path, v)
		}
		id = strings.ToLower(v)
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return "", &taskerr.ToolUnavailableError{Tool: "findmnt", Attempts: max(p.Attempts, 1), Err: err}
		}
		return "", err
	}
	return id, nil
}
