// Package snapengine is the btrfs snapshot task engine.
//
// A create run works through a fixed sequence: validate the task, determine
// whether source and destination share a filesystem, scan both snapshot
// series, schedule stale cleanup, creation, transfers and reference pruning,
// select retention deletions from the resulting destination series and apply
// every step in order. The first failing step aborts the run; the next run's
// stale cleanup heals whatever it left behind.
package snapengine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/btrfs"
	"github.com/paulschiretz/pgl-snap/pkg/engine"
	"github.com/paulschiretz/pgl-snap/pkg/hints"
	"github.com/paulschiretz/pgl-snap/pkg/inventory"
	"github.com/paulschiretz/pgl-snap/pkg/metrics"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/preflight"
	"github.com/paulschiretz/pgl-snap/pkg/reconcile"
	"github.com/paulschiretz/pgl-snap/pkg/report"
	"github.com/paulschiretz/pgl-snap/pkg/retention"
	"github.com/paulschiretz/pgl-snap/pkg/retry"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

// ID is the registry identifier of this engine.
const ID = "btrfs-snapshot"

// ErrUnsupported is returned by Adjust.
var ErrUnsupported = hints.New("adjust is not supported by the snapshot engine")

// progressInterval is a var to allow modification during testing.
var progressInterval = 30 * time.Second

// Filesystem is the set of primitives the engine drives.
type Filesystem interface {
	inventory.Lister
	btrfs.InstanceQuerier
	IsSubvolume(ctx context.Context, path string) (bool, error)
	MkdirAll(ctx context.Context, dir string) error
	Snapshot(ctx context.Context, source, target string) error
	Transfer(ctx context.Context, snapshot string, refs []string, destDir string) error
	Delete(ctx context.Context, path string) error
}

// Engine implements engine.TaskEngine for btrfs snapshots.
type Engine struct {
	fs       Filesystem
	identity retry.Policy
	// now is replaced in tests.
	now func() time.Time
}

// New creates an Engine. identity bounds the retries of the filesystem
// identifier query.
func New(fs Filesystem, identity retry.Policy) *Engine {
	return &Engine{fs: fs, identity: identity, now: time.Now}
}

var _ engine.TaskEngine = (*Engine)(nil)

// run is the state of one task execution.
type run struct {
	task     *engine.Task
	now      time.Time
	plan     *retention.Plan
	sameFS   bool
	src      *inventory.Inventory
	dst      *inventory.Inventory
	schedule *reconcile.Schedule
}

// Create brings the destination up to date and prunes it. In dry-run mode it
// behaves like Inspect.
func (e *Engine) Create(ctx context.Context, t *engine.Task, opts engine.Options) (*report.Task, error) {
	if opts.DryRun {
		plog.Info("[DRY RUN] Planning snapshot task", "task", t.Name)
		return e.Inspect(ctx, t, opts)
	}

	r, err := e.prepare(ctx, t)
	if err != nil {
		return nil, err
	}
	rep := r.report()

	var m metrics.Metrics = &metrics.NoopMetrics{}
	if opts.Metrics {
		m = &metrics.SnapshotMetrics{}
		m.StartProgress("Snapshot progress", progressInterval)
	}
	err = e.apply(ctx, r, rep, m)
	m.StopProgress()
	rep.Stats = m.Stats()
	if opts.Metrics {
		m.LogSummary("Snapshot summary", "task", t.Name)
	}
	return rep, err
}

// Inspect computes what Create would do without changing anything.
func (e *Engine) Inspect(ctx context.Context, t *engine.Task, opts engine.Options) (*report.Task, error) {
	r, err := e.prepare(ctx, t)
	if err != nil {
		return nil, err
	}
	for _, s := range r.schedule.Steps {
		plog.Info("Planned step", "task", t.Name, "step", s.String())
	}
	return r.report(), nil
}

// Adjust is not part of the snapshot engine.
func (e *Engine) Adjust(ctx context.Context, t *engine.Task, opts engine.Options) (*report.Task, error) {
	return nil, ErrUnsupported
}

// prepare validates the task and computes the complete schedule. It never
// mutates the filesystem.
func (e *Engine) prepare(ctx context.Context, t *engine.Task) (*run, error) {
	r := &run{task: t, now: e.now().UTC().Truncate(time.Second)}

	policy, err := retention.ParsePolicy(t.Policy)
	if err != nil {
		return nil, err
	}
	if r.plan, err = retention.BuildPlan(policy, r.now); err != nil {
		return nil, err
	}

	pre := &preflight.Plan{SourceAccessible: true, DestinationAccessible: true, DestinationMounted: t.RequireMount}
	if err := preflight.Run(pre, t.Source, t.Destination); err != nil {
		return nil, &taskerr.ConfigError{Field: "task " + t.Name, Err: err}
	}
	isSubvol, err := e.fs.IsSubvolume(ctx, t.Source)
	if err != nil {
		return nil, &taskerr.ConfigError{Field: "source", Err: err}
	}
	if !isSubvol {
		return nil, taskerr.NewConfigError("source", "%s is not a btrfs subvolume", t.Source)
	}

	srcID, err := btrfs.ResolveInstanceID(ctx, e.fs, t.Source, e.identity)
	if err != nil {
		return nil, err
	}
	dstID, err := btrfs.ResolveInstanceID(ctx, e.fs, t.Destination, e.identity)
	if err != nil {
		return nil, err
	}
	r.sameFS = srcID == dstID
	if !r.sameFS && filepath.Clean(t.StagingDir) == filepath.Clean(t.Destination) {
		// A snapshot cannot be taken across filesystems, and transferring
		// into the directory it came from would collide with itself.
		return nil, taskerr.NewConfigError("stagingDir", "%s is the destination but lives on a different filesystem than %s", t.StagingDir, t.Source)
	}

	tag := inventory.ScopeTag(t.Destination)
	if r.sameFS {
		// Snapshots are taken directly at the destination.
		r.src = inventory.New(t.StagingDir, t.SnapshotName, tag)
	} else if r.src, err = inventory.Scan(ctx, e.fs, t.StagingDir, t.SnapshotName, tag); err != nil {
		return nil, fmt.Errorf("failed to scan staging directory: %w", err)
	}
	if r.dst, err = inventory.Scan(ctx, e.fs, t.Destination, t.SnapshotName, tag); err != nil {
		return nil, fmt.Errorf("failed to scan destination: %w", err)
	}

	r.schedule = reconcile.Reconcile(r.src, r.dst, r.now, r.sameFS)
	sel := retention.SelectDeletions(r.plan, r.schedule.Destination.Timestamps(), r.sameFS)
	r.schedule.AddRetention(sel.Delete)

	plog.Info("Task plan",
		"task", t.Name,
		"now", r.now.Format(inventory.TimestampLayout),
		"policy", r.plan.Policy,
		"windows", len(r.plan.Windows),
		"same_filesystem", r.sameFS,
		"source_snapshots", r.src.Len(),
		"destination_snapshots", r.dst.Len(),
		"steps", len(r.schedule.Steps),
	)
	return r, nil
}

// apply executes the schedule in order and stops at the first failure.
func (e *Engine) apply(ctx context.Context, r *run, rep *report.Task, m metrics.Metrics) error {
	for i, s := range r.schedule.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.applyStep(ctx, r.task, s, m)
		if err != nil {
			m.AddFailed(1)
			rep.Steps[i].Error = err.Error()
			return err
		}
		rep.Steps[i].Done = true
	}
	return nil
}

func (e *Engine) applyStep(ctx context.Context, t *engine.Task, s reconcile.Step, m metrics.Metrics) error {
	switch s.Op {
	case reconcile.OpDelete:
		plog.Notice("Deleting snapshot", "task", t.Name, "side", s.Side, "path", s.Path, "reason", s.Reason)
		if err := e.fs.Delete(ctx, s.Path); err != nil {
			return &taskerr.DeleteError{Path: s.Path, Err: err}
		}
		if s.Reason == reconcile.ReasonStale {
			m.AddStaleRemoved(1)
		} else {
			m.AddDeleted(1)
		}

	case reconcile.OpCreate:
		if err := e.fs.MkdirAll(ctx, filepath.Dir(s.Path)); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		if err := e.fs.Snapshot(ctx, t.Source, s.Path); err != nil {
			return fmt.Errorf("failed to create snapshot %s: %w", s.Path, err)
		}
		m.AddCreated(1)

	case reconcile.OpTransfer:
		if err := e.fs.MkdirAll(ctx, t.Destination); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
		if err := e.fs.Transfer(ctx, s.Path, s.RefPaths, t.Destination); err != nil {
			return &taskerr.TransferError{Snapshot: filepath.Base(s.Path), Err: err}
		}
		m.AddTransferred(1)

	default:
		return fmt.Errorf("unknown step %q", s.Op)
	}
	return nil
}
