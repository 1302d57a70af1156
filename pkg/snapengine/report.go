package snapengine

import (
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/inventory"
	"github.com/paulschiretz/pgl-snap/pkg/reconcile"
	"github.com/paulschiretz/pgl-snap/pkg/report"
)

type sideKey struct {
	side reconcile.Side
	ts   int64
}

// report describes the run before any step is applied: the plan, the
// snapshots found on both sides and the scheduled steps.
func (r *run) report() *report.Task {
	t := r.task
	rep := &report.Task{
		Name:           t.Name,
		Engine:         t.Engine,
		Source:         t.Source,
		Destination:    t.Destination,
		Now:            r.now,
		Policy:         r.plan.Policy,
		SameFilesystem: r.sameFS,
		Status:         report.StatusOK,
	}
	if !r.sameFS {
		rep.Staging = t.StagingDir
	}

	for i, w := range r.plan.Windows {
		rw := report.Window{Index: i, Lower: w.Lower.String(), Unbounded: w.Unbounded}
		if !w.Unbounded {
			rw.Upper = w.Upper.String()
		}
		rep.Windows = append(rep.Windows, rw)
	}

	deleted := make(map[sideKey]bool)
	for _, s := range r.schedule.Steps {
		if s.Op == reconcile.OpDelete {
			deleted[sideKey{s.Side, s.Timestamp.Unix()}] = true
		}
		rep.Steps = append(rep.Steps, report.Step{
			Op:     string(s.Op),
			Side:   string(s.Side),
			Name:   filepath.Base(s.Path),
			Reason: string(s.Reason),
			Refs:   refNames(r.task.SnapshotName, r.src, s.Refs),
		})
	}

	for _, side := range []struct {
		side reconcile.Side
		inv  *inventory.Inventory
	}{{reconcile.Source, r.src}, {reconcile.Destination, r.dst}} {
		for _, e := range side.inv.Entries() {
			window := -1
			if side.side == reconcile.Destination {
				window = r.plan.WindowOf(e.Timestamp)
			}
			rep.Snapshots = append(rep.Snapshots, report.Snapshot{
				Name:      e.Name,
				Side:      string(side.side),
				Timestamp: e.Timestamp,
				ReadOnly:  e.ReadOnly,
				Window:    window,
				Keep:      !deleted[sideKey{side.side, e.Timestamp.Unix()}],
			})
		}
	}
	return rep
}

func refNames(baseName string, src *inventory.Inventory, refs []time.Time) []string {
	if len(refs) == 0 {
		return nil
	}
	names := make([]string, 0, len(refs))
	for _, ts := range refs {
		if e, ok := src.Get(ts); ok {
			names = append(names, e.Name)
		} else {
			names = append(names, inventory.Name(baseName, src.ScopeTag, ts))
		}
	}
	return names
}
