package retention

import (
	"slices"
	"time"
)

// Selection is the outcome of applying a plan to a set of snapshot timestamps.
type Selection struct {
	Keep   []time.Time
	Delete []time.Time
}

// keepOldest reports whether window i of n keeps its oldest member. The
// sentinel window preserves the earliest history. On a cross-filesystem task
// the newest window preserves the snapshot that the source side still holds
// as its transfer reference.
func keepOldest(i, n int, sameFS bool) bool {
	return i == n-1 || (i == 0 && !sameFS)
}

// SelectDeletions groups timestamps by the plan's windows and keeps a single
// snapshot per window. Timestamps that fall into no window (not older than
// plan.Now) are always kept. Both result lists are sorted newest first.
func SelectDeletions(plan *Plan, timestamps []time.Time, sameFS bool) Selection {
	remaining := slices.Clone(timestamps)
	slices.SortFunc(remaining, func(a, b time.Time) int { return b.Compare(a) })

	var sel Selection
	for _, ts := range remaining {
		if plan.WindowOf(ts) < 0 {
			sel.Keep = append(sel.Keep, ts)
		}
	}

	n := len(plan.Windows)
	for i, w := range plan.Windows {
		var group []time.Time
		for _, ts := range remaining {
			if w.Contains(plan.Now.Sub(ts)) {
				group = append(group, ts)
			}
		}
		sel = selectInWindow(sel, group, keepOldest(i, n, sameFS))
	}

	slices.SortFunc(sel.Keep, func(a, b time.Time) int { return b.Compare(a) })
	return sel
}

// selectInWindow folds one window's group (sorted newest first) into acc.
func selectInWindow(acc Selection, group []time.Time, oldest bool) Selection {
	if len(group) == 0 {
		return acc
	}
	keep := 0
	if oldest {
		keep = len(group) - 1
	}
	for i, ts := range group {
		if i == keep {
			acc.Keep = append(acc.Keep, ts)
		} else {
			acc.Delete = append(acc.Delete, ts)
		}
	}
	return acc
}
