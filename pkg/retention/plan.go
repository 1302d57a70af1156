package retention

import (
	"math"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

// Sentinel is the upper bound of the last window: the largest representable
// duration minus one minute.
const Sentinel = time.Duration(math.MaxInt64) - time.Minute

const day = 24 * time.Hour

// unit describes how the raw offsets of one descriptor unit become durations.
// rank orders the bands: all hour windows must be younger than all day
// windows and so on.
type unit struct {
	name     string
	rank     int
	rangeMax int
	toDur    func(k int) time.Duration
}

var units = []unit{
	{"h", 0, 24, func(k int) time.Duration {
		// Slightly short of the full hour so that an hourly trigger lands
		// inside the window instead of on its edge.
		return time.Duration(60*k-1)*time.Minute + 55*time.Second
	}},
	{"d", 1, 30, func(k int) time.Duration { return time.Duration(k) * day }},
	{"m", 2, 12, func(k int) time.Duration { return time.Duration(k) * 30 * day }},
	{"y", 3, 1, func(k int) time.Duration { return time.Duration(k) * 365 * day }},
}

func (p Policy) count(name string) int {
	switch name {
	case "h":
		return p.Hours
	case "d":
		return p.Days
	case "m":
		return p.Months
	case "y":
		return p.Years
	}
	return 0
}

// Window is the age range (Lower, Upper] a snapshot must fall into to be
// grouped with the others of the same window.
type Window struct {
	Lower     time.Duration `json:"lower"`
	Upper     time.Duration `json:"upper"`
	Unbounded bool          `json:"unbounded"`
}

// Contains reports whether a snapshot of the given age belongs to the window.
func (w Window) Contains(age time.Duration) bool {
	return age > w.Lower && (w.Unbounded || age <= w.Upper)
}

// Plan is an ordered list of windows, newest first, built for one instant.
type Plan struct {
	Now     time.Time `json:"now"`
	Policy  string    `json:"policy"`
	Windows []Window  `json:"windows"`
}

type bandDuration struct {
	d    time.Duration
	rank int
	unit string
}

// BuildPlan expands p into contiguous windows relative to now.
//
// The per-unit durations are merged by sorting and the result is checked: it
// must be strictly increasing and must not interleave units. A policy that
// violates either rule yields a ConfigError. The final window is always the
// unbounded sentinel.
func BuildPlan(p Policy, now time.Time) (*Plan, error) {
	var merged []bandDuration
	for _, u := range units {
		for _, k := range Intervals(p.count(u.name), u.rangeMax) {
			merged = append(merged, bandDuration{d: u.toDur(k), rank: u.rank, unit: u.name})
		}
	}

	slices.SortStableFunc(merged, func(a, b bandDuration) int {
		switch {
		case a.d < b.d:
			return -1
		case a.d > b.d:
			return 1
		}
		return a.rank - b.rank
	})

	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1], merged[i]
		if cur.d == prev.d {
			return nil, taskerr.NewConfigError("policy", "%s window %s duplicates %s window", cur.unit, cur.d, prev.unit)
		}
		if cur.rank < prev.rank {
			return nil, taskerr.NewConfigError("policy", "%s window %s is younger than %s window %s", cur.unit, cur.d, prev.unit, prev.d)
		}
	}

	plan := &Plan{
		Now:     now,
		Policy:  p.String(),
		Windows: make([]Window, 0, len(merged)+1),
	}
	var lower time.Duration
	for _, bd := range merged {
		plan.Windows = append(plan.Windows, Window{Lower: lower, Upper: bd.d})
		lower = bd.d
	}
	plan.Windows = append(plan.Windows, Window{Lower: lower, Upper: Sentinel, Unbounded: true})
	return plan, nil
}

// WindowOf returns the index of the window a snapshot taken at ts falls into,
// or -1 when it is not older than Now.
func (p *Plan) WindowOf(ts time.Time) int {
	age := p.Now.Sub(ts)
	for i, w := range p.Windows {
		if w.Contains(age) {
			return i
		}
	}
	return -1
}
