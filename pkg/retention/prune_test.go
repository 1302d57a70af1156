package retention

import (
	"slices"
	"testing"
	"time"
)

func ago(d time.Duration) time.Time { return testNow.Add(-d) }

func TestSelectDeletions(t *testing.T) {
	testCases := []struct {
		name       string
		descriptor string
		sameFS     bool
		timestamps []time.Time
		deleted    []time.Time
	}{
		{
			name:       "Empty inventory",
			descriptor: "3h",
			sameFS:     true,
		},
		{
			name:       "Snapshot created now is never pruned",
			descriptor: "0h",
			sameFS:     true,
			timestamps: []time.Time{testNow, ago(time.Hour)},
		},
		{
			name:       "Keep newest within a window on the same filesystem",
			descriptor: "2d",
			sameFS:     true,
			timestamps: []time.Time{testNow, ago(day), ago(day - time.Minute)},
			deleted:    []time.Time{ago(day)},
		},
		{
			name:       "Keep oldest in the first window across filesystems",
			descriptor: "2d",
			sameFS:     false,
			timestamps: []time.Time{ago(day), ago(day - time.Minute)},
			deleted:    []time.Time{ago(day - time.Minute)},
		},
		{
			name:       "Sentinel keeps the oldest",
			descriptor: "1y",
			sameFS:     true,
			timestamps: []time.Time{ago(400 * day), ago(500 * day), ago(600 * day)},
			deleted:    []time.Time{ago(400 * day), ago(500 * day)},
		},
		{
			name:       "One survivor per window",
			descriptor: "3h",
			sameFS:     true,
			timestamps: []time.Time{
				ago(30 * time.Minute), ago(2 * time.Hour), // window 0
				ago(4 * time.Hour), ago(5 * time.Hour), // window 1
				ago(10 * time.Hour),                   // window 2
				ago(48 * time.Hour), ago(72 * time.Hour), // sentinel
			},
			deleted: []time.Time{ago(2 * time.Hour), ago(5 * time.Hour), ago(48 * time.Hour)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			plan := mustPlan(t, tc.descriptor)
			sel := SelectDeletions(plan, tc.timestamps, tc.sameFS)

			if !slices.EqualFunc(sel.Delete, tc.deleted, time.Time.Equal) {
				t.Errorf("expected deletions %v, got %v", tc.deleted, sel.Delete)
			}
			if len(sel.Keep)+len(sel.Delete) != len(tc.timestamps) {
				t.Errorf("every timestamp must be either kept or deleted: keep=%v delete=%v", sel.Keep, sel.Delete)
			}
		})
	}
}

func TestSelectDeletions_SingleWindowAcrossRuns(t *testing.T) {
	// Only the sentinel window exists. Each run adds a snapshot at its own
	// instant; the first one must survive every later run.
	p, _ := ParsePolicy("0h")
	first := testNow
	inventory := []time.Time{first}

	for run := 1; run <= 5; run++ {
		now := first.Add(time.Duration(run) * 7 * day)
		plan, err := BuildPlan(p, now)
		if err != nil {
			t.Fatal(err)
		}
		inventory = append(inventory, now)
		for _, sameFS := range []bool{true, false} {
			sel := SelectDeletions(plan, inventory, sameFS)
			if slices.ContainsFunc(sel.Delete, first.Equal) {
				t.Fatalf("run %d (sameFS=%v): the first snapshot was pruned", run, sameFS)
			}
		}
		inventory = SelectDeletions(plan, inventory, true).Keep
	}

	if len(inventory) != 2 {
		t.Errorf("expected oldest and latest snapshot to remain, got %v", inventory)
	}
}

func TestSelectDeletions_Idempotent(t *testing.T) {
	plan := mustPlan(t, "10h3d2m1y")
	var timestamps []time.Time
	for i := 0; i < 200; i++ {
		timestamps = append(timestamps, ago(time.Duration(i)*7*time.Hour))
	}

	first := SelectDeletions(plan, timestamps, true)
	second := SelectDeletions(plan, first.Keep, true)
	if len(second.Delete) != 0 {
		t.Errorf("pruning the survivors again must delete nothing, got %v", second.Delete)
	}
	for i := range plan.Windows {
		count := 0
		for _, ts := range first.Keep {
			if plan.WindowOf(ts) == i {
				count++
			}
		}
		if count > 1 {
			t.Errorf("window %d keeps %d snapshots", i, count)
		}
	}
}
