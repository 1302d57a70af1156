// Package retention turns a compact policy descriptor into a plan of
// contiguous age windows and decides which snapshots each window keeps.
//
// Windows grow roughly exponentially with age so that recent history is dense
// and old history is sparse. Every plan ends in an unbounded window which
// holds on to the oldest snapshot forever.
package retention

import (
	"fmt"
	"math"
)

// Intervals returns count strictly increasing offsets spaced exponentially
// between 1 and rangeMax. The i-th raw value is round(rangeMax^(i/count));
// values that do not exceed their predecessor are bumped to predecessor+1,
// so the result can overshoot rangeMax when count > rangeMax.
func Intervals(count, rangeMax int) []int {
	if count <= 0 {
		return []int{}
	}
	if rangeMax < 1 {
		rangeMax = 1
	}

	step := math.Log(float64(rangeMax)) / float64(count)
	offsets := make([]int, 0, count)
	prev := 0
	for i := 1; i <= count; i++ {
		v := int(math.Round(math.Exp(float64(i) * step)))
		if v <= prev {
			v = prev + 1
		}
		offsets = append(offsets, v)
		prev = v
	}
	return offsets
}

// IntervalsChecked is Intervals with argument validation.
func IntervalsChecked(count, rangeMax int) ([]int, error) {
	if count < 0 {
		return nil, fmt.Errorf("interval count must not be negative, got %d", count)
	}
	if rangeMax < 1 {
		return nil, fmt.Errorf("interval range must be at least 1, got %d", rangeMax)
	}
	return Intervals(count, rangeMax), nil
}
