package retention

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
)

// maxUnitCount caps a single unit's count. Larger counts only add windows
// narrower than one unit step and would blow up the plan.
const maxUnitCount = 1000

var policyToken = regexp.MustCompile(`(\d+)([hdmy])`)

// Policy is a parsed retention descriptor such as "10h3d2m1y".
type Policy struct {
	Hours  int
	Days   int
	Months int
	Years  int
}

// ParsePolicy extracts the <N>h, <N>d, <N>m and <N>y tokens from descriptor.
// Anything else in the string is ignored. When a unit occurs more than once
// the first occurrence wins. A missing unit counts as zero.
func ParsePolicy(descriptor string) (Policy, error) {
	var p Policy
	seen := make(map[string]bool, 4)

	for _, m := range policyToken.FindAllStringSubmatch(strings.ToLower(descriptor), -1) {
		unit := m[2]
		if seen[unit] {
			continue
		}
		seen[unit] = true

		n, err := strconv.Atoi(m[1])
		if err != nil || n > maxUnitCount {
			return Policy{}, taskerr.NewConfigError("policy", "count %q for unit %q is out of range (max %d)", m[1], unit, maxUnitCount)
		}

		switch unit {
		case "h":
			p.Hours = n
		case "d":
			p.Days = n
		case "m":
			p.Months = n
		case "y":
			p.Years = n
		}
	}
	return p, nil
}

// String renders the policy back into canonical descriptor form.
func (p Policy) String() string {
	var b strings.Builder
	for _, part := range []struct {
		n    int
		unit string
	}{{p.Hours, "h"}, {p.Days, "d"}, {p.Months, "m"}, {p.Years, "y"}} {
		if part.n > 0 {
			fmt.Fprintf(&b, "%d%s", part.n, part.unit)
		}
	}
	if b.Len() == 0 {
		return "0h"
	}
	return b.String()
}
