// Package corealgo holds the pure, side-effect-free SCXML helpers shared by
// the interpreter (internal/microstep) and the AOT runtime (aotrt): delay
// string parsing, exit/enter set computation, LCCA, and event-name matching.
// Keeping these as plain functions over *model.StateNode is what lets both
// engines produce identical behavior without duplicating the algorithm, the
// same "single source of truth" role SendSchedulingHelper plays for the
// engine this system was modeled on.
package corealgo

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var delayPattern = regexp.MustCompile(`^(\d*\.?\d+)\s*(ms|s|sec|seconds?|min|minutes?|h|hours?)?$`)

// ParseDelay parses a W3C SCXML <send> delay string ("5s", "100ms", "2min",
// ".5s", "0.5s", a bare number meaning seconds) into a duration. An empty,
// malformed, or unrecognized-unit string yields a zero delay, matching the
// reference engine's parseDelayString rather than returning an error: a
// delay is advisory scheduling information, not something worth failing a
// <send> over.
func ParseDelay(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	m := delayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := m[2]
	switch {
	case unit == "" || unit == "s" || strings.HasPrefix(unit, "sec"):
		return time.Duration(value * float64(time.Second))
	case unit == "ms":
		return time.Duration(value * float64(time.Millisecond))
	case strings.HasPrefix(unit, "min"):
		return time.Duration(value * float64(time.Minute))
	case unit == "h" || strings.HasPrefix(unit, "hour"):
		return time.Duration(value * float64(time.Hour))
	default:
		return 0
	}
}
