package pipeline

import (
	"slices"
	"time"
)

// AnyMinute makes a PushGate accept every minute of an allowed hour.
const AnyMinute = -1

// PushGate decides from a run's start time whether the run may push the channel digest.
type PushGate struct {
	Hours    []int
	Minute   int
	Location *time.Location
}

// Matches reports whether t, seen in the gate's location, falls on an allowed hour and minute.
func (g PushGate) Matches(t time.Time) bool {
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if !slices.Contains(g.Hours, local.Hour()) {
		return false
	}
	return g.Minute == AnyMinute || local.Minute() == g.Minute
}
