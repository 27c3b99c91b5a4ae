package service

import (
	"math"
	"time"

	"reminder-engine/internal/model"
)

// TimeTolerance is how far from the configured minute a tick may land and
// still fire. The scheduler must tick at least this often.
const TimeTolerance = time.Minute

// MatchTime reports whether a time-of-day schedule fires at now. The
// candidate instant is now's calendar date in loc at the configured time.
func MatchTime(s model.TimeSchedule, now time.Time, loc *time.Location) bool {
	if !s.At.Valid() {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if !s.Days.Has(local.Weekday()) {
		return false
	}
	year, month, day := local.Date()
	candidate := time.Date(year, month, day, s.At.Hour, s.At.Minute, 0, 0, loc)

	diff := now.Sub(candidate)
	if diff < 0 {
		diff = -diff
	}
	return diff < TimeTolerance
}

// IntervalMatch is the outcome of MatchInterval. Window counts how many full
// intervals have elapsed since the last activity and is only set when
// ShouldSend is true.
type IntervalMatch struct {
	ShouldSend bool
	Window     int64
}

// MatchInterval reports whether at least one full interval has passed since
// last, the end of the most recent matching activity.
func MatchInterval(s model.IntervalSchedule, now, last time.Time) IntervalMatch {
	if s.Minutes <= 0 || last.IsZero() {
		return IntervalMatch{}
	}
	elapsed := now.Sub(last).Minutes()
	interval := float64(s.Minutes)
	if elapsed < interval {
		return IntervalMatch{}
	}
	return IntervalMatch{ShouldSend: true, Window: int64(math.Floor(elapsed / interval))}
}
