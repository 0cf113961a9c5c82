package effects

import (
	"time"

	"github.com/rickb777/date/v2/timespan"
)

type TimeSpan = timespan.TimeSpan

func NewTimeSpan(from, to time.Time) TimeSpan {
	return timespan.BetweenTimes(from, to)
}

const epsilon = time.Millisecond

// Now returns a span of ±epsilon around the current instant. Entries recorded
// by concurrent branches are ordered by span start, with ties left unordered.
func Now() TimeSpan {
	now := time.Now()
	return timespan.BetweenTimes(now.Add(-1*epsilon), now.Add(epsilon))
}

// Since returns the span from start until now.
func Since(start time.Time) TimeSpan {
	return timespan.BetweenTimes(start, time.Now())
}

type TimeBounded interface {
	TimeSpan() TimeSpan
}
