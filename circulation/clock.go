package circulation

import (
	"time"
)

// Clock is the source of current time for every time-dependent decision
// in the circulation core. It is injectable so that tests and the
// notification scheduler can run against a deterministic clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
