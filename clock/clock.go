package clock

import "time"

// Clock abstracts the wall clock so queue ordering and match timestamps can
// be pinned in tests.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}
