package watch

import "time"

// Clock supplies the current time. Readings from the system clock carry a monotonic
// component, so debounce arithmetic is immune to wall-clock jumps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
