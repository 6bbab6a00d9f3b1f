package generation

import (
	"context"
	"time"
)

// Throttle paces generation steps. It only affects how fast fragments reach a
// console; output is the same with or without it.
type Throttle interface {
	Wait(ctx context.Context) error
}

type noThrottle struct{}

func (noThrottle) Wait(context.Context) error { return nil }

// NoThrottle never waits.
var NoThrottle Throttle = noThrottle{}

type fixed time.Duration

func (f fixed) Wait(ctx context.Context) error {
	t := time.NewTimer(time.Duration(f))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fixed waits d before every step. A non-positive d means NoThrottle.
func Fixed(d time.Duration) Throttle {
	if d <= 0 {
		return NoThrottle
	}
	return fixed(d)
}
