package pipeline

import (
	"context"
	"time"
)

// Backoff describes bounded exponential backoff between retries.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait before the given retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = 100 * time.Millisecond
	}
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	if b.Max <= 0 {
		b.Max = 2 * time.Second
	}

	delay := b.Initial
	for i := 1; i < retry; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
