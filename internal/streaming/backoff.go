package streaming

import (
	"context"
	"time"
)

// Backoff hands out reconnect delays: Floor, 2*Floor, 4*Floor ... capped at
// Ceiling. Reset returns to Floor. Not safe for concurrent use, the connector
// loop is its only user.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
	next    time.Duration
}

// constructor for Backoff
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{Floor: floor, Ceiling: ceiling, next: floor}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Floor
	}
	d := b.next
	b.next *= 2
	if b.next > b.Ceiling || b.next <= 0 {
		b.next = b.Ceiling
	}
	return d
}

func (b *Backoff) Reset() {
	b.next = b.Floor
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
