package stream

import (
	"errors"
	"time"
)

// Backoff computes reconnect delays.
//
// The delay after n consecutive failures is Base * 2^(n-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is 1s doubling up to 30s.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second}

// Validate reports configuration errors.
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return errors.New("backoff base must be positive")
	}
	if b.Max < b.Base {
		return errors.New("backoff max must not be less than base")
	}
	return nil
}

// Delay returns the wait before the next attempt after failures consecutive
// failed attempts. failures below 1 is treated as 1.
func (b Backoff) Delay(failures int) time.Duration {
	d := b.Base
	for i := 1; i < failures; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	return min(d, b.Max)
}
