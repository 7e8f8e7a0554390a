// Package ratelimit keeps per-identity submission timestamps and answers
// whether another submission fits in the trailing window.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultWindow = time.Hour
	DefaultMax    = 3
)

var ErrLockTimeout = errors.New("rate limit store lock not acquired")

// Store is the durable admission record. Admit never fails: a store that
// cannot be read admits. Record errors are reported but callers carry on.
type Store interface {
	Admit(ctx context.Context, identity string, now time.Time, window time.Duration, max int) bool
	Record(ctx context.Context, identity string, now time.Time) error
}

// Prune keeps the timestamps inside [now-window, now+∞), preserving order.
// Timestamps ahead of now are kept so a clock step backwards does not free quota.
func Prune(stamps []int64, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).Unix()
	out := stamps[:0:0]
	for _, ts := range stamps {
		if ts >= cutoff {
			out = append(out, ts)
		}
	}
	return out
}

// Allowed reports whether a pruned history leaves room for one more.
func Allowed(stamps []int64, now time.Time, window time.Duration, max int) bool {
	return len(Prune(stamps, now, window)) < max
}
