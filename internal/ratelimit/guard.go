// Package ratelimit implements the fixed-window counter used to cap sensitive actions per identity.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"nearGoAPI/internal/metrics"
)

// expiryMargin keeps a counter row around a little past its window so late requests in the same
// bucket still see it.
const expiryMargin = time.Minute

// Store atomically increments the counter for key unless it already reached limit.
// It returns the stored count and whether the increment happened.
type Store interface {
	Increment(ctx context.Context, key string, limit int, expiresAt time.Time) (count int, incremented bool, err error)
}

type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

type Guard struct {
	store Store
	now   func() time.Time
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store, now: time.Now}
}

// WithClock returns a copy of the guard that reads time from now.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	return &Guard{store: g.store, now: now}
}

// Key composes the counter key for an action, identity and window bucket.
func Key(action, identity string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%d", action, identity, bucket)
}

// CheckAndIncrement counts one attempt of action by identity in the current window. Once limit is
// reached further calls are refused without incrementing. When the store fails the action is allowed.
func (g *Guard) CheckAndIncrement(ctx context.Context, action, identity string, limit int, window time.Duration) Decision {
	if window <= 0 {
		window = time.Second
	}
	now := g.now()
	bucket := now.UnixNano() / int64(window)
	windowEnd := time.Unix(0, (bucket+1)*int64(window))
	retryAfter := windowEnd.Sub(now)

	if limit <= 0 {
		metrics.RecordRateGuardDecision(action, "denied")
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	key := Key(action, identity, bucket)
	count, incremented, err := g.store.Increment(ctx, key, limit, windowEnd.Add(expiryMargin))
	if err != nil {
		log.WithError(err).WithField("action", action).Warn("Rate guard store unavailable, allowing request")
		metrics.RecordRateGuardDecision(action, "fail_open")
		return Decision{Allowed: true}
	}

	if !incremented {
		metrics.RecordRateGuardDecision(action, "denied")
		return Decision{Allowed: false, Count: count, RetryAfter: retryAfter}
	}

	metrics.RecordRateGuardDecision(action, "allowed")
	return Decision{Allowed: true, Count: count}
}
