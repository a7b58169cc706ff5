// Package ratelimit bounds the per-session call rate across multiple
// overlapping time windows. The bucket math is pure; bucket state lives in
// the store so that concurrent callers contend on one transaction, not on
// in-process maps.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
)

// Window is one admission window: a session gets Capacity tokens per Span,
// replenished proportionally to elapsed time rather than reset at wall-clock
// boundaries.
type Window struct {
	Name     string
	Span     time.Duration
	Capacity int
}

// Bucket is the persisted counter for one (session, window) pair.
type Bucket struct {
	Window     string
	Capacity   int
	Tokens     float64
	RefilledAt time.Time
}

// Denial reports which window was exhausted and when at least one token
// becomes available again.
type Denial struct {
	Window     string
	RetryAfter time.Duration
}

// Windows builds the standard minute/hour/day window set.
func Windows(perMinute, perHour, perDay int) []Window {
	return []Window{
		{Name: "minute", Span: time.Minute, Capacity: perMinute},
		{Name: "hour", Span: time.Hour, Capacity: perHour},
		{Name: "day", Span: 24 * time.Hour, Capacity: perDay},
	}
}

// NewBucket returns a full bucket for a window.
func NewBucket(w Window, now time.Time) *Bucket {
	return &Bucket{
		Window:     w.Name,
		Capacity:   w.Capacity,
		Tokens:     float64(w.Capacity),
		RefilledAt: now,
	}
}

// Refill advances the bucket to now. Replenishment is proportional to elapsed
// time and capped at capacity; a client-supplied clock running backwards
// never credits tokens.
func Refill(b *Bucket, w Window, now time.Time) {
	elapsed := now.Sub(b.RefilledAt)
	if elapsed > 0 {
		b.Tokens += elapsed.Seconds() / w.Span.Seconds() * float64(w.Capacity)
		if b.Tokens > float64(b.Capacity) {
			b.Tokens = float64(b.Capacity)
		}
	}
	b.RefilledAt = now
}

// Admit refills every bucket and performs all-or-nothing admission: one token
// is consumed from each bucket only if every bucket has one. On denial no
// bucket is decremented and the first exhausted window is reported with the
// time until it regains a whole token.
func Admit(buckets []*Bucket, windows []Window, now time.Time) *Denial {
	byName := make(map[string]Window, len(windows))
	for _, w := range windows {
		byName[w.Name] = w
	}

	for _, b := range buckets {
		Refill(b, byName[b.Window], now)
	}

	for _, b := range buckets {
		if b.Tokens < 1 {
			w := byName[b.Window]
			missing := 1 - b.Tokens
			retry := time.Duration(missing * w.Span.Seconds() / float64(w.Capacity) * float64(time.Second))
			return &Denial{Window: b.Window, RetryAfter: retry}
		}
	}

	for _, b := range buckets {
		b.Tokens--
	}
	return nil
}

// BucketStore performs the bucket read-modify-write as one transaction.
type BucketStore interface {
	TakeRateTokens(ctx context.Context, sessionKey string, now time.Time, windows []Window) (*Denial, error)
}

type Limiter struct {
	store   BucketStore
	windows []Window
	now     func() time.Time
}

func New(store BucketStore, windows []Window) *Limiter {
	return &Limiter{
		store:   store,
		windows: windows,
		now:     time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow admits or denies one call for the session. A non-nil Denial is always
// paired with an error wrapping ErrRateLimited.
func (l *Limiter) Allow(ctx context.Context, sessionKey string) (*Denial, error) {
	denial, err := l.store.TakeRateTokens(ctx, sessionKey, l.now(), l.windows)
	if err != nil {
		return nil, kkErrors.Wrap(err, "rate limit check")
	}
	if denial != nil {
		return denial, fmt.Errorf("%s window exhausted, retry in %s: %w",
			denial.Window, denial.RetryAfter.Round(time.Millisecond), kkErrors.ErrRateLimited)
	}
	return nil, nil
}
