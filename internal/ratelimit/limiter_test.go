package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
)

func windows() []Window {
	return []Window{
		{Name: "minute", Span: time.Minute, Capacity: 10},
		{Name: "hour", Span: time.Hour, Capacity: 100},
	}
}

func TestRefillIsProportional(t *testing.T) {
	w := Window{Name: "minute", Span: time.Minute, Capacity: 10}
	now := time.Now()
	b := NewBucket(w, now)
	b.Tokens = 0

	// Half the span back gives half the capacity.
	Refill(b, w, now.Add(30*time.Second))
	assert.InDelta(t, 5.0, b.Tokens, 0.001)

	// Never above capacity.
	Refill(b, w, now.Add(time.Hour))
	assert.InDelta(t, 10.0, b.Tokens, 0.001)
}

func TestRefillIgnoresBackwardsClock(t *testing.T) {
	w := Window{Name: "minute", Span: time.Minute, Capacity: 10}
	now := time.Now()
	b := NewBucket(w, now)
	b.Tokens = 3

	Refill(b, w, now.Add(-time.Minute))
	assert.InDelta(t, 3.0, b.Tokens, 0.001)
}

func TestAdmitAllOrNothing(t *testing.T) {
	now := time.Now()
	ws := windows()
	minute := NewBucket(ws[0], now)
	hour := NewBucket(ws[1], now)
	minute.Tokens = 0.2 // minute exhausted, hour full

	buckets := []*Bucket{minute, hour}
	denial := Admit(buckets, ws, now)
	require.NotNil(t, denial)
	assert.Equal(t, "minute", denial.Window)

	// The hour bucket was not charged.
	assert.InDelta(t, 100.0, hour.Tokens, 0.001)

	// Retry-after is the time to regain the missing 0.8 tokens: 0.8 * 60/10.
	assert.InDelta(t, 4.8, denial.RetryAfter.Seconds(), 0.01)
}

func TestAdmitChargesEveryWindow(t *testing.T) {
	now := time.Now()
	ws := windows()
	buckets := []*Bucket{NewBucket(ws[0], now), NewBucket(ws[1], now)}

	denial := Admit(buckets, ws, now)
	require.Nil(t, denial)
	assert.InDelta(t, 9.0, buckets[0].Tokens, 0.001)
	assert.InDelta(t, 99.0, buckets[1].Tokens, 0.001)
}

type fakeBucketStore struct {
	denial *Denial
	key    string
}

func (f *fakeBucketStore) TakeRateTokens(_ context.Context, sessionKey string, _ time.Time, _ []Window) (*Denial, error) {
	f.key = sessionKey
	return f.denial, nil
}

func TestLimiterAllow(t *testing.T) {
	fake := &fakeBucketStore{}
	l := New(fake, windows())

	denial, err := l.Allow(context.Background(), "conv:a")
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.Equal(t, "conv:a", fake.key)
}

func TestLimiterDenialWrapsSentinel(t *testing.T) {
	fake := &fakeBucketStore{denial: &Denial{Window: "minute", RetryAfter: 3 * time.Second}}
	l := New(fake, windows())

	denial, err := l.Allow(context.Background(), "conv:a")
	require.NotNil(t, denial)
	assert.ErrorIs(t, err, kkErrors.ErrRateLimited)
	assert.Contains(t, err.Error(), "minute window exhausted")
}
