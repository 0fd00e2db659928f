package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/liveplay/engine/logger"
)

// fakeCounter is an in-memory window store without expiry; the tests control
// counts directly.
type fakeCounter struct {
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		counts: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.ttls[key] = window
	}
	return f.counts[key], f.ttls[key], nil
}

func (f *fakeCounter) Count(ctx context.Context, key string) (int64, time.Duration, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.counts[key], f.ttls[key], nil
}

func newTestGate(counter Counter) *Gate {
	return NewGate(counter,
		LimitSpec{Limit: 3, Window: time.Minute},
		LimitSpec{Limit: 2, Window: time.Minute},
		logger.Development("test"),
	)
}

func TestAdmitSource_BlocksAtLimit(t *testing.T) {
	gate := newTestGate(newFakeCounter())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, gate.AdmitSource(ctx, "1.2.3.4").Allowed, "request %d", i+1)
	}

	d := gate.AdmitSource(ctx, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestAdmitSource_SourcesAreIndependent(t *testing.T) {
	gate := newTestGate(newFakeCounter())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		gate.AdmitSource(ctx, "1.2.3.4")
	}

	assert.True(t, gate.AdmitSource(ctx, "5.6.7.8").Allowed)
}

func TestCheckFailures_DoesNotConsume(t *testing.T) {
	counter := newFakeCounter()
	gate := newTestGate(counter)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, gate.CheckFailures(ctx, "s1", "p1").Allowed)
	}
	assert.Equal(t, int64(0), counter.counts["ratelimit:failures:s1:p1"])
}

func TestCheckFailures_BlocksAfterRecordedFailures(t *testing.T) {
	counter := newFakeCounter()
	gate := newTestGate(counter)
	ctx := context.Background()

	gate.RecordFailure(ctx, "s1", "p1")
	assert.True(t, gate.CheckFailures(ctx, "s1", "p1").Allowed)

	gate.RecordFailure(ctx, "s1", "p1")
	d := gate.CheckFailures(ctx, "s1", "p1")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	// A different identity in the same session is unaffected.
	assert.True(t, gate.CheckFailures(ctx, "s1", "p2").Allowed)
}

func TestGate_FailsOpenOnCounterErrors(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	gate := newTestGate(counter)
	ctx := context.Background()

	assert.True(t, gate.AdmitSource(ctx, "1.2.3.4").Allowed)
	assert.True(t, gate.CheckFailures(ctx, "s1", "p1").Allowed)
	assert.NotPanics(t, func() { gate.RecordFailure(ctx, "s1", "p1") })
}

func TestDecide_ZeroLimitDisablesTheTier(t *testing.T) {
	d := decide(1000, time.Second, LimitSpec{Limit: 0, Window: time.Minute})
	assert.True(t, d.Allowed)
}

func TestDecide_RetryAfterPrefersTTL(t *testing.T) {
	d := decide(10, 12*time.Second, LimitSpec{Limit: 3, Window: time.Minute})
	assert.False(t, d.Allowed)
	assert.Equal(t, 12*time.Second, d.RetryAfter)
}
