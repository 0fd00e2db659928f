// Package ratelimit implements the fixed-window abuse gate in front of every
// mutating entry point. The counters are ephemeral: losing them on a restart
// fails open, which is an availability tradeoff, not a security boundary.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/liveplay/engine/logger"
)

type LimitSpec struct {
	Limit  int64
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Counter is the atomic window store. Incr must increment-or-initialize in
// one step — resetting an expired window by delete-and-recreate races.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
	Count(ctx context.Context, key string) (count int64, ttl time.Duration, err error)
}

// Key Generation Helpers

func sourceKey(source string) string {
	return fmt.Sprintf("ratelimit:source:%s", source)
}

func failureKey(sessionId, participantId string) string {
	return fmt.Sprintf("ratelimit:failures:%s:%s", sessionId, participantId)
}

// Gate applies two tiers: a coarse per-source limit on every submission and a
// tighter per-identity limit on failed attempts, to slow target guessing.
type Gate struct {
	counter Counter
	source  LimitSpec
	failure LimitSpec
	logger  *logger.Logger
}

func NewGate(counter Counter, source, failure LimitSpec, log *logger.Logger) *Gate {
	return &Gate{
		counter: counter,
		source:  source,
		failure: failure,
		logger:  log.With("component", "rate-gate"),
	}
}

// AdmitSource counts this request against the caller's source window.
func (g *Gate) AdmitSource(ctx context.Context, source string) Decision {
	count, ttl, err := g.counter.Incr(ctx, sourceKey(source), g.source.Window)
	if err != nil {
		g.logger.Warn("Rate counter unreachable, failing open", "error", err)
		return Decision{Allowed: true}
	}
	return decide(count, ttl, g.source)
}

// CheckFailures reports whether the identity's failed-attempt window is
// exhausted. It does not consume an attempt.
func (g *Gate) CheckFailures(ctx context.Context, sessionId, participantId string) Decision {
	count, ttl, err := g.counter.Count(ctx, failureKey(sessionId, participantId))
	if err != nil {
		g.logger.Warn("Rate counter unreachable, failing open", "error", err)
		return Decision{Allowed: true}
	}
	// Count holds already-recorded failures; the next one is allowed as long
	// as the window is not yet full.
	return decide(count+1, ttl, g.failure)
}

// RecordFailure charges one rejected submission to the identity's window.
func (g *Gate) RecordFailure(ctx context.Context, sessionId, participantId string) {
	if _, _, err := g.counter.Incr(ctx, failureKey(sessionId, participantId), g.failure.Window); err != nil {
		g.logger.Warn("Failed to record rate failure", "error", err)
	}
}

func decide(count int64, ttl time.Duration, spec LimitSpec) Decision {
	if spec.Limit <= 0 || count <= spec.Limit {
		return Decision{Allowed: true}
	}

	retryAfter := ttl
	if retryAfter <= 0 {
		retryAfter = spec.Window
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}
