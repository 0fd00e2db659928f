// Package session owns the session configuration and its phase machine. It is
// the single source of truth for "is this submission currently allowed".
package session

import (
	"context"
	"sync"
	"time"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/internal/repository"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

// transitions is the legal phase graph. Registration appears as a target
// everywhere except from itself: that edge is the explicit reset path.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseRegistration: {models.PhaseCountdown, models.PhaseActive},
	models.PhaseCountdown:    {models.PhaseActive, models.PhaseRegistration},
	models.PhaseActive:       {models.PhaseFinished, models.PhaseRegistration},
	models.PhaseFinished:     {models.PhaseResults, models.PhaseRegistration},
	models.PhaseResults:      {models.PhaseRegistration},
}

// CanTransition reports whether from→to is a legal operator transition.
func CanTransition(from, to models.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type cachedConfig struct {
	cfg       *models.SessionConfig
	fetchedAt time.Time
}

// Authority serves read-mostly session config with a short-TTL cache and
// applies phase transitions. Participant-facing code never mutates config.
type Authority struct {
	repo   repository.SessionRepository
	ttl    time.Duration
	logger *logger.Logger

	mu    sync.RWMutex
	cache map[string]cachedConfig
}

func NewAuthority(repo repository.SessionRepository, ttl time.Duration, log *logger.Logger) *Authority {
	return &Authority{
		repo:   repo,
		ttl:    ttl,
		logger: log.With("component", "session-authority"),
		cache:  make(map[string]cachedConfig),
	}
}

// GetConfig returns the current session config, served from cache within the
// TTL. A stale read can at worst admit a submission a moment after a phase
// change; the ledger never depends on it for correctness.
func (a *Authority) GetConfig(ctx context.Context, sessionId string) (*models.SessionConfig, *apperrors.AppError) {
	a.mu.RLock()
	entry, ok := a.cache[sessionId]
	a.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < a.ttl {
		return entry.cfg, nil
	}

	return a.refresh(ctx, sessionId)
}

func (a *Authority) refresh(ctx context.Context, sessionId string) (*models.SessionConfig, *apperrors.AppError) {
	cfg, err := a.repo.Get(ctx, sessionId)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to load session config")
	}
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
	}

	a.mu.Lock()
	a.cache[sessionId] = cachedConfig{cfg: cfg, fetchedAt: time.Now()}
	a.mu.Unlock()

	return cfg, nil
}

func (a *Authority) Invalidate(sessionId string) {
	a.mu.Lock()
	delete(a.cache, sessionId)
	a.mu.Unlock()
}

// Transition applies an operator phase change. The repository guards the
// from-phase, so two concurrent operator calls cannot both apply.
func (a *Authority) Transition(ctx context.Context, sessionId string, to models.Phase) (*models.SessionConfig, *apperrors.AppError) {
	cfg, appErr := a.refresh(ctx, sessionId)
	if appErr != nil {
		return nil, appErr
	}

	if !CanTransition(cfg.Phase, to) {
		return nil, apperrors.New(apperrors.CodeInvalidTransition, "phase transition not allowed").
			WithContext("from", string(cfg.Phase)).
			WithContext("to", string(to))
	}

	updated, err := a.repo.TransitionPhase(ctx, sessionId, cfg.Phase, to, time.Now().UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to transition session phase")
	}
	if updated == nil {
		// Lost the phase guard to a concurrent transition.
		return nil, apperrors.New(apperrors.CodeInvalidTransition, "session phase changed concurrently")
	}

	a.mu.Lock()
	a.cache[sessionId] = cachedConfig{cfg: updated, fetchedAt: time.Now()}
	a.mu.Unlock()

	a.logger.Info("Session phase transitioned",
		"session_id", sessionId,
		"from", string(cfg.Phase),
		"to", string(to),
	)

	return updated, nil
}
