// Package ledger owns the authoritative commit of a scoring attempt. One
// commit atomically appends the submission event and folds its outcome into
// the participant's aggregates; nothing else writes those fields.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/internal/repository"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

// Mutation recomputes the submission outcome against a freshly read
// participant. It runs once per commit attempt, so validation and scoring
// always see the state the transaction will be fenced on — never a stale
// pre-read snapshot.
type Mutation func(p *models.Participant) (*models.SubmissionEvent, *models.Participant, *apperrors.AppError)

type Result struct {
	Event       *models.SubmissionEvent
	Participant *models.Participant
}

type Ledger interface {
	Commit(ctx context.Context, sessionId, participantId, targetId string, mutate Mutation) (*Result, *apperrors.AppError)
}

type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
}

type ledger struct {
	store  repository.LedgerStore
	cfg    Config
	logger *logger.Logger
}

func New(store repository.LedgerStore, cfg Config, log *logger.Logger) Ledger {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 25 * time.Millisecond
	}
	return &ledger{
		store:  store,
		cfg:    cfg,
		logger: log.With("component", "ledger"),
	}
}

func (l *ledger) Commit(
	ctx context.Context,
	sessionId, participantId, targetId string,
	mutate Mutation,
) (*Result, *apperrors.AppError) {
	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		participant, err := l.store.GetParticipant(ctx, sessionId, participantId)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to read participant")
		}
		if participant == nil {
			return nil, apperrors.New(apperrors.CodeNotRegistered, "participant is not registered in this session")
		}

		expected := participant.ConsumedAttempts

		event, updated, appErr := mutate(participant)
		if appErr != nil {
			return nil, appErr
		}

		// Sequence numbers and the idempotency key are assigned here, at
		// commit time, so they stay correct across retries.
		event.EventId = models.SubmissionEventID(sessionId, participantId, targetId)
		event.SequenceNumber = expected + 1
		updated.ConsumedAttempts = expected + 1
		updated.UpdatedAt = event.CreatedAt

		err = l.store.Append(ctx, event, updated, expected)
		switch {
		case err == nil:
			return &Result{Event: event, Participant: updated}, nil

		case errors.Is(err, repository.ErrEventExists):
			// A commit for this (participant, target) already landed —
			// either an earlier retry of this request or a concurrent
			// duplicate. Replay the stored outcome instead of scoring twice.
			return l.replay(ctx, sessionId, participantId, targetId)

		case errors.Is(err, repository.ErrParticipantConflict), errors.Is(err, repository.ErrRetryable):
			l.logger.Debug("Ledger commit contended, retrying",
				"session_id", sessionId,
				"participant_id", participantId,
				"attempt", attempt+1,
			)
			if appErr := l.backoff(ctx, attempt); appErr != nil {
				return nil, appErr
			}

		default:
			return nil, apperrors.Wrap(err, apperrors.CodeTransactionError, "ledger commit failed")
		}
	}

	return nil, apperrors.New(apperrors.CodeTransientConflict, "ledger commit contention, retry later")
}

// replay returns the previously committed outcome as an ALREADY_SUBMITTED
// rejection carrying the original award, so a replayed request is a no-op the
// client can reconcile against.
func (l *ledger) replay(ctx context.Context, sessionId, participantId, targetId string) (*Result, *apperrors.AppError) {
	prior, err := l.store.GetEvent(ctx, sessionId, participantId, targetId)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to read prior event")
	}
	participant, err := l.store.GetParticipant(ctx, sessionId, participantId)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to read participant")
	}

	appErr := apperrors.New(apperrors.CodeAlreadySubmitted, "target was already scored for this participant")
	if prior != nil {
		appErr = appErr.WithContext("points_awarded", prior.PointsAwarded)
	}
	if participant != nil {
		appErr = appErr.WithContext("aggregate_score", participant.AggregateScore)
	}
	return nil, appErr
}

func (l *ledger) backoff(ctx context.Context, attempt int) *apperrors.AppError {
	delay := l.cfg.BackoffBase << attempt

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.CodeTransientConflict, "commit canceled while backing off")
	case <-timer.C:
		return nil
	}
}
