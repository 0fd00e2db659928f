// Package validate runs the admission rules for one incoming submission. The
// checks run in a fixed order and short-circuit on the first failure, so
// clients see consistent error codes across all live-activity kinds.
//
// The checks are evaluated against a snapshot; the races a snapshot cannot
// close (duplicate, counter) are re-enforced by the ledger transaction's
// condition expressions.
package validate

import (
	"fmt"
	"time"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/models"
)

// State is the committed state a submission is judged against.
type State struct {
	Config      *models.SessionConfig
	Participant *models.Participant
	// AlreadyScored is the duplicate-check lookup result for
	// (participant, target).
	AlreadyScored bool
	Now           time.Time
}

// Outcome annotates an admitted submission.
type Outcome struct {
	Target    *models.Target
	LatencyMs int64
	// OutOfOrder marks a tolerated sequence violation; it increments the
	// participant's counter instead of rejecting.
	OutOfOrder bool
}

// Check admits or rejects a submission. Every rejection is side-effect free
// except TIME_EXPIRED, where the caller must force-finish the participant.
func Check(st State, targetValue string) (*Outcome, *apperrors.AppError) {
	cfg := st.Config
	p := st.Participant

	if !cfg.Admits() {
		return nil, apperrors.New(apperrors.CodeGameNotActive, "session is not accepting submissions").
			WithContext("phase", string(cfg.Phase))
	}

	if p == nil || p.SessionId != cfg.SessionId {
		return nil, apperrors.New(apperrors.CodeNotRegistered, "participant is not registered in this session")
	}

	if !p.Started() {
		return nil, apperrors.New(apperrors.CodeGameNotActive, "participant has not started or already finished")
	}

	if p.Expired(cfg.Rules.TimeLimitMs, st.Now) {
		return nil, apperrors.New(apperrors.CodeTimeExpired, "session time limit exceeded")
	}

	target := cfg.TargetByValue(targetValue)
	if target == nil {
		return nil, apperrors.New(apperrors.CodeTargetNotFound, "submitted value does not resolve to an active target")
	}

	if cfg.Rules.RequireCategory && p.Category != "" && target.Category != p.Category {
		return nil, apperrors.New(apperrors.CodeWrongType, fmt.Sprintf("target belongs to category %q", target.Category)).
			WithContext("expected_category", p.Category)
	}

	if st.AlreadyScored {
		return nil, apperrors.New(apperrors.CodeAlreadySubmitted, "target was already scored for this participant")
	}

	out := &Outcome{
		Target:    target,
		LatencyMs: latencyMs(p, st.Now),
	}

	if target.OrderIndex != p.NextOrderIndex {
		switch cfg.Rules.OrderPolicy {
		case models.OrderStrict:
			return nil, apperrors.New(apperrors.CodeOutOfOrder, "target is out of sequence").
				WithContext("expected_index", p.NextOrderIndex)
		case models.OrderTolerant:
			out.OutOfOrder = true
		}
	}

	return out, nil
}

// latencyMs is the time since the participant's previous commit, or since
// their start for the first submission.
func latencyMs(p *models.Participant, now time.Time) int64 {
	since := *p.StartedAt
	if p.ConsumedAttempts > 0 && p.UpdatedAt.After(since) {
		since = p.UpdatedAt
	}
	ms := now.Sub(since).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms
}
