// Package reconcile rebuilds the projected leaderboard from the ledger. It is
// the correctness backstop behind the best-effort projector: a rebuild is
// always possible and always authoritative.
package reconcile

import (
	"context"
	"time"

	"github.com/liveplay/engine/internal/projector"
	"github.com/liveplay/engine/internal/repository"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

// incompleteTieBreak sorts participants without any scored event behind
// everyone who has one.
const incompleteTieBreak = int64(1) << 62

// BoardWriter is the slice of the projector the reconciler needs.
type BoardWriter interface {
	Replace(ctx context.Context, sessionId string, entries []models.LeaderboardEntry, at time.Time) error
}

type Reconciler struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	events       repository.EventRepository
	board        BoardWriter
	logger       *logger.Logger
}

func New(
	sessions repository.SessionRepository,
	participants repository.ParticipantRepository,
	events repository.EventRepository,
	board BoardWriter,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		sessions:     sessions,
		participants: participants,
		events:       events,
		board:        board,
		logger:       log.With("component", "reconciler"),
	}
}

// Rebuild recomputes every aggregate and rank from the ledger and atomically
// replaces the projector's state for the session.
func (r *Reconciler) Rebuild(ctx context.Context, sessionId string) ([]models.LeaderboardEntry, error) {
	cfg, err := r.sessions.Get(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}

	participants, err := r.participants.ListBySession(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	events, err := r.events.ListBySession(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	entries := ComputeEntries(cfg, participants, events)

	if err := r.board.Replace(ctx, sessionId, entries, time.Now().UTC()); err != nil {
		return nil, err
	}

	r.logger.Info("Leaderboard rebuilt from ledger",
		"session_id", sessionId,
		"participants", len(participants),
		"events", len(events),
	)

	return entries, nil
}

// ComputeEntries derives every leaderboard row from first principles: the
// per-participant sums over valid events, not the stored aggregates. The two
// must agree; computing from events is what makes this a backstop.
func ComputeEntries(
	cfg *models.SessionConfig,
	participants []models.Participant,
	events []models.SubmissionEvent,
) []models.LeaderboardEntry {
	type totals struct {
		score       int
		count       int
		lastValidAt time.Time
	}

	byParticipant := make(map[string]totals, len(participants))
	for i := range events {
		ev := &events[i]
		if !ev.IsValid {
			continue
		}
		t := byParticipant[ev.ParticipantId]
		t.score += ev.PointsAwarded
		t.count++
		if ev.CreatedAt.After(t.lastValidAt) {
			t.lastValidAt = ev.CreatedAt
		}
		byParticipant[ev.ParticipantId] = t
	}

	required := cfg.RequiredTargetCount()
	entries := make([]models.LeaderboardEntry, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		t := byParticipant[p.ParticipantId]
		complete := required > 0 && t.count >= required

		entries = append(entries, models.LeaderboardEntry{
			ParticipantId:  p.ParticipantId,
			DisplayName:    p.DisplayName,
			GroupId:        p.GroupId,
			Score:          t.score,
			CompletedCount: t.count,
			Complete:       complete,
			TieBreakMs:     TieBreak(cfg, p, t.lastValidAt, complete),
		})
	}

	projector.Rank(entries)
	return entries
}

// TieBreak is the deterministic secondary ranking key: elapsed
// time-to-complete for race-style sessions, registration time for voting.
// Incomplete racers fall back to their last scored event's elapsed time.
func TieBreak(cfg *models.SessionConfig, p *models.Participant, lastValidAt time.Time, complete bool) int64 {
	if cfg.Kind == models.KindVote {
		return p.JoinedAt.UnixMilli()
	}

	if p.StartedAt == nil {
		return incompleteTieBreak
	}
	if complete && p.FinishedAt != nil {
		return p.FinishedAt.Sub(*p.StartedAt).Milliseconds()
	}
	if !lastValidAt.IsZero() {
		return lastValidAt.Sub(*p.StartedAt).Milliseconds()
	}
	return incompleteTieBreak
}
