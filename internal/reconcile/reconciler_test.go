package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

func raceConfig() *models.SessionConfig {
	return &models.SessionConfig{
		SessionId: "s1",
		Kind:      models.KindScan,
		Targets: []models.Target{
			{TargetId: "t0", Value: "qr-0", OrderIndex: 0, Active: true},
			{TargetId: "t1", Value: "qr-1", OrderIndex: 1, Active: true},
		},
	}
}

func timed(base time.Time, offset time.Duration) time.Time {
	return base.Add(offset)
}

func TestComputeEntries_DerivesFromEvents(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	startA := timed(base, 0)
	finishA := timed(base, 90*time.Second)
	startB := timed(base, 10*time.Second)

	participants := []models.Participant{
		{ParticipantId: "a", DisplayName: "Alice", StartedAt: &startA, FinishedAt: &finishA,
			// Stored aggregates deliberately disagree with the events. The
			// rebuild must trust events, not the stored sums.
			AggregateScore: 9999},
		{ParticipantId: "b", DisplayName: "Bob", StartedAt: &startB},
		{ParticipantId: "c", DisplayName: "Carol"},
	}

	events := []models.SubmissionEvent{
		{ParticipantId: "a", TargetId: "t0", IsValid: true, PointsAwarded: 140, CreatedAt: timed(base, 30*time.Second)},
		{ParticipantId: "a", TargetId: "t1", IsValid: true, PointsAwarded: 160, CreatedAt: timed(base, 90*time.Second)},
		{ParticipantId: "b", TargetId: "t0", IsValid: true, PointsAwarded: 100, CreatedAt: timed(base, 40*time.Second)},
		{ParticipantId: "b", TargetId: "t1", IsValid: false, PointsAwarded: 0, CreatedAt: timed(base, 50*time.Second)},
	}

	entries := ComputeEntries(raceConfig(), participants, events)

	require.Len(t, entries, 3)

	assert.Equal(t, "a", entries[0].ParticipantId)
	assert.Equal(t, 300, entries[0].Score)
	assert.Equal(t, 2, entries[0].CompletedCount)
	assert.True(t, entries[0].Complete)
	assert.Equal(t, int64(90000), entries[0].TieBreakMs)
	assert.Equal(t, 1, entries[0].Rank)

	assert.Equal(t, "b", entries[1].ParticipantId)
	assert.Equal(t, 100, entries[1].Score)
	assert.Equal(t, 1, entries[1].CompletedCount)
	assert.False(t, entries[1].Complete)
	// Incomplete racer: elapsed to last valid event.
	assert.Equal(t, int64(30000), entries[1].TieBreakMs)
	assert.Equal(t, 2, entries[1].Rank)

	assert.Equal(t, "c", entries[2].ParticipantId)
	assert.Equal(t, 0, entries[2].Score)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestComputeEntries_InvalidEventsScoreNothing(t *testing.T) {
	start := time.Now().UTC()
	participants := []models.Participant{{ParticipantId: "a", StartedAt: &start}}
	events := []models.SubmissionEvent{
		{ParticipantId: "a", TargetId: "t0", IsValid: false, PointsAwarded: 0, CreatedAt: start},
	}

	entries := ComputeEntries(raceConfig(), participants, events)

	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Score)
	assert.Equal(t, 0, entries[0].CompletedCount)
}

func TestComputeEntries_VoteTieBreakIsJoinTime(t *testing.T) {
	cfg := raceConfig()
	cfg.Kind = models.KindVote

	early := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	participants := []models.Participant{
		{ParticipantId: "a", JoinedAt: late},
		{ParticipantId: "b", JoinedAt: early},
	}
	events := []models.SubmissionEvent{
		{ParticipantId: "a", TargetId: "t0", IsValid: true, PointsAwarded: 100, CreatedAt: late},
		{ParticipantId: "b", TargetId: "t0", IsValid: true, PointsAwarded: 100, CreatedAt: late},
	}

	entries := ComputeEntries(cfg, participants, events)

	// Equal scores: the earlier registrant ranks first.
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ParticipantId)

	// Voting sessions never mark completion.
	assert.False(t, entries[0].Complete)
	assert.False(t, entries[1].Complete)
}

type fakeSessions struct{ cfg *models.SessionConfig }

func (f *fakeSessions) Create(ctx context.Context, cfg *models.SessionConfig) error { return nil }
func (f *fakeSessions) Get(ctx context.Context, sessionId string) (*models.SessionConfig, error) {
	return f.cfg, nil
}
func (f *fakeSessions) TransitionPhase(ctx context.Context, sessionId string, from, to models.Phase, now time.Time) (*models.SessionConfig, error) {
	return nil, nil
}
func (f *fakeSessions) DeleteSessionData(ctx context.Context, sessionId string) (int, int, error) {
	return 0, 0, nil
}

type fakeParticipants struct{ items []models.Participant }

func (f *fakeParticipants) Create(ctx context.Context, p *models.Participant) error { return nil }
func (f *fakeParticipants) Get(ctx context.Context, sessionId, participantId string) (*models.Participant, error) {
	return nil, nil
}
func (f *fakeParticipants) ListBySession(ctx context.Context, sessionId string) ([]models.Participant, error) {
	return f.items, nil
}
func (f *fakeParticipants) Start(ctx context.Context, sessionId, participantId string, at time.Time) (*models.Participant, error) {
	return nil, nil
}
func (f *fakeParticipants) ForceFinish(ctx context.Context, sessionId, participantId string, at time.Time) (*models.Participant, error) {
	return nil, nil
}

type fakeEvents struct{ items []models.SubmissionEvent }

func (f *fakeEvents) Get(ctx context.Context, sessionId, participantId, targetId string) (*models.SubmissionEvent, error) {
	return nil, nil
}
func (f *fakeEvents) ListBySession(ctx context.Context, sessionId string) ([]models.SubmissionEvent, error) {
	return f.items, nil
}
func (f *fakeEvents) GetTransactionForAppend(event *models.SubmissionEvent) (types.Put, error) {
	return types.Put{}, nil
}

type fakeBoard struct {
	replaced [][]models.LeaderboardEntry
}

func (f *fakeBoard) Replace(ctx context.Context, sessionId string, entries []models.LeaderboardEntry, at time.Time) error {
	f.replaced = append(f.replaced, entries)
	return nil
}

func TestRebuild_ReplacesBoardFromLedger(t *testing.T) {
	start := time.Now().UTC().Add(-time.Minute)
	board := &fakeBoard{}
	r := New(
		&fakeSessions{cfg: raceConfig()},
		&fakeParticipants{items: []models.Participant{
			{ParticipantId: "a", StartedAt: &start},
		}},
		&fakeEvents{items: []models.SubmissionEvent{
			{ParticipantId: "a", TargetId: "t0", IsValid: true, PointsAwarded: 140, CreatedAt: start.Add(10 * time.Second)},
		}},
		board,
		logger.Development("test"),
	)

	entries, err := r.Rebuild(context.Background(), "s1")

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 140, entries[0].Score)
	require.Len(t, board.replaced, 1)
	assert.Equal(t, entries, board.replaced[0])
}

// After a reset wiped participants and events, a rebuild must still replace
// the board so stale pre-reset rows cannot linger.
func TestRebuild_EmptySessionReplacesWithNothing(t *testing.T) {
	board := &fakeBoard{}
	r := New(
		&fakeSessions{cfg: raceConfig()},
		&fakeParticipants{},
		&fakeEvents{},
		board,
		logger.Development("test"),
	)

	entries, err := r.Rebuild(context.Background(), "s1")

	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Len(t, board.replaced, 1)
	assert.Empty(t, board.replaced[0])
}

func TestRebuild_UnknownSessionIsNoop(t *testing.T) {
	board := &fakeBoard{}
	r := New(&fakeSessions{}, &fakeParticipants{}, &fakeEvents{}, board, logger.Development("test"))

	entries, err := r.Rebuild(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Nil(t, entries)
	assert.Empty(t, board.replaced)
}

func TestTieBreak(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	start := base
	finish := base.Add(2 * time.Minute)

	cfg := raceConfig()

	t.Run("complete racer uses time to finish", func(t *testing.T) {
		p := &models.Participant{StartedAt: &start, FinishedAt: &finish}
		assert.Equal(t, int64(120000), TieBreak(cfg, p, finish, true))
	})

	t.Run("incomplete racer uses last valid event", func(t *testing.T) {
		p := &models.Participant{StartedAt: &start}
		assert.Equal(t, int64(45000), TieBreak(cfg, p, base.Add(45*time.Second), false))
	})

	t.Run("never started sorts last", func(t *testing.T) {
		p := &models.Participant{}
		assert.Equal(t, incompleteTieBreak, TieBreak(cfg, p, time.Time{}, false))
	})

	t.Run("started with no events sorts last", func(t *testing.T) {
		p := &models.Participant{StartedAt: &start}
		assert.Equal(t, incompleteTieBreak, TieBreak(cfg, p, time.Time{}, false))
	})

	t.Run("vote uses join time", func(t *testing.T) {
		voteCfg := raceConfig()
		voteCfg.Kind = models.KindVote
		p := &models.Participant{JoinedAt: base}
		assert.Equal(t, base.UnixMilli(), TieBreak(voteCfg, p, time.Time{}, false))
	})
}
