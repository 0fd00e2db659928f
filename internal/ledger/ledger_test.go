package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/internal/repository"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

// fakeStore simulates the transactional store. appendErrs is consumed one
// error per Append call, so contention sequences are scriptable.
type fakeStore struct {
	participant *models.Participant
	event       *models.SubmissionEvent
	appendErrs  []error
	// onAppendErr runs after a scripted Append failure, to mutate the store
	// the way a concurrent committer would.
	onAppendErr func()

	appends  int
	mutates  int
	lastSeen int
}

func (f *fakeStore) GetParticipant(ctx context.Context, sessionId, participantId string) (*models.Participant, error) {
	if f.participant == nil {
		return nil, nil
	}
	copied := *f.participant
	return &copied, nil
}

func (f *fakeStore) GetEvent(ctx context.Context, sessionId, participantId, targetId string) (*models.SubmissionEvent, error) {
	return f.event, nil
}

func (f *fakeStore) Append(ctx context.Context, event *models.SubmissionEvent, participant *models.Participant, expectedAttempts int) error {
	f.appends++
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		if err != nil {
			if f.onAppendErr != nil {
				f.onAppendErr()
			}
			return err
		}
	}
	f.event = event
	f.participant = participant
	return nil
}

func testMutation(f *fakeStore, points int) Mutation {
	return func(p *models.Participant) (*models.SubmissionEvent, *models.Participant, *apperrors.AppError) {
		f.mutates++
		f.lastSeen = p.ConsumedAttempts

		event := &models.SubmissionEvent{
			SessionId:     p.SessionId,
			ParticipantId: p.ParticipantId,
			TargetId:      "t1",
			IsValid:       true,
			PointsAwarded: points,
			CreatedAt:     time.Now().UTC(),
		}
		updated := *p
		updated.AggregateScore += points
		updated.CompletedCount++
		return event, &updated, nil
	}
}

func newTestLedger(store repository.LedgerStore) Ledger {
	return New(store, Config{MaxAttempts: 3, BackoffBase: time.Millisecond}, logger.Development("test"))
}

func participant(attempts int) *models.Participant {
	return &models.Participant{
		SessionId:        "s1",
		ParticipantId:    "p1",
		AggregateScore:   attempts * 100,
		ConsumedAttempts: attempts,
	}
}

func TestCommit_AssignsSequenceAndAttempts(t *testing.T) {
	store := &fakeStore{participant: participant(2)}
	ldg := newTestLedger(store)

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", testMutation(store, 140))

	require.Nil(t, appErr)
	assert.Equal(t, 3, result.Event.SequenceNumber)
	assert.Equal(t, 3, result.Participant.ConsumedAttempts)
	assert.Equal(t, 340, result.Participant.AggregateScore)
	assert.Equal(t, models.SubmissionEventID("s1", "p1", "t1"), result.Event.EventId)
	assert.Equal(t, 1, store.appends)
}

func TestCommit_DuplicateReplaysStoredOutcome(t *testing.T) {
	store := &fakeStore{
		participant: participant(1),
		event:       &models.SubmissionEvent{PointsAwarded: 140},
		appendErrs:  []error{repository.ErrEventExists},
	}
	ldg := newTestLedger(store)

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", testMutation(store, 999))

	assert.Nil(t, result)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeAlreadySubmitted, appErr.Code)
	assert.Equal(t, 140, appErr.Context["points_awarded"])
	assert.Equal(t, 100, appErr.Context["aggregate_score"])
}

func TestCommit_RetriesOnConflictWithFreshRead(t *testing.T) {
	store := &fakeStore{
		participant: participant(0),
		appendErrs:  []error{repository.ErrParticipantConflict, nil},
	}
	ldg := newTestLedger(store)

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", testMutation(store, 100))

	require.Nil(t, appErr)
	assert.Equal(t, 2, store.appends)
	assert.Equal(t, 2, store.mutates)
	assert.Equal(t, 1, result.Event.SequenceNumber)
}

func TestCommit_MutationSeesCommittedState(t *testing.T) {
	// First append loses the fence; the store's participant has meanwhile
	// advanced. The retry's mutation must see the advanced counter.
	store := &fakeStore{
		participant: participant(0),
		appendErrs:  []error{repository.ErrParticipantConflict},
	}
	store.onAppendErr = func() { store.participant = participant(5) }
	ldg := newTestLedger(store)

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", testMutation(store, 100))

	require.Nil(t, appErr)
	assert.Equal(t, 5, store.lastSeen)
	assert.Equal(t, 6, result.Event.SequenceNumber)
}

func TestCommit_ExhaustedRetries(t *testing.T) {
	store := &fakeStore{
		participant: participant(0),
		appendErrs: []error{
			repository.ErrRetryable,
			repository.ErrRetryable,
			repository.ErrRetryable,
		},
	}
	ldg := newTestLedger(store)

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", testMutation(store, 100))

	assert.Nil(t, result)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeTransientConflict, appErr.Code)
	assert.Equal(t, 3, store.appends)
}

func TestCommit_ParticipantMissing(t *testing.T) {
	ldg := newTestLedger(&fakeStore{})

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", nil)

	assert.Nil(t, result)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeNotRegistered, appErr.Code)
}

func TestCommit_MutationRejectionAborts(t *testing.T) {
	store := &fakeStore{participant: participant(0)}
	ldg := newTestLedger(store)

	rejecting := func(p *models.Participant) (*models.SubmissionEvent, *models.Participant, *apperrors.AppError) {
		return nil, nil, apperrors.New(apperrors.CodeTimeExpired, "session time limit exceeded")
	}

	result, appErr := ldg.Commit(context.Background(), "s1", "p1", "t1", rejecting)

	assert.Nil(t, result)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeTimeExpired, appErr.Code)
	assert.Equal(t, 0, store.appends)
}

func TestCommit_CanceledContextStopsBackoff(t *testing.T) {
	store := &fakeStore{
		participant: participant(0),
		appendErrs:  []error{repository.ErrRetryable, repository.ErrRetryable, repository.ErrRetryable},
	}
	ldg := New(store, Config{MaxAttempts: 3, BackoffBase: time.Hour}, logger.Development("test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, appErr := ldg.Commit(ctx, "s1", "p1", "t1", testMutation(store, 100))

	assert.Nil(t, result)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeTransientConflict, appErr.Code)
	assert.Equal(t, 1, store.appends)
}
