package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/liveplay/engine/database"
	"github.com/liveplay/engine/models"
)

var (
	// ErrEventExists means the event put lost to an existing item for the
	// same (participant, target). The caller replays the stored result.
	ErrEventExists = errors.New("submission event already exists")

	// ErrParticipantConflict means the participant row moved between read
	// and commit. The caller re-reads and retries.
	ErrParticipantConflict = errors.New("participant state changed concurrently")

	// ErrRetryable covers transaction contention worth backing off on.
	ErrRetryable = errors.New("transaction conflict")
)

// LedgerStore is the single-writer commit surface of the ledger. Append is
// one DynamoDB transaction: the event put guards the dedupe invariant, the
// participant update is fenced on the consumed_attempts counter observed at
// read time, so every derived field in participant was computed from the
// exact state the transaction commits against.
type LedgerStore interface {
	GetParticipant(ctx context.Context, sessionId, participantId string) (*models.Participant, error)
	GetEvent(ctx context.Context, sessionId, participantId, targetId string) (*models.SubmissionEvent, error)
	Append(ctx context.Context, event *models.SubmissionEvent, participant *models.Participant, expectedAttempts int) error
}

type ledgerStore struct {
	db              *database.DynamoDBClient
	events          EventRepository
	participants    ParticipantRepository
	transactionRepo database.TransactionRepository
}

func NewLedgerStore(
	db *database.DynamoDBClient,
	events EventRepository,
	participants ParticipantRepository,
	transactionRepo database.TransactionRepository,
) LedgerStore {
	return &ledgerStore{
		db:              db,
		events:          events,
		participants:    participants,
		transactionRepo: transactionRepo,
	}
}

func (s *ledgerStore) GetParticipant(ctx context.Context, sessionId, participantId string) (*models.Participant, error) {
	return s.participants.Get(ctx, sessionId, participantId)
}

func (s *ledgerStore) GetEvent(ctx context.Context, sessionId, participantId, targetId string) (*models.SubmissionEvent, error) {
	return s.events.Get(ctx, sessionId, participantId, targetId)
}

func (s *ledgerStore) Append(
	ctx context.Context,
	event *models.SubmissionEvent,
	participant *models.Participant,
	expectedAttempts int,
) error {
	putEvent, err := s.events.GetTransactionForAppend(event)
	if err != nil {
		return err
	}

	updateParticipant, err := s.participantUpdate(participant, expectedAttempts)
	if err != nil {
		return err
	}

	// Item order matters: cancellation reasons come back positionally.
	tb := database.NewTransactionBuilder()
	if err := tb.AddPut(putEvent); err != nil {
		return err
	}
	if err := tb.AddUpdate(updateParticipant); err != nil {
		return err
	}

	if err := s.transactionRepo.Execute(ctx, tb); err != nil {
		return classifyTransactionError(err)
	}

	return nil
}

func (s *ledgerStore) participantUpdate(p *models.Participant, expectedAttempts int) (types.Update, error) {
	update := "SET aggregate_score = :score, completed_count = :completed, " +
		"consumed_attempts = :attempts, out_of_order_count = :ooo, " +
		"streak = :streak, next_order_index = :next, updated_at = :now"

	values := map[string]types.AttributeValue{
		":score":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.AggregateScore)},
		":completed": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.CompletedCount)},
		":attempts":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.ConsumedAttempts)},
		":ooo":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.OutOfOrderCount)},
		":streak":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.Streak)},
		":next":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.NextOrderIndex)},
		":now":       &types.AttributeValueMemberS{Value: p.UpdatedAt.Format(time.RFC3339Nano)},
		":expected":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedAttempts)},
	}

	if p.FinishedAt != nil {
		update += ", finished_at = :finished"
		values[":finished"] = &types.AttributeValueMemberS{Value: p.FinishedAt.Format(time.RFC3339Nano)}
	}

	return types.Update{
		TableName: aws.String(s.db.Table()),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.SessionPK(p.SessionId)},
			"SK": &types.AttributeValueMemberS{Value: models.PlayerSK(p.ParticipantId)},
		},
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(PK) AND consumed_attempts = :expected AND attribute_not_exists(finished_at)"),
		ExpressionAttributeValues: values,
	}, nil
}

func classifyTransactionError(err error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for i, reason := range canceled.CancellationReasons {
			code := aws.ToString(reason.Code)
			switch code {
			case "ConditionalCheckFailed":
				if i == 0 {
					return ErrEventExists
				}
				return ErrParticipantConflict
			case "TransactionConflict", "ThrottlingError", "ProvisionedThroughputExceeded":
				return fmt.Errorf("%w: %s", ErrRetryable, code)
			}
		}
		return fmt.Errorf("%w: transaction canceled", ErrRetryable)
	}

	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}

	return fmt.Errorf("ledger transaction failed: %w", err)
}
