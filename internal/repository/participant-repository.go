package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/liveplay/engine/database"
	"github.com/liveplay/engine/models"
)

// ErrAlreadyRegistered signals a duplicate registration for the same
// (session, participant) pair. Callers treat it as idempotent success.
var ErrAlreadyRegistered = errors.New("participant already registered")

type ParticipantRepository interface {
	Create(ctx context.Context, participant *models.Participant) error
	Get(ctx context.Context, sessionId, participantId string) (*models.Participant, error)
	ListBySession(ctx context.Context, sessionId string) ([]models.Participant, error)
	// Start stamps started_at once. Returns nil when the participant is
	// missing or already started.
	Start(ctx context.Context, sessionId, participantId string, at time.Time) (*models.Participant, error)
	// ForceFinish stamps finished_at once; used by the time-limit check's
	// forced completion. Returns nil when already finished.
	ForceFinish(ctx context.Context, sessionId, participantId string, at time.Time) (*models.Participant, error)
}

type participantRepo struct {
	db *database.DynamoDBClient
}

func NewParticipantRepository(db *database.DynamoDBClient) ParticipantRepository {
	return &participantRepo{db: db}
}

func (r *participantRepo) Create(ctx context.Context, participant *models.Participant) error {
	participant.PK = models.SessionPK(participant.SessionId)
	participant.SK = models.PlayerSK(participant.ParticipantId)
	participant.JoinedAt = time.Now().UTC()
	participant.UpdatedAt = participant.JoinedAt

	item, err := attributevalue.MarshalMap(participant)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	_, err = r.db.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.db.Table()),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}

	return nil
}

func (r *participantRepo) Get(ctx context.Context, sessionId, participantId string) (*models.Participant, error) {
	result, err := r.db.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.db.Table()),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
			"SK": &types.AttributeValueMemberS{Value: models.PlayerSK(participantId)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var participant models.Participant
	if err := attributevalue.UnmarshalMap(result.Item, &participant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}

	return &participant, nil
}

func (r *participantRepo) ListBySession(ctx context.Context, sessionId string) ([]models.Participant, error) {
	var participants []models.Participant
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.db.Client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.db.Table()),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
				":prefix": &types.AttributeValueMemberS{Value: models.PlayerSKPrefix()},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query participants: %w", err)
		}

		var page []models.Participant
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
		}
		participants = append(participants, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return participants, nil
}

func (r *participantRepo) Start(
	ctx context.Context,
	sessionId, participantId string,
	at time.Time,
) (*models.Participant, error) {
	return r.stampOnce(ctx, sessionId, participantId, "started_at", at)
}

func (r *participantRepo) ForceFinish(
	ctx context.Context,
	sessionId, participantId string,
	at time.Time,
) (*models.Participant, error) {
	return r.stampOnce(ctx, sessionId, participantId, "finished_at", at)
}

func (r *participantRepo) stampOnce(
	ctx context.Context,
	sessionId, participantId, field string,
	at time.Time,
) (*models.Participant, error) {
	result, err := r.db.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.db.Table()),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
			"SK": &types.AttributeValueMemberS{Value: models.PlayerSK(participantId)},
		},
		UpdateExpression: aws.String("SET #field = :at, updated_at = :at"),
		ExpressionAttributeNames: map[string]string{
			"#field": field,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberS{Value: at.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_not_exists(#field)"),
		ReturnValues:        types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stamp participant %s: %w", field, err)
	}

	var participant models.Participant
	if err := attributevalue.UnmarshalMap(result.Attributes, &participant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}

	return &participant, nil
}
