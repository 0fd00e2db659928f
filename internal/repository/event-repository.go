package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/liveplay/engine/database"
	"github.com/liveplay/engine/models"
)

type EventRepository interface {
	Get(ctx context.Context, sessionId, participantId, targetId string) (*models.SubmissionEvent, error)
	ListBySession(ctx context.Context, sessionId string) ([]models.SubmissionEvent, error)

	// Transactions
	GetTransactionForAppend(event *models.SubmissionEvent) (types.Put, error)
}

type eventRepo struct {
	db *database.DynamoDBClient
}

func NewEventRepository(db *database.DynamoDBClient) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) Get(
	ctx context.Context,
	sessionId, participantId, targetId string,
) (*models.SubmissionEvent, error) {
	result, err := r.db.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.db.Table()),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
			"SK": &types.AttributeValueMemberS{Value: models.EventSK(participantId, targetId)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get submission event: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var event models.SubmissionEvent
	if err := attributevalue.UnmarshalMap(result.Item, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission event: %w", err)
	}

	return &event, nil
}

func (r *eventRepo) ListBySession(ctx context.Context, sessionId string) ([]models.SubmissionEvent, error) {
	var events []models.SubmissionEvent
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.db.Client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.db.Table()),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
				":prefix": &types.AttributeValueMemberS{Value: models.EventSKPrefix()},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query submission events: %w", err)
		}

		var page []models.SubmissionEvent
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal submission events: %w", err)
		}
		events = append(events, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return events, nil
}

func (r *eventRepo) GetTransactionForAppend(event *models.SubmissionEvent) (types.Put, error) {
	event.PK = models.SessionPK(event.SessionId)
	event.SK = models.EventSK(event.ParticipantId, event.TargetId)

	item, err := attributevalue.MarshalMap(event)
	if err != nil {
		return types.Put{}, fmt.Errorf("failed to marshal submission event: %w", err)
	}

	return types.Put{
		TableName:           aws.String(r.db.Table()),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}, nil
}
