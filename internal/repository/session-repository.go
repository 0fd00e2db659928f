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

type SessionRepository interface {
	Create(ctx context.Context, cfg *models.SessionConfig) error
	Get(ctx context.Context, sessionId string) (*models.SessionConfig, error)
	// TransitionPhase applies from→to with a phase guard so concurrent
	// operator calls cannot double-apply. Returns nil when the guard failed.
	TransitionPhase(ctx context.Context, sessionId string, from, to models.Phase, now time.Time) (*models.SessionConfig, error)
	// DeleteSessionData removes every participant and event item of the
	// session, keeping the config item. Returns the purged participant and
	// event counts.
	DeleteSessionData(ctx context.Context, sessionId string) (participants, events int, err error)
}

type sessionRepo struct {
	db *database.DynamoDBClient
}

func NewSessionRepository(db *database.DynamoDBClient) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, cfg *models.SessionConfig) error {
	cfg.PK = models.SessionPK(cfg.SessionId)
	cfg.SK = models.ConfigSK()
	cfg.Version = 1
	cfg.CreatedAt = time.Now().UTC()
	cfg.UpdatedAt = cfg.CreatedAt

	item, err := attributevalue.MarshalMap(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal session config: %w", err)
	}

	_, err = r.db.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.db.Table()),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("failed to create session config: %w", err)
	}

	return nil
}

func (r *sessionRepo) Get(ctx context.Context, sessionId string) (*models.SessionConfig, error) {
	result, err := r.db.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.db.Table()),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
			"SK": &types.AttributeValueMemberS{Value: models.ConfigSK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session config: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var cfg models.SessionConfig
	if err := attributevalue.UnmarshalMap(result.Item, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session config: %w", err)
	}

	return &cfg, nil
}

func (r *sessionRepo) TransitionPhase(
	ctx context.Context,
	sessionId string,
	from, to models.Phase,
	now time.Time,
) (*models.SessionConfig, error) {
	update := "SET phase = :to, version = version + :one, updated_at = :now"
	values := map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: string(from)},
		":to":   &types.AttributeValueMemberS{Value: string(to)},
		":one":  &types.AttributeValueMemberN{Value: "1"},
		":now":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}

	// Entering play stamps started_at, leaving it stamps ended_at; both feed
	// time-limit and latency math later.
	switch to {
	case models.PhaseActive:
		update += ", started_at = :now"
	case models.PhaseFinished:
		update += ", ended_at = :now"
	case models.PhaseRegistration:
		update += " REMOVE started_at, ended_at"
	}

	result, err := r.db.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.db.Table()),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
			"SK": &types.AttributeValueMemberS{Value: models.ConfigSK()},
		},
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(PK) AND phase = :from"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to transition session phase: %w", err)
	}

	var cfg models.SessionConfig
	if err := attributevalue.UnmarshalMap(result.Attributes, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session config: %w", err)
	}

	return &cfg, nil
}

func (r *sessionRepo) DeleteSessionData(ctx context.Context, sessionId string) (participants, events int, err error) {
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.db.Client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.db.Table()),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: models.SessionPK(sessionId)},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return participants, events, fmt.Errorf("failed to query session items: %w", err)
		}

		var requests []types.WriteRequest
		for _, item := range result.Items {
			pk, ok := item["PK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			// Deletes are irreversible; never let an item outside this
			// session's partition into the batch.
			if sid, err := models.ExtractSessionID(pk.Value); err != nil || sid != sessionId {
				continue
			}
			sk, ok := item["SK"].(*types.AttributeValueMemberS)
			if !ok || sk.Value == models.ConfigSK() {
				continue
			}
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: item},
			})
		}

		// BatchWriteItem takes at most 25 requests per call.
		for len(requests) > 0 {
			batch := requests
			if len(batch) > 25 {
				batch = batch[:25]
			}
			requests = requests[len(batch):]

			_, err := r.db.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					r.db.Table(): batch,
				},
			})
			if err != nil {
				return participants, events, fmt.Errorf("failed to delete session items: %w", err)
			}
			for _, wr := range batch {
				sk, ok := wr.DeleteRequest.Key["SK"].(*types.AttributeValueMemberS)
				if !ok {
					continue
				}
				if _, err := models.ExtractParticipantID(sk.Value); err == nil {
					participants++
				} else {
					events++
				}
			}
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return participants, events, nil
}
