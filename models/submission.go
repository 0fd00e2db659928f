package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var eventNamespace = uuid.MustParse("7b9db3a6-1f24-4a38-9c17-2d5db13e8a61")

// SubmissionEvent is one durable scoring attempt, append-only and immutable
// once written. EventId is deterministic over (session, participant, target)
// so a retried commit carries the same idempotency key as the original.
type SubmissionEvent struct {
	EventId       string         `dynamodbav:"event_id" json:"event_id"`
	SessionId     string         `dynamodbav:"session_id" json:"session_id"`
	ParticipantId string         `dynamodbav:"participant_id" json:"participant_id"`
	TargetId      string         `dynamodbav:"target_id" json:"target_id"`
	Kind          SubmissionKind `dynamodbav:"kind" json:"kind"`

	IsValid        bool  `dynamodbav:"is_valid" json:"is_valid"`
	PointsAwarded  int   `dynamodbav:"points_awarded" json:"points_awarded"`
	SequenceNumber int   `dynamodbav:"sequence_number" json:"sequence_number"`
	OutOfOrder     bool  `dynamodbav:"out_of_order" json:"out_of_order"`
	LatencyMs      int64 `dynamodbav:"latency_ms" json:"latency_ms"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`

	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`
}

// SubmissionEventID derives the idempotency key for a scoring attempt.
func SubmissionEventID(sessionId, participantId, targetId string) string {
	return uuid.NewSHA1(eventNamespace, []byte(sessionId+"/"+participantId+"/"+targetId)).String()
}

// Key handlers
func EventSK(participantId, targetId string) string {
	return fmt.Sprintf("EVENT#%s#%s", participantId, targetId)
}

func EventSKPrefix() string {
	return "EVENT#"
}

func PlayerSKPrefix() string {
	return "PLAYER#"
}
