package models

import (
	"fmt"
	"time"
)

// Participant is one registered identity inside a session. Score fields are
// mutated only by the ledger commit path; everything in this struct is
// rebuildable from the participant's submission events.
type Participant struct {
	SessionId     string `dynamodbav:"session_id" json:"session_id"`
	ParticipantId string `dynamodbav:"participant_id" json:"participant_id"`
	DisplayName   string `dynamodbav:"display_name" json:"display_name"`
	Avatar        string `dynamodbav:"avatar" json:"avatar,omitempty"`
	GroupId       string `dynamodbav:"group_id" json:"group_id,omitempty"`
	Category      string `dynamodbav:"category" json:"category,omitempty"`

	JoinedAt   time.Time  `dynamodbav:"joined_at" json:"joined_at"`
	StartedAt  *time.Time `dynamodbav:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt *time.Time `dynamodbav:"finished_at,omitempty" json:"finished_at,omitempty"`

	AggregateScore   int `dynamodbav:"aggregate_score" json:"aggregate_score"`
	CompletedCount   int `dynamodbav:"completed_count" json:"completed_count"`
	ConsumedAttempts int `dynamodbav:"consumed_attempts" json:"consumed_attempts"`
	OutOfOrderCount  int `dynamodbav:"out_of_order_count" json:"out_of_order_count"`
	Streak           int `dynamodbav:"streak" json:"streak"`
	NextOrderIndex   int `dynamodbav:"next_order_index" json:"next_order_index"`

	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`

	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`
}

// Started reports whether the participant has started and not yet finished.
func (p *Participant) Started() bool {
	return p.StartedAt != nil && p.FinishedAt == nil
}

// Expired reports whether the session time limit has run out for this
// participant. A zero limit means no limit.
func (p *Participant) Expired(timeLimitMs int64, now time.Time) bool {
	if timeLimitMs <= 0 || p.StartedAt == nil {
		return false
	}
	return now.Sub(*p.StartedAt).Milliseconds() > timeLimitMs
}

// Key handlers
func PlayerSK(participantId string) string {
	return fmt.Sprintf("PLAYER#%s", participantId)
}

func ExtractParticipantID(sk string) (string, error) {
	if len(sk) < 8 || sk[:7] != "PLAYER#" {
		return "", fmt.Errorf("invalid player SK format: %s", sk)
	}
	return sk[7:], nil
}
