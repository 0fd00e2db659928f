package events

import "time"

const (
	// Streams
	LedgerEventsStream = "LEDGER_EVENTS"

	// Subjects
	LedgerCommitted = "events.ledger.committed"
	LedgerReset     = "events.ledger.reset"

	// Subject Wildcards
	LedgerEventsWildcard = "events.ledger.*"
)

// CommitEvent carries everything the projector needs to mirror one ledger
// commit without reading the ledger back.
type CommitEvent struct {
	SessionId      string    `json:"session_id"`
	ParticipantId  string    `json:"participant_id"`
	DisplayName    string    `json:"display_name"`
	GroupId        string    `json:"group_id,omitempty"`
	TargetId       string    `json:"target_id"`
	PointsAwarded  int       `json:"points_awarded"`
	AggregateScore int       `json:"aggregate_score"`
	CompletedCount int       `json:"completed_count"`
	SequenceNumber int       `json:"sequence_number"`
	Complete       bool      `json:"complete"`
	TieBreakMs     int64     `json:"tie_break_ms"`
	At             time.Time `json:"at"`
}

// ResetEvent signals that a session's ledger data was cleared and any
// projected state for it must be dropped.
type ResetEvent struct {
	SessionId string    `json:"session_id"`
	At        time.Time `json:"at"`
}
