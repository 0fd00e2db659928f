package models

import "time"

// LeaderboardEntry is a projected, denormalized row. It is derived state and
// may be transiently stale; the reconciler can always rebuild it from the
// participant and submission records.
type LeaderboardEntry struct {
	ParticipantId  string `json:"participant_id"`
	DisplayName    string `json:"display_name"`
	GroupId        string `json:"group_id,omitempty"`
	Score          int    `json:"score"`
	Rank           int    `json:"rank"`
	CompletedCount int    `json:"completed_count"`
	Complete       bool   `json:"complete"`
	TieBreakMs     int64  `json:"tie_break_ms"`
}

// RecentEvent is one row of the bounded recent-submissions feed.
type RecentEvent struct {
	ParticipantId string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	TargetId      string    `json:"target_id"`
	Points        int       `json:"points"`
	At            time.Time `json:"at"`
}

// LeaderboardView is the response shape of a leaderboard query.
type LeaderboardView struct {
	SessionId   string             `json:"session_id"`
	Entries     []LeaderboardEntry `json:"entries"`
	Requester   *LeaderboardEntry  `json:"requester,omitempty"`
	Recent      []RecentEvent      `json:"recent,omitempty"`
	LastUpdated time.Time          `json:"last_updated"`
}
