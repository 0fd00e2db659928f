package models

import (
	"fmt"
	"time"
)

// Phase is the lifecycle state of a session. Transitions are operator
// triggered and one-way in the common path; registration is reachable again
// only through an explicit reset.
type Phase string

const (
	PhaseRegistration Phase = "registration"
	PhaseCountdown    Phase = "countdown"
	PhaseActive       Phase = "active"
	PhaseFinished     Phase = "finished"
	PhaseResults      Phase = "results"
)

// SubmissionKind tags what a session scores.
type SubmissionKind string

const (
	KindScan SubmissionKind = "scan"
	KindVote SubmissionKind = "vote"
)

// OrderPolicy controls how out-of-sequence submissions are handled.
type OrderPolicy string

const (
	OrderNone     OrderPolicy = "none"
	OrderStrict   OrderPolicy = "strict"
	OrderTolerant OrderPolicy = "tolerant"
)

type Target struct {
	TargetId   string `dynamodbav:"target_id" json:"target_id"`
	Value      string `dynamodbav:"value" json:"value"`
	Label      string `dynamodbav:"label" json:"label"`
	Points     int    `dynamodbav:"points" json:"points"`
	Category   string `dynamodbav:"category" json:"category"`
	OrderIndex int    `dynamodbav:"order_index" json:"order_index"`
	Active     bool   `dynamodbav:"active" json:"active"`
}

type SessionRules struct {
	ScoringMode     string      `dynamodbav:"scoring_mode" json:"scoring_mode"`
	OrderPolicy     OrderPolicy `dynamodbav:"order_policy" json:"order_policy"`
	TimeLimitMs     int64       `dynamodbav:"time_limit_ms" json:"time_limit_ms"`
	RequireCategory bool        `dynamodbav:"require_category" json:"require_category"`
}

// ScoringParams are the configuration-level scoring constants. StreakMultipliers
// is indexed by the consecutive-correct count entering the submission (index 0
// covers streaks of zero or one); the last entry is the plateau.
type ScoringParams struct {
	BasePoints        int       `dynamodbav:"base_points" json:"base_points"`
	TimeBonusMax      int       `dynamodbav:"time_bonus_max" json:"time_bonus_max"`
	StreakMultipliers []float64 `dynamodbav:"streak_multipliers" json:"streak_multipliers"`
}

// SessionConfig is the versioned configuration owned by the session authority.
// It is replaced wholesale on every change, never partially mutated.
type SessionConfig struct {
	SessionId string         `dynamodbav:"session_id" json:"session_id"`
	Name      string         `dynamodbav:"name" json:"name"`
	Phase     Phase          `dynamodbav:"phase" json:"phase"`
	Kind      SubmissionKind `dynamodbav:"kind" json:"kind"`
	Targets   []Target       `dynamodbav:"targets" json:"targets"`
	Rules     SessionRules   `dynamodbav:"rules" json:"rules"`
	Scoring   ScoringParams  `dynamodbav:"scoring" json:"scoring"`
	Version   int64          `dynamodbav:"version" json:"version"`
	StartedAt *time.Time     `dynamodbav:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt   *time.Time     `dynamodbav:"ended_at,omitempty" json:"ended_at,omitempty"`
	CreatedAt time.Time      `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time      `dynamodbav:"updated_at" json:"updated_at"`

	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`
}

// TargetByValue resolves a submitted value to an active target.
func (c *SessionConfig) TargetByValue(value string) *Target {
	for i := range c.Targets {
		if c.Targets[i].Value == value && c.Targets[i].Active {
			return &c.Targets[i]
		}
	}
	return nil
}

// RequiredTargetCount is how many active targets a participant must score to
// be complete. Voting sessions have no completion requirement.
func (c *SessionConfig) RequiredTargetCount() int {
	if c.Kind == KindVote {
		return 0
	}
	n := 0
	for i := range c.Targets {
		if c.Targets[i].Active {
			n++
		}
	}
	return n
}

// Admits reports whether the current phase accepts submissions.
func (c *SessionConfig) Admits() bool {
	return c.Phase == PhaseActive
}

// Key handlers
func SessionPK(sessionId string) string {
	return fmt.Sprintf("SESSION#%s", sessionId)
}

func ConfigSK() string {
	return "CONFIG"
}

func ExtractSessionID(pk string) (string, error) {
	if len(pk) < 9 || pk[:8] != "SESSION#" {
		return "", fmt.Errorf("invalid session PK format: %s", pk)
	}
	return pk[8:], nil
}
