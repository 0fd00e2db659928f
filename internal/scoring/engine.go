// Package scoring computes the point award for a single submission. It is a
// pure function of its inputs; all tunables arrive through models.ScoringParams
// so new scoring tables need no engine change.
package scoring

import (
	"math"

	"github.com/liveplay/engine/models"
)

type Mode string

const (
	ModeSimple        Mode = "simple"
	ModeTimeOnly      Mode = "time_only"
	ModeStreakOnly    Mode = "streak_only"
	ModeTimeAndStreak Mode = "time_and_streak"
)

type Input struct {
	Valid       bool
	LatencyMs   int64
	TimeLimitMs int64
	// Streak is the participant's consecutive-valid count entering this
	// submission.
	Streak int
	Mode   Mode
}

type Result struct {
	BasePoints       int
	TimeBonus        int
	StreakMultiplier float64
	TotalPoints      int
	NewStreak        int
}

// Calculate scores one submission. An invalid submission always yields zero
// points and resets the streak, regardless of mode.
func Calculate(in Input, params models.ScoringParams) Result {
	if !in.Valid {
		return Result{StreakMultiplier: 1.0, NewStreak: 0}
	}

	res := Result{
		BasePoints:       params.BasePoints,
		StreakMultiplier: 1.0,
		NewStreak:        in.Streak + 1,
	}

	switch in.Mode {
	case ModeTimeOnly:
		res.TimeBonus = timeBonus(in.LatencyMs, in.TimeLimitMs, params.TimeBonusMax)
		res.TotalPoints = res.BasePoints + res.TimeBonus
	case ModeStreakOnly:
		res.StreakMultiplier = multiplierFor(in.Streak, params.StreakMultipliers)
		res.TotalPoints = int(math.Round(float64(res.BasePoints) * res.StreakMultiplier))
	case ModeTimeAndStreak:
		res.TimeBonus = timeBonus(in.LatencyMs, in.TimeLimitMs, params.TimeBonusMax)
		res.StreakMultiplier = multiplierFor(in.Streak, params.StreakMultipliers)
		res.TotalPoints = int(math.Round(float64(res.BasePoints+res.TimeBonus) * res.StreakMultiplier))
	default:
		// simple mode: fixed base points, no bonuses
		res.TotalPoints = res.BasePoints
	}

	return res
}

// timeBonus interpolates linearly from the full bonus at latency zero down to
// zero at the limit. Never negative; a session without a limit gets no bonus.
func timeBonus(latencyMs, limitMs int64, maxBonus int) int {
	if limitMs <= 0 || maxBonus <= 0 {
		return 0
	}
	if latencyMs < 0 {
		latencyMs = 0
	}
	if latencyMs > limitMs {
		latencyMs = limitMs
	}
	return int(math.Round(float64(maxBonus) * (1 - float64(latencyMs)/float64(limitMs))))
}

// multiplierFor rewards the run the participant is on entering the
// submission. The table plateaus at its last entry.
func multiplierFor(streak int, table []float64) float64 {
	if len(table) == 0 {
		return 1.0
	}
	if streak < 1 {
		streak = 1
	}
	if streak > len(table) {
		streak = len(table)
	}
	return table[streak-1]
}
