// Package projector maintains the denormalized leaderboard mirror in Redis.
// It is derived state: writes are best-effort, reads may lag the ledger, and
// the reconciler can atomically replace everything here at any time.
package projector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liveplay/engine/cache"
	"github.com/liveplay/engine/events"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/models"
)

// Key Generation Helpers

func entriesKey(sessionId string) string {
	return fmt.Sprintf("leaderboard:entries:%s", sessionId)
}

func recentKey(sessionId string) string {
	return fmt.Sprintf("leaderboard:recent:%s", sessionId)
}

func updatedKey(sessionId string) string {
	return fmt.Sprintf("leaderboard:updated:%s", sessionId)
}

type Projector struct {
	client     *redis.Client
	logger     *logger.Logger
	recentSize int
	ttl        time.Duration
}

func New(redisClient *cache.RedisClient, recentSize int, ttl time.Duration, log *logger.Logger) *Projector {
	if recentSize <= 0 {
		recentSize = 25
	}
	return &Projector{
		client:     redisClient.GetClient(),
		logger:     log.With("component", "projector"),
		recentSize: recentSize,
		ttl:        ttl,
	}
}

// Register seeds a zero-score entry so the participant shows on the board
// before their first commit.
func (p *Projector) Register(ctx context.Context, sessionId string, entry models.LeaderboardEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard entry: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.HSet(ctx, entriesKey(sessionId), entry.ParticipantId, data)
	pipe.Expire(ctx, entriesKey(sessionId), p.ttl)
	pipe.Set(ctx, updatedKey(sessionId), time.Now().UTC().Format(time.RFC3339Nano), p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register leaderboard entry: %w", err)
	}
	return nil
}

// Apply mirrors one ledger commit. The recent feed is bounded by
// trim-after-append, never by unbounded growth.
func (p *Projector) Apply(ctx context.Context, ev events.CommitEvent) error {
	entry := models.LeaderboardEntry{
		ParticipantId:  ev.ParticipantId,
		DisplayName:    ev.DisplayName,
		GroupId:        ev.GroupId,
		Score:          ev.AggregateScore,
		CompletedCount: ev.CompletedCount,
		Complete:       ev.Complete,
		TieBreakMs:     ev.TieBreakMs,
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard entry: %w", err)
	}

	recent := models.RecentEvent{
		ParticipantId: ev.ParticipantId,
		DisplayName:   ev.DisplayName,
		TargetId:      ev.TargetId,
		Points:        ev.PointsAwarded,
		At:            ev.At,
	}
	recentData, err := json.Marshal(recent)
	if err != nil {
		return fmt.Errorf("failed to marshal recent event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.HSet(ctx, entriesKey(ev.SessionId), ev.ParticipantId, entryData)
	pipe.Expire(ctx, entriesKey(ev.SessionId), p.ttl)
	pipe.LPush(ctx, recentKey(ev.SessionId), recentData)
	pipe.LTrim(ctx, recentKey(ev.SessionId), 0, int64(p.recentSize-1))
	pipe.Expire(ctx, recentKey(ev.SessionId), p.ttl)
	pipe.Set(ctx, updatedKey(ev.SessionId), ev.At.Format(time.RFC3339Nano), p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to apply commit to leaderboard: %w", err)
	}
	return nil
}

type Query struct {
	SessionId   string
	GroupFilter string
	Limit       int
	RequesterId string
}

// Snapshot reads and ranks the mirror. Returns nil when nothing is projected
// for the session, letting the caller fall back to a rebuild.
func (p *Projector) Snapshot(ctx context.Context, q Query) (*models.LeaderboardView, error) {
	raw, err := p.client.HGetAll(ctx, entriesKey(q.SessionId)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard entries: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	entries := make([]models.LeaderboardEntry, 0, len(raw))
	for participantId, data := range raw {
		var entry models.LeaderboardEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			p.logger.Warn("Dropping unreadable leaderboard entry",
				"session_id", q.SessionId,
				"participant_id", participantId,
			)
			continue
		}
		if q.GroupFilter != "" && entry.GroupId != q.GroupFilter {
			continue
		}
		entries = append(entries, entry)
	}

	Rank(entries)

	view := &models.LeaderboardView{
		SessionId: q.SessionId,
		Entries:   entries,
	}

	if q.RequesterId != "" {
		for i := range entries {
			if entries[i].ParticipantId == q.RequesterId {
				requester := entries[i]
				view.Requester = &requester
				break
			}
		}
	}

	if q.Limit > 0 && len(entries) > q.Limit {
		view.Entries = entries[:q.Limit]
	}

	if updated, err := p.client.Get(ctx, updatedKey(q.SessionId)).Result(); err == nil {
		if ts, parseErr := time.Parse(time.RFC3339Nano, updated); parseErr == nil {
			view.LastUpdated = ts
		}
	}

	if rows, err := p.client.LRange(ctx, recentKey(q.SessionId), 0, int64(p.recentSize-1)).Result(); err == nil {
		for _, row := range rows {
			var ev models.RecentEvent
			if json.Unmarshal([]byte(row), &ev) == nil {
				view.Recent = append(view.Recent, ev)
			}
		}
	}

	return view, nil
}

// Replace swaps the whole projected state in one transaction; the rebuild
// path depends on readers never observing a half-written board.
func (p *Projector) Replace(ctx context.Context, sessionId string, entries []models.LeaderboardEntry, at time.Time) error {
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, entriesKey(sessionId), recentKey(sessionId))

	for i := range entries {
		data, err := json.Marshal(entries[i])
		if err != nil {
			return fmt.Errorf("failed to marshal leaderboard entry: %w", err)
		}
		pipe.HSet(ctx, entriesKey(sessionId), entries[i].ParticipantId, data)
	}
	if len(entries) > 0 {
		pipe.Expire(ctx, entriesKey(sessionId), p.ttl)
	}
	pipe.Set(ctx, updatedKey(sessionId), at.Format(time.RFC3339Nano), p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace leaderboard state: %w", err)
	}
	return nil
}

// Clear drops every projected key for the session.
func (p *Projector) Clear(ctx context.Context, sessionId string) error {
	err := p.client.Del(ctx, entriesKey(sessionId), recentKey(sessionId), updatedKey(sessionId)).Err()
	if err != nil {
		return fmt.Errorf("failed to clear leaderboard state: %w", err)
	}
	return nil
}
