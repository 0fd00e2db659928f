package events

import (
	"context"
	"time"

	commonevents "github.com/liveplay/engine/events"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/natsjetstream"
)

// EventPublisher emits ledger commits and resets onto the stream the
// projector worker consumes. Publishing is best-effort from the caller's
// point of view: a failed publish is logged and repaired later by a rebuild,
// never retried on the request path.
type EventPublisher struct {
	publisher *natsjetstream.Publisher
	logger    *logger.Logger
}

func NewEventPublisher(client *natsjetstream.Client, log *logger.Logger) *EventPublisher {
	return &EventPublisher{
		publisher: natsjetstream.NewPublisher(client),
		logger:    log.With("component", "event-publisher"),
	}
}

func (p *EventPublisher) PublishCommitted(ctx context.Context, ev commonevents.CommitEvent) error {
	if err := p.publisher.PublishJSON(ctx, commonevents.LedgerCommitted, ev); err != nil {
		p.logger.Error("Failed to publish ledger commit event",
			"error", err,
			"session_id", ev.SessionId,
			"participant_id", ev.ParticipantId,
		)
		return err
	}

	p.logger.Debug("Published ledger commit event",
		"session_id", ev.SessionId,
		"participant_id", ev.ParticipantId,
		"sequence", ev.SequenceNumber,
	)
	return nil
}

func (p *EventPublisher) PublishReset(ctx context.Context, sessionId string) error {
	ev := commonevents.ResetEvent{
		SessionId: sessionId,
		At:        time.Now().UTC(),
	}

	if err := p.publisher.PublishJSON(ctx, commonevents.LedgerReset, ev); err != nil {
		p.logger.Error("Failed to publish ledger reset event",
			"error", err,
			"session_id", sessionId,
		)
		return err
	}

	p.logger.Info("Published ledger reset event", "session_id", sessionId)
	return nil
}
