package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	commonevents "github.com/liveplay/engine/events"
	"github.com/liveplay/engine/internal/projector"
	"github.com/liveplay/engine/logger"
	"github.com/liveplay/engine/natsjetstream"
)

// EventSubscriber is the projector worker: it consumes ledger commits off the
// stream and applies them to the Redis mirror, decoupling leaderboard
// propagation from submission latency.
type EventSubscriber struct {
	natsClient *natsjetstream.Client
	subscriber *natsjetstream.Subscriber
	projector  *projector.Projector
	logger     *logger.Logger
}

func NewEventSubscriber(
	natsClient *natsjetstream.Client,
	proj *projector.Projector,
	log *logger.Logger,
) *EventSubscriber {
	return &EventSubscriber{
		natsClient: natsClient,
		subscriber: natsjetstream.NewSubscriber(natsClient),
		projector:  proj,
		logger:     log.With("component", "event-subscriber"),
	}
}

func (s *EventSubscriber) Start(ctx context.Context) error {
	s.logger.Info("Starting ledger event subscription")

	cfg := natsjetstream.ConsumerConfig{
		StreamName:   commonevents.LedgerEventsStream,
		ConsumerName: "engine-projector",
		Durable:      "engine-projector",
		AckPolicy:    "explicit",
	}

	if err := s.subscriber.Subscribe(ctx, cfg, s.handleLedgerEvents); err != nil {
		return fmt.Errorf("failed to subscribe to ledger events: %w", err)
	}

	s.logger.Info("Ledger event subscription started")
	return nil
}

func (s *EventSubscriber) handleLedgerEvents(ctx context.Context, msg jetstream.Msg) error {
	subject := msg.Subject()

	switch subject {
	case commonevents.LedgerCommitted:
		return s.handleCommitted(ctx, msg)
	case commonevents.LedgerReset:
		return s.handleReset(ctx, msg)
	default:
		s.logger.Warn("Unknown ledger event subject", "subject", subject)
		return nil
	}
}

func (s *EventSubscriber) handleCommitted(ctx context.Context, msg jetstream.Msg) error {
	var ev commonevents.CommitEvent
	if err := natsjetstream.UnmarshalJSON(msg, &ev); err != nil {
		s.logger.Error("Failed to unmarshal ledger commit event", "error", err)
		// Unreadable payloads never become readable; drop instead of redelivering.
		return nil
	}

	if err := s.projector.Apply(ctx, ev); err != nil {
		s.logger.Error("Failed to apply commit to projector",
			"error", err,
			"session_id", ev.SessionId,
			"participant_id", ev.ParticipantId,
		)
		return fmt.Errorf("projector apply error: %w", err)
	}

	return nil
}

func (s *EventSubscriber) handleReset(ctx context.Context, msg jetstream.Msg) error {
	var ev commonevents.ResetEvent
	if err := natsjetstream.UnmarshalJSON(msg, &ev); err != nil {
		s.logger.Error("Failed to unmarshal ledger reset event", "error", err)
		return nil
	}

	if err := s.projector.Clear(ctx, ev.SessionId); err != nil {
		s.logger.Error("Failed to clear projector state",
			"error", err,
			"session_id", ev.SessionId,
		)
		return fmt.Errorf("projector clear error: %w", err)
	}

	return nil
}
