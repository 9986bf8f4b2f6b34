package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
)

// statusTTL is how long the last status snapshot of a debate is kept
const statusTTL = 24 * time.Hour

var _ progression.EventPublisher = (*EventBus)(nil)

// EventsChannel is the pub/sub channel carrying a debate's events
func EventsChannel(debateID uuid.UUID) string {
	return fmt.Sprintf("debate:%s:events", debateID)
}

// StatusKey holds the latest status event of a debate
func StatusKey(debateID uuid.UUID) string {
	return fmt.Sprintf("debate:%s:status", debateID)
}

// EventBus publishes debate events on Redis pub/sub
type EventBus struct {
	cache  *RedisCache
	logger *slog.Logger
}

// NewEventBus creates a publisher/subscriber over cache
func NewEventBus(cache *RedisCache, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{cache: cache, logger: logger}
}

// Publish sends event to the debate's channel. Status events are also kept
// as a snapshot so late subscribers can show where the debate stands.
func (b *EventBus) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if event.Type == domain.EventStatus {
		if err := b.cache.Set(ctx, StatusKey(event.DebateID), payload, statusTTL); err != nil {
			b.logger.Warn("failed to store status snapshot",
				slog.String("debate_id", event.DebateID.String()),
				slog.Any("error", err))
		}
	}

	receivers, err := b.cache.Publish(ctx, EventsChannel(event.DebateID), payload)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	b.logger.Debug("event published",
		slog.String("debate_id", event.DebateID.String()),
		slog.String("type", string(event.Type)),
		slog.Int64("receivers", receivers))
	return nil
}

// LastStatus returns the latest status snapshot, or nil when none is stored
func (b *EventBus) LastStatus(ctx context.Context, debateID uuid.UUID) (*domain.Event, error) {
	raw, err := b.cache.GetBytes(ctx, StatusKey(debateID))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read status snapshot: %w", err)
	}
	event, err := DecodeEvent(raw)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Watch delivers the debate's events to fn until ctx ends or fn returns an
// error. Undecodable messages are logged and skipped.
func (b *EventBus) Watch(ctx context.Context, debateID uuid.UUID, fn func(domain.Event) error) error {
	sub := b.cache.Subscribe(ctx, EventsChannel(debateID))
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading messages
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("skipping malformed event", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			if err := fn(event); err != nil {
				return err
			}
		}
	}
}

// DecodeEvent parses one published message
func DecodeEvent(raw []byte) (domain.Event, error) {
	var event domain.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, fmt.Errorf("decode event: %w", err)
	}
	switch event.Type {
	case domain.EventTurn, domain.EventStatus:
	default:
		return event, fmt.Errorf("unknown event type %q", event.Type)
	}
	return event, nil
}
