package progression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/pkg/clock"
)

// RetryDelay is the exponential task backoff: base * 2^attempt, capped at ceiling
func RetryDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}

// FailureController moves a debate to failed once its task retries run out
type FailureController struct {
	store  Store
	events EventPublisher
	clock  clock.Clock
	logger *slog.Logger
}

// NewFailureController creates a new failure controller
func NewFailureController(store Store, events EventPublisher, logger *slog.Logger) *FailureController {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &FailureController{store: store, events: events, clock: clock.System{}, logger: logger}
}

// MarkFailed records cause and fails the debate. It waits for the row lock.
// A pending stop request wins over the failure; terminal debates are left alone.
func (c *FailureController) MarkFailed(ctx context.Context, debateID uuid.UUID, cause error) error {
	msg := "retries exhausted"
	if cause != nil {
		msg = TruncateError(cause.Error())
	}

	var event *domain.Event
	err := c.store.WithLockedDebate(ctx, debateID, LockWait, func(ctx context.Context, tx Tx, d *domain.Debate) error {
		switch d.Status {
		case domain.StatusStopping:
			d.Status = domain.StatusStopped
			d.SetStopReason(domain.StopManual)
		case domain.StatusRunning:
			d.Status = domain.StatusFailed
			d.SetStopReason(domain.StopError)
		default:
			return nil
		}
		d.SetLastError(msg)
		if err := tx.SaveDebate(ctx, d); err != nil {
			return err
		}
		e := domain.NewStatusEvent(d, c.clock.NowUTC())
		event = &e
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark debate failed: %w", err)
	}

	if event != nil {
		c.logger.Error("debate failed after exhausting retries",
			slog.String("debate_id", debateID.String()),
			slog.String("status", string(event.Status)),
			slog.String("last_error", msg),
		)
		if err := c.events.Publish(ctx, *event); err != nil {
			c.logger.Warn("failed to publish event", slog.String("debate_id", debateID.String()), slog.Any("error", err))
		}
	}
	return nil
}
