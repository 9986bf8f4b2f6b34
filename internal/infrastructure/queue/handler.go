package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
)

// Advancer runs one advancement cycle
type Advancer interface {
	Advance(ctx context.Context, debateID uuid.UUID) (progression.Outcome, error)
}

// FailureMarker fails a debate once its retries are exhausted
type FailureMarker interface {
	MarkFailed(ctx context.Context, debateID uuid.UUID, cause error) error
}

// RetryState reports how often the running task was retried and its limit
type RetryState func(ctx context.Context) (retried, maxRetry int, ok bool)

// AsynqRetryState reads the retry counters asynq stores on the task context
func AsynqRetryState(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return 0, 0, false
	}
	return retried, maxRetry, true
}

// AdvanceHandler processes debate:advance tasks
type AdvanceHandler struct {
	worker   Advancer
	failures FailureMarker
	retries  RetryState
	logger   *slog.Logger
}

// NewAdvanceHandler creates the debate:advance handler
func NewAdvanceHandler(worker Advancer, failures FailureMarker, logger *slog.Logger) *AdvanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvanceHandler{
		worker:   worker,
		failures: failures,
		retries:  AsynqRetryState,
		logger:   logger,
	}
}

// WithRetryState overrides how retry counters are read
func (h *AdvanceHandler) WithRetryState(rs RetryState) *AdvanceHandler {
	h.retries = rs
	return h
}

// Register binds the handler on srv
func (h *AdvanceHandler) Register(srv *AsynqServer) {
	srv.Use(LogTasks(h.logger))
	srv.HandleFunc(TaskTypeDebateAdvance, h.ProcessTask)
}

// LogTasks logs the type, duration and result of every processed task
func LogTasks(logger *slog.Logger) func(asynq.Handler) asynq.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, task)
			attrs := []any{
				slog.String("type", task.Type()),
				slog.Duration("took", time.Since(start)),
			}
			if err != nil {
				logger.Warn("task failed", append(attrs, slog.Any("error", err))...)
				return err
			}
			logger.Debug("task processed", attrs...)
			return nil
		})
	}
}

// ProcessTask runs one cycle. Malformed payloads and missing debates are not
// retried. On the last attempt the debate is marked failed before the error
// is handed back to asynq.
func (h *AdvanceHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAdvancePayload(task)
	if err != nil {
		h.logger.Error("invalid advance task", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(slog.String("debate_id", payload.DebateID.String()))

	outcome, err := h.worker.Advance(ctx, payload.DebateID)
	if errors.Is(err, progression.ErrDebateNotFound) {
		log.Warn("debate no longer exists, dropping task")
		return nil
	}
	if err == nil {
		log.Debug("advance task done", slog.String("outcome", string(outcome)))
		return nil
	}

	retried, maxRetry, ok := h.retries(ctx)
	if ok && retried >= maxRetry {
		log.Error("advance retries exhausted",
			slog.Int("retried", retried),
			slog.Any("error", err))
		if markErr := h.failures.MarkFailed(ctx, payload.DebateID, err); markErr != nil {
			log.Error("failed to mark debate failed", slog.Any("error", markErr))
			return fmt.Errorf("advance debate: %w", errors.Join(err, markErr))
		}
		return fmt.Errorf("advance debate: %v: %w", err, asynq.SkipRetry)
	}

	log.Warn("advance cycle failed, will retry",
		slog.Int("retried", retried),
		slog.Int("max_retry", maxRetry),
		slog.Any("error", err))
	return fmt.Errorf("advance debate: %w", err)
}
