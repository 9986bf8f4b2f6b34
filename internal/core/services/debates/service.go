package debates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/pkg/clock"
	"github.com/alejandroruanova/debate-engine/internal/pkg/config"
	apperrors "github.com/alejandroruanova/debate-engine/internal/pkg/errors"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Repository holds the unlocked debate operations
type Repository interface {
	Create(ctx context.Context, debate *domain.Debate) error
	GetWithTurns(ctx context.Context, id uuid.UUID) (*domain.Debate, error)
	List(ctx context.Context, limit int) ([]domain.Debate, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// CreateRequest is the input of Create
type CreateRequest struct {
	Topic    string
	Settings domain.Settings
}

// Detail is a debate with its ordered transcript
type Detail struct {
	Debate          *domain.Debate `json:"debate"`
	Turns           []domain.Turn  `json:"turns"`
	CompletedRounds int            `json:"completed_rounds"`
}

// Summary is one row of List
type Summary struct {
	domain.Debate
	CompletedRounds int `json:"completed_rounds"`
}

// Service is the control surface for debates
type Service struct {
	repo     Repository
	store    progression.Store
	queue    progression.Enqueuer
	events   progression.EventPublisher
	defaults domain.Settings
	clock    clock.Clock
	logger   *slog.Logger
}

// NewService creates a new debate lifecycle service
func NewService(repo Repository, store progression.Store, queue progression.Enqueuer, defaults domain.Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		store:    store,
		queue:    queue,
		events:   progression.NopPublisher{},
		defaults: defaults,
		clock:    clock.System{},
		logger:   logger,
	}
}

// WithEvents sets the publisher used for status notifications
func (s *Service) WithEvents(p progression.EventPublisher) *Service {
	if p != nil {
		s.events = p
	}
	return s
}

// WithClock overrides the time source
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// DefaultSettings converts configured defaults into stored settings
func DefaultSettings(cfg config.DebateDefaults) domain.Settings {
	return domain.Settings{
		DebaterASide:         domain.SidePro,
		JudgeMode:            domain.JudgeAtEnd,
		MaxRounds:            domain.IntPtr(cfg.MaxRounds),
		MaxRuntimeSeconds:    domain.IntPtr(cfg.MaxRuntimeSeconds),
		MaxTotalOutputTokens: domain.IntPtr(cfg.MaxTotalOutputTokens),
		MaxTokensDebater:     domain.IntPtr(cfg.MaxTokensDebater),
		MaxTokensJudge:       domain.IntPtr(cfg.MaxTokensJudge),
		PromptVersion:        cfg.PromptVersion,
		Language:             domain.Language(cfg.Language),
	}
}

// Create stores a new debate in status created with defaults merged under the overrides
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Debate, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, apperrors.BadRequest("topic is required")
	}
	if err := req.Settings.Validate(); err != nil {
		return nil, apperrors.InvalidSettings(err)
	}

	overrides := req.Settings
	// started_at is owned by the lifecycle
	overrides.StartedAt = ""

	debate := &domain.Debate{
		Topic:     topic,
		Status:    domain.StatusCreated,
		NextRound: 1,
		NextActor: domain.ActorDebaterA,
	}
	debate.SetConfig(domain.Merge(s.defaults, overrides))

	if err := s.repo.Create(ctx, debate); err != nil {
		s.logger.Error("failed to create debate", slog.Any("error", err))
		return nil, apperrors.DatabaseError(err)
	}

	s.logger.Info("debate created", slog.String("debate_id", debate.ID.String()))
	return debate, nil
}

// CreateFromJSON parses raw settings, rejecting unknown keys, then creates
func (s *Service) CreateFromJSON(ctx context.Context, topic string, rawSettings []byte) (*domain.Debate, error) {
	settings, err := domain.ParseSettings(rawSettings)
	if err != nil {
		return nil, apperrors.InvalidSettings(err)
	}
	return s.Create(ctx, CreateRequest{Topic: topic, Settings: settings})
}

// Start moves a debate to running and enqueues the first cycle. It reports
// false when the debate was already running. A debate still stopping is set
// back to running without a new cycle, since its current one is queued.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.activate(ctx, id, "start")
}

// Resume continues a stopped or completed debate, clearing stop_reason and last_error
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.activate(ctx, id, "resume")
}

func (s *Service) activate(ctx context.Context, id uuid.UUID, action string) (bool, error) {
	var (
		enqueue bool
		event   domain.Event
	)
	err := s.store.WithLockedDebate(ctx, id, progression.LockWait, func(ctx context.Context, tx progression.Tx, d *domain.Debate) error {
		switch d.Status {
		case domain.StatusRunning:
			return nil
		case domain.StatusFailed:
			return apperrors.InvalidTransition(string(d.Status), action)
		case domain.StatusStopping:
			// the chain that would have honored the stop is still scheduled
			d.Status = domain.StatusRunning
			event = domain.NewStatusEvent(d, s.clock.NowUTC())
			return tx.SaveDebate(ctx, d)
		}

		now := s.clock.NowUTC()
		settings := d.Config()
		if settings.MarkStarted(now) {
			d.SetConfig(settings)
		}
		d.Status = domain.StatusRunning
		d.StopReason = nil
		d.SetLastError("")
		if err := tx.SaveDebate(ctx, d); err != nil {
			return err
		}
		enqueue = true
		event = domain.NewStatusEvent(d, now)
		return nil
	})
	if err != nil {
		return false, s.mapError(err, action)
	}
	if !enqueue {
		if event.Type != "" {
			s.publish(ctx, event)
			s.logger.Info("stop request withdrawn", slog.String("debate_id", id.String()), slog.String("action", action))
		}
		return false, nil
	}

	s.publish(ctx, event)
	if err := s.queue.EnqueueAdvance(ctx, id, 0); err != nil {
		s.logger.Error("failed to enqueue debate", slog.String("debate_id", id.String()), slog.Any("error", err))
		return false, apperrors.QueueError(err)
	}

	s.logger.Info("debate activated", slog.String("debate_id", id.String()), slog.String("action", action))
	return true, nil
}

// Stop requests a cooperative stop. A running debate becomes stopping and the
// worker finishes it at the next lock boundary; a created debate stops at once.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (domain.Status, error) {
	var (
		status  domain.Status
		changed bool
		event   domain.Event
	)
	err := s.store.WithLockedDebate(ctx, id, progression.LockWait, func(ctx context.Context, tx progression.Tx, d *domain.Debate) error {
		switch d.Status {
		case domain.StatusRunning:
			d.Status = domain.StatusStopping
		case domain.StatusCreated:
			d.Status = domain.StatusStopped
			d.SetStopReason(domain.StopManual)
		default:
			status = d.Status
			return nil
		}
		if err := tx.SaveDebate(ctx, d); err != nil {
			return err
		}
		status, changed = d.Status, true
		event = domain.NewStatusEvent(d, s.clock.NowUTC())
		return nil
	})
	if err != nil {
		return "", s.mapError(err, "stop")
	}
	if changed {
		s.publish(ctx, event)
		s.logger.Info("debate stop requested", slog.String("debate_id", id.String()), slog.String("status", string(status)))
	}
	return status, nil
}

// Get returns the debate with its ordered turns
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	d, err := s.repo.GetWithTurns(ctx, id)
	if err != nil {
		return nil, s.mapError(err, "get")
	}
	turns := d.Turns
	domain.SortTurns(turns)
	d.Turns = nil
	return &Detail{Debate: d, Turns: turns, CompletedRounds: d.CompletedRounds()}, nil
}

// List returns debates ordered by most recent update; limit is clamped to 1..200
func (s *Service) List(ctx context.Context, limit int) ([]Summary, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	rows, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	out := make([]Summary, 0, len(rows))
	for _, d := range rows {
		out = append(out, Summary{Debate: d, CompletedRounds: d.CompletedRounds()})
	}
	return out, nil
}

// Delete removes the debate and, by cascade, its turns
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.mapError(err, "delete")
	}
	s.logger.Info("debate deleted", slog.String("debate_id", id.String()))
	return nil
}

func (s *Service) mapError(err error, action string) error {
	if errors.Is(err, progression.ErrDebateNotFound) {
		return apperrors.RecordNotFound("debate")
	}
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.DatabaseError(fmt.Errorf("%s debate: %w", action, err))
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", slog.String("debate_id", event.DebateID.String()), slog.Any("error", err))
	}
}
