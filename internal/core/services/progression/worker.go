package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/prompts"
	"github.com/alejandroruanova/debate-engine/internal/pkg/clock"
)

// Outcome describes how one advancement cycle ended
type Outcome string

const (
	// OutcomeSkipped means the row was held; the cycle is rescheduled
	OutcomeSkipped Outcome = "skipped"
	// OutcomeIdle means the debate is not running
	OutcomeIdle Outcome = "idle"
	// OutcomeStopped means a stop request was honored
	OutcomeStopped Outcome = "stopped"
	// OutcomeCompleted means a stop condition ended the debate
	OutcomeCompleted Outcome = "completed"
	// OutcomePersisted means one turn was stored and the cursor advanced
	OutcomePersisted Outcome = "persisted"
	// OutcomeRaceLost means another execution stored the step first
	OutcomeRaceLost Outcome = "race_lost"
	// OutcomeCursorMoved means the cursor changed while the model was called
	OutcomeCursorMoved Outcome = "cursor_moved"
	// OutcomeDiscarded means the debate left running during the model call
	OutcomeDiscarded Outcome = "discarded"
)

// maxErrorLength bounds what is stored in last_error
const maxErrorLength = 2000

// WorkerConfig holds the knobs of the advancement loop
type WorkerConfig struct {
	ChainDelay          time.Duration
	DefaultModelDebater string
	DefaultModelJudge   string
}

// Worker performs advancement cycles: lock, decide, release, call the
// model, re-lock, insert idempotently, advance, re-enqueue.
type Worker struct {
	store     Store
	completer Completer
	renderer  PromptRenderer
	queue     Enqueuer
	events    EventPublisher
	clock     clock.Clock
	cfg       WorkerConfig
	logger    *slog.Logger
}

// WorkerOption customizes a Worker
type WorkerOption func(*Worker)

// WithClock overrides the time source
func WithClock(c clock.Clock) WorkerOption {
	return func(w *Worker) { w.clock = c }
}

// WithEvents publishes turn and status events after each commit
func WithEvents(p EventPublisher) WorkerOption {
	return func(w *Worker) { w.events = p }
}

// NewWorker creates a new advancement worker
func NewWorker(store Store, completer Completer, renderer PromptRenderer, queue Enqueuer, cfg WorkerConfig, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		store:     store,
		completer: completer,
		renderer:  renderer,
		queue:     queue,
		events:    NopPublisher{},
		clock:     clock.System{},
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// plan is the snapshot carried out of the first lock section
type plan struct {
	step     Step
	topic    string
	settings domain.Settings
	turns    []domain.Turn
}

// Advance runs one cycle for debateID. A returned error means the step
// should be retried; ErrDebateNotFound is returned as-is.
func (w *Worker) Advance(ctx context.Context, debateID uuid.UUID) (Outcome, error) {
	log := w.logger.With(slog.String("debate_id", debateID.String()))

	var (
		p       *plan
		outcome Outcome
		events  []domain.Event
	)
	err := w.store.WithLockedDebate(ctx, debateID, LockSkipIfHeld, func(ctx context.Context, tx Tx, d *domain.Debate) error {
		var err error
		p, outcome, events, err = w.prepare(ctx, tx, d)
		return err
	})
	if errors.Is(err, ErrDebateLocked) {
		// The holder may be a control call rather than another cycle, so
		// the chain must not end here.
		log.Debug("debate locked, rescheduling cycle")
		return w.requeue(ctx, debateID, OutcomeSkipped)
	}
	if err != nil {
		return "", err
	}
	w.publish(ctx, events)

	if p == nil {
		log.Info("cycle finished without a model call", slog.String("outcome", string(outcome)))
		return outcome, nil
	}

	log = log.With(slog.Int("round", p.step.Round), slog.String("actor", string(p.step.Actor)))

	turn, err := w.produce(ctx, debateID, p, log)
	if err != nil {
		w.recordError(ctx, debateID, err)
		return "", err
	}

	var (
		again   bool
		running bool
	)
	events = nil
	err = w.store.WithLockedDebate(ctx, debateID, LockSkipIfHeld, func(ctx context.Context, tx Tx, d *domain.Debate) error {
		var err error
		outcome, events, err = w.commit(ctx, tx, d, p, turn)
		running = d.Status == domain.StatusRunning
		return err
	})
	if errors.Is(err, ErrDebateLocked) {
		log.Info("debate locked at commit, discarding step and rescheduling")
		return w.requeue(ctx, debateID, OutcomeSkipped)
	}
	if err != nil {
		return "", err
	}
	w.publish(ctx, events)

	switch outcome {
	case OutcomePersisted, OutcomeRaceLost, OutcomeCursorMoved:
		again = running
	}

	log.Info("cycle finished", slog.String("outcome", string(outcome)))

	if again {
		return w.requeue(ctx, debateID, outcome)
	}
	return outcome, nil
}

// requeue schedules the next cycle after the chain delay
func (w *Worker) requeue(ctx context.Context, debateID uuid.UUID, outcome Outcome) (Outcome, error) {
	if err := w.queue.EnqueueAdvance(ctx, debateID, w.cfg.ChainDelay); err != nil {
		return outcome, fmt.Errorf("enqueue next cycle: %w", err)
	}
	return outcome, nil
}

// prepare is the first lock section: it honors stop requests, evaluates the
// stop conditions and decides the step to produce.
func (w *Worker) prepare(ctx context.Context, tx Tx, d *domain.Debate) (*plan, Outcome, []domain.Event, error) {
	now := w.clock.NowUTC()

	switch d.Status {
	case domain.StatusStopping:
		d.Status = domain.StatusStopped
		d.SetStopReason(domain.StopManual)
		if err := tx.SaveDebate(ctx, d); err != nil {
			return nil, "", nil, err
		}
		return nil, OutcomeStopped, []domain.Event{domain.NewStatusEvent(d, now)}, nil
	case domain.StatusRunning:
	default:
		return nil, OutcomeIdle, nil, nil
	}

	turns, err := tx.ListTurns(ctx, d.ID)
	if err != nil {
		return nil, "", nil, err
	}
	settings := d.Config()

	round, actor := d.Cursor()
	if !IsValidCursor(round, actor) {
		step := ResyncCursor(turns, settings.EffectiveJudgeMode(), d.HasStopReason())
		w.logger.Warn("invalid cursor, resynchronized from history",
			slog.String("debate_id", d.ID.String()),
			slog.Int("round", step.Round),
			slog.String("actor", string(step.Actor)),
		)
		d.SetCursor(step.Round, step.Actor)
		round, actor = step.Round, step.Actor
		if err := tx.SaveDebate(ctx, d); err != nil {
			return nil, "", nil, err
		}
	}

	if JudgeStreakFromTurns(turns) >= StagnationThreshold {
		return w.complete(ctx, tx, d, domain.StopJudgeNoNewArguments, now)
	}

	if actor != domain.ActorJudge {
		reason, fired := Evaluate(Evaluation{
			Settings:        settings,
			CompletedRounds: d.CompletedRounds(),
			CreatedAt:       d.CreatedAt,
			Now:             now,
			Turns:           turns,
		})
		if fired {
			if len(turns) == 0 {
				// Nothing was said, so there is nothing to judge.
				return w.complete(ctx, tx, d, reason, now)
			}
			judgeRound := JudgeRoundForStop(round, actor)
			if hasTurn(turns, judgeRound, domain.ActorJudge) {
				return w.complete(ctx, tx, d, reason, now)
			}

			d.SetStopReason(reason)
			d.SetCursor(judgeRound, domain.ActorJudge)
			if err := tx.SaveDebate(ctx, d); err != nil {
				return nil, "", nil, err
			}
			w.logger.Info("stop condition fired, handing over to judge",
				slog.String("debate_id", d.ID.String()),
				slog.String("stop_reason", string(reason)),
				slog.Int("round", judgeRound),
			)
			round, actor = judgeRound, domain.ActorJudge
		}
	}

	return &plan{
		step:     Step{Round: round, Actor: actor},
		topic:    d.Topic,
		settings: settings,
		turns:    turns,
	}, "", nil, nil
}

// complete records reason (unless one exists) and finishes the debate
func (w *Worker) complete(ctx context.Context, tx Tx, d *domain.Debate, reason domain.StopReason, now time.Time) (*plan, Outcome, []domain.Event, error) {
	if !d.HasStopReason() || reason == domain.StopJudgeNoNewArguments {
		d.SetStopReason(reason)
	}
	d.Status = domain.StatusCompleted
	if err := tx.SaveDebate(ctx, d); err != nil {
		return nil, "", nil, err
	}
	return nil, OutcomeCompleted, []domain.Event{domain.NewStatusEvent(d, now)}, nil
}

// produce renders the prompt and calls the model outside any lock
func (w *Worker) produce(ctx context.Context, debateID uuid.UUID, p *plan, log *slog.Logger) (*domain.Turn, error) {
	rendered, err := w.renderer.Render(prompts.Input{
		Actor:    p.step.Actor,
		Round:    p.step.Round,
		Topic:    p.topic,
		Turns:    p.turns,
		Settings: p.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	isJudge := p.step.Actor == domain.ActorJudge
	req := CompletionRequest{
		Model:      p.settings.ModelFor(p.step.Actor, w.cfg.DefaultModelDebater, w.cfg.DefaultModelJudge),
		System:     rendered.System,
		User:       rendered.User,
		MaxTokens:  p.settings.MaxTokensFor(p.step.Actor),
		JSONOutput: isJudge,
	}

	started := w.clock.NowUTC()
	result, err := w.completer.Complete(ctx, req)
	if err != nil {
		log.Error("model call failed", slog.String("model", req.Model), slog.Any("error", err))
		return nil, fmt.Errorf("model call: %w", err)
	}
	log.Debug("model call finished",
		slog.String("model", result.Model),
		slog.Duration("elapsed", w.clock.NowUTC().Sub(started)),
	)

	content := strings.TrimSpace(result.Content)
	metadata := datatypes.JSONMap{"prompt_version": rendered.Version}
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	if isJudge {
		verdict, ok := ParseVerdictOrFallback(content)
		if !ok {
			log.Warn("judge output invalid, storing fallback verdict")
			metadata["verdict_fallback"] = true
		}
		for k, v := range verdict.Metadata() {
			metadata[k] = v
		}
		content = verdict.Render()
	}

	usage := datatypes.JSONMap{}
	for k, v := range result.Usage {
		usage[k] = v
	}

	turn := &domain.Turn{
		DebateID: debateID,
		Round:    p.step.Round,
		Actor:    p.step.Actor,
		Content:  content,
		Usage:    usage,
		Metadata: metadata,
	}
	if m := strings.TrimSpace(result.Model); m != "" {
		turn.Model = &m
	} else if req.Model != "" {
		turn.Model = &req.Model
	}
	return turn, nil
}

// commit is the second lock section: it re-checks status and cursor, inserts
// the turn idempotently and advances the cursor.
func (w *Worker) commit(ctx context.Context, tx Tx, d *domain.Debate, p *plan, turn *domain.Turn) (Outcome, []domain.Event, error) {
	now := w.clock.NowUTC()

	switch d.Status {
	case domain.StatusStopping:
		d.Status = domain.StatusStopped
		d.SetStopReason(domain.StopManual)
		if err := tx.SaveDebate(ctx, d); err != nil {
			return "", nil, err
		}
		return OutcomeStopped, []domain.Event{domain.NewStatusEvent(d, now)}, nil
	case domain.StatusRunning:
	default:
		return OutcomeDiscarded, nil, nil
	}

	round, actor := d.Cursor()
	if round != p.step.Round || actor != p.step.Actor {
		return OutcomeCursorMoved, nil, nil
	}

	settings := d.Config()
	mode := settings.EffectiveJudgeMode()

	_, inserted, err := tx.InsertTurnIfAbsent(ctx, turn)
	if err != nil {
		return "", nil, err
	}
	if !inserted {
		turns, err := tx.ListTurns(ctx, d.ID)
		if err != nil {
			return "", nil, err
		}
		step := ResyncCursor(turns, mode, d.HasStopReason())
		d.SetCursor(step.Round, step.Actor)
		if err := tx.SaveDebate(ctx, d); err != nil {
			return "", nil, err
		}
		return OutcomeRaceLost, nil, nil
	}

	d.SetLastError("")
	events := []domain.Event{domain.NewTurnEvent(turn, now)}
	outcome := OutcomePersisted

	switch {
	case turn.Actor == domain.ActorJudge:
		streak := JudgeStreakFromTurns(append(append([]domain.Turn(nil), p.turns...), *turn))
		if mode == domain.JudgeAtEnd || d.HasStopReason() || streak >= StagnationThreshold {
			switch {
			case streak >= StagnationThreshold && mode == domain.JudgeEachRound:
				d.SetStopReason(domain.StopJudgeNoNewArguments)
			case !d.HasStopReason():
				d.SetStopReason(domain.StopMaxRounds)
			}
			d.Status = domain.StatusCompleted
			next := AdvanceAfterPersist(turn.Round+1, domain.ActorJudge)
			d.SetCursor(next.Round, next.Actor)
			outcome = OutcomeCompleted
			events = append(events, domain.NewStatusEvent(d, now))
		} else {
			next := AdvanceAfterPersist(turn.Round+1, domain.ActorJudge)
			d.SetCursor(next.Round, next.Actor)
		}
	case turn.Actor == domain.ActorDebaterB && mode == domain.JudgeEachRound:
		d.SetCursor(turn.Round, domain.ActorJudge)
	default:
		next := AdvanceAfterPersist(turn.Round, turn.Actor)
		d.SetCursor(next.Round, next.Actor)
	}

	if err := tx.SaveDebate(ctx, d); err != nil {
		return "", nil, err
	}
	return outcome, events, nil
}

// recordError stores the failure on the debate without blocking on the lock
func (w *Worker) recordError(ctx context.Context, debateID uuid.UUID, cause error) {
	msg := TruncateError(cause.Error())

	err := w.store.WithLockedDebate(ctx, debateID, LockSkipIfHeld, func(ctx context.Context, tx Tx, d *domain.Debate) error {
		if d.Status != domain.StatusRunning && d.Status != domain.StatusStopping {
			return nil
		}
		d.SetLastError(msg)
		return tx.SaveDebate(ctx, d)
	})
	if err != nil && !errors.Is(err, ErrDebateLocked) {
		w.logger.Warn("failed to record last_error",
			slog.String("debate_id", debateID.String()),
			slog.Any("error", err),
		)
	}
}

func (w *Worker) publish(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		if err := w.events.Publish(ctx, event); err != nil {
			w.logger.Warn("failed to publish event",
				slog.String("debate_id", event.DebateID.String()),
				slog.String("type", string(event.Type)),
				slog.Any("error", err),
			)
		}
	}
}

// TruncateError bounds msg to maxErrorLength bytes without splitting a
// UTF-8 sequence; the result is always valid UTF-8.
func TruncateError(msg string) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func hasTurn(turns []domain.Turn, round int, actor domain.Actor) bool {
	for _, t := range turns {
		if t.Round == round && t.Actor == actor {
			return true
		}
	}
	return false
}
