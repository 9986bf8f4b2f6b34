package progression

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/prompts"
)

var (
	// ErrDebateLocked is returned by LockSkipIfHeld when another transaction holds the row
	ErrDebateLocked = errors.New("debate is locked by another transaction")
	// ErrDebateNotFound is returned when the debate row does not exist
	ErrDebateNotFound = errors.New("debate not found")
)

// LockMode selects how WithLockedDebate acquires the row lock
type LockMode int

const (
	// LockSkipIfHeld returns ErrDebateLocked instead of waiting (FOR UPDATE SKIP LOCKED)
	LockSkipIfHeld LockMode = iota
	// LockWait blocks until the row is free (FOR UPDATE)
	LockWait
)

// Tx is the set of operations available while a debate row is locked
type Tx interface {
	// ListTurns returns the debate's turns in canonical order
	ListTurns(ctx context.Context, debateID uuid.UUID) ([]domain.Turn, error)
	// InsertTurnIfAbsent stores turn unless (debate_id, round, actor) exists.
	// inserted is false when a row was already present.
	InsertTurnIfAbsent(ctx context.Context, turn *domain.Turn) (id uuid.UUID, inserted bool, err error)
	SaveDebate(ctx context.Context, debate *domain.Debate) error
}

// Store runs fn inside a transaction holding the debate row lock.
// The transaction commits when fn returns nil.
type Store interface {
	WithLockedDebate(ctx context.Context, id uuid.UUID, mode LockMode, fn func(ctx context.Context, tx Tx, debate *domain.Debate) error) error
}

// CompletionRequest is one model call
type CompletionRequest struct {
	Model      string
	System     string
	User       string
	MaxTokens  int
	JSONOutput bool
}

// CompletionResult is the model response with accounting
type CompletionResult struct {
	Content  string
	Model    string
	Usage    map[string]any
	Metadata map[string]any
}

// Completer calls a language model
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// PromptRenderer builds the messages for a step
type PromptRenderer interface {
	Render(in prompts.Input) (prompts.Rendered, error)
}

// Enqueuer schedules the next advancement cycle
type Enqueuer interface {
	EnqueueAdvance(ctx context.Context, debateID uuid.UUID, delay time.Duration) error
}

// EventPublisher receives notifications after commits
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }
