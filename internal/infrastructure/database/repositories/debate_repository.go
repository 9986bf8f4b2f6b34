package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
)

// turnOrder is the canonical transcript order
const turnOrder = "round ASC, CASE actor WHEN 'debater_a' THEN 0 WHEN 'debater_b' THEN 1 ELSE 2 END ASC, created_at ASC"

var _ progression.Store = (*DebateRepository)(nil)

// DebateRepository persists debates and turns using GORM
type DebateRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewDebateRepository creates a new repository instance
func NewDebateRepository(db *gorm.DB, logger *slog.Logger) *DebateRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &DebateRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new debate row
func (r *DebateRepository) Create(ctx context.Context, debate *domain.Debate) error {
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Create(debate).
		Error

	if err != nil {
		r.logger.Error("failed to create debate", slog.Any("error", err))
		return fmt.Errorf("failed to insert debate: %w", err)
	}
	return nil
}

// GetWithTurns loads a debate and its ordered turns
func (r *DebateRepository) GetWithTurns(ctx context.Context, id uuid.UUID) (*domain.Debate, error) {
	var debate domain.Debate

	err := r.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order(turnOrder)
		}).
		Where("id = ?", id).
		First(&debate).
		Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, progression.ErrDebateNotFound
	}
	if err != nil {
		r.logger.Error("failed to get debate",
			slog.String("debate_id", id.String()),
			slog.Any("error", err))
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return &debate, nil
}

// List returns debates ordered by most recent update
func (r *DebateRepository) List(ctx context.Context, limit int) ([]domain.Debate, error) {
	var debates []domain.Debate

	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&debates).
		Error

	if err != nil {
		r.logger.Error("failed to list debates", slog.Any("error", err))
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return debates, nil
}

// Delete removes a debate; turns go with it via ON DELETE CASCADE
func (r *DebateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Debate{})

	if result.Error != nil {
		r.logger.Error("failed to delete debate",
			slog.String("debate_id", id.String()),
			slog.Any("error", result.Error))
		return fmt.Errorf("failed to delete debate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return progression.ErrDebateNotFound
	}
	return nil
}

// WithLockedDebate runs fn in a transaction holding the debate row lock.
// With LockSkipIfHeld the row is selected FOR UPDATE SKIP LOCKED; an empty
// result is then told apart from a missing row with a plain count.
func (r *DebateRepository) WithLockedDebate(ctx context.Context, id uuid.UUID, mode progression.LockMode, fn func(ctx context.Context, tx progression.Tx, debate *domain.Debate) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locking := clause.Locking{Strength: clause.LockingStrengthUpdate}
		if mode == progression.LockSkipIfHeld {
			locking.Options = clause.LockingOptionsSkipLocked
		}

		var debate domain.Debate
		result := tx.Clauses(locking).
			Where("id = ?", id).
			Limit(1).
			Find(&debate)
		if result.Error != nil {
			return fmt.Errorf("lock debate: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			if mode == progression.LockSkipIfHeld {
				var count int64
				if err := tx.Model(&domain.Debate{}).Where("id = ?", id).Count(&count).Error; err != nil {
					return fmt.Errorf("count debate: %w", err)
				}
				if count > 0 {
					return progression.ErrDebateLocked
				}
			}
			return progression.ErrDebateNotFound
		}

		return fn(ctx, &lockedTx{db: tx, logger: r.logger}, &debate)
	})
}

// lockedTx implements progression.Tx on an open transaction
type lockedTx struct {
	db     *gorm.DB
	logger *slog.Logger
}

func (t *lockedTx) ListTurns(ctx context.Context, debateID uuid.UUID) ([]domain.Turn, error) {
	var turns []domain.Turn

	err := t.db.WithContext(ctx).
		Where("debate_id = ?", debateID).
		Order(turnOrder).
		Find(&turns).
		Error

	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return turns, nil
}

// InsertTurnIfAbsent relies on uq_turns_debate_id_round_actor; a conflicting
// insert affects zero rows instead of raising.
func (t *lockedTx) InsertTurnIfAbsent(ctx context.Context, turn *domain.Turn) (uuid.UUID, bool, error) {
	result := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "debate_id"}, {Name: "round"}, {Name: "actor"}},
			DoNothing: true,
		}).
		Create(turn)

	if result.Error != nil {
		t.logger.Error("failed to insert turn",
			slog.String("debate_id", turn.DebateID.String()),
			slog.Int("round", turn.Round),
			slog.String("actor", string(turn.Actor)),
			slog.Any("error", result.Error))
		return uuid.Nil, false, fmt.Errorf("insert turn: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return uuid.Nil, false, nil
	}
	return turn.ID, true, nil
}

func (t *lockedTx) SaveDebate(ctx context.Context, debate *domain.Debate) error {
	err := t.db.WithContext(ctx).
		Omit(clause.Associations).
		Save(debate).
		Error

	if err != nil {
		return fmt.Errorf("save debate: %w", err)
	}
	return nil
}
