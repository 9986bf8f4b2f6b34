package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
)

// Store is a concurrency-safe in-memory debate store. Each debate has its own
// row lock; TryLock stands in for FOR UPDATE SKIP LOCKED.
type Store struct {
	mu      sync.Mutex
	debates map[uuid.UUID]domain.Debate
	turns   map[uuid.UUID][]domain.Turn
	locks   map[uuid.UUID]*sync.Mutex
	now     func() time.Time
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{
		debates: map[uuid.UUID]domain.Debate{},
		turns:   map[uuid.UUID][]domain.Turn{},
		locks:   map[uuid.UUID]*sync.Mutex{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a debate row
func (s *Store) Create(ctx context.Context, d *domain.Debate) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.NextRound < 1 {
		d.NextRound = 1
	}
	if d.NextActor == "" {
		d.NextActor = domain.ActorDebaterA
	}
	if d.Status == "" {
		d.Status = domain.StatusCreated
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	row := *d
	row.Turns = nil
	s.debates[d.ID] = row
	s.locks[d.ID] = &sync.Mutex{}
	return nil
}

// GetWithTurns returns the debate with its ordered turns
func (s *Store) GetWithTurns(ctx context.Context, id uuid.UUID) (*domain.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, progression.ErrDebateNotFound
	}
	d.Turns = s.sortedTurnsLocked(id)
	return &d, nil
}

// List returns debates, most recently updated first
func (s *Store) List(ctx context.Context, limit int) ([]domain.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Debate, 0, len(s.debates))
	for _, d := range s.debates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a debate and its turns
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.debates[id]; !ok {
		return progression.ErrDebateNotFound
	}
	delete(s.debates, id)
	delete(s.turns, id)
	return nil
}

// InsertTurn writes a turn outside any lock, as a concurrent execution would.
// It reports false when the (round, actor) slot is taken.
func (s *Store) InsertTurn(t domain.Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(&t)
}

// Turns returns the ordered turns of a debate
func (s *Store) Turns(id uuid.UUID) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTurnsLocked(id)
}

// Debate returns a copy of the debate row
func (s *Store) Debate(id uuid.UUID) (domain.Debate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debates[id]
	return d, ok
}

// Lock holds the row lock of id until the returned func is called
func (s *Store) Lock(id uuid.UUID) func() {
	s.mu.Lock()
	l := s.locks[id]
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Put overwrites the debate row as the holder of Lock would
func (s *Store) Put(d domain.Debate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Turns = nil
	d.UpdatedAt = s.now()
	s.debates[d.ID] = d
}

// WithLockedDebate implements progression.Store
func (s *Store) WithLockedDebate(ctx context.Context, id uuid.UUID, mode progression.LockMode, fn func(ctx context.Context, tx progression.Tx, debate *domain.Debate) error) error {
	s.mu.Lock()
	row, ok := s.debates[id]
	lock := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return progression.ErrDebateNotFound
	}

	if mode == progression.LockSkipIfHeld {
		if !lock.TryLock() {
			return progression.ErrDebateLocked
		}
	} else {
		lock.Lock()
	}
	defer lock.Unlock()

	// re-read under the row lock
	s.mu.Lock()
	row, ok = s.debates[id]
	s.mu.Unlock()
	if !ok {
		return progression.ErrDebateNotFound
	}

	tx := &memTx{store: s}
	working := row
	if err := fn(ctx, tx, &working); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.saved {
		working.Turns = nil
		working.UpdatedAt = s.now()
		s.debates[id] = working
	}
	for i := range tx.pending {
		s.turns[tx.pending[i].DebateID] = append(s.turns[tx.pending[i].DebateID], tx.pending[i])
	}
	return nil
}

func (s *Store) sortedTurnsLocked(id uuid.UUID) []domain.Turn {
	turns := append([]domain.Turn(nil), s.turns[id]...)
	domain.SortTurns(turns)
	return turns
}

func (s *Store) insertLocked(t *domain.Turn) bool {
	for _, existing := range s.turns[t.DebateID] {
		if existing.Round == t.Round && existing.Actor == t.Actor {
			return false
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.turns[t.DebateID] = append(s.turns[t.DebateID], *t)
	return true
}

// memTx buffers writes until the locked section returns without error
type memTx struct {
	store   *Store
	saved   bool
	pending []domain.Turn
}

func (tx *memTx) ListTurns(ctx context.Context, debateID uuid.UUID) ([]domain.Turn, error) {
	tx.store.mu.Lock()
	turns := tx.store.sortedTurnsLocked(debateID)
	tx.store.mu.Unlock()

	turns = append(turns, tx.pending...)
	domain.SortTurns(turns)
	return turns, nil
}

func (tx *memTx) InsertTurnIfAbsent(ctx context.Context, turn *domain.Turn) (uuid.UUID, bool, error) {
	for _, p := range tx.pending {
		if p.DebateID == turn.DebateID && p.Round == turn.Round && p.Actor == turn.Actor {
			return uuid.Nil, false, nil
		}
	}

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, existing := range tx.store.turns[turn.DebateID] {
		if existing.Round == turn.Round && existing.Actor == turn.Actor {
			return uuid.Nil, false, nil
		}
	}
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = tx.store.now()
	}
	tx.pending = append(tx.pending, *turn)
	return turn.ID, true, nil
}

func (tx *memTx) SaveDebate(ctx context.Context, debate *domain.Debate) error {
	tx.saved = true
	return nil
}
