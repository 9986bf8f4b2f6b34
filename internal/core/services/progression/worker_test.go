package progression_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/debates"
	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/core/services/prompts"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/memory"
	"github.com/alejandroruanova/debate-engine/internal/pkg/clock"
)

const okVerdict = `{"summary":"Both sides argued well.","score_a":7,"score_b":6,"winner":"a","no_new_substantive_arguments":false}`

// scriptedCompleter answers debaters with a fixed argument and the judge with a verdict
type scriptedCompleter struct {
	mu       sync.Mutex
	calls    []progression.CompletionRequest
	verdict  string
	tokens   int
	failures int
	err      error
	delay    time.Duration
	hook     func(n int, req progression.CompletionRequest)
}

func (c *scriptedCompleter) Complete(ctx context.Context, req progression.CompletionRequest) (*progression.CompletionResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	n := len(c.calls)
	fail := c.failures > 0
	if fail {
		c.failures--
	}
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook(n, req)
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if fail {
		return nil, errors.New("upstream 503")
	}
	if c.err != nil {
		return nil, c.err
	}

	content := fmt.Sprintf("argument %d", n)
	if req.JSONOutput {
		content = c.verdict
		if content == "" {
			content = okVerdict
		}
	}
	tokens := c.tokens
	if tokens == 0 {
		tokens = 10
	}
	return &progression.CompletionResult{
		Content:  content,
		Model:    req.Model,
		Usage:    map[string]any{"completion_tokens": tokens, "prompt_tokens": 50},
		Metadata: map[string]any{},
	}, nil
}

func (c *scriptedCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type harness struct {
	store     *memory.Store
	queue     *memory.Queue
	completer *scriptedCompleter
	worker    *progression.Worker
}

func newHarness(t *testing.T, opts ...progression.WorkerOption) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		queue:     memory.NewQueue(),
		completer: &scriptedCompleter{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.worker = progression.NewWorker(
		h.store,
		h.completer,
		prompts.NewRenderer(logger),
		h.queue,
		progression.WorkerConfig{
			ChainDelay:          100 * time.Millisecond,
			DefaultModelDebater: "deepseek-chat",
			DefaultModelJudge:   "deepseek-judge",
		},
		logger,
		opts...,
	)
	return h
}

func (h *harness) createRunning(t *testing.T, s domain.Settings) uuid.UUID {
	t.Helper()
	s.MarkStarted(time.Now())
	d := &domain.Debate{Topic: "Remote work beats office work", Status: domain.StatusRunning}
	d.SetConfig(s)
	require.NoError(t, h.store.Create(context.Background(), d))
	return d.ID
}

// drain runs cycles until no work is queued
func (h *harness) drain(t *testing.T, id uuid.UUID, maxCycles int) []progression.Outcome {
	t.Helper()
	ctx := context.Background()

	var outcomes []progression.Outcome
	outcome, err := h.worker.Advance(ctx, id)
	require.NoError(t, err)
	outcomes = append(outcomes, outcome)

	for i := 0; i < maxCycles; i++ {
		item, ok := h.queue.Pop()
		if !ok {
			return outcomes
		}
		outcome, err := h.worker.Advance(ctx, item.DebateID)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)
	}
	t.Fatalf("debate did not settle within %d cycles", maxCycles)
	return nil
}

func steps(turns []domain.Turn) []progression.Step {
	out := make([]progression.Step, 0, len(turns))
	for _, t := range turns {
		out = append(out, progression.Step{Round: t.Round, Actor: t.Actor})
	}
	return out
}

func TestWorker_SingleRoundDebateEndsWithJudge(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(1)})

	h.drain(t, id, 10)

	turns := h.store.Turns(id)
	assert.Equal(t, []progression.Step{
		{Round: 1, Actor: domain.ActorDebaterA},
		{Round: 1, Actor: domain.ActorDebaterB},
		{Round: 1, Actor: domain.ActorJudge},
	}, steps(turns))

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusCompleted, d.Status)
	require.NotNil(t, d.StopReason)
	assert.Equal(t, domain.StopMaxRounds, *d.StopReason)
	assert.Equal(t, 1, d.CompletedRounds())
	assert.Nil(t, d.LastError)

	judge := turns[2]
	assert.Equal(t, "Winner: A\nScores: A=7, B=6\n\nBoth sides argued well.", judge.Content)
	assert.Equal(t, "a", judge.Metadata["winner"])
	require.NotNil(t, judge.Model)
	assert.Equal(t, "deepseek-judge", *judge.Model)
	assert.Equal(t, 0, h.queue.Len())
}

func TestWorker_ModelRequestsUseSettings(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{
		MaxRounds:        domain.IntPtr(1),
		MaxTokensDebater: domain.IntPtr(123),
		MaxTokensJudge:   domain.IntPtr(45),
		ModelDebater:     "custom-debater",
	})

	h.drain(t, id, 10)

	require.Equal(t, 3, h.completer.callCount())
	assert.Equal(t, "custom-debater", h.completer.calls[0].Model)
	assert.Equal(t, 123, h.completer.calls[0].MaxTokens)
	assert.False(t, h.completer.calls[0].JSONOutput)
	assert.Equal(t, "deepseek-judge", h.completer.calls[2].Model)
	assert.Equal(t, 45, h.completer.calls[2].MaxTokens)
	assert.True(t, h.completer.calls[2].JSONOutput)
	assert.Contains(t, h.completer.calls[2].User, "Round 1 - B: argument 2")
}

func TestWorker_ConcurrentExecutionsPersistOnce(t *testing.T) {
	h := newHarness(t)
	h.completer.delay = 20 * time.Millisecond
	id := h.createRunning(t, domain.Settings{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.worker.Advance(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns := h.store.Turns(id)
	require.Len(t, turns, 1)
	assert.Equal(t, domain.ActorDebaterA, turns[0].Actor)

	d, _ := h.store.Debate(id)
	round, actor := d.Cursor()
	assert.Equal(t, 1, round)
	assert.Equal(t, domain.ActorDebaterB, actor)
}

func TestWorker_InterleavedExecutionDiscardsStaleResult(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})

	var second progression.Outcome
	h.completer.hook = func(n int, _ progression.CompletionRequest) {
		if n == 1 {
			var err error
			second, err = h.worker.Advance(context.Background(), id)
			require.NoError(t, err)
		}
	}

	first, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, progression.OutcomePersisted, second)
	assert.Equal(t, progression.OutcomeCursorMoved, first)
	assert.Len(t, h.store.Turns(id), 1)

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.ActorDebaterB, d.NextActor)
}

func TestWorker_LostInsertResynchronizesCursor(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})

	h.completer.hook = func(n int, _ progression.CompletionRequest) {
		// Another execution committed the same step without moving the cursor.
		h.store.InsertTurn(domain.Turn{DebateID: id, Round: 1, Actor: domain.ActorDebaterA, Content: "winner"})
	}

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeRaceLost, outcome)

	turns := h.store.Turns(id)
	require.Len(t, turns, 1)
	assert.Equal(t, "winner", turns[0].Content)

	d, _ := h.store.Debate(id)
	assert.Equal(t, 1, d.NextRound)
	assert.Equal(t, domain.ActorDebaterB, d.NextActor)
	assert.Equal(t, 1, h.queue.Len(), "loser re-enqueues itself")
}

func TestWorker_SkipsWhenRowLocked(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})

	unlock := h.store.Lock(id)
	outcome, err := h.worker.Advance(context.Background(), id)
	unlock()

	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeSkipped, outcome)
	assert.Equal(t, 0, h.completer.callCount())

	item, ok := h.queue.Pop()
	require.True(t, ok, "skipped cycle is rescheduled")
	assert.Equal(t, id, item.DebateID)
	assert.Equal(t, 100*time.Millisecond, item.Delay)

	outcome, err = h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomePersisted, outcome)
}

func TestWorker_RowHeldDuringModelCall(t *testing.T) {
	tests := []struct {
		name       string
		hold       func(t *testing.T, h *harness, id uuid.UUID)
		wantStatus domain.Status
		wantTurns  int
	}{
		{
			name:       "no-op control call keeps running",
			hold:       func(*testing.T, *harness, uuid.UUID) {},
			wantStatus: domain.StatusCompleted,
			wantTurns:  3,
		},
		{
			name: "stop request is honored on the next cycle",
			hold: func(t *testing.T, h *harness, id uuid.UUID) {
				d, _ := h.store.Debate(id)
				d.Status = domain.StatusStopping
				h.store.Put(d)
			},
			wantStatus: domain.StatusStopped,
			wantTurns:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(1)})

			var unlock func()
			h.completer.hook = func(n int, _ progression.CompletionRequest) {
				if n == 1 {
					// a control call holds the row while the commit arrives
					unlock = h.store.Lock(id)
					tt.hold(t, h, id)
				}
			}

			outcome, err := h.worker.Advance(context.Background(), id)
			unlock()
			require.NoError(t, err)
			assert.Equal(t, progression.OutcomeSkipped, outcome)
			assert.Empty(t, h.store.Turns(id), "result of the contended commit is discarded")
			require.Equal(t, 1, h.queue.Len(), "the chain continues")

			item, _ := h.queue.Pop()
			h.drain(t, item.DebateID, 10)

			d, _ := h.store.Debate(id)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Len(t, h.store.Turns(id), tt.wantTurns)
		})
	}
}

func TestWorker_ResumeAfterContendedCommitLeavesChainIntact(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(1)})
	svc := debates.NewService(h.store, h.store, h.queue, domain.Settings{}, nil)

	var unlock func()
	h.completer.hook = func(n int, _ progression.CompletionRequest) {
		if n == 1 {
			unlock = h.store.Lock(id)
		}
	}
	outcome, err := h.worker.Advance(context.Background(), id)
	unlock()
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeSkipped, outcome)

	// resume is a no-op on a running debate, so the rescheduled cycle is the only driver
	enqueued, err := svc.Resume(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, enqueued)
	require.Equal(t, 1, h.queue.Len())

	item, _ := h.queue.Pop()
	h.drain(t, item.DebateID, 10)

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusCompleted, d.Status)
	assert.Len(t, h.store.Turns(id), 3)
}

func TestWorker_RescheduleFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})
	h.queue.FailWith(errors.New("redis down"))

	unlock := h.store.Lock(id)
	outcome, err := h.worker.Advance(context.Background(), id)
	unlock()

	assert.Equal(t, progression.OutcomeSkipped, outcome)
	assert.ErrorContains(t, err, "redis down")
}

func TestWorker_LongModelErrorIsTruncatedOnRuneBoundary(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})
	long := strings.Repeat("a", 1987) + strings.Repeat("限", 5)
	h.completer.err = errors.New(long)

	_, err := h.worker.Advance(context.Background(), id)
	require.Error(t, err)

	d, _ := h.store.Debate(id)
	require.NotNil(t, d.LastError)
	assert.True(t, utf8.ValidString(*d.LastError))
	assert.LessOrEqual(t, len(*d.LastError), 2000)
	assert.True(t, strings.HasPrefix(*d.LastError, "model call: aaa"))
}

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantLen int
	}{
		{"short message unchanged", "timeout", 7},
		{"ascii cut at limit", strings.Repeat("x", 2500), 2000},
		// the last full rune ends at byte 1999
		{"rune straddling the limit", strings.Repeat("a", 1996) + "限限", 1999},
		{"invalid bytes replaced", "bad \xff byte", len("bad \uFFFD byte")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := progression.TruncateError(tt.msg)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestWorker_StopRequestedBeforeCycle(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})
	setStatus(t, h.store, id, domain.StatusStopping)

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeStopped, outcome)

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusStopped, d.Status)
	assert.Equal(t, domain.StopManual, *d.StopReason)
	assert.Equal(t, 0, h.completer.callCount())
}

func TestWorker_StopRequestedDuringModelCall(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})
	h.completer.hook = func(int, progression.CompletionRequest) {
		setStatus(t, h.store, id, domain.StatusStopping)
	}

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeStopped, outcome)

	assert.Empty(t, h.store.Turns(id), "in-flight step is discarded")
	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusStopped, d.Status)
	assert.Equal(t, 0, h.queue.Len())
}

func TestWorker_IdleWhenNotRunning(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})
	setStatus(t, h.store, id, domain.StatusCompleted)

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeIdle, outcome)
	assert.Equal(t, 0, h.queue.Len())
}

func TestWorker_UnknownDebate(t *testing.T) {
	h := newHarness(t)
	_, err := h.worker.Advance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, progression.ErrDebateNotFound)
}

func TestWorker_ModelFailureRecordsLastErrorThenRecovers(t *testing.T) {
	h := newHarness(t)
	h.completer.failures = 1
	id := h.createRunning(t, domain.Settings{})

	_, err := h.worker.Advance(context.Background(), id)
	require.Error(t, err)

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusRunning, d.Status)
	require.NotNil(t, d.LastError)
	assert.Contains(t, *d.LastError, "upstream 503")
	assert.Empty(t, h.store.Turns(id))

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomePersisted, outcome)

	d, _ = h.store.Debate(id)
	assert.Nil(t, d.LastError, "successful progress clears last_error")
}

func TestWorker_InvalidJudgeOutputUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.completer.verdict = "I think A won."
	id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(1)})

	h.drain(t, id, 10)

	turns := h.store.Turns(id)
	require.Len(t, turns, 3)
	judge := turns[2]
	assert.Equal(t, progression.FallbackVerdict().Render(), judge.Content)
	assert.Equal(t, "tie", judge.Metadata["winner"])
	assert.Equal(t, true, judge.Metadata["verdict_fallback"])

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusCompleted, d.Status)
}

func TestWorker_TokenBudgetHandsOverToJudge(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(5), MaxTotalOutputTokens: domain.IntPtr(15)})

	h.drain(t, id, 10)

	assert.Equal(t, []progression.Step{
		{Round: 1, Actor: domain.ActorDebaterA},
		{Round: 1, Actor: domain.ActorDebaterB},
		{Round: 1, Actor: domain.ActorJudge},
	}, steps(h.store.Turns(id)))

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusCompleted, d.Status)
	assert.Equal(t, domain.StopMaxTotalOutputTokens, *d.StopReason)
}

func TestWorker_EachRoundJudgeStagnation(t *testing.T) {
	h := newHarness(t)
	h.completer.verdict = `{"summary":"Nothing new.","score_a":5,"score_b":5,"winner":"tie","no_new_substantive_arguments":true}`
	id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(5), JudgeMode: domain.JudgeEachRound})

	h.drain(t, id, 20)

	assert.Equal(t, []progression.Step{
		{Round: 1, Actor: domain.ActorDebaterA},
		{Round: 1, Actor: domain.ActorDebaterB},
		{Round: 1, Actor: domain.ActorJudge},
		{Round: 2, Actor: domain.ActorDebaterA},
		{Round: 2, Actor: domain.ActorDebaterB},
		{Round: 2, Actor: domain.ActorJudge},
	}, steps(h.store.Turns(id)))

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusCompleted, d.Status)
	assert.Equal(t, domain.StopJudgeNoNewArguments, *d.StopReason)
}

func TestWorker_EachRoundStopsAfterExistingVerdict(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{MaxRounds: domain.IntPtr(2), JudgeMode: domain.JudgeEachRound})

	h.drain(t, id, 20)

	turns := h.store.Turns(id)
	require.Len(t, turns, 6, "two full rounds, each judged once")

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StatusCompleted, d.Status)
	assert.Equal(t, domain.StopMaxRounds, *d.StopReason)
	assert.Equal(t, 2, d.CompletedRounds())
}

func TestWorker_RuntimeExceededBeforeFirstTurn(t *testing.T) {
	fixed := clock.NewFixed(time.Now().Add(time.Hour))
	h := newHarness(t, progression.WithClock(fixed))
	id := h.createRunning(t, domain.Settings{MaxRuntimeSeconds: domain.IntPtr(60)})

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomeCompleted, outcome)

	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StopMaxRuntimeSeconds, *d.StopReason)
	assert.Equal(t, 0, h.completer.callCount())
}

func TestWorker_RuntimeExceededMidRoundJudgesCurrentRound(t *testing.T) {
	fixed := clock.NewFixed(time.Now())
	h := newHarness(t, progression.WithClock(fixed))
	id := h.createRunning(t, domain.Settings{MaxRuntimeSeconds: domain.IntPtr(60)})

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomePersisted, outcome)

	fixed.Advance(2 * time.Minute)
	h.queue.Pop()
	h.drain(t, id, 5)

	assert.Equal(t, []progression.Step{
		{Round: 1, Actor: domain.ActorDebaterA},
		{Round: 1, Actor: domain.ActorJudge},
	}, steps(h.store.Turns(id)))
	d, _ := h.store.Debate(id)
	assert.Equal(t, domain.StopMaxRuntimeSeconds, *d.StopReason)
}

func TestWorker_InvalidCursorIsResynchronized(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})
	h.store.InsertTurn(domain.Turn{DebateID: id, Round: 1, Actor: domain.ActorDebaterA, Content: "opening"})

	err := h.store.WithLockedDebate(context.Background(), id, progression.LockWait, func(ctx context.Context, tx progression.Tx, d *domain.Debate) error {
		d.SetCursor(0, "nobody")
		return tx.SaveDebate(ctx, d)
	})
	require.NoError(t, err)

	outcome, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, progression.OutcomePersisted, outcome)

	turns := h.store.Turns(id)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.ActorDebaterB, turns[1].Actor)
}

func TestWorker_ChainDelayOnRequeue(t *testing.T) {
	h := newHarness(t)
	id := h.createRunning(t, domain.Settings{})

	_, err := h.worker.Advance(context.Background(), id)
	require.NoError(t, err)

	item, ok := h.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, id, item.DebateID)
	assert.Equal(t, 100*time.Millisecond, item.Delay)
}

func setStatus(t *testing.T, store *memory.Store, id uuid.UUID, status domain.Status) {
	t.Helper()
	err := store.WithLockedDebate(context.Background(), id, progression.LockWait, func(ctx context.Context, tx progression.Tx, d *domain.Debate) error {
		d.Status = status
		return tx.SaveDebate(ctx, d)
	})
	require.NoError(t, err)
}
