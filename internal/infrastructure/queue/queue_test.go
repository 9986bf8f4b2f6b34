package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/pkg/config"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "default", Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func optionValues(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestAsynqClient_EnqueueAdvance(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &AsynqClient{
		client: fake,
		options: AdvanceOptions(
			&config.QueueConfig{Name: "default"},
			&config.WorkerConfig{MaxRetries: 3, TaskTimeout: 3 * time.Minute},
		),
		logger: discard,
	}
	id := uuid.New()

	require.NoError(t, client.EnqueueAdvance(context.Background(), id, 0))
	require.NoError(t, client.EnqueueAdvance(context.Background(), id, 100*time.Millisecond))
	require.Len(t, fake.tasks, 2)

	assert.Equal(t, TaskTypeDebateAdvance, fake.tasks[0].Type())
	payload, err := ParseAdvancePayload(fake.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, id, payload.DebateID)

	first := optionValues(fake.opts[0])
	assert.Equal(t, 3, first[asynq.MaxRetryOpt])
	assert.Equal(t, "default", first[asynq.QueueOpt])
	assert.Equal(t, 3*time.Minute, first[asynq.TimeoutOpt])
	assert.NotContains(t, first, asynq.ProcessInOpt)

	second := optionValues(fake.opts[1])
	assert.Equal(t, 100*time.Millisecond, second[asynq.ProcessInOpt])
	assert.Len(t, client.options, 3, "delay must not leak into the shared options")
}

func TestAsynqClient_EnqueueAdvanceError(t *testing.T) {
	client := &AsynqClient{client: &fakeEnqueuer{err: errors.New("connection refused")}, logger: discard}
	err := client.EnqueueAdvance(context.Background(), uuid.New(), 0)
	assert.ErrorContains(t, err, "connection refused")
}

func TestQueues(t *testing.T) {
	assert.Equal(t, map[string]int{"critical": 6, "high": 3, "default": 1}, Queues("default"))
	assert.Equal(t, 1, Queues("debates")["debates"])
}

func TestParseAdvancePayload(t *testing.T) {
	_, err := ParseAdvancePayload(asynq.NewTask(TaskTypeDebateAdvance, []byte("not json")))
	assert.Error(t, err)

	_, err = ParseAdvancePayload(asynq.NewTask(TaskTypeDebateAdvance, []byte(`{}`)))
	assert.Error(t, err)
}

type fakeAdvancer struct {
	outcome progression.Outcome
	err     error
	calls   int
}

func (f *fakeAdvancer) Advance(context.Context, uuid.UUID) (progression.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type fakeFailures struct {
	ids   []uuid.UUID
	cause error
}

func (f *fakeFailures) MarkFailed(_ context.Context, id uuid.UUID, cause error) error {
	f.ids = append(f.ids, id)
	f.cause = cause
	return nil
}

func retryState(retried, maxRetry int) RetryState {
	return func(context.Context) (int, int, bool) { return retried, maxRetry, true }
}

func TestAdvanceHandler_ProcessTask(t *testing.T) {
	id := uuid.New()
	task, err := NewAdvanceTask(id)
	require.NoError(t, err)
	modelErr := errors.New("model call: upstream 503")

	tests := []struct {
		name       string
		advanceErr error
		retried    int
		wantErr    bool
		wantSkip   bool
		wantFailed bool
	}{
		{name: "success", wantErr: false},
		{name: "debate deleted", advanceErr: progression.ErrDebateNotFound},
		{name: "retry left", advanceErr: modelErr, retried: 1, wantErr: true},
		{name: "last attempt", advanceErr: modelErr, retried: 3, wantErr: true, wantSkip: true, wantFailed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := &fakeAdvancer{outcome: progression.OutcomePersisted, err: tt.advanceErr}
			failures := &fakeFailures{}
			h := NewAdvanceHandler(worker, failures, discard).WithRetryState(retryState(tt.retried, 3))

			err := h.ProcessTask(context.Background(), task)

			assert.Equal(t, 1, worker.calls)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantSkip, errors.Is(err, asynq.SkipRetry))
			if tt.wantFailed {
				assert.Equal(t, []uuid.UUID{id}, failures.ids)
				assert.Equal(t, modelErr, failures.cause)
			} else {
				assert.Empty(t, failures.ids)
			}
		})
	}
}

func TestAdvanceHandler_BadPayload(t *testing.T) {
	worker := &fakeAdvancer{}
	h := NewAdvanceHandler(worker, &fakeFailures{}, discard)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskTypeDebateAdvance, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Zero(t, worker.calls)
}

func TestAdvanceHandler_NoRetryContext(t *testing.T) {
	task, err := NewAdvanceTask(uuid.New())
	require.NoError(t, err)
	failures := &fakeFailures{}
	h := NewAdvanceHandler(&fakeAdvancer{err: errors.New("boom")}, failures, discard)

	err = h.ProcessTask(context.Background(), task)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, failures.ids)
}

func TestLogTasks(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantLine string
	}{
		{name: "processed", wantLine: "level=DEBUG msg=\"task processed\" type=debate:advance"},
		{name: "failed", err: errors.New("boom"), wantLine: "level=WARN msg=\"task failed\" type=debate:advance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			next := asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return tt.err })

			err := LogTasks(logger)(next).ProcessTask(context.Background(), asynq.NewTask(TaskTypeDebateAdvance, nil))

			assert.Equal(t, tt.err, err)
			assert.Contains(t, buf.String(), tt.wantLine)
			assert.Contains(t, buf.String(), "took=")
		})
	}
}

func TestAdvanceHandler_Register(t *testing.T) {
	task, err := NewAdvanceTask(uuid.New())
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := &AsynqServer{mux: asynq.NewServeMux(), logger: discard}
	worker := &fakeAdvancer{outcome: progression.OutcomePersisted}
	NewAdvanceHandler(worker, &fakeFailures{}, logger).Register(srv)

	require.NoError(t, srv.mux.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, worker.calls)
	assert.Contains(t, buf.String(), "task processed")
}
