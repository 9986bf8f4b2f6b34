package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/pkg/config"
)

var _ progression.Enqueuer = (*AsynqClient)(nil)

// AsynqClient wraps the Asynq client for enqueuing tasks
type AsynqClient struct {
	client  enqueuer
	options []asynq.Option
	logger  *slog.Logger
}

// enqueuer is the part of *asynq.Client the wrapper uses
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// RedisOpt builds the broker connection options
func RedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
}

// AdvanceOptions are the per-task options of debate:advance
func AdvanceOptions(cfg *config.QueueConfig, worker *config.WorkerConfig) []asynq.Option {
	opts := []asynq.Option{asynq.MaxRetry(worker.MaxRetries)}
	if cfg.Name != "" {
		opts = append(opts, asynq.Queue(cfg.Name))
	}
	if worker.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(worker.TaskTimeout))
	}
	return opts
}

// NewAsynqClient creates a new Asynq client
func NewAsynqClient(cfg *config.QueueConfig, worker *config.WorkerConfig, logger *slog.Logger) (*AsynqClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := asynq.NewClient(RedisOpt(cfg))

	logger.Info("asynq client created",
		slog.String("redis_host", cfg.RedisHost),
		slog.Int("redis_port", cfg.RedisPort),
	)

	return &AsynqClient{
		client:  client,
		options: AdvanceOptions(cfg, worker),
		logger:  logger,
	}, nil
}

// EnqueueAdvance schedules one advancement cycle for debateID after delay
func (a *AsynqClient) EnqueueAdvance(ctx context.Context, debateID uuid.UUID, delay time.Duration) error {
	task, err := NewAdvanceTask(debateID)
	if err != nil {
		return err
	}

	opts := a.options
	if delay > 0 {
		opts = append(append([]asynq.Option{}, a.options...), asynq.ProcessIn(delay))
	}

	if _, err := a.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskTypeDebateAdvance, err)
	}
	return nil
}

// Close closes the Asynq client
func (a *AsynqClient) Close() error {
	a.logger.Info("closing asynq client")
	return a.client.Close()
}

// EnqueueContext enqueues a task with context
func (a *AsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := a.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		a.logger.Error("failed to enqueue task",
			slog.String("task_type", task.Type()),
			slog.Any("error", err),
		)
		return nil, err
	}

	a.logger.Debug("task enqueued",
		slog.String("task_id", info.ID),
		slog.String("task_type", task.Type()),
		slog.String("queue", info.Queue),
	)

	return info, nil
}

// AsynqServer wraps the Asynq server for processing tasks
type AsynqServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewAsynqServer creates a new Asynq server
func NewAsynqServer(cfg *config.QueueConfig, worker *config.WorkerConfig, logger *slog.Logger) (*AsynqServer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	server := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Concurrency:    cfg.Concurrency,
			Queues:         Queues(cfg.Name),
			StrictPriority: cfg.StrictPriority,

			// Retry configuration: base * 2^n, capped
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return progression.RetryDelay(n, worker.RetryBase, worker.RetryMax)
			},

			// Error handler
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task processing failed",
					slog.String("task_type", task.Type()),
					slog.String("payload", string(task.Payload())),
					slog.Any("error", err),
				)
			}),

			// Health check
			HealthCheckFunc: func(e error) {
				if e != nil {
					logger.Error("health check failed", slog.Any("error", e))
				}
			},
			HealthCheckInterval: 20 * time.Second,

			// Graceful shutdown
			ShutdownTimeout: 25 * time.Second,
		},
	)

	mux := asynq.NewServeMux()

	logger.Info("asynq server created",
		slog.String("redis_host", cfg.RedisHost),
		slog.Int("redis_port", cfg.RedisPort),
		slog.Int("concurrency", cfg.Concurrency),
	)

	return &AsynqServer{
		server: server,
		mux:    mux,
		logger: logger,
	}, nil
}

// HandleFunc registers a handler function for a task type
func (a *AsynqServer) HandleFunc(pattern string, handler func(context.Context, *asynq.Task) error) {
	a.mux.HandleFunc(pattern, handler)
	a.logger.Debug("handler registered", slog.String("pattern", pattern))
}

// Use adds a middleware to the mux
func (a *AsynqServer) Use(middleware func(asynq.Handler) asynq.Handler) {
	a.mux.Use(middleware)
}

// Start begins processing in the background; call Shutdown to stop
func (a *AsynqServer) Start() error {
	a.logger.Info("starting asynq server")
	if err := a.server.Start(a.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (a *AsynqServer) Shutdown() {
	a.logger.Info("shutting down asynq server")
	a.server.Shutdown()
}

// Queues returns the weighted queue set, making sure name is served
func Queues(name string) map[string]int {
	queues := map[string]int{
		"critical": 6, // Highest priority
		"high":     3,
		"default":  1,
	}
	if name != "" {
		if _, ok := queues[name]; !ok {
			queues[name] = 1
		}
	}
	return queues
}