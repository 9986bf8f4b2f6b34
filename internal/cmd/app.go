package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandroruanova/debate-engine/internal/core/services/debates"
	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/cache"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/database"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/database/repositories"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/queue"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/storage"
	"github.com/alejandroruanova/debate-engine/internal/pkg/config"
	"github.com/alejandroruanova/debate-engine/internal/pkg/logger"
)

// app holds the connections a command needs
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *database.PostgresDB
	repo    *repositories.DebateRepository
	queue   *queue.AsynqClient
	bus     *cache.EventBus
	events  progression.EventPublisher
	debates *debates.Service
	closers []func() error
}

// needs selects the optional dependencies of openApp
type needs struct {
	queue  bool
	events bool
}

// openApp loads configuration and connects to PostgreSQL plus whatever n asks for
func openApp(n needs) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.Initialize(cfg.Environment, cfg.LogLevel)
	a := &app{cfg: cfg, logger: log, events: progression.NopPublisher{}}

	a.db, err = database.NewPostgresDB(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.db.Close)
	a.repo = repositories.NewDebateRepository(a.db.DB, log)

	if n.events && cfg.EventsEnabled {
		rc, err := cache.NewRedisCache(&cfg.Cache, log)
		if err != nil {
			// notifications are best effort; the debate still progresses
			log.Warn("events disabled, redis unavailable", slog.Any("error", err))
		} else {
			a.closers = append(a.closers, rc.Close)
			a.bus = cache.NewEventBus(rc, log)
			a.events = a.bus
		}
	}

	var enqueuer progression.Enqueuer = noQueue{}
	if n.queue {
		a.queue, err = queue.NewAsynqClient(&cfg.Queue, &cfg.Worker, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.queue.Close)
		enqueuer = a.queue
	}

	a.debates = debates.NewService(a.repo, a.repo, enqueuer, debates.DefaultSettings(cfg.Debate), log).
		WithEvents(a.events)

	return a, nil
}

// Close releases connections in reverse order of opening
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}

// exports opens the transcript export directory
func (a *app) exports() (*storage.LocalStorage, error) {
	return storage.NewLocalStorage(&storage.LocalStorageConfig{BasePath: a.cfg.Storage.ExportDir}, a.logger)
}

// noQueue backs commands that never enqueue
type noQueue struct{}

func (noQueue) EnqueueAdvance(ctx context.Context, debateID uuid.UUID, delay time.Duration) error {
	return errors.New("queue not configured for this command")
}

// parseID validates a debate id argument
func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid debate id %q: %w", arg, err)
	}
	return id, nil
}
