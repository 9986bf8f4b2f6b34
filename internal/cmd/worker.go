package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/core/services/prompts"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/llm"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the debate advancement worker",
	Long: `Run an asynq server consuming debate:advance tasks.

Each task performs one advancement cycle and schedules the next one, so
any number of workers can share the queue. The server stops gracefully on
SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := openApp(needs{queue: true, events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.RequireLLM(); err != nil {
		return err
	}

	completer := llm.NewClient(&a.cfg.LLM, a.logger)
	worker := progression.NewWorker(a.repo, completer, prompts.NewRenderer(a.logger), a.queue,
		progression.WorkerConfig{
			ChainDelay:          a.cfg.Worker.ChainDelay,
			DefaultModelDebater: a.cfg.LLM.ModelDebater,
			DefaultModelJudge:   a.cfg.LLM.ModelJudge,
		},
		a.logger,
		progression.WithEvents(a.events),
	)
	failures := progression.NewFailureController(a.repo, a.events, a.logger)

	srv, err := queue.NewAsynqServer(&a.cfg.Queue, &a.cfg.Worker, a.logger)
	if err != nil {
		return err
	}
	queue.NewAdvanceHandler(worker, failures, a.logger).Register(srv)

	a.logger.Info("worker ready",
		slog.String("queue", a.cfg.Queue.Name),
		slog.Int("concurrency", a.cfg.Queue.Concurrency),
		slog.Bool("events", a.bus != nil),
	)
	if err := srv.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	srv.Shutdown()
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return nil
}
