package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
)

var watchCmd = &cobra.Command{
	Use:   "watch <debate-id>",
	Short: "Follow a debate as turns are produced",
	Long: `Watch subscribes to the debate's Redis event channel and prints each
turn and status change until the debate reaches a terminal status.
Requires EVENTS_ENABLED and a reachable Redis.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var errWatchDone = errors.New("debate finished")

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&jsonOutput, "json", false, "print events as JSON lines")
}

func runWatch(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(needs{events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.bus == nil {
		return errors.New("events are disabled; set EVENTS_ENABLED=true and check Redis")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	last, err := a.bus.LastStatus(ctx, id)
	if err != nil {
		return err
	}
	if last != nil {
		if err := printEvent(out, *last); err != nil {
			return err
		}
		if last.Status.IsTerminal() {
			return nil
		}
	}

	err = a.bus.Watch(ctx, id, func(event domain.Event) error {
		if err := printEvent(out, event); err != nil {
			return err
		}
		if event.Type == domain.EventStatus && event.Status.IsTerminal() {
			return errWatchDone
		}
		return nil
	})
	if errors.Is(err, errWatchDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvent(w io.Writer, event domain.Event) error {
	if jsonOutput {
		return printJSON(w, event)
	}

	at := event.At.Local().Format(time.TimeOnly)
	switch event.Type {
	case domain.EventTurn:
		t := event.Turn
		if t == nil {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s  round %d  %s\n%s\n\n", at, t.Round, t.Actor.Label(), strings.TrimSpace(t.Content))
		return err
	default:
		line := fmt.Sprintf("%s  status %s", at, event.Status)
		if event.StopReason != nil {
			line += fmt.Sprintf(" (%s)", *event.StopReason)
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
}
