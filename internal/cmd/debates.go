package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alejandroruanova/debate-engine/internal/core/domain"
	"github.com/alejandroruanova/debate-engine/internal/core/services/debates"
	"github.com/alejandroruanova/debate-engine/internal/core/services/prompts"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a debate",
	Long: `Create a debate on a topic. Settings are a JSON object whose keys
override the configured defaults, for example:

  debated create --topic "Remote work beats office work" \
    --settings '{"max_rounds": 3, "judge_mode": "each_round"}'`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var startCmd = &cobra.Command{
	Use:   "start <debate-id>",
	Short: "Start a created debate",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate("start"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume <debate-id>",
	Short: "Resume a stopped or completed debate",
	Long: `Resume continues from the persisted cursor. The stop reason and last
error are cleared; a failed debate cannot be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate("resume"),
}

var stopCmd = &cobra.Command{
	Use:   "stop <debate-id>",
	Short: "Request a graceful stop",
	Long: `Stop asks a running debate to finish. The worker produces a closing
judge verdict before the debate becomes stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

var showCmd = &cobra.Command{
	Use:   "show <debate-id>",
	Short: "Show a debate and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent debates",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <debate-id>",
	Short: "Delete a debate, its turns and its exports",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var (
	createTopic    string
	createSettings string
	createStart    bool
	jsonOutput     bool
	listLimit      int
)

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)

	createCmd.Flags().StringVarP(&createTopic, "topic", "t", "", "debate topic (required)")
	createCmd.Flags().StringVarP(&createSettings, "settings", "s", "", "settings overrides as a JSON object")
	createCmd.Flags().BoolVar(&createStart, "start", false, "start the debate right away")
	_ = createCmd.MarkFlagRequired("topic")

	listCmd.Flags().IntVarP(&listLimit, "limit", "n", debates.DefaultListLimit, "maximum number of debates")

	for _, c := range []*cobra.Command{createCmd, showCmd, listCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	}
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(needs{queue: createStart, events: createStart})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	d, err := a.debates.CreateFromJSON(ctx, createTopic, []byte(createSettings))
	if err != nil {
		return err
	}

	if createStart {
		if _, err := a.debates.Start(ctx, d.ID); err != nil {
			return fmt.Errorf("debate %s created but not started: %w", d.ID, err)
		}
		d.Status = domain.StatusRunning
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), d)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.ID, d.Status)
	return nil
}

func runActivate(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(needs{queue: true, events: true})
		if err != nil {
			return err
		}
		defer a.Close()

		activate := a.debates.Start
		if action == "resume" {
			activate = a.debates.Resume
		}
		enqueued, err := activate(cmd.Context(), id)
		if err != nil {
			return err
		}

		if enqueued {
			fmt.Fprintf(cmd.OutOrStdout(), "%s running\n", id)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already running\n", id)
		}
		return nil
	}
}

func runStop(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(needs{events: true})
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.debates.Stop(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, status)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	detail, err := a.debates.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, detail)
	}

	d := detail.Debate
	fmt.Fprintf(out, "Topic:   %s\n", d.Topic)
	fmt.Fprintf(out, "Status:  %s", d.Status)
	if d.StopReason != nil {
		fmt.Fprintf(out, " (%s)", *d.StopReason)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Rounds:  %d\n", detail.CompletedRounds)
	if d.LastError != nil {
		fmt.Fprintf(out, "Error:   %s\n", *d.LastError)
	}
	fmt.Fprintln(out)
	if len(detail.Turns) == 0 {
		fmt.Fprintln(out, "No turns yet.")
		return nil
	}
	fmt.Fprintln(out, prompts.FormatTranscript(detail.Turns))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.debates.List(cmd.Context(), listLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "No debates.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tROUNDS\tUPDATED\tTOPIC")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			item.ID, item.Status, item.CompletedRounds,
			item.UpdatedAt.Local().Format(time.DateTime), truncate(item.Topic, 60))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.debates.Delete(ctx, id); err != nil {
		return err
	}
	if err := deleteExports(ctx, a, id); err != nil {
		a.logger.Warn("exports not removed", slog.String("debate_id", id.String()), slog.Any("error", err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", id)
	return nil
}

func deleteExports(ctx context.Context, a *app, id uuid.UUID) error {
	store, err := a.exports()
	if err != nil {
		return err
	}
	return store.DeleteExports(ctx, id)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
