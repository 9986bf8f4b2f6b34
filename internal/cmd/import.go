package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alejandroruanova/debate-engine/internal/core/services/debates"
	"github.com/alejandroruanova/debate-engine/internal/infrastructure/parsers"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create debates from a file of topics",
	Long: `Import reads a CSV, XLSX, JSON or JSONL (.ndjson) file with a "topic" column and
creates one debate per row. Any other column must be a settings key
(max_rounds, judge_mode, language, ...) and overrides the defaults for that
row. Rows that fail validation are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var (
	importStart  bool
	importDryRun bool
	importSheet  string
)

// importReport is the --json output of import
type importReport struct {
	File     string             `json:"file"`
	Format   string             `json:"format"`
	Created  []string           `json:"created"`
	Rejected []parsers.RowError `json:"rejected"`
	Skipped  int                `json:"skipped_rows"`
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importStart, "start", false, "start each created debate")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate the file without creating debates")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", `XLSX worksheet to read (default "Topics" or the first sheet)`)
	importCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx := cmd.Context()

	cfg := parsers.DefaultParserConfig()
	cfg.Sheet = importSheet
	imp, err := parsers.NewImporter(cfg).Import(ctx, path)
	if err != nil {
		return err
	}
	rows := imp.Rows

	report := importReport{
		File:     path,
		Format:   imp.Format,
		Created:  []string{},
		Rejected: imp.Rejected,
		Skipped:  imp.SkippedRows,
	}
	if report.Rejected == nil {
		report.Rejected = []parsers.RowError{}
	}

	if !importDryRun && len(rows) > 0 {
		a, err := openApp(needs{queue: importStart, events: importStart})
		if err != nil {
			return err
		}
		defer a.Close()

		for _, row := range rows {
			d, err := a.debates.Create(ctx, debates.CreateRequest{Topic: row.Topic, Settings: row.Settings})
			if err != nil {
				report.Rejected = append(report.Rejected, parsers.RowError{Line: row.Line, Reason: err.Error()})
				continue
			}
			report.Created = append(report.Created, d.ID.String())

			if importStart {
				if _, err := a.debates.Start(ctx, d.ID); err != nil {
					a.logger.Warn("imported debate not started",
						slog.String("debate_id", d.ID.String()),
						slog.Int("line", row.Line),
						slog.Any("error", err))
				}
			}
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, report)
	}

	verb := "created"
	count := len(report.Created)
	if importDryRun {
		verb, count = "valid", len(rows)
	}
	fmt.Fprintf(out, "%s: %d %s, %d rejected, %d empty rows skipped (%s)\n",
		path, count, verb, len(report.Rejected), report.Skipped, report.Format)
	for _, id := range report.Created {
		fmt.Fprintf(out, "  + %s\n", id)
	}
	for _, re := range report.Rejected {
		fmt.Fprintf(out, "  - %s\n", re.Error())
	}
	return nil
}
