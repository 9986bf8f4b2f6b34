package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandroruanova/debate-engine/internal/core/services/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <debate-id>",
	Short: "Write the transcript to the export directory",
	Long: `Export renders the debate and its transcript as Markdown or JSON and
stores it under <EXPORT_DIR>/exports/<debate-id>/. A previous export in the
same format is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var (
	exportFormat string
	exportStdout bool
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "export format: markdown or json")
	exportCmd.Flags().BoolVar(&exportStdout, "stdout", false, "print the export instead of storing it")
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	detail, err := a.debates.Get(ctx, id)
	if err != nil {
		return err
	}
	body, err := export.Render(detail, format, time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if exportStdout {
		_, err := out.Write(body)
		return err
	}

	store, err := a.exports()
	if err != nil {
		return err
	}
	meta, err := store.SaveExport(ctx, id, format.Filename(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\nsha256 %s (%d bytes)\n", meta.StoredPath, meta.Hash, meta.Size)
	return nil
}
