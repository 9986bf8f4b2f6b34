package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandroruanova/debate-engine/internal/infrastructure/cache"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check PostgreSQL and Redis connectivity",
	Long: `Health pings the database and the Redis instance used for events and
reports pool statistics for each. It exits non-zero when PostgreSQL is down.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var healthTimeout time.Duration

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "time allowed for each check")
	healthCmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	report := map[string]map[string]interface{}{
		"postgres": a.db.Health(ctx),
	}

	rc, err := cache.NewRedisCache(&a.cfg.Cache, a.logger)
	if err != nil {
		report["redis"] = map[string]interface{}{"status": "down", "error": err.Error()}
	} else {
		report["redis"] = rc.Health(ctx)
		_ = rc.Close()
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, report); err != nil {
			return err
		}
	} else {
		printHealth(out, report)
	}

	if report["postgres"]["status"] != "up" {
		return fmt.Errorf("postgres is %v", report["postgres"]["status"])
	}
	return nil
}

func printHealth(w io.Writer, report map[string]map[string]interface{}) {
	for _, name := range []string{"postgres", "redis"} {
		check := report[name]
		fmt.Fprintf(w, "%-9s %v\n", name, check["status"])

		keys := make([]string, 0, len(check))
		for k := range check {
			if k != "status" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-20s %v\n", k, check[k])
		}
	}
}
