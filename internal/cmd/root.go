package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "debated",
	Short: "LLM debate progression engine",
	Long: `debated runs structured debates between two model debaters and a judge.

Debates are stored in PostgreSQL and advanced one turn at a time by workers
consuming an asynq queue. Each cycle is idempotent, so concurrent workers
and retried tasks never duplicate a turn.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (env vars and .env are always read)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("debated")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/debated")
		viper.AddConfigPath(".")
	}

	// Config files use the same flat keys as the environment (DB_HOST: ...)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
