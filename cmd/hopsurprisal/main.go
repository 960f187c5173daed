package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/hopsurprisal/internal/logger"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "hopsurprisal <perturbation> <train_set> <seed> <paren_model>",
		Short: "Measure marker-token surprisal across training checkpoints",
		Long: `hopsurprisal samples marker-bearing sentences from a perturbed test
corpus and scores, for every training checkpoint, the surprisal of the
marker token and of the token that replaces it when the marker is removed.`,
		Args:          cobra.ExactArgs(4),
		RunE:          runExperiment,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Log.Error("hopsurprisal failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "log format (console or json)")

	registerRunFlags(rootCmd)
	rootCmd.AddCommand(collectCmd, checkpointsCmd)
}

// setupLogging lets flags override the configured values.
func setupLogging(level, format string) {
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger.Setup(level, format)
}
