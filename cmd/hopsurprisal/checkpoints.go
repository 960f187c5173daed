package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints <perturbation> <train_set> <seed> <paren_model>",
	Short: "List the checkpoints on disk and report any the schedule is missing",
	Args:  cobra.ExactArgs(4),
	RunE:  runCheckpoints,
}

func init() {
	registerRunFlags(checkpointsCmd)
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := experimentConfig(cmd, args)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	layout := cfg.Layout()
	available, err := layout.Available()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d checkpoints\n", layout.RunDir(), len(available))
	for _, n := range available {
		fmt.Fprintf(out, "  %d\n", n)
	}

	missing := 0
	for _, n := range cfg.Schedule.Checkpoints() {
		if _, err := layout.Resolve(n); err != nil {
			fmt.Fprintf(out, "missing: %v\n", err)
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d scheduled checkpoints missing", missing)
	}
	return nil
}
