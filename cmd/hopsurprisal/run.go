package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/23skdu/hopsurprisal/internal/arrow_client"
	"github.com/23skdu/hopsurprisal/internal/config"
	"github.com/23skdu/hopsurprisal/internal/logger"
	"github.com/23skdu/hopsurprisal/internal/monitoring"
	"github.com/23skdu/hopsurprisal/internal/pipeline"
)

var runFlags struct {
	noPositional   bool
	backend        string
	dataRoot       string
	checkpointRoot string
	resultsDir     string
	tokenizer      string
	sampleSize     int
	batchSize      int
	workers        int
	metricsAddr    string
	flightAddr     string
}

func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVarP(&runFlags.noPositional, "no_pos_encodings", "n", false, "evaluate the model trained without positional encodings")
	f.StringVar(&runFlags.backend, "backend", "", "model backend (gpt2, uniform)")
	f.StringVar(&runFlags.dataRoot, "data-root", "", "root of the perturbed corpora")
	f.StringVar(&runFlags.checkpointRoot, "checkpoint-root", "", "root of the trained checkpoints")
	f.StringVar(&runFlags.resultsDir, "results-dir", "", "directory for result tables")
	f.StringVar(&runFlags.tokenizer, "tokenizer", "", "vocab.json or GGUF file used to decode sentences")
	f.IntVar(&runFlags.sampleSize, "sample-size", 0, "sequences sampled per test file")
	f.IntVar(&runFlags.batchSize, "batch-size", 0, "sequences per prediction batch")
	f.IntVar(&runFlags.workers, "workers", 0, "concurrent sequences per batch")
	f.StringVar(&runFlags.metricsAddr, "metrics", "", "serve /metrics, /health and /status on this address")
	f.StringVar(&runFlags.flightAddr, "flight", "", "also publish the result table to this Arrow Flight endpoint")
}

// applyRunFlags overrides cfg with the flags that were set explicitly.
func applyRunFlags(cfg *config.Config, flags *pflag.FlagSet) {
	set := func(name string) bool { return flags.Changed(name) }
	if set("no_pos_encodings") {
		cfg.NoPositionalEncodings = runFlags.noPositional
	}
	if set("backend") {
		cfg.Backend = runFlags.backend
	}
	if set("data-root") {
		cfg.DataRoot = runFlags.dataRoot
	}
	if set("checkpoint-root") {
		cfg.CheckpointRoot = runFlags.checkpointRoot
	}
	if set("results-dir") {
		cfg.ResultsDir = runFlags.resultsDir
	}
	if set("tokenizer") {
		cfg.TokenizerVocab = runFlags.tokenizer
	}
	if set("sample-size") {
		cfg.FileSampleSize = runFlags.sampleSize
	}
	if set("batch-size") {
		cfg.BatchSize = runFlags.batchSize
	}
	if set("workers") {
		cfg.Workers = runFlags.workers
	}
	if set("metrics") {
		cfg.MetricsAddr = runFlags.metricsAddr
	}
	if set("flight") {
		cfg.FlightAddr = runFlags.flightAddr
	}
}

// experimentConfig merges file, environment, positional arguments and flags.
func experimentConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	seed, err := strconv.Atoi(args[2])
	if err != nil {
		return cfg, fmt.Errorf("invalid seed %q: %w", args[2], err)
	}
	cfg.Perturbation = args[0]
	cfg.TrainSet = args[1]
	cfg.Seed = seed
	cfg.ParenModel = args[3]
	applyRunFlags(&cfg, cmd.Flags())
	return cfg, cfg.Validate()
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := experimentConfig(cmd, args)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitoring.NewMonitor(cfg.ModelName())
	if cfg.MetricsAddr != "" {
		if _, err := mon.Start(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("start monitor: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mon.Stop(shutdownCtx)
		}()
	}

	opts := []pipeline.Option{pipeline.WithObserver(mon)}
	if cfg.FlightAddr != "" {
		client, err := arrow_client.NewFlightClient(cfg.FlightAddr)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, pipeline.WithPublisher(client))
	}

	runner, err := pipeline.New(cfg, opts...)
	if err != nil {
		return err
	}
	sum, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Log.Info("Experiment complete",
		"run_id", sum.RunID,
		"model", cfg.ModelName(),
		"files", sum.Files,
		"examples", sum.Rows,
		"checkpoints", len(sum.Checkpoints),
		"final_marker_bits", sum.FinalMarkerBits,
		"final_no_marker_bits", sum.FinalNoMarkerBits,
		"output", sum.ResultPath,
		"elapsed", sum.Elapsed.Round(time.Millisecond).String())
	return nil
}
