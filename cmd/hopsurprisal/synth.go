package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/23skdu/hopsurprisal/internal/logger"
	"github.com/23skdu/hopsurprisal/internal/model"
)

var (
	synthShape = model.GPT2Shape{Dim: 32, Heads: 4, Layers: 2, FFN: 128, Context: 1024}

	synthCmd = &cobra.Command{
		Use:   "synth <perturbation> <train_set> <seed> <paren_model>",
		Short: "Write randomly initialised GPT-2 checkpoints for every scheduled step",
		Long: `synth fills the checkpoint tree of one model with small random GPT-2
weights, one file per scheduled checkpoint, so a full run can be exercised
without trained models.`,
		Args: cobra.ExactArgs(4),
		RunE: runSynth,
	}
)

func init() {
	registerRunFlags(synthCmd)
	f := synthCmd.Flags()
	f.IntVar(&synthShape.Dim, "dim", synthShape.Dim, "embedding width")
	f.IntVar(&synthShape.Heads, "heads", synthShape.Heads, "attention heads")
	f.IntVar(&synthShape.Layers, "layers", synthShape.Layers, "transformer blocks")
	f.IntVar(&synthShape.FFN, "ffn", synthShape.FFN, "feed-forward width")
	f.IntVar(&synthShape.Context, "context", synthShape.Context, "context length")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	cfg, err := experimentConfig(cmd, args)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	shape := synthShape
	shape.Vocab = cfg.VocabSize
	shape.Positions = !cfg.NoPositionalEncodings
	if shape.Context < cfg.MaxSeqLen {
		return fmt.Errorf("context %d is shorter than max_seq_len %d", shape.Context, cfg.MaxSeqLen)
	}

	layout := cfg.Layout()
	for _, n := range cfg.Schedule.Checkpoints() {
		dir := layout.Dir(n)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, "model.gguf")
		if err := writeSynth(path, shape, int64(cfg.Seed)*1_000_003+int64(n)); err != nil {
			return err
		}
		logger.Log.Debug("Wrote checkpoint", "checkpoint", n, "path", path)
	}
	logger.Log.Info("Synthetic checkpoints written", "run_dir", layout.RunDir(),
		"checkpoints", len(cfg.Schedule.Checkpoints()), "vocab", shape.Vocab, "layers", shape.Layers)
	return nil
}

func writeSynth(path string, shape model.GPT2Shape, seed int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := model.WriteRandomGPT2(f, shape, seed); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
