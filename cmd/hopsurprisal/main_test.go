package main

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestExperimentConfig(t *testing.T) {
	cmd := &cobra.Command{}
	registerRunFlags(cmd)
	if err := cmd.Flags().Parse([]string{"-n", "--backend", "uniform", "--workers", "3", "--sample-size", "10"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := experimentConfig(cmd, []string{"unwrap_tokens4", "10M", "3", "CROSS"})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.NoPositionalEncodings || cfg.Backend != "uniform" || cfg.Workers != 3 || cfg.FileSampleSize != 10 {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.ModelName() != "babylm_unwrap_tokens4_10M_CROSS_no_positional_encodings_seed3" {
		t.Errorf("model name %s", cfg.ModelName())
	}

	if _, err := experimentConfig(cmd, []string{"unwrap_tokens4", "10M", "three", "CROSS"}); err == nil {
		t.Error("expected error for non-numeric seed")
	}
	if _, err := experimentConfig(cmd, []string{"shuffle_local3", "10M", "0", "CROSS"}); err == nil {
		t.Error("expected error for a perturbation without markers")
	}
}

func TestCollectedFile(t *testing.T) {
	path := []string{"hop_surprisal", "babylm_x_seed0"}
	if got := collectedFile("out", path, 0); got != filepath.Join("out", "hop_surprisal", "babylm_x_seed0.csv") {
		t.Errorf("first file %s", got)
	}
	if got := collectedFile("out", path, 2); got != filepath.Join("out", "hop_surprisal", "babylm_x_seed0.2.csv") {
		t.Errorf("third file %s", got)
	}
}

func TestCheckpointsCommand(t *testing.T) {
	root := t.TempDir()
	cfgFile := filepath.Join(root, "config.yaml")
	yml := "schedule:\n  start: 100\n  step: 100\n  max: 200\n"
	if err := os.WriteFile(cfgFile, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ckptRoot := filepath.Join(root, "checkpoints")
	runDir := filepath.Join(ckptRoot, "babylm_unwrap_control_100M_CROSS", "babylm_unwrap_control_100M_CROSS_seed0",
		"runs", "babylm_unwrap_control_100M_CROSS_seed0")
	for _, n := range []string{"checkpoint-100", "checkpoint-200"} {
		if err := os.MkdirAll(filepath.Join(runDir, n), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(runDir, "checkpoint-100", "model.gguf"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	run := func() (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs([]string{"checkpoints", "unwrap_control", "100M", "0", "CROSS",
			"--config", cfgFile, "--checkpoint-root", ckptRoot, "--log-level", "error"})
		err := rootCmd.Execute()
		return out.String(), err
	}

	out, err := run()
	if err == nil {
		t.Fatal("expected error for checkpoint 200 without weights")
	}
	if !strings.Contains(out, "2 checkpoints") || !strings.Contains(out, "missing") {
		t.Errorf("output %q", out)
	}

	if err := os.WriteFile(filepath.Join(runDir, "checkpoint-200", "weights.gguf"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run()
	if err != nil {
		t.Fatalf("checkpoints: %v\n%s", err, out)
	}
	if strings.Contains(out, "missing") {
		t.Errorf("output %q", out)
	}
}

func TestSynthThenRunGPT2(t *testing.T) {
	root := t.TempDir()
	corpus := filepath.Join(root, "data", "babylm_data_perturbed", "babylm_unwrap_tokens4", "babylm_test_affected")
	if err := os.MkdirAll(corpus, 0o755); err != nil {
		t.Fatal(err)
	}
	lines := "1 2 11 3 4\n5 12 6\n11 7 8 9\n2 2 2 12 1 11\n"
	if err := os.WriteFile(filepath.Join(corpus, "test.affected"), []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	cfgFile := filepath.Join(root, "config.yaml")
	yml := "data_root: " + filepath.Join(root, "data") + "\n" +
		"checkpoint_root: " + filepath.Join(root, "checkpoints") + "\n" +
		"results_dir: " + filepath.Join(root, "results") + "\n" +
		"file_sample_size: 3\nmax_seq_len: 16\neos_token: 10\nmarker_singular: 11\nmarker_plural: 12\n" +
		"vocab_size: 13\nbatch_size: 2\nworkers: 2\nlog_level: error\n" +
		"schedule:\n  start: 100\n  step: 100\n  max: 200\n"
	if err := os.WriteFile(cfgFile, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	args := []string{"unwrap_tokens4", "100M", "0", "CROSS", "--config", cfgFile}
	rootCmd.SetArgs(append([]string{"synth", "--dim", "4", "--heads", "2", "--layers", "1", "--ffn", "8", "--context", "16"}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("synth: %v", err)
	}
	rootCmd.SetArgs(append(args, "--backend", "gpt2"))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	f, err := os.Open(filepath.Join(root, "results", "unwrap_tokens4_100M", "CROSS_seed0.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 4 || len(recs[0]) != 9 {
		t.Fatalf("table shape %dx%d", len(recs), len(recs[0]))
	}
	for _, row := range recs[1:] {
		for _, cell := range row[5:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
				t.Errorf("surprisal %q: %v", cell, err)
			}
		}
	}
}
