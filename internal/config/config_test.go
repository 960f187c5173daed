package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	cfg := Default()
	cfg.Perturbation = "unwrap_tokens4"
	cfg.ParenModel = "CROSS"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.FileSampleSize != 1000 {
		t.Errorf("expected FileSampleSize 1000, got %d", cfg.FileSampleSize)
	}
	if cfg.MaxSeqLen != 1024 {
		t.Errorf("expected MaxSeqLen 1024, got %d", cfg.MaxSeqLen)
	}
	if cfg.EOSToken != 50256 || cfg.MarkerSingular != 50257 || cfg.MarkerPlural != 50258 {
		t.Errorf("unexpected special tokens %d/%d/%d", cfg.EOSToken, cfg.MarkerSingular, cfg.MarkerPlural)
	}
	if cfg.BatchSize != 32 {
		t.Errorf("expected BatchSize 32, got %d", cfg.BatchSize)
	}
	if got := cfg.Schedule.Checkpoints(); len(got) != 30 || got[0] != 100 || got[29] != 3000 {
		t.Errorf("default schedule = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"10M train set", func(c *Config) { c.TrainSet = "10M" }, false},
		{"missing perturbation", func(c *Config) { c.Perturbation = "" }, true},
		{"non hop perturbation", func(c *Config) { c.Perturbation = "shuffle_local3" }, true},
		{"bad train set", func(c *Config) { c.TrainSet = "1B" }, true},
		{"missing paren model", func(c *Config) { c.ParenModel = "" }, true},
		{"negative seed", func(c *Config) { c.Seed = -1 }, true},
		{"zero sample size", func(c *Config) { c.FileSampleSize = 0 }, true},
		{"max seq len 1", func(c *Config) { c.MaxSeqLen = 1 }, true},
		{"same markers", func(c *Config) { c.MarkerPlural = c.MarkerSingular }, true},
		{"eos is a marker", func(c *Config) { c.EOSToken = c.MarkerPlural }, true},
		{"bad schedule", func(c *Config) { c.Schedule.Step = 0 }, true},
		{"no backend", func(c *Config) { c.Backend = "" }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedNames(t *testing.T) {
	cfg := validConfig()
	cfg.Seed = 41
	cfg.DataRoot = "/data"
	cfg.CheckpointRoot = "/ckpt"
	cfg.ResultsDir = "out"

	if got := cfg.ModelName(); got != "babylm_unwrap_tokens4_100M_CROSS_seed41" {
		t.Errorf("ModelName = %s", got)
	}
	if got := cfg.CorpusGlob(); got != "/data/babylm_data_perturbed/babylm_unwrap_tokens4/babylm_test_affected/*" {
		t.Errorf("CorpusGlob = %s", got)
	}
	if got := cfg.ResultPath(); got != "out/unwrap_tokens4_100M/CROSS_seed41.csv" {
		t.Errorf("ResultPath = %s", got)
	}

	cfg.NoPositionalEncodings = true
	if got := cfg.ModelName(); got != "babylm_unwrap_tokens4_100M_CROSS_no_positional_encodings_seed41" {
		t.Errorf("ModelName (np) = %s", got)
	}
	if got := cfg.ResultPath(); got != "out/unwrap_tokens4_100M_no_positional_encodings/CROSS_seed41.csv" {
		t.Errorf("ResultPath (np) = %s", got)
	}
	want := "/ckpt/babylm_unwrap_tokens4_100M_CROSS_no_positional_encodings/babylm_unwrap_tokens4_100M_CROSS_no_positional_encodings_seed41/runs/babylm_unwrap_tokens4_100M_CROSS_no_positional_encodings_seed41/checkpoint-100"
	if got := cfg.Layout().Dir(100); got != want {
		t.Errorf("checkpoint dir = %s\nwant %s", got, want)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := `
perturbation: unwrap_words4
paren_model: randinit
seed: 3
file_sample_size: 50
schedule:
  start: 500
  step: 500
  max: 1500
backend: uniform
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvCheckpointRoot, "/mnt/ckpt")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Perturbation != "unwrap_words4" || cfg.Seed != 3 || cfg.FileSampleSize != 50 || cfg.Backend != "uniform" {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if got := cfg.Schedule.Checkpoints(); len(got) != 3 || got[2] != 1500 {
		t.Errorf("schedule = %v", got)
	}
	if cfg.MaxSeqLen != 1024 || cfg.TrainSet != "100M" {
		t.Error("defaults should survive for keys the file omits")
	}
	if cfg.CheckpointRoot != "/mnt/ckpt" {
		t.Errorf("env override not applied: %s", cfg.CheckpointRoot)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("seed: [1, 2"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
	if cfg, err := Load(""); err != nil || cfg.Backend != "gpt2" {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
}
