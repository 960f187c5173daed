package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/hopsurprisal/internal/checkpoint"
)

// Environment overrides for the storage roots.
const (
	EnvDataRoot       = "HOP_DATA_ROOT"
	EnvCheckpointRoot = "HOP_CHECKPOINT_ROOT"
)

type Config struct {
	Perturbation          string `yaml:"perturbation"`
	TrainSet              string `yaml:"train_set"`
	Seed                  int    `yaml:"seed"`
	ParenModel            string `yaml:"paren_model"`
	NoPositionalEncodings bool   `yaml:"no_positional_encodings"`

	DataRoot       string `yaml:"data_root"`
	CheckpointRoot string `yaml:"checkpoint_root"`
	ResultsDir     string `yaml:"results_dir"`
	TokenizerVocab string `yaml:"tokenizer_vocab"`

	FileSampleSize int                 `yaml:"file_sample_size"`
	MaxSeqLen      int                 `yaml:"max_seq_len"`
	EOSToken       int                 `yaml:"eos_token"`
	MarkerSingular int                 `yaml:"marker_singular"`
	MarkerPlural   int                 `yaml:"marker_plural"`
	Schedule       checkpoint.Schedule `yaml:"schedule"`

	Backend   string `yaml:"backend"`
	VocabSize int    `yaml:"vocab_size"`
	BatchSize int    `yaml:"batch_size"`
	Workers   int    `yaml:"workers"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	FlightAddr  string `yaml:"flight_addr"`
}

func Default() Config {
	return Config{
		TrainSet:       "100M",
		DataRoot:       "data",
		CheckpointRoot: "checkpoints",
		ResultsDir:     "hop_surprisal_results",
		FileSampleSize: 1000,
		MaxSeqLen:      1024,
		EOSToken:       50256,
		MarkerSingular: 50257,
		MarkerPlural:   50258,
		Schedule:       checkpoint.Schedule{Start: 100, Step: 100, Max: 3000},
		Backend:        "gpt2",
		VocabSize:      50259,
		BatchSize:      32,
		Workers:        runtime.NumCPU(),
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load starts from Default, applies the YAML file at path (when non-empty)
// and then the environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDataRoot); v != "" {
		c.DataRoot = v
	}
	if v := os.Getenv(EnvCheckpointRoot); v != "" {
		c.CheckpointRoot = v
	}
}

func (c *Config) Validate() error {
	if c.Perturbation == "" {
		return fmt.Errorf("perturbation is required")
	}
	if !strings.Contains(c.Perturbation, "unwrap") {
		return fmt.Errorf("invalid perturbation %q: only hop (unwrap) perturbations carry markers", c.Perturbation)
	}
	if c.TrainSet != "100M" && c.TrainSet != "10M" {
		return fmt.Errorf("invalid train_set: %q (must be 100M or 10M)", c.TrainSet)
	}
	if c.ParenModel == "" {
		return fmt.Errorf("paren_model is required")
	}
	if c.Seed < 0 {
		return fmt.Errorf("invalid seed: %d (must be non-negative)", c.Seed)
	}
	if c.FileSampleSize <= 0 {
		return fmt.Errorf("invalid file_sample_size: %d (must be positive)", c.FileSampleSize)
	}
	if c.MaxSeqLen <= 1 {
		return fmt.Errorf("invalid max_seq_len: %d (must be greater than 1)", c.MaxSeqLen)
	}
	if c.MarkerSingular == c.MarkerPlural {
		return fmt.Errorf("marker tokens must differ, both are %d", c.MarkerSingular)
	}
	if c.EOSToken == c.MarkerSingular || c.EOSToken == c.MarkerPlural {
		return fmt.Errorf("eos token %d collides with a marker token", c.EOSToken)
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if c.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	if c.VocabSize < 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be non-negative)", c.VocabSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d (must be positive)", c.Workers)
	}
	return nil
}

func (c *Config) npSuffix() string {
	if c.NoPositionalEncodings {
		return "_no_positional_encodings"
	}
	return ""
}

// ModelGroup names the directory shared by every seed of one configuration.
func (c *Config) ModelGroup() string {
	return fmt.Sprintf("babylm_%s_%s_%s%s", c.Perturbation, c.TrainSet, c.ParenModel, c.npSuffix())
}

// ModelName identifies one trained model, e.g.
// babylm_unwrap_tokens4_100M_randinit_seed0.
func (c *Config) ModelName() string {
	return c.ModelGroup() + "_seed" + strconv.Itoa(c.Seed)
}

func (c *Config) CorpusGlob() string {
	return filepath.Join(c.DataRoot, "babylm_data_perturbed", "babylm_"+c.Perturbation, "babylm_test_affected", "*")
}

func (c *Config) ResultPath() string {
	dir := c.Perturbation + "_" + c.TrainSet + c.npSuffix()
	return filepath.Join(c.ResultsDir, dir, fmt.Sprintf("%s_seed%d.csv", c.ParenModel, c.Seed))
}

func (c *Config) Layout() checkpoint.Layout {
	return checkpoint.Layout{Root: c.CheckpointRoot, Group: c.ModelGroup(), Model: c.ModelName()}
}
