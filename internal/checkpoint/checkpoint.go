// Package checkpoint resolves the saved model states of a training run and
// the schedule of checkpoints a sweep visits.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/23skdu/hopsurprisal/internal/model"
)

const (
	dirPrefix   = "checkpoint-"
	weightsFile = "model.gguf"
)

// NotFoundError reports a checkpoint with no loadable model state.
type NotFoundError struct {
	Checkpoint int
	Path       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint %d not found at %s", e.Checkpoint, e.Path)
}

// Schedule is the ascending, evenly spaced list Start, Start+Step, ... <= Max.
type Schedule struct {
	Start int `yaml:"start"`
	Step  int `yaml:"step"`
	Max   int `yaml:"max"`
}

func (s Schedule) Validate() error {
	if s.Start <= 0 || s.Step <= 0 {
		return fmt.Errorf("schedule start %d and step %d must be positive", s.Start, s.Step)
	}
	if s.Max < s.Start {
		return fmt.Errorf("schedule max %d is below start %d", s.Max, s.Start)
	}
	return nil
}

// Checkpoints expands the schedule. An invalid schedule yields nil.
func (s Schedule) Checkpoints() []int {
	if s.Validate() != nil {
		return nil
	}
	out := make([]int, 0, (s.Max-s.Start)/s.Step+1)
	for c := s.Start; c <= s.Max; c += s.Step {
		out = append(out, c)
	}
	return out
}

// Layout locates checkpoints of one trained model:
// {Root}/{Group}/{Model}/runs/{Model}/checkpoint-{N}/model.gguf
type Layout struct {
	Root  string
	Group string
	Model string
}

func (l Layout) RunDir() string {
	return filepath.Join(l.Root, l.Group, l.Model, "runs", l.Model)
}

func (l Layout) Dir(n int) string {
	return filepath.Join(l.RunDir(), dirPrefix+strconv.Itoa(n))
}

// Resolve returns the weights file of checkpoint n: model.gguf when present,
// otherwise the only .gguf file in the checkpoint directory.
func (l Layout) Resolve(n int) (string, error) {
	dir := l.Dir(n)
	path := filepath.Join(dir, weightsFile)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.gguf"))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", &NotFoundError{Checkpoint: n, Path: path}
	}
	return matches[0], nil
}

// Available lists the checkpoint numbers present in the run directory, ascending.
func (l Layout) Available() ([]int, error) {
	entries, err := os.ReadDir(l.RunDir())
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), dirPrefix))
		if err != nil || n <= 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// Check resolves every checkpoint up front and returns the first failure.
func (l Layout) Check(checkpoints []int) error {
	for _, n := range checkpoints {
		if _, err := l.Resolve(n); err != nil {
			return err
		}
	}
	return nil
}

// Loader opens checkpoints through a registered model backend.
type Loader struct {
	Layout  Layout
	Backend string
	Options model.Options
	// Weightless backends are opened without resolving a file.
	Weightless bool
}

// Load opens checkpoint n with the configured backend.
func (l *Loader) Load(ctx context.Context, n int) (model.Model, error) {
	opts := l.Options
	if !l.Weightless {
		path, err := l.Layout.Resolve(n)
		if err != nil {
			return nil, err
		}
		opts.Path = path
	}
	m, err := model.Open(ctx, l.Backend, opts)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %d: %w", n, err)
	}
	return m, nil
}
