// Package model provides the next-token prediction backends and the registry
// used to open them per checkpoint.
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Model is one loaded checkpoint. Logits returns one row of raw scores per
// input position; row i scores the token at position i+1.
type Model interface {
	VocabSize() int
	Logits(ctx context.Context, tokens []int) ([][]float32, error)
	Close() error
}

// Options selects and configures a backend instance.
type Options struct {
	Path                  string // weights file, unused by weightless backends
	VocabSize             int
	NoPositionalEncodings bool
	Workers               int
}

// Factory opens a model from options.
type Factory func(ctx context.Context, opts Options) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering a name twice panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("model: backend registered twice: " + name)
	}
	registry[name] = f
}

// Open instantiates the named backend.
func Open(ctx context.Context, name string, opts Options) (Model, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model backend %q (have %v)", name, Backends())
	}
	return f(ctx, opts)
}

// Backends lists registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Provider opens the model state saved at a training checkpoint.
type Provider interface {
	Load(ctx context.Context, checkpoint int) (Model, error)
}
