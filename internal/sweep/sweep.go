// Package sweep evaluates a fixed set of marker records at every checkpoint
// of a training run.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/hopsurprisal/internal/logger"
	"github.com/23skdu/hopsurprisal/internal/marker"
	"github.com/23skdu/hopsurprisal/internal/metrics"
	"github.com/23skdu/hopsurprisal/internal/model"
	"github.com/23skdu/hopsurprisal/internal/surprisal"
)

// Sink receives one pair of columns per checkpoint, in schedule order.
type Sink interface {
	AddCheckpoint(ckpt int, marker, noMarker []float64) error
}

// Aggregator holds at most one checkpoint model at a time.
type Aggregator struct {
	provider  model.Provider
	batchSize int
	log       *logger.Logger
}

func New(p model.Provider, batchSize int) *Aggregator {
	return &Aggregator{provider: p, batchSize: batchSize, log: logger.Log}
}

// Run scores every record at every checkpoint. Checkpoints must be strictly
// ascending. Each model is closed before the next one is loaded, and sink
// only sees complete columns.
func (a *Aggregator) Run(ctx context.Context, records []marker.Record, checkpoints []int, sink Sink) error {
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i] <= checkpoints[i-1] {
			return fmt.Errorf("checkpoints not ascending: %d after %d", checkpoints[i], checkpoints[i-1])
		}
	}

	withMarker := make([]surprisal.Request, len(records))
	withoutMarker := make([]surprisal.Request, len(records))
	for i, r := range records {
		withMarker[i] = surprisal.Request{Tokens: r.Marker.Ints(), Target: r.Target}
		withoutMarker[i] = surprisal.Request{Tokens: r.Counterfactual.Ints(), Target: r.Target}
		metrics.RecordContextLength(len(r.Marker))
	}

	for done, ckpt := range checkpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, nm, err := a.evaluate(ctx, ckpt, withMarker, withoutMarker)
		if err != nil {
			return fmt.Errorf("checkpoint %d: %w", ckpt, err)
		}
		if err := sink.AddCheckpoint(ckpt, m, nm); err != nil {
			return err
		}
		metrics.RecordCheckpointCompleted(done + 1)
		a.log.Info("Checkpoint evaluated", "checkpoint", ckpt, "progress", fmt.Sprintf("%d/%d", done+1, len(checkpoints)),
			"mean_marker_bits", mean(m), "mean_no_marker_bits", mean(nm))
	}
	return nil
}

// evaluate scopes one model handle: loaded, used for both variants, closed.
func (a *Aggregator) evaluate(ctx context.Context, ckpt int, withMarker, withoutMarker []surprisal.Request) (m, nm []float64, err error) {
	start := time.Now()
	mdl, err := a.provider.Load(ctx, ckpt)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordCheckpointLoad(time.Since(start))
	a.log.Debug("Checkpoint loaded", "checkpoint", ckpt, "vocab", mdl.VocabSize(), "elapsed", time.Since(start))
	defer func() {
		cerr := mdl.Close()
		metrics.RecordCheckpointClosed()
		if err == nil && cerr != nil {
			err = fmt.Errorf("close model: %w", cerr)
		}
	}()

	// A causal model sees every token but the last.
	if w, ok := mdl.(interface{ ContextLength() int }); ok {
		if n := longest(withMarker) - 1; n > w.ContextLength() {
			return nil, nil, &model.ContextLengthError{Length: n, Max: w.ContextLength()}
		}
	}

	engine := surprisal.NewEngine(mdl, a.batchSize)

	start = time.Now()
	if m, err = engine.ComputeBatch(ctx, withMarker); err != nil {
		return nil, nil, fmt.Errorf("marker sequences: %w", err)
	}
	if nm, err = engine.ComputeBatch(ctx, withoutMarker); err != nil {
		return nil, nil, fmt.Errorf("counterfactual sequences: %w", err)
	}
	metrics.RecordPrediction(time.Since(start))
	metrics.RecordSurprisals("marker", m)
	metrics.RecordSurprisals("no_marker", nm)
	return m, nm, nil
}

func longest(reqs []surprisal.Request) int {
	n := 0
	for _, r := range reqs {
		n = max(n, len(r.Tokens))
	}
	return n
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
