// Package surprisal computes circular-context surprisal of a single target
// token under a causal next-token model.
package surprisal

import (
	"context"
	"fmt"

	"github.com/23skdu/hopsurprisal/internal/logger"
)

// Predictor is the next-token capability the engine needs. Logits returns one
// row per input position; row i scores the token at position i+1.
type Predictor interface {
	VocabSize() int
	Logits(ctx context.Context, tokens []int) ([][]float32, error)
}

// NextPredictor is an optional fast path for causal models: the scores for the
// token following prefix, equal to row len(prefix)-1 of Logits(prefix ++ [x])
// for any x.
type NextPredictor interface {
	NextLogits(ctx context.Context, prefix []int) ([]float32, error)
}

// Batcher is implemented by predictors that can score several independent
// prefixes in one call, one NextLogits row per prefix.
type Batcher interface {
	BatchNextLogits(ctx context.Context, prefixes [][]int) ([][]float32, error)
}

// Request is one surprisal query: the target at Target within Tokens.
type Request struct {
	Tokens []int
	Target int
}

// Engine computes circular surprisals against one predictor.
type Engine struct {
	p         Predictor
	batchSize int
}

// NewEngine wraps p. batchSize <= 1 disables grouping.
func NewEngine(p Predictor, batchSize int) *Engine {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Engine{p: p, batchSize: batchSize}
}

// Circular returns the surprisal in bits of tokens[t] given every other token
// of the sequence as left context.
func (e *Engine) Circular(ctx context.Context, tokens []int, t int) (float64, error) {
	if err := checkTarget(tokens, t); err != nil {
		return 0, err
	}
	rotated := Rotate(tokens, t)
	scores, err := e.next(ctx, rotated)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	return e.score(scores, rotated[len(rotated)-1])
}

// next returns the distribution emitted at position L-2, which predicts the
// rotated target at L-1.
func (e *Engine) next(ctx context.Context, rotated []int) ([]float32, error) {
	l := len(rotated)
	if np, ok := e.p.(NextPredictor); ok {
		return np.NextLogits(ctx, rotated[:l-1])
	}
	rows, err := e.p.Logits(ctx, rotated)
	if err != nil {
		return nil, err
	}
	if len(rows) < l-1 {
		return nil, &ScoresError{Reason: fmt.Sprintf("got %d rows for %d positions", len(rows), l)}
	}
	return rows[l-2], nil
}

// ComputeBatch evaluates reqs in order and returns one surprisal per request.
// Grouping only changes how many sequences reach the predictor per call.
func (e *Engine) ComputeBatch(ctx context.Context, reqs []Request) ([]float64, error) {
	out := make([]float64, len(reqs))
	b, canBatch := e.p.(Batcher)

	for start := 0; start < len(reqs); start += e.batchSize {
		end := min(start+e.batchSize, len(reqs))
		group := reqs[start:end]

		if !canBatch || len(group) == 1 {
			for i, r := range group {
				s, err := e.Circular(ctx, r.Tokens, r.Target)
				if err != nil {
					return nil, fmt.Errorf("request %d: %w", start+i, err)
				}
				out[start+i] = s
			}
			logger.Log.Debug("Scored batch", "done", end, "total", len(reqs))
			continue
		}

		targets := make([]int, len(group))
		prefixes := make([][]int, len(group))
		for i, r := range group {
			if err := checkTarget(r.Tokens, r.Target); err != nil {
				return nil, fmt.Errorf("request %d: %w", start+i, err)
			}
			rotated := Rotate(r.Tokens, r.Target)
			prefixes[i] = rotated[:len(rotated)-1]
			targets[i] = rotated[len(rotated)-1]
		}
		rows, err := b.BatchNextLogits(ctx, prefixes)
		if err != nil {
			return nil, fmt.Errorf("predict batch at %d: %w", start, err)
		}
		if len(rows) != len(group) {
			return nil, &ScoresError{Reason: fmt.Sprintf("batch returned %d results for %d sequences", len(rows), len(group))}
		}
		for i := range group {
			s, err := e.score(rows[i], targets[i])
			if err != nil {
				return nil, fmt.Errorf("request %d: %w", start+i, err)
			}
			out[start+i] = s
		}
		logger.Log.Debug("Scored batch", "done", end, "total", len(reqs))
	}
	return out, nil
}

func (e *Engine) score(scores []float32, target int) (float64, error) {
	if target >= e.p.VocabSize() {
		return 0, &TokenRangeError{Token: target, VocabSize: e.p.VocabSize()}
	}
	lp, err := LogProb(scores, target)
	if err != nil {
		return 0, err
	}
	return Bits(lp), nil
}
