package model

import (
	"context"
	"fmt"
)

func init() {
	Register("uniform", func(_ context.Context, opts Options) (Model, error) {
		return NewUniform(opts.VocabSize)
	})
}

// Uniform scores every vocabulary entry equally at every position. Every
// target then costs exactly log2(vocab) bits, which makes it the reference
// baseline for a run.
type Uniform struct {
	vocab int
}

func NewUniform(vocab int) (*Uniform, error) {
	if vocab <= 0 {
		return nil, fmt.Errorf("uniform model: invalid vocab size %d", vocab)
	}
	return &Uniform{vocab: vocab}, nil
}

func (u *Uniform) VocabSize() int { return u.vocab }

func (u *Uniform) Logits(ctx context.Context, tokens []int) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := make([][]float32, len(tokens))
	for i := range rows {
		rows[i] = make([]float32, u.vocab)
	}
	return rows, nil
}

func (u *Uniform) NextLogits(ctx context.Context, _ []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]float32, u.vocab), nil
}

func (u *Uniform) Close() error { return nil }
