package model

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/hopsurprisal/internal/cpu"
	"github.com/23skdu/hopsurprisal/internal/gguf"
	"github.com/23skdu/hopsurprisal/internal/logger"
)

func init() {
	Register("gpt2", func(ctx context.Context, opts Options) (Model, error) {
		return LoadGPT2(ctx, opts)
	})
}

// ContextLengthError reports an input longer than the model's context window.
type ContextLengthError struct {
	Length, Max int
}

func (e *ContextLengthError) Error() string {
	return fmt.Sprintf("sequence of %d tokens exceeds context length %d", e.Length, e.Max)
}

// MissingTensorError reports a weight the architecture requires but the file lacks.
type MissingTensorError struct {
	Name string
}

func (e *MissingTensorError) Error() string {
	return "missing tensor " + e.Name
}

type gpt2Params struct {
	vocab   int
	ctxLen  int
	dim     int
	heads   int
	layers  int
	ffnDim  int
	eps     float32
	noWPE   bool
	workers int
}

type gpt2Layer struct {
	ln1W, ln1B   []float32
	qkvW, qkvB   []float32
	projW, projB []float32
	ln2W, ln2B   []float32
	upW, upB     []float32
	downW, downB []float32
}

// GPT2 is a CPU float32 GPT-2 decoder loaded from a GGUF file. Quantized
// weight types are rejected at load time.
type GPT2 struct {
	p      gpt2Params
	wte    []float32
	wpe    []float32
	lnfW   []float32
	lnfB   []float32
	head   []float32
	layers []gpt2Layer
}

// LoadGPT2 reads every weight into memory and releases the mapping before
// returning, so the model owns no file handle.
func LoadGPT2(ctx context.Context, opts Options) (*GPT2, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := gguf.LoadFile(opts.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := buildGPT2(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.Path, err)
	}
	logger.Log.Debug("gpt2 model loaded", "path", opts.Path, "layers", m.p.layers,
		"dim", m.p.dim, "vocab", m.p.vocab, "no_positional_encodings", m.p.noWPE)
	return m, nil
}

func buildGPT2(f *gguf.GGUFFile, opts Options) (*GPT2, error) {
	if arch := f.String("general.architecture"); arch != "" && arch != "gpt2" {
		return nil, fmt.Errorf("architecture %q is not gpt2", arch)
	}
	uintKey := func(key string) (int, error) {
		v, err := f.Uint(key)
		return int(v), err
	}

	var p gpt2Params
	var err error
	if p.ctxLen, err = uintKey("gpt2.context_length"); err != nil {
		return nil, err
	}
	if p.dim, err = uintKey("gpt2.embedding_length"); err != nil {
		return nil, err
	}
	if p.layers, err = uintKey("gpt2.block_count"); err != nil {
		return nil, err
	}
	if p.heads, err = uintKey("gpt2.attention.head_count"); err != nil {
		return nil, err
	}
	p.eps = 1e-5
	if eps, err := f.Float("gpt2.attention.layer_norm_epsilon"); err == nil {
		p.eps = float32(eps)
	}
	if p.heads == 0 || p.dim%p.heads != 0 {
		return nil, fmt.Errorf("embedding length %d not divisible by %d heads", p.dim, p.heads)
	}
	p.noWPE = opts.NoPositionalEncodings
	p.workers = max(opts.Workers, 1)

	load := func(name string, want ...int) ([]float32, error) {
		t, ok := f.Tensor(name)
		if !ok {
			return nil, &MissingTensorError{Name: name}
		}
		if len(t.Dimensions) != len(want) {
			return nil, fmt.Errorf("tensor %s: rank %d, want %d", name, len(t.Dimensions), len(want))
		}
		for i, d := range want {
			if d >= 0 && int(t.Dimensions[i]) != d {
				return nil, fmt.Errorf("tensor %s: dims %v, want %v", name, t.Dimensions, want)
			}
		}
		return t.Float32s()
	}

	m := &GPT2{}
	wte, ok := f.Tensor("token_embd.weight")
	if !ok {
		return nil, &MissingTensorError{Name: "token_embd.weight"}
	}
	if len(wte.Dimensions) != 2 {
		return nil, fmt.Errorf("token_embd.weight: rank %d", len(wte.Dimensions))
	}
	p.vocab = int(wte.Dimensions[1])
	if opts.VocabSize > 0 && opts.VocabSize != p.vocab {
		return nil, fmt.Errorf("model vocab %d does not match configured vocab %d", p.vocab, opts.VocabSize)
	}
	if m.wte, err = load("token_embd.weight", p.dim, p.vocab); err != nil {
		return nil, err
	}
	if !p.noWPE {
		if m.wpe, err = load("position_embd.weight", p.dim, p.ctxLen); err != nil {
			return nil, err
		}
	}

	m.layers = make([]gpt2Layer, p.layers)
	for i := range m.layers {
		l := &m.layers[i]
		pre := fmt.Sprintf("blk.%d.", i)
		loads := []struct {
			dst  *[]float32
			name string
			dims []int
		}{
			{&l.ln1W, "attn_norm.weight", []int{p.dim}},
			{&l.ln1B, "attn_norm.bias", []int{p.dim}},
			{&l.qkvW, "attn_qkv.weight", []int{p.dim, 3 * p.dim}},
			{&l.qkvB, "attn_qkv.bias", []int{3 * p.dim}},
			{&l.projW, "attn_output.weight", []int{p.dim, p.dim}},
			{&l.projB, "attn_output.bias", []int{p.dim}},
			{&l.ln2W, "ffn_norm.weight", []int{p.dim}},
			{&l.ln2B, "ffn_norm.bias", []int{p.dim}},
			{&l.upW, "ffn_up.weight", []int{p.dim, -1}},
			{&l.upB, "ffn_up.bias", []int{-1}},
			{&l.downW, "ffn_down.weight", []int{-1, p.dim}},
			{&l.downB, "ffn_down.bias", []int{p.dim}},
		}
		for _, ld := range loads {
			if *ld.dst, err = load(pre+ld.name, ld.dims...); err != nil {
				return nil, err
			}
		}
		ffn := len(l.upB)
		if p.ffnDim == 0 {
			p.ffnDim = ffn
		}
		if ffn != p.ffnDim || len(l.upW) != p.dim*ffn || len(l.downW) != p.dim*ffn {
			return nil, fmt.Errorf("layer %d: inconsistent feed-forward width", i)
		}
	}

	if m.lnfW, err = load("output_norm.weight", p.dim); err != nil {
		return nil, err
	}
	if m.lnfB, err = load("output_norm.bias", p.dim); err != nil {
		return nil, err
	}
	if _, ok := f.Tensor("output.weight"); ok {
		if m.head, err = load("output.weight", p.dim, p.vocab); err != nil {
			return nil, err
		}
	} else {
		m.head = m.wte
	}
	m.p = p
	return m, nil
}

func (m *GPT2) VocabSize() int { return m.p.vocab }

func (m *GPT2) ContextLength() int { return m.p.ctxLen }

func (m *GPT2) Close() error {
	m.wte, m.wpe, m.head, m.layers = nil, nil, nil, nil
	return nil
}

// Logits returns vocab scores for every position of tokens.
func (m *GPT2) Logits(ctx context.Context, tokens []int) ([][]float32, error) {
	h, err := m.hidden(ctx, tokens)
	if err != nil {
		return nil, err
	}
	n, dim, vocab := len(tokens), m.p.dim, m.p.vocab
	flat := make([]float32, n*vocab)
	cpu.Linear(h, m.head, nil, flat, n, dim, vocab)
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = flat[i*vocab : (i+1)*vocab]
	}
	return rows, nil
}

// NextLogits scores the token following prefix, projecting only the last
// hidden state through the output head.
func (m *GPT2) NextLogits(ctx context.Context, prefix []int) ([]float32, error) {
	h, err := m.hidden(ctx, prefix)
	if err != nil {
		return nil, err
	}
	dim := m.p.dim
	out := make([]float32, m.p.vocab)
	cpu.Linear(h[(len(prefix)-1)*dim:], m.head, nil, out, 1, dim, m.p.vocab)
	return out, nil
}

// BatchNextLogits evaluates independent prefixes concurrently, bounded by
// the configured worker count.
func (m *GPT2) BatchNextLogits(ctx context.Context, prefixes [][]int) ([][]float32, error) {
	out := make([][]float32, len(prefixes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.p.workers)
	for i, prefix := range prefixes {
		g.Go(func() error {
			row, err := m.NextLogits(gctx, prefix)
			if err != nil {
				return fmt.Errorf("sequence %d: %w", i, err)
			}
			out[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// hidden runs the transformer stack and returns the final normalised hidden
// states, len(tokens) x dim.
func (m *GPT2) hidden(ctx context.Context, tokens []int) ([]float32, error) {
	if m.layers == nil {
		return nil, fmt.Errorf("gpt2 model is closed")
	}
	n := len(tokens)
	if n == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if n > m.p.ctxLen {
		return nil, &ContextLengthError{Length: n, Max: m.p.ctxLen}
	}
	for _, t := range tokens {
		if t < 0 || t >= m.p.vocab {
			return nil, fmt.Errorf("token %d outside vocabulary of %d", t, m.p.vocab)
		}
	}

	dim, ffn := m.p.dim, m.p.ffnDim
	x := make([]float32, n*dim)
	cpu.Embedding(m.wte, tokens, dim, x)
	if !m.p.noWPE {
		cpu.Add(x, m.wpe[:n*dim])
	}

	norm := make([]float32, n*dim)
	qkv := make([]float32, n*3*dim)
	attn := make([]float32, n*dim)
	proj := make([]float32, n*dim)
	up := make([]float32, n*ffn)

	for i := range m.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l := &m.layers[i]

		cpu.LayerNorm(x, norm, l.ln1W, l.ln1B, n, dim, m.p.eps)
		cpu.Linear(norm, l.qkvW, l.qkvB, qkv, n, dim, 3*dim)
		cpu.CausalAttention(qkv, attn, n, dim, m.p.heads)
		cpu.Linear(attn, l.projW, l.projB, proj, n, dim, dim)
		cpu.Add(x, proj)

		cpu.LayerNorm(x, norm, l.ln2W, l.ln2B, n, dim, m.p.eps)
		cpu.Linear(norm, l.upW, l.upB, up, n, dim, ffn)
		cpu.GELU(up)
		cpu.Linear(up, l.downW, l.downB, proj, n, ffn, dim)
		cpu.Add(x, proj)
	}

	cpu.LayerNorm(x, norm, m.lnfW, m.lnfB, n, dim, m.p.eps)
	return norm, nil
}
