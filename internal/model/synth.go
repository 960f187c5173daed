package model

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/23skdu/hopsurprisal/internal/gguf"
)

// GPT2Shape sizes a randomly initialised GPT-2.
type GPT2Shape struct {
	Vocab     int
	Dim       int
	Heads     int
	Layers    int
	FFN       int
	Context   int
	Positions bool // write position_embd
}

func (s GPT2Shape) validate() error {
	if s.Vocab <= 0 || s.Dim <= 0 || s.Layers <= 0 || s.FFN <= 0 || s.Context <= 0 {
		return fmt.Errorf("gpt2 shape %+v: sizes must be positive", s)
	}
	if s.Heads <= 0 || s.Dim%s.Heads != 0 {
		return fmt.Errorf("gpt2 shape: dim %d not divisible by %d heads", s.Dim, s.Heads)
	}
	return nil
}

// WriteRandomGPT2 writes a GGUF GPT-2 with normally distributed weights drawn
// from seed and unit layer norm gains. The output head is tied to token_embd.
func WriteRandomGPT2(w io.Writer, shape GPT2Shape, seed int64) error {
	if err := shape.validate(); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(seed))
	normal := func(name string, dims ...int) gguf.F32Tensor {
		n := 1
		udims := make([]uint64, len(dims))
		for i, d := range dims {
			n *= d
			udims[i] = uint64(d)
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(rng.NormFloat64() * 0.5)
		}
		return gguf.F32Tensor{Name: name, Dims: udims, Data: data}
	}
	ones := func(name string, n int) gguf.F32Tensor {
		data := make([]float32, n)
		for i := range data {
			data[i] = 1
		}
		return gguf.F32Tensor{Name: name, Dims: []uint64{uint64(n)}, Data: data}
	}

	d := shape.Dim
	tensors := []gguf.F32Tensor{normal("token_embd.weight", d, shape.Vocab)}
	if shape.Positions {
		tensors = append(tensors, normal("position_embd.weight", d, shape.Context))
	}
	for i := 0; i < shape.Layers; i++ {
		pre := fmt.Sprintf("blk.%d.", i)
		tensors = append(tensors,
			ones(pre+"attn_norm.weight", d),
			normal(pre+"attn_norm.bias", d),
			normal(pre+"attn_qkv.weight", d, 3*d),
			normal(pre+"attn_qkv.bias", 3*d),
			normal(pre+"attn_output.weight", d, d),
			normal(pre+"attn_output.bias", d),
			ones(pre+"ffn_norm.weight", d),
			normal(pre+"ffn_norm.bias", d),
			normal(pre+"ffn_up.weight", d, shape.FFN),
			normal(pre+"ffn_up.bias", shape.FFN),
			normal(pre+"ffn_down.weight", shape.FFN, d),
			normal(pre+"ffn_down.bias", d),
		)
	}
	tensors = append(tensors, ones("output_norm.weight", d), normal("output_norm.bias", d))

	kv := map[string]interface{}{
		"general.architecture":              "gpt2",
		"gpt2.context_length":               uint32(shape.Context),
		"gpt2.embedding_length":             uint32(d),
		"gpt2.block_count":                  uint32(shape.Layers),
		"gpt2.attention.head_count":         uint32(shape.Heads),
		"gpt2.attention.layer_norm_epsilon": float32(1e-5),
	}
	return gguf.Write(w, kv, tensors)
}
