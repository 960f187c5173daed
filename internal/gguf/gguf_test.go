package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestGGUFMagic(t *testing.T) {
	if GGUFMagic != 0x46554747 {
		t.Errorf("expected GGUFMagic 0x46554747, got 0x%x", GGUFMagic)
	}
}

func TestGGMLTypeString(t *testing.T) {
	tests := []struct {
		ggmlType GGMLType
		expected string
	}{
		{GGMLTypeF32, "F32"},
		{GGMLTypeF16, "F16"},
		{GGMLTypeQ4_K, "Q4_K"},
		{GGMLType(77), "UNKNOWN_TYPE_77"},
	}

	for _, tt := range tests {
		if got := tt.ggmlType.String(); got != tt.expected {
			t.Errorf("GGMLType(%d).String() = %s, want %s", tt.ggmlType, got, tt.expected)
		}
	}
}

func writeFixture(t *testing.T) string {
	t.Helper()
	kv := map[string]interface{}{
		"general.architecture":  "gpt2",
		"gpt2.block_count":      uint32(2),
		"gpt2.attention.eps":    float32(1e-5),
		"gpt2.context_length":   uint64(128),
		"tokenizer.ggml.tokens": []string{"a", "b", "c"},
		"general.quantized":     false,
	}
	tensors := []F32Tensor{
		{Name: "token_embd.weight", Dims: []uint64{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
		{Name: "output_norm.bias", Dims: []uint64{3}, Data: []float32{-0.5, 0, 0.25}},
	}

	path := filepath.Join(t.TempDir(), "model.gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Write(f, kv, tensors); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWriteThenLoad(t *testing.T) {
	file, err := LoadFile(writeFixture(t))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	defer file.Close()

	if file.Header.Version != GGUFVersion || file.Header.TensorCount != 2 {
		t.Errorf("unexpected header %+v", file.Header)
	}
	if file.DataOffset%DefaultAlignment != 0 {
		t.Errorf("data offset %d not aligned", file.DataOffset)
	}

	if got := file.String("general.architecture"); got != "gpt2" {
		t.Errorf("architecture = %q", got)
	}
	if n, err := file.Uint("gpt2.block_count"); err != nil || n != 2 {
		t.Errorf("block_count = %d, %v", n, err)
	}
	if n, err := file.Uint("gpt2.context_length"); err != nil || n != 128 {
		t.Errorf("context_length = %d, %v", n, err)
	}
	if eps, err := file.Float("gpt2.attention.eps"); err != nil || math.Abs(eps-1e-5) > 1e-9 {
		t.Errorf("eps = %v, %v", eps, err)
	}
	if toks, ok := file.KV["tokenizer.ggml.tokens"].([]interface{}); !ok || len(toks) != 3 || toks[2] != "c" {
		t.Errorf("tokens = %v", file.KV["tokenizer.ggml.tokens"])
	}
	if _, err := file.Uint("missing.key"); err == nil {
		t.Error("expected error for missing key")
	}

	emb, ok := file.Tensor("token_embd.weight")
	if !ok {
		t.Fatal("token_embd.weight missing")
	}
	vals, err := emb.Float32s()
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{1, 2, 3, 4, 5, 6} {
		if vals[i] != want {
			t.Fatalf("token_embd = %v", vals)
		}
	}

	bias, _ := file.Tensor("output_norm.bias")
	bv, _ := bias.Float32s()
	if bv[0] != -0.5 || bv[2] != 0.25 {
		t.Errorf("output_norm.bias = %v", bv)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	data := make([]byte, 32)
	binary.LittleEndian.PutUint32(data, 0xdeadbeef)

	var magicErr ErrInvalidMagic
	if _, err := Parse(data); !errors.As(err, &magicErr) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestParseRejectsVersion(t *testing.T) {
	data := make([]byte, 32)
	binary.LittleEndian.PutUint32(data, GGUFMagic)
	binary.LittleEndian.PutUint32(data[4:], 9)

	var verErr ErrUnsupportedVersion
	if _, err := Parse(data); !errors.As(err, &verErr) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestParseTruncated(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, map[string]interface{}{"general.name": "x"},
		[]F32Tensor{{Name: "w", Dims: []uint64{4}, Data: []float32{1, 2, 3, 4}}})
	if err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()

	if _, err := Parse(full); err != nil {
		t.Fatalf("full image should parse: %v", err)
	}
	for _, cut := range []int{30, 50, len(full) - 20} {
		if _, err := Parse(full[:cut]); err == nil {
			t.Errorf("truncated at %d: expected error", cut)
		} else if cut < 50 && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("truncated at %d: expected unexpected EOF, got %v", cut, err)
		}
	}
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	err := Write(io.Discard, nil, []F32Tensor{{Name: "w", Dims: []uint64{2, 2}, Data: []float32{1}}})
	if err == nil {
		t.Fatal("expected dims/data mismatch error")
	}
}

func TestFloat16(t *testing.T) {
	tests := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3C00, 1},
		{0xC000, -2},
		{0x3800, 0.5},
		{0x7BFF, 65504},
		{0x0001, float32(math.Pow(2, -24))},
	}
	for _, tt := range tests {
		if got := float16ToFloat32(tt.bits); got != tt.want {
			t.Errorf("float16ToFloat32(%#04x) = %v, want %v", tt.bits, got, tt.want)
		}
	}
	if !math.IsInf(float64(float16ToFloat32(0x7C00)), 1) {
		t.Error("0x7C00 should be +Inf")
	}
	if !math.IsNaN(float64(float16ToFloat32(0x7E00))) {
		t.Error("0x7E00 should be NaN")
	}
}

func TestF16TensorDecode(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data, 0x3C00)
	binary.LittleEndian.PutUint16(data[2:], 0xC000)
	ti := &TensorInfo{Name: "h", Dimensions: []uint64{2}, Type: GGMLTypeF16, Data: data}

	vals, err := ti.Float32s()
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != 1 || vals[1] != -2 {
		t.Errorf("decoded %v", vals)
	}

	q := &TensorInfo{Name: "q", Dimensions: []uint64{256}, Type: GGMLTypeQ4_K}
	var ut ErrUnsupportedType
	if _, err := q.Float32s(); !errors.As(err, &ut) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}
