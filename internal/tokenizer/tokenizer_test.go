package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/hopsurprisal/internal/gguf"
)

func writeVocab(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeByteLevel(t *testing.T) {
	// "Ġ" is the byte-level form of a space, "Ċ" of a newline.
	tk, err := Load(writeVocab(t, `{"The": 0, "Ġcat": 1, "Ġsat": 2, ".": 3, "Ċ": 4, "Ã©": 5}`))
	if err != nil {
		t.Fatal(err)
	}
	tk.AddSpecial(6, "<|endoftext|>")
	tk.AddSpecial(7, "🅂")

	tests := []struct {
		name string
		ids  []int
		want string
	}{
		{"sentence", []int{0, 1, 2, 3}, "The cat sat."},
		{"newline", []int{0, 4}, "The\n"},
		{"multibyte", []int{5}, "é"},
		{"special tokens", []int{0, 1, 7, 3, 6}, "The cat🅂.<|endoftext|>"},
		{"unknown id", []int{0, 42}, "The<42>"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tk.Decode(tt.ids); got != tt.want {
				t.Errorf("Decode(%v) = %q, want %q", tt.ids, got, tt.want)
			}
		})
	}

	if tk.Size() != 8 {
		t.Errorf("Size = %d, want 8", tk.Size())
	}
}

func TestByteDecoderCoversAllBytes(t *testing.T) {
	if len(unicodeToByte) != 256 {
		t.Fatalf("decoder has %d entries", len(unicodeToByte))
	}
	seen := map[byte]bool{}
	for _, b := range unicodeToByte {
		seen[b] = true
	}
	if len(seen) != 256 {
		t.Errorf("decoder is not a bijection onto bytes")
	}
	if unicodeToByte['Ġ'] != ' ' || unicodeToByte['A'] != 'A' {
		t.Errorf("unexpected mapping: Ġ=%d A=%d", unicodeToByte['Ġ'], unicodeToByte['A'])
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(writeVocab(t, `{"a": 0, "b": 0}`)); err == nil {
		t.Error("expected duplicate id error")
	}
	if _, err := Load(writeVocab(t, `{"a": -1}`)); err == nil {
		t.Error("expected negative id error")
	}
	if _, err := Load(writeVocab(t, `not json`)); err == nil {
		t.Error("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected missing file error")
	}
}

func TestLoadGGUF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	kv := map[string]interface{}{"tokenizer.ggml.tokens": []string{"Hello", "ĠWorld", "!"}}
	if err := gguf.Write(f, kv, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tk, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := tk.Decode([]int{0, 1, 2}); got != "Hello World!" {
		t.Errorf("got %q", got)
	}
}

func TestIDs(t *testing.T) {
	if got := (IDs{}).Decode([]int{12, 50257, 7}); got != "12 50257 7" {
		t.Errorf("got %q", got)
	}
	if got := (IDs{}).Decode(nil); got != "" {
		t.Errorf("got %q", got)
	}
}
