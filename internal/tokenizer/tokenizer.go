// Package tokenizer turns GPT-2 byte-level BPE token ids back into text.
package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/23skdu/hopsurprisal/internal/gguf"
)

// Decoder renders a token sequence for human inspection.
type Decoder interface {
	Decode(ids []int) string
}

// IDs is the fallback decoder: space-separated decimal ids.
type IDs struct{}

func (IDs) Decode(ids []int) string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

type Tokenizer struct {
	Tokens  []string
	special map[int]string
}

// Load reads a vocabulary from a GPT-2 vocab.json (token -> id) or from the
// tokenizer.ggml.tokens array of a GGUF file.
func Load(path string) (*Tokenizer, error) {
	if strings.EqualFold(filepath.Ext(path), ".gguf") {
		return loadGGUF(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vocab map[string]int
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return FromVocab(vocab)
}

func loadGGUF(path string) (*Tokenizer, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	arr, ok := f.KV["tokenizer.ggml.tokens"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: tokenizer.ggml.tokens not found", path)
	}
	tokens := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: token %d is not a string", path, i)
		}
		tokens[i] = s
	}
	return &Tokenizer{Tokens: tokens, special: map[int]string{}}, nil
}

// FromVocab builds a tokenizer from a token -> id map. Ids must be unique.
func FromVocab(vocab map[string]int) (*Tokenizer, error) {
	size := 0
	for _, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		size = max(size, id+1)
	}
	tokens := make([]string, size)
	seen := make([]bool, size)
	for tok, id := range vocab {
		if seen[id] {
			return nil, fmt.Errorf("token id %d assigned twice", id)
		}
		seen[id] = true
		tokens[id] = tok
	}
	return &Tokenizer{Tokens: tokens, special: map[int]string{}}, nil
}

// AddSpecial registers a token emitted verbatim, such as an end-of-text or
// marker token added after training the base vocabulary.
func (t *Tokenizer) AddSpecial(id int, text string) {
	t.special[id] = text
}

func (t *Tokenizer) Size() int {
	n := len(t.Tokens)
	for id := range t.special {
		n = max(n, id+1)
	}
	return n
}

// Decode maps byte-level pieces back to bytes. Special tokens are written as
// registered and ids outside the vocabulary as "<id>".
func (t *Tokenizer) Decode(ids []int) string {
	var buf []byte
	for _, id := range ids {
		if s, ok := t.special[id]; ok {
			buf = append(buf, s...)
			continue
		}
		if id < 0 || id >= len(t.Tokens) || t.Tokens[id] == "" {
			buf = append(buf, '<')
			buf = strconv.AppendInt(buf, int64(id), 10)
			buf = append(buf, '>')
			continue
		}
		for _, r := range t.Tokens[id] {
			if b, ok := unicodeToByte[r]; ok {
				buf = append(buf, b)
			} else {
				buf = append(buf, string(r)...)
			}
		}
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// unicodeToByte inverts the GPT-2 byte encoder: printable Latin-1 bytes map to
// themselves, the remaining bytes to code points from 256 upward in order.
var unicodeToByte = func() map[rune]byte {
	m := make(map[rune]byte, 256)
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	n := 0
	for b := 0; b < 256; b++ {
		if printable(b) {
			m[rune(b)] = byte(b)
		} else {
			m[rune(256+n)] = byte(b)
			n++
		}
	}
	return m
}()
