// Package token holds the token sequence types shared by the pipeline and the
// readers for the whitespace-separated corpus format.
package token

import (
	"strconv"
	"strings"
)

// Sequence is an ordered list of vocabulary ids. Callers treat it as immutable
// once built; helpers here always return fresh slices.
type Sequence []int

// Equal reports whether both sequences hold the same ids in the same order.
func (s Sequence) Equal(o Sequence) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Without returns a copy of s with the element at idx removed.
func (s Sequence) Without(idx int) Sequence {
	out := make(Sequence, 0, len(s)-1)
	out = append(out, s[:idx]...)
	return append(out, s[idx+1:]...)
}

// String renders the ids space separated, the same layout as a corpus line.
func (s Sequence) String() string {
	var b strings.Builder
	for i, id := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}

// Ints exposes the sequence as a plain slice for model backends.
func (s Sequence) Ints() []int {
	return []int(s)
}
