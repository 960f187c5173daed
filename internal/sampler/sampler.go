// Package sampler draws the reproducible per-file subsample of corpus lines.
package sampler

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/hopsurprisal/internal/token"
)

// InsufficientDataError is returned when a file has fewer eligible lines than
// the requested sample size.
type InsufficientDataError struct {
	Source    string
	Eligible  int
	Requested int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: %d eligible sequences, %d requested", e.Source, e.Eligible, e.Requested)
}

// Config bounds which sequences are eligible and how many are drawn.
type Config struct {
	SampleSize int
	MaxSeqLen  int // exclusive bound on length including the EOS token
	EOSToken   int
}

// Sample is one drawn sequence with its provenance.
type Sample struct {
	Source string
	Line   int // zero-based line number in Source
	Tokens token.Sequence
}

// Sampler draws reproducible random subsets of tokenized lines.
type Sampler struct {
	cfg Config
	rng *rand.Rand
}

// New returns a sampler drawing from rng. All files sampled through the same
// Sampler share rng, so file order is part of the reproducibility contract.
func New(cfg Config, rng *rand.Rand) *Sampler {
	return &Sampler{cfg: cfg, rng: rng}
}

// NewSeeded is New with a fresh source seeded from seed.
func NewSeeded(cfg Config, seed int64) *Sampler {
	return New(cfg, rand.New(rand.NewSource(seed)))
}

// Eligible appends EOS to every line and keeps those shorter than MaxSeqLen.
// The returned line numbers index into lines.
func (s *Sampler) Eligible(lines []token.Sequence) ([]token.Sequence, []int) {
	seqs := make([]token.Sequence, 0, len(lines))
	idx := make([]int, 0, len(lines))
	for i, l := range lines {
		if len(l)+1 >= s.cfg.MaxSeqLen {
			continue
		}
		seq := make(token.Sequence, 0, len(l)+1)
		seq = append(seq, l...)
		seqs = append(seqs, append(seq, s.cfg.EOSToken))
		idx = append(idx, i)
	}
	return seqs, idx
}

// FileStats summarises one sampled file.
type FileStats struct {
	Path     string
	Lines    int
	Eligible int
	Sampled  int
}

// SampleLines draws SampleSize eligible sequences from lines without replacement.
func (s *Sampler) SampleLines(source string, lines []token.Sequence) ([]Sample, error) {
	out, _, err := s.sampleLines(source, lines)
	return out, err
}

func (s *Sampler) sampleLines(source string, lines []token.Sequence) ([]Sample, FileStats, error) {
	seqs, lineNos := s.Eligible(lines)
	stats := FileStats{Path: source, Lines: len(lines), Eligible: len(seqs)}
	if len(seqs) < s.cfg.SampleSize {
		return nil, stats, &InsufficientDataError{Source: source, Eligible: len(seqs), Requested: s.cfg.SampleSize}
	}

	picked := s.choose(len(seqs), s.cfg.SampleSize)
	out := make([]Sample, len(picked))
	for i, p := range picked {
		out[i] = Sample{Source: source, Line: lineNos[p], Tokens: seqs[p]}
	}
	stats.Sampled = len(out)
	return out, stats, nil
}

// SampleFiles samples each file in order and concatenates the results.
// onFile, when non-nil, receives the stats of every file sampled successfully.
func (s *Sampler) SampleFiles(paths []string, onFile func(FileStats)) ([]Sample, error) {
	var all []Sample
	for _, p := range paths {
		lines, err := token.ReadFile(p)
		if err != nil {
			return nil, err
		}
		samples, stats, err := s.sampleLines(p, lines)
		if err != nil {
			return nil, err
		}
		if onFile != nil {
			onFile(stats)
		}
		all = append(all, samples...)
	}
	return all, nil
}

// choose is a partial Fisher-Yates shuffle: k distinct indices from [0,n),
// uniformly, in draw order.
func (s *Sampler) choose(n, k int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + s.rng.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}
