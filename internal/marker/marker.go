// Package marker locates the surprisal target in a sampled sequence and builds
// the paired counterfactual with the marker removed.
package marker

import (
	"fmt"

	"github.com/23skdu/hopsurprisal/internal/token"
)

// MarkerNotFoundError means the corpus does not match the perturbation: every
// sampled sequence must carry a marker.
type MarkerNotFoundError struct {
	Source string
	Line   int
}

func (e *MarkerNotFoundError) Error() string {
	return fmt.Sprintf("%s:%d: no marker token in sequence", e.Source, e.Line+1)
}

// InvariantError reports a record whose counterfactual does not line up with
// its marker sequence.
type InvariantError struct {
	Source string
	Line   int
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s:%d: record invariant violated: %s", e.Source, e.Line+1, e.Detail)
}

// Set holds the two marker ids.
type Set struct {
	Singular int
	Plural   int
}

func (m Set) Is(id int) bool {
	return id == m.Singular || id == m.Plural
}

// Record pairs a marker sequence with its counterfactual. Target indexes the
// marker in Marker and, by construction, the token that followed it in
// Counterfactual.
type Record struct {
	Source         string
	Line           int
	Marker         token.Sequence
	Counterfactual token.Sequence
	Target         int
	// Extra counts markers after Target. They stay in both sequences.
	Extra int
}

// Locate returns the index of the first marker in seq, or -1.
func (m Set) Locate(seq token.Sequence) int {
	for i, id := range seq {
		if m.Is(id) {
			return i
		}
	}
	return -1
}

// Build creates the record for one sampled sequence and validates it.
func (m Set) Build(source string, line int, seq token.Sequence) (Record, error) {
	target := m.Locate(seq)
	if target < 0 {
		return Record{}, &MarkerNotFoundError{Source: source, Line: line}
	}

	extra := 0
	for _, id := range seq[target+1:] {
		if m.Is(id) {
			extra++
		}
	}

	rec := Record{
		Source:         source,
		Line:           line,
		Marker:         seq,
		Counterfactual: seq.Without(target),
		Target:         target,
		Extra:          extra,
	}
	if err := m.Check(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Check asserts the record invariants: same prefix before Target, a marker at
// Target, and the marker's successor at Target in the counterfactual.
func (m Set) Check(r Record) error {
	fail := func(format string, args ...interface{}) error {
		return &InvariantError{Source: r.Source, Line: r.Line, Detail: fmt.Sprintf(format, args...)}
	}

	if r.Target < 0 || r.Target >= len(r.Marker) {
		return fail("target %d outside marker sequence of length %d", r.Target, len(r.Marker))
	}
	if len(r.Counterfactual) != len(r.Marker)-1 {
		return fail("counterfactual length %d, want %d", len(r.Counterfactual), len(r.Marker)-1)
	}
	if !m.Is(r.Marker[r.Target]) {
		return fail("token %d at target %d is not a marker", r.Marker[r.Target], r.Target)
	}
	if !r.Marker[:r.Target].Equal(r.Counterfactual[:r.Target]) {
		return fail("prefix before target differs")
	}
	// The marker must have a successor: every sampled sequence ends in EOS.
	if r.Target+1 >= len(r.Marker) {
		return fail("marker is the final token")
	}
	if r.Marker[r.Target+1] != r.Counterfactual[r.Target] {
		return fail("successor %d not at target in counterfactual (found %d)", r.Marker[r.Target+1], r.Counterfactual[r.Target])
	}
	if !r.Marker[r.Target+1:].Equal(r.Counterfactual[r.Target:]) {
		return fail("suffix after target differs")
	}
	return nil
}
