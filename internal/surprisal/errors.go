package surprisal

import "fmt"

// InvalidSequenceLengthError is returned for sequences with no predictive context.
type InvalidSequenceLengthError struct {
	Length int
}

func (e *InvalidSequenceLengthError) Error() string {
	return fmt.Sprintf("invalid sequence length %d: need at least 2 tokens", e.Length)
}

// TargetIndexError is returned when the target lies outside the sequence.
type TargetIndexError struct {
	Index  int
	Length int
}

func (e *TargetIndexError) Error() string {
	return fmt.Sprintf("target index %d out of range for sequence of length %d", e.Index, e.Length)
}

// TokenRangeError is returned when the target id has no score in the model output.
type TokenRangeError struct {
	Token     int
	VocabSize int
}

func (e *TokenRangeError) Error() string {
	return fmt.Sprintf("token %d outside vocabulary of size %d", e.Token, e.VocabSize)
}

// ScoresError reports a malformed or numerically unusable prediction.
type ScoresError struct {
	Reason string
}

func (e *ScoresError) Error() string {
	return "unusable prediction scores: " + e.Reason
}
