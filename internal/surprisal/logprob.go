package surprisal

import (
	"math"
)

// LogProb returns the natural-log probability of scores[idx] under a softmax
// over scores, computed as scores[idx] - logsumexp(scores) so tiny
// probabilities never underflow to zero first.
func LogProb(scores []float32, idx int) (float64, error) {
	if idx < 0 || idx >= len(scores) {
		return 0, &TokenRangeError{Token: idx, VocabSize: len(scores)}
	}

	maxVal := math.Inf(-1)
	for _, v := range scores {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 1) {
			return 0, &ScoresError{Reason: "NaN or +Inf score"}
		}
		if f > maxVal {
			maxVal = f
		}
	}
	if math.IsInf(maxVal, -1) {
		return 0, &ScoresError{Reason: "all scores are -Inf"}
	}

	sum := 0.0
	for _, v := range scores {
		sum += math.Exp(float64(v) - maxVal)
	}
	lse := maxVal + math.Log(sum)

	lp := float64(scores[idx]) - lse
	if lp > 0 {
		// rounding only; a probability cannot exceed one
		lp = 0
	}
	return lp, nil
}

// Bits converts a natural-log probability into surprisal in bits.
func Bits(logProb float64) float64 {
	if logProb == 0 {
		return 0
	}
	return -logProb / math.Ln2
}
