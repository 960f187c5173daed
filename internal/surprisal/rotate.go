package surprisal

// Rotate builds the circular context for target t:
//
//	tokens[t+1:] ++ tokens[:t] ++ [tokens[t]]
//
// Tokens that followed the target become its left context and the target
// moves to the final position. t == len(tokens)-1 yields the identity.
func Rotate(tokens []int, t int) []int {
	rotated := make([]int, 0, len(tokens))
	rotated = append(rotated, tokens[t+1:]...)
	rotated = append(rotated, tokens[:t]...)
	return append(rotated, tokens[t])
}

func checkTarget(tokens []int, t int) error {
	if len(tokens) < 2 {
		return &InvalidSequenceLengthError{Length: len(tokens)}
	}
	if t < 0 || t >= len(tokens) {
		return &TargetIndexError{Index: t, Length: len(tokens)}
	}
	return nil
}
