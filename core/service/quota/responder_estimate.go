package quota

import (
	"math"
	"strings"
)

// EstimateTokens approximates the token count of a prompt before the
// call is made, for TPM headroom checks. It takes the larger of a
// word-based and a character-based estimate so neither short dense
// text nor long sparse text is undercounted.
func EstimateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 1
	}
	words := len(strings.Fields(text))
	byWords := math.Ceil(float64(words)*1.25) * 1.1
	byChars := float64(len(text)) / 3.5
	est := math.Max(byWords, byChars)
	if est < 1 {
		est = 1
	}
	return int(math.Ceil(est))
}
