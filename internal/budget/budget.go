// Package budget provides token budget estimation and context trimming for
// the answer generator. Because docq supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose; CJK text estimates high,
// which errs on the safe side). This deliberately under-estimates capacity
// to leave headroom for model-specific overhead.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens
	// when trimming is enabled without an explicit limit. Conservative
	// enough to fit within 8k-context models while leaving room for the
	// output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// TrimTexts drops texts from the tail of the ranked slice until the total
// estimated token count of overhead + texts fits within maxTokens. overhead
// accounts for the prompt scaffolding and the question, which must not be
// trimmed. Texts are assumed to be in descending rank order, so the least
// relevant chunks are dropped first.
//
// Returns the kept prefix of texts. If even a single text exceeds the budget
// the empty slice is returned.
func TrimTexts(texts []string, overhead, maxTokens int) []string {
	total := overhead
	kept := 0
	for _, t := range texts {
		n := Estimate(t)
		if total+n > maxTokens {
			break
		}
		total += n
		kept++
	}
	return texts[:kept]
}
