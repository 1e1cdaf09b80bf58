package scanner

import "strings"

// injectionPhrases are matched case-insensitively as substrings.
var injectionPhrases = []string{
	"ignore previous",
	"system prompt",
	"developer message",
	"you are chatgpt",
}

// LooksLikeInjection reports whether text contains a known prompt-injection
// phrase.
func LooksLikeInjection(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range injectionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// duplicateTracker counts exact text occurrences within one scan.
type duplicateTracker struct {
	seen map[string]int
}

func newDuplicateTracker() *duplicateTracker {
	return &duplicateTracker{seen: make(map[string]int)}
}

// Observe records one occurrence of text and reports whether it had been
// seen before.
func (d *duplicateTracker) Observe(text string) bool {
	repeat := d.seen[text] >= 1
	d.seen[text]++
	return repeat
}
