package scanner

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minJudgeLength      = 12
	maxPunctRatio       = 0.20
	minAlnumRatio       = 0.60
	repetitionMinTokens = 5
	maxUniqueRatio      = 0.5
	vowelCheckMinLength = 6
	maxVowelRatio       = 0.15
	mashMinAvgLength    = 8
	mashMaxDistinct     = 3
)

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// IsGibberish reports whether text looks like low-quality noise. It is a
// pure function of its input.
func IsGibberish(text string) bool {
	text = strings.TrimSpace(text)
	total := utf8.RuneCountInString(text)
	if total < minJudgeLength {
		return false
	}

	var punct, alnum int
	for _, r := range text {
		if r < utf8.RuneSelf && strings.ContainsRune(asciiPunctuation, r) {
			punct++
		}
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			alnum++
		}
	}
	if float64(punct)/float64(total) >= maxPunctRatio {
		return true
	}
	if float64(alnum)/float64(total) < minAlnumRatio {
		return true
	}

	tokens := letterTokens(text)
	if len(tokens) == 0 {
		return true
	}

	distinct := make(map[string]struct{}, len(tokens))
	totalLen := 0
	for _, t := range tokens {
		distinct[t] = struct{}{}
		totalLen += len(t)
	}

	if len(tokens) >= repetitionMinTokens &&
		float64(len(distinct))/float64(len(tokens)) <= maxUniqueRatio {
		return true
	}

	for _, t := range tokens {
		if len(t) >= vowelCheckMinLength && vowelRatio(t) <= maxVowelRatio {
			return true
		}
	}

	avgLen := float64(totalLen) / float64(len(tokens))
	return avgLen >= mashMinAvgLength && len(distinct) <= mashMaxDistinct
}

// letterTokens returns the maximal runs of ASCII letters, lowercased.
func letterTokens(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	start := -1
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		switch {
		case isLetter && start < 0:
			start = i
		case !isLetter && start >= 0:
			tokens = append(tokens, lower[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, lower[start:])
	}
	return tokens
}

func vowelRatio(token string) float64 {
	vowels := 0
	for i := 0; i < len(token); i++ {
		switch token[i] {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		}
	}
	return float64(vowels) / float64(len(token))
}
