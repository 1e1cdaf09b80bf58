package scanner

import (
	"strings"
	"unicode/utf8"
)

// SplitLines decodes raw corpus bytes and splits them into lines.
// Invalid UTF-8 sequences are dropped. Line boundaries are \n, \r\n, \r and
// the remaining Unicode line separators; a trailing boundary does not start
// an extra empty line.
func SplitLines(raw []byte) []string {
	text := strings.ToValidUTF8(string(raw), "")

	lines := make([]string, 0, strings.Count(text, "\n")+1)
	start := 0
	for i, r := range text {
		if i < start {
			continue
		}
		switch r {
		case '\r':
			lines = append(lines, text[start:i])
			start = i + 1
			if start < len(text) && text[start] == '\n' {
				start++
			}
		case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			lines = append(lines, text[start:i])
			start = i + utf8.RuneLen(r)
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
