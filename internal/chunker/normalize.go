package chunker

import (
	"strings"
	"unicode"
)

// Normalize converts CRLF and lone CR line endings to LF, collapses runs of three or more
// newlines to two, and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	newlines := 0
	for _, r := range text {
		if r == '\n' {
			newlines++
			if newlines > 2 {
				continue
			}
		} else {
			newlines = 0
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SplitSentences splits text after every run of '.', '!' or '?' that is followed by
// whitespace. Trailing text without terminal punctuation is kept as the last sentence.
// Sentences are trimmed and empty ones dropped.
func SplitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminal(text[i]) {
			continue
		}
		end := i + 1
		for end < len(text) && isTerminal(text[end]) {
			end++
		}
		i = end - 1
		if end < len(text) && !isSpaceAt(text, end) {
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// EstimateTokens approximates the token count of s as ceil(len(s)/4) bytes.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func isTerminal(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isSpaceAt(text string, i int) bool {
	for _, r := range text[i:] {
		return unicode.IsSpace(r)
	}
	return false
}
