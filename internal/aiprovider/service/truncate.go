package service

import (
	"strings"
	"unicode"
)

// tailWindowRatio is the share of the limit searched backwards for a
// sentence terminator.
const tailWindowRatio = 0.2

// Truncate cuts text to at most limit runes, preferring the last sentence
// terminator inside the tail window.
func Truncate(text string, limit int) (string, bool) {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text, false
	}

	cut := runes[:limit]
	window := int(float64(limit) * tailWindowRatio)
	if window < 1 {
		window = 1
	}
	for i := len(cut) - 1; i >= len(cut)-window && i >= 0; i-- {
		switch cut[i] {
		case '.', '!', '?':
			return strings.TrimSpace(string(cut[:i+1])), true
		}
	}
	return strings.TrimRightFunc(string(cut), unicode.IsSpace), true
}

var quotePairs = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'«':  '»',
}

// Clean strips surrounding whitespace and one layer of wrapping quotes.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) >= 2 {
		if closing, ok := quotePairs[runes[0]]; ok && runes[len(runes)-1] == closing {
			text = strings.TrimSpace(string(runes[1 : len(runes)-1]))
		}
	}
	return text
}

// cleanJSONResponse extracts the JSON object from a model answer that may
// carry code fences or prose around it.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
