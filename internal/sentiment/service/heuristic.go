package service

import (
	"strings"
	"unicode"

	reviewdomain "github.com/smallbiznis/reviewdesk/internal/review/domain"
)

var positiveWords = map[string]struct{}{
	"amazing": {}, "awesome": {}, "best": {}, "clean": {}, "delicious": {}, "excellent": {},
	"fantastic": {}, "friendly": {}, "good": {}, "great": {}, "helpful": {}, "love": {},
	"loved": {}, "lovely": {}, "nice": {}, "outstanding": {}, "perfect": {}, "pleasant": {},
	"recommend": {}, "wonderful": {}, "fast": {}, "tasty": {}, "happy": {}, "enjoyed": {},
}

var negativeWords = map[string]struct{}{
	"awful": {}, "bad": {}, "broken": {}, "cold": {}, "dirty": {}, "disappointed": {},
	"disappointing": {}, "disgusting": {}, "horrible": {}, "rude": {}, "slow": {},
	"terrible": {}, "worst": {}, "overpriced": {}, "never": {}, "poor": {}, "hate": {},
	"hated": {}, "unfriendly": {}, "bland": {}, "waited": {}, "refund": {},
}

var negators = map[string]struct{}{
	"not": {}, "no": {}, "isn't": {}, "wasn't": {}, "don't": {}, "didn't": {}, "hardly": {},
}

// classifyHeuristic counts polarity keywords, flipping a word that directly
// follows a negator. The star rating breaks ties.
func classifyHeuristic(text string, rating *int) (reviewdomain.Sentiment, float64) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var pos, neg int
	negated := false
	for _, w := range words {
		if _, ok := negators[w]; ok {
			negated = true
			continue
		}
		_, isPos := positiveWords[w]
		_, isNeg := negativeWords[w]
		switch {
		case isPos && negated, isNeg && !negated:
			neg++
		case isPos, isNeg:
			pos++
		}
		negated = false
	}

	score := pos - neg
	if rating != nil {
		switch {
		case *rating >= 4:
			score++
		case *rating <= 2:
			score--
		}
	}

	total := pos + neg
	confidence := 0.5
	if total > 0 {
		diff := pos - neg
		if diff < 0 {
			diff = -diff
		}
		confidence = 0.5 + 0.4*float64(diff)/float64(total)
	}

	switch {
	case score > 0:
		return reviewdomain.SentimentPositive, confidence
	case score < 0:
		return reviewdomain.SentimentNegative, confidence
	default:
		return reviewdomain.SentimentNeutral, 0.5
	}
}
