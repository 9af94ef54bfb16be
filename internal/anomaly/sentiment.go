package anomaly

import (
	"strings"
	"unicode"
)

// SentimentScorer rates the polarity of free text in [-1, 1].
type SentimentScorer interface {
	ScoreSentiment(text string) (float64, error)
}

// ConcernKeywords are matched case-insensitively as substrings of note content.
var ConcernKeywords = []string{"concern", "worry", "issue", "problem", "risk", "danger"}

// CountConcernKeywords returns how many keyword occurrences text contains.
func CountConcernKeywords(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, k := range ConcernKeywords {
		n += strings.Count(lower, k)
	}
	return n
}

// HasConcernKeyword reports whether text contains any concern keyword.
func HasConcernKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range ConcernKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// NormalizeSentiment maps a polarity in [-1,1] onto [0,1].
func NormalizeSentiment(polarity float64) float64 {
	switch {
	case polarity < -1:
		polarity = -1
	case polarity > 1:
		polarity = 1
	}
	return (polarity + 1) / 2
}

// LexiconScorer is a word-list polarity scorer: (positive - negative) / (positive + negative).
type LexiconScorer struct {
	positive map[string]struct{}
	negative map[string]struct{}
}

// NewLexiconScorer returns a scorer with a small built-in care-notes vocabulary.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		positive: wordSet("happy", "calm", "good", "great", "improved", "improving", "progress", "cheerful",
			"engaged", "friendly", "helpful", "smiling", "settled", "confident", "well", "excellent", "positive"),
		negative: wordSet("sad", "angry", "upset", "crying", "withdrawn", "aggressive", "fight", "fighting",
			"hurt", "scared", "afraid", "anxious", "lonely", "bad", "poor", "refused", "tired", "sick", "negative"),
	}
}

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// ScoreSentiment implements SentimentScorer.
func (s *LexiconScorer) ScoreSentiment(text string) (float64, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	var pos, neg float64
	for _, w := range words {
		if _, ok := s.positive[w]; ok {
			pos++
		}
		if _, ok := s.negative[w]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0, nil
	}
	return (pos - neg) / (pos + neg), nil
}
