package signals

import "strings"

var DefaultKeywords = []string{"help", "stop", "leave me alone", "no"}

// KeywordMatcher does plain substring matching, so "no" also hits "know".
type KeywordMatcher struct {
	keywords []string
}

func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	return &KeywordMatcher{keywords: normalized}
}

func (m *KeywordMatcher) Match(transcript string) bool {
	transcript = strings.ToLower(transcript)
	for _, k := range m.keywords {
		if strings.Contains(transcript, k) {
			return true
		}
	}
	return false
}

func (m *KeywordMatcher) Matches(transcript string) []string {
	transcript = strings.ToLower(transcript)
	var hits []string
	for _, k := range m.keywords {
		if strings.Contains(transcript, k) {
			hits = append(hits, k)
		}
	}
	return hits
}
