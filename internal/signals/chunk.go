package signals

import (
	"strings"
	"unicode/utf8"
)

const DefaultMaxChunkChars = 300

// Chunk splits text on whitespace and packs words greedily. A new chunk is
// started before a word when the characters already in the chunk plus the word
// would exceed maxChars; separators are not counted and words are never split.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	var chunks []string
	var current []string
	size := 0
	for _, word := range strings.Fields(text) {
		n := utf8.RuneCountInString(word)
		if size+n > maxChars && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			size = 0
		}
		current = append(current, word)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
