// Package classify decides whether a transcribed utterance warrants an
// answer.
package classify

import (
	"strings"
	"unicode/utf8"
)

// minQuestionLength is the shortest trimmed text, in runes, considered
// classifiable. Anything shorter is treated as noise, which also rejects
// very short genuine questions like "Why?".
const minQuestionLength = 5

// questionStarters are the phrase prefixes that mark an utterance as a
// question when it lacks a trailing question mark. Matching is
// case-insensitive.
var questionStarters = []string{
	"what",
	"how",
	"why",
	"when",
	"where",
	"who",
	"which",
	"can you",
	"could you",
	"would you",
	"tell me",
	"explain",
	"describe",
	"walk me through",
	"have you",
	"do you",
	"did you",
	"will you",
	"are you",
	"is there",
}

// IsQuestion reports whether text looks like a question. It is a pure
// heuristic over surface form (length gate, trailing "?", question-starter
// prefixes), not a grammar; false positives and negatives are expected.
func IsQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minQuestionLength {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, starter := range questionStarters {
		if strings.HasPrefix(lower, starter) {
			return true
		}
	}
	return false
}
