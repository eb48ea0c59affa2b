package speech

import (
	"strings"
	"unicode"

	"github.com/PanHorut/BP/internal/i18n"
)

type command int

const (
	commandNone command = iota
	commandSkip
	commandFinish
)

// classify looks for a skip or finish word in the transcript. Skip words
// win when both occur. Words match whole, so "next" does not fire inside
// "nextdoor".
func classify(transcript string, vocab i18n.Vocabulary) command {
	text := " " + normalize(transcript) + " "
	if containsAny(text, vocab.Skip) {
		return commandSkip
	}
	if containsAny(text, vocab.Finish) {
		return commandFinish
	}
	return commandNone
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w = normalize(w); w != "" && strings.Contains(text, " "+w+" ") {
			return true
		}
	}
	return false
}

// normalize lowercases s and collapses everything but letters and digits
// into single spaces.
func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
