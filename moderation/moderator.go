// Package moderation masks censored words in user text.
package moderation

import (
	"log/slog"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator matches a word list against normalized text with an Aho-Corasick automaton.
// Matching ignores case, punctuation, spacing and common leet substitutions; the masked
// span covers the original characters, noise included.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// NewModerator builds the automaton. An empty word list yields a moderator that never censors.
func NewModerator(words []string, replacement rune, log *slog.Logger) (*Moderator, error) {
	var patterns [][]rune
	for _, w := range words {
		if p := normalizeRunes([]rune(strings.TrimSpace(w))); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		log.Info("Moderation disabled, no censored words configured")
		return &Moderator{replacement: replacement}, nil
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	log.Info("Moderation enabled", "patterns", len(patterns))
	return &Moderator{matcher: m, replacement: replacement}, nil
}

// Censor replaces every matched word of text with the replacement rune and returns the matched words.
func (m *Moderator) Censor(text string) (string, []string) {
	if m == nil || m.matcher == nil || text == "" {
		return text, nil
	}
	original := []rune(text)
	normalized, positions := normalizeWithPositions(original)
	if len(normalized) == 0 {
		return text, nil
	}
	hits := m.matcher.MultiPatternSearch(normalized, false)
	if len(hits) == 0 {
		return text, nil
	}
	var words []string
	for _, hit := range hits {
		end := hit.Pos + len(hit.Word)
		if hit.Pos < 0 || end > len(positions) {
			continue
		}
		for i := positions[hit.Pos]; i <= positions[end-1]; i++ {
			original[i] = m.replacement
		}
		words = append(words, string(hit.Word))
	}
	return string(original), words
}

// normalizeWithPositions returns the searchable runes and, for each, its index in the input.
func normalizeWithPositions(input []rune) ([]rune, []int) {
	out := make([]rune, 0, len(input))
	positions := make([]int, 0, len(input))
	for i, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
		positions = append(positions, i)
	}
	return out, positions
}

func normalizeRunes(input []rune) []rune {
	out, _ := normalizeWithPositions(input)
	return out
}

// simplifyRune maps leet speak characters back to letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
