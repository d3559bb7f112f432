package phrase

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// SoundsLike returns the enrolled phrase that text most plausibly is a
// mis-hearing of: every word of the phrase must share a Double Metaphone
// code with some word of text. Among such phrases the one with the highest
// Jaro-Winkler similarity wins. Like [Matcher.Nearest] it is a diagnostic
// only and never confirms a wake phrase.
func (m *Matcher) SoundsLike(text string) (phrase string, ok bool) {
	in := Normalize(text)
	if in == "" {
		return "", false
	}
	heard := codes(strings.Fields(in))

	best := -1.0
	for _, p := range m.Phrases().Sorted() {
		if !allWordsHeard(strings.Fields(p), heard) {
			continue
		}
		if s := matchr.JaroWinkler(in, p, false); s > best {
			phrase, best, ok = p, s, true
		}
	}
	return phrase, ok
}

func allWordsHeard(words []string, heard map[string]struct{}) bool {
	for _, w := range words {
		found := false
		for c := range codes([]string{w}) {
			if _, hit := heard[c]; hit {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return len(words) > 0
}

// codes returns the primary and secondary Double Metaphone codes of words.
func codes(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
