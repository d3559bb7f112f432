// Package phrase normalises transcriptions into canonical wake phrases and
// decides whether a recognition hypothesis names one of the enrolled phrases.
//
// Matching is exact equality of canonical strings. The Jaro-Winkler
// similarity in [Matcher.Nearest] exists for diagnostics on misses only and
// never influences the accept decision.
package phrase

import (
	"slices"
	"strings"
	"unicode"
)

// Normalize returns the canonical form of text: letters and digits are kept
// and lower-cased, any whitespace becomes a single space, everything else is
// removed, and the result is trimmed.
//
//	Normalize("  Hey, JellyBot!! ") == "hey jellybot"
//
// Normalize is idempotent.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Set is an unordered set of canonical wake phrases. The zero value is an
// empty set ready to use.
type Set struct {
	m map[string]struct{}
}

// NewSet normalises phrases and returns them as a set. Entries that are
// empty after normalisation are dropped.
func NewSet(phrases ...string) Set {
	s := Set{m: make(map[string]struct{}, len(phrases))}
	for _, p := range phrases {
		s.add(p)
	}
	return s
}

func (s *Set) add(p string) {
	p = Normalize(p)
	if p == "" {
		return
	}
	if s.m == nil {
		s.m = make(map[string]struct{})
	}
	s.m[p] = struct{}{}
}

// Contains reports whether the canonical form of p is in the set.
func (s Set) Contains(p string) bool {
	_, ok := s.m[Normalize(p)]
	return ok
}

// Len returns the number of phrases.
func (s Set) Len() int { return len(s.m) }

// Union returns a new set holding the phrases of s and other.
func (s Set) Union(other Set) Set {
	out := Set{m: make(map[string]struct{}, len(s.m)+len(other.m))}
	for p := range s.m {
		out.m[p] = struct{}{}
	}
	for p := range other.m {
		out.m[p] = struct{}{}
	}
	return out
}

// Sorted returns the phrases in lexicographic order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
