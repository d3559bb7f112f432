package phrase

import (
	"strings"
	"sync/atomic"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithAlternatives enables checking the hypothesis alternatives after the
// best text. Defaults to true.
func WithAlternatives(enabled bool) Option {
	return func(m *Matcher) { m.alternatives = enabled }
}

// WithMaxRank limits how deep into the alternatives the matcher looks. Rank
// 0 is the best text, rank 1 the first alternative. A negative value means
// no limit. Defaults to 3.
func WithMaxRank(rank int) Option {
	return func(m *Matcher) { m.maxRank = rank }
}

// Match is the outcome of [Matcher.Match].
type Match struct {
	// Matched reports whether any checked candidate is an enrolled phrase.
	Matched bool

	// Phrase is the canonical phrase that matched.
	Phrase string

	// Rank is the candidate rank that matched: 0 for the best text, n for
	// the n-th alternative. A higher rank is weaker evidence. -1 when
	// nothing matched.
	Rank int

	// Text is the normalised best text of the hypothesis.
	Text string
}

// Matcher tests hypotheses against an enrolled phrase set. All methods are
// safe for concurrent use; the set can be replaced at runtime with
// [Matcher.SetPhrases].
type Matcher struct {
	phrases      atomic.Pointer[Set]
	alternatives bool
	maxRank      int
}

// NewMatcher returns a matcher over phrases.
func NewMatcher(phrases Set, opts ...Option) *Matcher {
	m := &Matcher{alternatives: true, maxRank: 3}
	for _, o := range opts {
		o(m)
	}
	m.SetPhrases(phrases)
	return m
}

// SetPhrases atomically replaces the enrolled set.
func (m *Matcher) SetPhrases(phrases Set) {
	m.phrases.Store(&phrases)
}

// Phrases returns the current enrolled set.
func (m *Matcher) Phrases() Set { return *m.phrases.Load() }

// Match checks the best text and then, when enabled, each alternative in
// rank order. The first candidate whose canonical form is enrolled wins.
func (m *Matcher) Match(h stt.Hypothesis) Match {
	set := m.Phrases()
	res := Match{Rank: -1, Text: Normalize(h.Text)}

	for rank, cand := range h.Candidates() {
		if rank > 0 && !m.alternatives {
			break
		}
		if m.maxRank >= 0 && rank > m.maxRank {
			break
		}
		if p := Normalize(cand); p != "" && set.Contains(p) {
			res.Matched, res.Phrase, res.Rank = true, p, rank
			return res
		}
	}
	return res
}

// Nearest returns the enrolled phrase most similar to text by Jaro-Winkler
// similarity, comparing both the full strings and the space-stripped forms.
// ok is false when the set is empty or text normalises to nothing.
func (m *Matcher) Nearest(text string) (phrase string, score float64, ok bool) {
	in := Normalize(text)
	if in == "" {
		return "", 0, false
	}
	inJoined := strings.ReplaceAll(in, " ", "")
	for _, p := range m.Phrases().Sorted() {
		s := matchr.JaroWinkler(in, p, false)
		if j := matchr.JaroWinkler(inJoined, strings.ReplaceAll(p, " ", ""), false); j > s {
			s = j
		}
		if !ok || s > score {
			phrase, score, ok = p, s, true
		}
	}
	return phrase, score, ok
}
