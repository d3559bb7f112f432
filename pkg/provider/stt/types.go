package stt

import (
	"strings"
	"time"
)

// Hypothesis is the recognition result for one utterance.
type Hypothesis struct {
	// Text is the best transcription. Leading and trailing whitespace is
	// stripped by every backend.
	Text string

	// Confidence is the overall confidence of Text (0.0–1.0). Zero if the
	// backend does not report confidence.
	Confidence float64

	// Alternatives are further candidate transcriptions, best first. They do
	// not repeat Text. May be nil.
	Alternatives []Alternative

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Alternative is one ranked candidate transcription.
type Alternative struct {
	Text       string
	Confidence float64
}

// WordDetail holds per-word metadata from backends that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Candidates returns Text followed by the alternative texts, in rank order.
// Rank 0 is always Text.
func (h Hypothesis) Candidates() []string {
	out := make([]string, 0, 1+len(h.Alternatives))
	out = append(out, h.Text)
	for _, a := range h.Alternatives {
		out = append(out, a.Text)
	}
	return out
}

// IsEmpty reports whether no candidate carries any non-space text.
func (h Hypothesis) IsEmpty() bool {
	for _, c := range h.Candidates() {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// FromAlternatives builds a Hypothesis from a ranked candidate list. The
// first entry becomes Text; later entries that duplicate an earlier text are
// dropped.
func FromAlternatives(alts []Alternative) Hypothesis {
	if len(alts) == 0 {
		return Hypothesis{}
	}
	h := Hypothesis{
		Text:       strings.TrimSpace(alts[0].Text),
		Confidence: alts[0].Confidence,
	}
	seen := map[string]bool{h.Text: true}
	for _, a := range alts[1:] {
		text := strings.TrimSpace(a.Text)
		if seen[text] {
			continue
		}
		seen[text] = true
		h.Alternatives = append(h.Alternatives, Alternative{Text: text, Confidence: a.Confidence})
	}
	return h
}
