package segment

import (
	"time"

	"github.com/MrWong99/earshot/internal/loudness"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Endpointer decides when an open segment is complete before the maximum
// utterance duration is reached. The maximum duration always applies on top
// of it as a safety net.
//
// An Endpointer is driven by the engine's consumer goroutine only, except
// for Close which may be called concurrently by [Engine.Close].
type Endpointer interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// Reset is called when a new segment opens, before the triggering frame
	// is observed.
	Reset(cal loudness.Calibration)

	// Observe is called for the triggering frame and every later frame of the
	// open segment, with the frame's calibrated level. It reports whether the
	// utterance is complete.
	Observe(f audio.Frame, level float64) (complete bool, err error)

	// Close releases any resources held by the endpointer.
	Close() error
}

// Compile-time interface assertions.
var (
	_ Endpointer = FixedDuration{}
	_ Endpointer = (*TrailingSilence)(nil)
)

// FixedDuration never ends a segment early: every segment runs to the
// maximum utterance duration. It is the default strategy. Wake phrases are
// short, so a fixed ceiling avoids tuning a second threshold at the cost of
// always paying the full ceiling in latency.
type FixedDuration struct{}

func (FixedDuration) Name() string { return "fixed" }

func (FixedDuration) Reset(loudness.Calibration) {}

func (FixedDuration) Observe(audio.Frame, float64) (bool, error) { return false, nil }

func (FixedDuration) Close() error { return nil }

// TrailingSilence ends a segment once Silence worth of consecutive frames
// stayed at or below the speech threshold.
type TrailingSilence struct {
	// Silence is the run of quiet audio that completes an utterance.
	Silence time.Duration

	threshold float64
	quiet     time.Duration
}

// NewTrailingSilence returns a trailing-silence endpointer.
func NewTrailingSilence(silence time.Duration) *TrailingSilence {
	return &TrailingSilence{Silence: silence}
}

func (t *TrailingSilence) Name() string { return "trailing_silence" }

func (t *TrailingSilence) Reset(cal loudness.Calibration) {
	t.threshold = cal.SpeechThreshold
	t.quiet = 0
}

func (t *TrailingSilence) Observe(f audio.Frame, level float64) (bool, error) {
	if level > t.threshold {
		t.quiet = 0
		return false, nil
	}
	t.quiet += f.Duration()
	return t.Silence > 0 && t.quiet >= t.Silence, nil
}

func (t *TrailingSilence) Close() error { return nil }
