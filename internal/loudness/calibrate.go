package loudness

import (
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

// Calibration is the outcome of one calibration window. It is computed once
// per engine run and never updated afterwards.
type Calibration struct {
	// AmbientFloor is the loudest calibrated level observed in the window,
	// excluding the first frame.
	AmbientFloor float64

	// SpeechThreshold is AmbientFloor × Multiplier. Frames strictly louder
	// than this start a segment.
	SpeechThreshold float64

	// Multiplier is the factor applied to AmbientFloor.
	Multiplier float64

	// Frames is the number of frames consumed, including the excluded first one.
	Frames int

	// Elapsed is the audio time covered by the consumed frames.
	Elapsed time.Duration
}

// IsSpeech reports whether level exceeds the speech threshold.
func (c Calibration) IsSpeech(level float64) bool {
	return level > c.SpeechThreshold
}

// Calibrator accumulates the calibration window. It is owned by a single
// goroutine and not safe for concurrent use.
type Calibrator struct {
	meter      Meter
	window     time.Duration
	multiplier float64

	frames  int
	elapsed time.Duration
	peak    float64
	done    bool
	result  Calibration
}

// NewCalibrator returns a calibrator that consumes window worth of audio and
// scales the observed peak by multiplier. multiplier must be ≥ 1 so that the
// threshold never falls below the ambient floor.
func NewCalibrator(m Meter, window time.Duration, multiplier float64) (*Calibrator, error) {
	if m.offset <= 0 {
		return nil, &types.ConfigError{Field: "calibration.offset", Reason: "must be a finite value > 0"}
	}
	if window <= 0 {
		return nil, &types.ConfigError{Field: "calibration.window_seconds", Reason: "must be > 0"}
	}
	if !(multiplier >= 1) || math.IsInf(multiplier, 0) {
		return nil, &types.ConfigError{Field: "calibration.threshold_multiplier", Reason: "must be a finite value ≥ 1"}
	}
	return &Calibrator{meter: m, window: window, multiplier: multiplier}, nil
}

// Observe feeds one frame and returns its loudness together with whether the
// window is now complete. The first frame only counts toward elapsed time.
// The window completes once elapsed audio time reaches the configured
// window and at least two frames were seen. Frames observed after completion
// are measured but ignored.
func (c *Calibrator) Observe(f audio.Frame) (Sample, bool) {
	s := c.meter.Measure(f.Samples)
	if c.done {
		return s, true
	}

	if c.frames > 0 && s.Level > c.peak {
		c.peak = s.Level
	}
	c.frames++
	c.elapsed += f.Duration()

	if c.elapsed >= c.window && c.frames >= 2 {
		c.done = true
		c.result = Calibration{
			AmbientFloor:    c.peak,
			SpeechThreshold: c.peak * c.multiplier,
			Multiplier:      c.multiplier,
			Frames:          c.frames,
			Elapsed:         c.elapsed,
		}
		if c.result.SpeechThreshold > MicAdjacent {
			slog.Warn("loudness: speech threshold above mic-adjacent reference, speech may never trigger",
				"threshold", c.result.SpeechThreshold,
				"ambient_floor", c.peak,
				"offset", c.meter.offset,
			)
		}
	}
	return s, c.done
}

// Result returns the calibration and whether the window has completed.
func (c *Calibrator) Result() (Calibration, bool) {
	return c.result, c.done
}

// Meter returns the meter used by the calibrator.
func (c *Calibrator) Meter() Meter { return c.meter }
