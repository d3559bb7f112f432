// Package segment turns a continuous frame stream into discrete utterance
// segments and hands each one to a transcriber.
//
// An [Engine] is a small state machine driven entirely by its consumer:
//
//	Calibrating → Idle ⇄ Recording → Emitting → Idle
//
// It first consumes a calibration window to derive the speech threshold
// (see package loudness). In Idle, a frame louder than the threshold opens a
// segment seeded with the previous frame (one-frame look-back) and the
// triggering frame. In Recording every frame is appended, regardless of its
// loudness, until the segment reaches the maximum utterance duration or the
// configured [Endpointer] reports the utterance complete. Emitting
// transcribes the segment synchronously; frames arriving meanwhile are not
// read.
//
// Engines are created with [New] and torn down with [Engine.Close], which
// releases the audio source exactly once from any goroutine.
package segment

import (
	"errors"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultCalibrationWindow   = time.Second
	DefaultThresholdMultiplier = 2.5
	DefaultMaxUtterance        = 2 * time.Second
)

// ErrClosed is returned by [Engine.Next] once [Engine.Close] has been called.
var ErrClosed = errors.New("segment: engine closed")

// Config holds the tunables of one engine run.
type Config struct {
	// CalibrationOffset maps dBFS onto the calibrated decibel scale. Required,
	// must be > 0.
	CalibrationOffset float64

	// CalibrationWindow is the amount of leading audio used for calibration.
	CalibrationWindow time.Duration

	// ThresholdMultiplier scales the ambient floor into the speech threshold.
	// Must be ≥ 1.
	ThresholdMultiplier float64

	// MaxUtterance caps the duration of a segment, counted from the
	// triggering frame. The look-back frame does not count.
	MaxUtterance time.Duration
}

func (c Config) withDefaults() Config {
	if c.CalibrationWindow == 0 {
		c.CalibrationWindow = DefaultCalibrationWindow
	}
	if c.ThresholdMultiplier == 0 {
		c.ThresholdMultiplier = DefaultThresholdMultiplier
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	return c
}

func (c Config) validate() error {
	if c.MaxUtterance < 0 {
		return &types.ConfigError{Field: "segmentation.max_utterance_seconds", Reason: "must be > 0"}
	}
	return nil
}

// EndReason says why a segment was closed.
type EndReason string

const (
	// ReasonMaxDuration means the segment reached the maximum utterance duration.
	ReasonMaxDuration EndReason = "max_duration"

	// ReasonEndpoint means the endpointer reported the utterance complete.
	ReasonEndpoint EndReason = "endpoint"

	// ReasonEOF means a finite source ended while the segment was open.
	ReasonEOF EndReason = "eof"
)

// Segment is one contiguous run of frames judged to be a single utterance.
type Segment struct {
	// ID uniquely identifies the segment in logs and traces.
	ID string

	// Frames holds the look-back frame (when one exists) followed by the
	// triggering frame and every frame recorded after it.
	Frames []audio.Frame

	// TriggerIndex is the source index of the frame that crossed the speech
	// threshold.
	TriggerIndex int64

	// Reason says why the segment was closed.
	Reason EndReason
}

// Samples returns the concatenated samples of all frames.
func (s Segment) Samples() []int16 { return audio.Concat(s.Frames) }

// SampleRate returns the sample rate of the segment's frames, or 0 for an
// empty segment.
func (s Segment) SampleRate() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return s.Frames[0].SampleRate
}

// Duration returns the total audio length of the segment, look-back included.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// Utterance is one emitted segment together with its transcription.
type Utterance struct {
	Segment    Segment
	Hypothesis stt.Hypothesis
}
