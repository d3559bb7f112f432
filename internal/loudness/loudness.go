// Package loudness measures per-frame loudness on a calibrated decibel scale
// and derives the speech-detection threshold from a short window of ambient
// audio.
//
// Raw levels are measured in dBFS, which depend heavily on the microphone and
// its gain. A positive calibration offset shifts them onto a room-referenced
// scale anchored at three points: a quiet room ([QuietRoom]), normal
// conversation ([Conversation]) and speech right next to the microphone
// ([MicAdjacent]). Above the conversation knee the remaining headroom is
// compressed linearly so that full-scale input lands on MicAdjacent instead
// of saturating.
package loudness

import (
	"math"

	"github.com/MrWong99/earshot/pkg/types"
)

// Reference points on the calibrated scale, in dB.
const (
	QuietRoom    = 30.0
	Conversation = 60.0
	MicAdjacent  = 90.0
)

// SilenceFloor is the dBFS reported for digital silence: the dynamic range
// of 16-bit PCM.
const SilenceFloor = -96.0

const fullScale = 32768.0

// Sample is the loudness of one frame.
type Sample struct {
	// RMS is the root-mean-square amplitude of the frame's samples.
	RMS float64

	// DBFS is 20·log10(RMS/32768), floored at [SilenceFloor].
	DBFS float64

	// Level is DBFS after [ApplyOffset].
	Level float64
}

// RMS returns the root-mean-square amplitude of samples. Empty input yields 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ComputeDecibels returns the frame energy in dBFS. The result is a pure
// function of the samples and never below [SilenceFloor].
func ComputeDecibels(samples []int16) float64 {
	return rmsToDBFS(RMS(samples))
}

func rmsToDBFS(rms float64) float64 {
	if rms <= 0 {
		return SilenceFloor
	}
	return max(20*math.Log10(rms/fullScale), SilenceFloor)
}

// ApplyOffset maps a dBFS value onto the calibrated scale.
//
// Below the [Conversation] knee the offset is added directly. Above it, the
// span between the knee and full scale (dBFS 0, which lands at offset) is
// rescaled onto [Conversation, MicAdjacent]. Negative results are clamped to
// zero. For a fixed dB the result is non-decreasing in offset below the knee.
func ApplyOffset(db, offset float64) float64 {
	x := db + offset
	if x > Conversation && offset > Conversation {
		x = Conversation + (x-Conversation)*(MicAdjacent-Conversation)/(offset-Conversation)
	}
	return max(x, 0)
}

// Meter converts frames to calibrated [Sample] values with a fixed offset.
type Meter struct {
	offset float64
}

// NewMeter returns a meter for the given calibration offset. An offset ≤ 0
// (or NaN) cannot produce a usable threshold and is rejected with an error
// wrapping [types.ErrConfiguration].
func NewMeter(offset float64) (Meter, error) {
	if !(offset > 0) || math.IsInf(offset, 0) {
		return Meter{}, &types.ConfigError{Field: "calibration.offset", Reason: "must be a finite value > 0"}
	}
	return Meter{offset: offset}, nil
}

// Offset returns the meter's calibration offset.
func (m Meter) Offset() float64 { return m.offset }

// Measure computes the loudness of samples.
func (m Meter) Measure(samples []int16) Sample {
	rms := RMS(samples)
	db := rmsToDBFS(rms)
	return Sample{RMS: rms, DBFS: db, Level: ApplyOffset(db, m.offset)}
}
