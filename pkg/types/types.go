// Package types defines the shared types used across all earshot packages.
//
// Each package defines its own domain types. The error taxonomy and the
// handful of value types that cross package boundaries live here to avoid
// circular imports between the audio, segmentation and provider layers.
package types

import (
	"errors"
	"time"
)

// Error taxonomy. Every error surfaced by the pipeline wraps exactly one of
// these sentinels so callers can branch with [errors.Is].
var (
	// ErrConfiguration reports an invalid or missing configuration value.
	// It is fatal and never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrDevice reports that the audio device could not be opened or failed
	// while reading. The pipeline terminates; there is no automatic reconnect.
	ErrDevice = errors.New("audio device error")

	// ErrStreamInactive reports that a push-mode stream stopped delivering
	// frames and the device no longer reports itself as active.
	ErrStreamInactive = errors.New("audio stream inactive")

	// ErrTranscription reports that the transcriber failed on a segment. The
	// segment is discarded, not retried.
	ErrTranscription = errors.New("transcription failed")
)

// ConfigError describes a single invalid configuration field. It unwraps to
// [ErrConfiguration].
type ConfigError struct {
	// Field is the dotted path of the offending field (e.g. "calibration.offset").
	Field string

	// Reason is a short human-readable explanation.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "configuration error: " + e.Field + ": " + e.Reason
}

// Unwrap returns [ErrConfiguration].
func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// FrameDuration returns the playback duration of n mono samples at
// sampleRate Hz. It returns 0 for a non-positive sample rate.
func FrameDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}
