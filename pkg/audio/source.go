// Package audio defines the frame type and the capture abstraction that feed
// the earshot segmentation pipeline.
//
// The primary abstraction is [Source]: a scoped handle on an input device
// that yields fixed-size mono PCM [Frame] values, one per call. Two delivery
// models sit behind the same contract:
//
//   - pull: the consumer blocks inside the driver until the next frame is
//     captured (see audio/portaudio).
//   - push: a realtime device callback hands frames to a bounded [Queue]
//     and the consumer drains it (see audio/malgo). A full queue drops the
//     newest frame; the callback never blocks.
//
// This package lives under pkg/ because external code is expected to
// implement [Source] for other capture backends.
package audio

import (
	"context"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// Frame is one fixed-size chunk of mono 16-bit PCM audio. Frames are
// immutable once captured; consumers must not modify Samples.
type Frame struct {
	// Samples holds the signed 16-bit PCM samples.
	Samples []int16

	// SampleRate in Hz (16000 for the reference configuration).
	SampleRate int

	// Index is the sequence number assigned by the source, starting at 0.
	// In push mode dropped frames leave gaps in the sequence.
	Index int64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return types.FrameDuration(len(f.Samples), f.SampleRate)
}

// Source is a scoped handle on an audio input stream.
//
// ReadFrame is called from a single consumer goroutine. Close may be called
// from any goroutine, at any time, any number of times; the underlying device
// is released exactly once.
type Source interface {
	// ReadFrame blocks until exactly one frame is available and returns it.
	//
	// It returns an error wrapping [types.ErrDevice] when the device is
	// unavailable or fails, an error wrapping [types.ErrStreamInactive] when a
	// push-mode stream stopped delivering frames, [io.EOF] when a finite
	// source is exhausted, and ctx.Err() when ctx is cancelled.
	ReadFrame(ctx context.Context) (Frame, error)

	// Close stops capture and releases the device handle and internal
	// buffers. Calling Close more than once is safe and returns nil.
	Close() error
}

// Format describes the fixed capture format shared by every source.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// FrameSize is the number of mono samples per frame.
	FrameSize int
}

// FrameDuration returns the duration of one frame in this format.
func (f Format) FrameDuration() time.Duration {
	return types.FrameDuration(f.FrameSize, f.SampleRate)
}

// Validate reports whether the format is usable for capture.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return &types.ConfigError{Field: "audio.sample_rate", Reason: "must be > 0"}
	}
	if f.FrameSize <= 0 {
		return &types.ConfigError{Field: "audio.frame_size", Reason: "must be > 0"}
	}
	return nil
}

// Concat joins the samples of frames into one contiguous slice.
func Concat(frames []Frame) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}
