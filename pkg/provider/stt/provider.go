// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber is a black box that turns one bounded utterance of raw mono
// 16-bit PCM into a [Hypothesis]: the best text plus, where the backend
// supports it, ranked alternatives. The segmentation pipeline calls
// Transcribe synchronously while it is in its emitting state, so latency here
// is latency of the whole pipeline.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
)

// Transcriber is the abstraction over any utterance-level STT backend.
type Transcriber interface {
	// Transcribe recognises the speech in samples, captured at sampleRate Hz.
	// samples is never retained after the call returns.
	//
	// Failures are returned as errors wrapping types.ErrTranscription. An
	// empty Hypothesis with a nil error means the backend heard nothing.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Hypothesis, error)
}

// TranscriberFunc adapts an ordinary function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, samples []int16, sampleRate int) (Hypothesis, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, samples []int16, sampleRate int) (Hypothesis, error) {
	return f(ctx, samples, sampleRate)
}
