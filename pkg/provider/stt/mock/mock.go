// Package mock provides a test double for the stt.Transcriber interface.
//
// Script the results with Results (consumed in order) or a Func, then inspect
// Calls to verify which audio was submitted.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []mock.Result{{Hypothesis: stt.Hypothesis{Text: "hey jelly"}}}}
//	h, _ := tr.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Hypothesis stt.Hypothesis
	Err        error
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the submitted audio.
	Samples []int16
	// SampleRate is the submitted sample rate.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted, Default is
	// returned.
	Results []Result

	// Default is returned once Results is exhausted.
	Default Result

	// Func, if non-nil, overrides Results and Default.
	Func func(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	t.mu.Lock()
	cp := make([]int16, len(samples))
	copy(cp, samples)
	t.Calls = append(t.Calls, TranscribeCall{Samples: cp, SampleRate: sampleRate})
	fn := t.Func
	var r Result
	if fn == nil {
		if n := len(t.Calls) - 1; n < len(t.Results) {
			r = t.Results[n]
		} else {
			r = t.Default
		}
	}
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	return r.Hypothesis, r.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
