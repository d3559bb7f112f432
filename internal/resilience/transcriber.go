package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// metricKind labels transcriber calls in the provider metrics.
const metricKind = "stt"

type namedTranscriber struct {
	name string
	tr   stt.Transcriber
}

// TranscriberOption configures a [TranscriberFallback].
type TranscriberOption func(*TranscriberFallback)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) TranscriberOption {
	return func(f *TranscriberFallback) {
		if m != nil {
			f.metrics = m
		}
	}
}

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across several backends, each behind its own circuit breaker. Every
// attempt is recorded in the provider request and error metrics.
type TranscriberFallback struct {
	group   *FallbackGroup[namedTranscriber]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig, opts ...TranscriberOption) *TranscriberFallback {
	f := &TranscriberFallback{
		group: NewFallbackGroup(namedTranscriber{name: primaryName, tr: primary}, primaryName, cfg),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// AddFallback registers an additional transcriber, tried after the primary
// and every previously added fallback.
func (f *TranscriberFallback) AddFallback(name string, tr stt.Transcriber) {
	f.group.AddFallback(name, namedTranscriber{name: name, tr: tr})
}

// Transcribe sends the utterance to the first healthy backend. When every
// backend fails the error wraps both [types.ErrTranscription] and
// [ErrAllFailed]. A cancelled ctx stops the failover and returns ctx's error.
func (f *TranscriberFallback) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	h, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, n namedTranscriber) (stt.Hypothesis, error) {
		h, err := n.tr.Transcribe(ctx, samples, sampleRate)
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, n.name, metricKind, "error")
			f.metrics.RecordProviderError(ctx, n.name, metricKind)
			return stt.Hypothesis{}, err
		}
		f.metrics.RecordProviderRequest(ctx, n.name, metricKind, "ok")
		return h, nil
	})
	if err != nil {
		if errors.Is(err, ErrAllFailed) && !errors.Is(err, types.ErrTranscription) {
			err = fmt.Errorf("resilience: %w: %w", types.ErrTranscription, err)
		}
		return stt.Hypothesis{}, err
	}
	return h, nil
}

// States reports the circuit breaker state of every backend keyed by name.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

// Close closes every backend that holds resources (e.g., a loaded model).
func (f *TranscriberFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if c, ok := f.group.entries[i].value.tr.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("resilience: close %s: %w", f.group.entries[i].name, err))
			}
		}
	}
	return errors.Join(errs...)
}
