// Package enroll collects spoken samples of the wake phrase and merges them
// into the persisted phrase set.
//
// A [Workflow] reads utterances from the same segmentation pipeline used for
// matching, normalises each hypothesis, and counts only non-empty results
// toward the requested number of samples. Once enough samples were
// collected they are merged with the stored set and written back.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/phrase"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/types"
)

// DefaultSampleCount is the number of samples collected when the
// configuration does not say otherwise.
const DefaultSampleCount = 10

// Utterances is the stream of transcribed segments. *segment.Engine
// implements it.
type Utterances interface {
	Next(ctx context.Context) (segment.Utterance, error)
}

// Store persists the phrase set. *phrasestore.Store implements it.
type Store interface {
	LoadOrEmpty() (phrase.Set, error)
	Save(set phrase.Set) error
}

// Option is a functional option for [New].
type Option func(*Workflow)

// WithPrompt registers fn to be called before each sample is awaited.
// sample counts from 1; it is repeated when the previous attempt failed.
func WithPrompt(fn func(sample, total int)) Option {
	return func(w *Workflow) { w.prompt = fn }
}

// WithSampleHook registers fn to be called after each accepted sample with
// its canonical text and the utterance it came from.
func WithSampleHook(fn func(sample int, text string, u segment.Utterance)) Option {
	return func(w *Workflow) { w.onSample = fn }
}

// WithMetrics sets the metrics recorder. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// Workflow is one enrollment run.
type Workflow struct {
	src      Utterances
	store    Store
	n        int
	prompt   func(sample, total int)
	onSample func(sample int, text string, u segment.Utterance)
	metrics  *observe.Metrics
}

// Result summarises a completed enrollment.
type Result struct {
	// Samples are the canonical texts collected, in order, duplicates kept.
	Samples []string

	// Stored is the full persisted set after the merge, sorted.
	Stored []string

	// Added lists the phrases that were not in the store before, sorted.
	Added []string
}

// New returns a workflow collecting n samples from src into store. n must be
// at least 1.
func New(src Utterances, store Store, n int, opts ...Option) (*Workflow, error) {
	if n < 1 {
		return nil, &types.ConfigError{Field: "enrollment.sample_count", Reason: "must be ≥ 1"}
	}
	w := &Workflow{src: src, store: store, n: n}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w, nil
}

// Collect reads utterances until n non-empty samples were accepted.
// Hypotheses that normalise to the empty string are skipped silently.
// Transcription failures are logged and the sample is awaited again; any
// other error aborts and is returned together with the samples collected so
// far.
func (w *Workflow) Collect(ctx context.Context) ([]string, error) {
	samples := make([]string, 0, w.n)
	prompted := 0
	for len(samples) < w.n {
		if w.prompt != nil && prompted == len(samples) {
			w.prompt(len(samples)+1, w.n)
			prompted++
		}

		u, err := w.src.Next(ctx)
		if err != nil {
			if errors.Is(err, types.ErrTranscription) {
				slog.Warn("enroll: transcription failed, say the phrase again",
					"sample", len(samples)+1,
					"err", err,
				)
				prompted = len(samples)
				continue
			}
			return samples, fmt.Errorf("enroll: sample %d of %d: %w", len(samples)+1, w.n, err)
		}

		text := phrase.Normalize(u.Hypothesis.Text)
		if text == "" {
			slog.Debug("enroll: empty hypothesis skipped", "segment_id", u.Segment.ID)
			continue
		}
		samples = append(samples, text)
		w.metrics.EnrollmentSamples.Add(ctx, 1)
		slog.Info("enroll: sample accepted",
			"sample", len(samples),
			"total", w.n,
			"text", text,
			"segment_id", u.Segment.ID,
		)
		if w.onSample != nil {
			w.onSample(len(samples), text, u)
		}
	}
	return samples, nil
}

// Run collects the samples, merges them with the stored set and saves the
// result. Nothing is written when collection fails.
func (w *Workflow) Run(ctx context.Context) (Result, error) {
	existing, err := w.store.LoadOrEmpty()
	if err != nil {
		return Result{}, fmt.Errorf("enroll: load phrases: %w", err)
	}

	samples, err := w.Collect(ctx)
	if err != nil {
		return Result{Samples: samples}, err
	}

	merged := phrase.NewSet(Merge(existing.Sorted(), samples)...)
	if err := w.store.Save(merged); err != nil {
		return Result{Samples: samples}, fmt.Errorf("enroll: save phrases: %w", err)
	}

	res := Result{Samples: samples, Stored: merged.Sorted()}
	for _, p := range res.Stored {
		if !existing.Contains(p) {
			res.Added = append(res.Added, p)
		}
	}
	slog.Info("enroll: phrases saved", "stored", len(res.Stored), "added", len(res.Added))
	return res, nil
}

// Merge returns the union of existing and collected as canonical phrases,
// without the empty phrase, sorted lexicographically. Merging the same
// samples again yields the same result.
func Merge(existing, collected []string) []string {
	return phrase.NewSet(existing...).Union(phrase.NewSet(collected...)).Sorted()
}
