// Package app wires the earshot subsystems into a running wake-phrase
// detector.
//
// The App struct owns the full lifecycle: New builds the segmentation engine
// on top of the configured audio source and transcriber, Listen matches every
// transcribed utterance against the enrolled wake phrases, Enroll records new
// phrases, and Shutdown tears everything down in order.
//
// Listen and Enroll both consume the single engine, so at most one of them
// runs at a time.
//
// For testing, inject mock implementations through [Providers] and the
// functional options (WithStore, WithMetrics, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/enroll"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/phrase"
	"github.com/MrWong99/earshot/internal/phrasestore"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/segment"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/types"
)

// ErrBusy is returned by [App.Listen] and [App.Enroll] while the other one
// is running.
var ErrBusy = errors.New("app: engine already in use")

// Default VAD session parameters used when the vad provider entry leaves
// them out.
const (
	defaultVADThreshold    = 0.5
	defaultVADMinSilenceMs = 300
	defaultVADSpeechPadMs  = 30
)

// Providers holds the constructed dependencies. Populated by main.go via the
// config registry.
type Providers struct {
	// Source is the opened capture stream. Required; the app takes
	// ownership and closes it.
	Source audio.Source

	// Transcriber recognises each segment. Required. Typically a
	// [resilience.TranscriberFallback].
	Transcriber stt.Transcriber

	// VAD backs the vad segmentation strategy. Nil otherwise.
	VAD vad.Engine
}

// Detection is delivered to the Listen callback for every confirmed wake
// phrase.
type Detection struct {
	Match     phrase.Match
	Utterance segment.Utterance
}

// App owns the pipeline and orchestrates listening and enrollment.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	engine    *segment.Engine

	// storeMu guards store and matching, which change on hot reload.
	storeMu  sync.Mutex
	store    *phrasestore.Store
	matching config.MatchingConfig
	matcher  atomic.Pointer[phrase.Matcher]

	prompt   func(sample, total int)
	onSample func(sample int, text string, u segment.Utterance)

	busy atomic.Bool

	// closers are called in order during Shutdown, after the engine has
	// released the audio source.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a phrase store instead of opening matching.phrases_path.
func WithStore(s *phrasestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEnrollPrompt is called before each enrollment sample is awaited.
func WithEnrollPrompt(fn func(sample, total int)) Option {
	return func(a *App) { a.prompt = fn }
}

// WithEnrollSampleHook is called after each accepted enrollment sample.
func WithEnrollSampleHook(fn func(sample int, text string, u segment.Utterance)) Option {
	return func(a *App) { a.onSample = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and providers. The engine starts calibrating
// on the first call to Listen or Enroll. On error every provider resource is
// left untouched and remains the caller's to close.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil {
		return nil, fmt.Errorf("app: %w", &types.ConfigError{Field: "audio.source", Reason: "no audio source"})
	}
	if providers.Transcriber == nil {
		return nil, fmt.Errorf("app: %w", &types.ConfigError{Field: "transcriber.primary", Reason: "no transcriber"})
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		matching:  cfg.Matching,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.store == nil {
		a.store = phrasestore.New(cfg.Matching.PhrasesPath)
	}
	a.matcher.Store(newMatcher(a.matching, phrase.NewSet()))

	// ── 1. Endpointer ────────────────────────────────────────────────────
	ep, err := a.buildEndpointer()
	if err != nil {
		return nil, fmt.Errorf("app: build endpointer: %w", err)
	}

	// ── 2. Segmentation engine ───────────────────────────────────────────
	eng, err := segment.New(providers.Source, segmentConfig(cfg), providers.Transcriber,
		segment.WithEndpointer(ep),
		segment.WithMetrics(a.metrics),
	)
	if err != nil {
		_ = ep.Close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.engine = eng

	// ── 3. Dropped-frame accounting (push sources only) ──────────────────
	if d, ok := providers.Source.(interface{ Dropped() int64 }); ok {
		reg, err := a.metrics.ObserveDroppedFrames(cfg.Audio.Source, d.Dropped)
		if err != nil {
			slog.Warn("app: dropped-frame metric unavailable", "err", err)
		} else {
			a.closers = append(a.closers, reg.Unregister)
		}
	}

	if c, ok := providers.Transcriber.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	slog.Info("app ready",
		"source", cfg.Audio.Source,
		"strategy", eng.Strategy(),
		"phrases_path", a.store.Path(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func segmentConfig(cfg *config.Config) segment.Config {
	return segment.Config{
		CalibrationOffset:   cfg.Calibration.Offset,
		CalibrationWindow:   cfg.Calibration.Window(),
		ThresholdMultiplier: cfg.Calibration.ThresholdMultiplier,
		MaxUtterance:        cfg.Segmentation.MaxUtterance(),
	}
}

func (a *App) buildEndpointer() (segment.Endpointer, error) {
	seg := a.cfg.Segmentation
	switch seg.Strategy {
	case config.StrategyTrailingSilence:
		return segment.NewTrailingSilence(seg.TrailingSilence()), nil
	case config.StrategyVAD:
		if a.providers.VAD == nil {
			return nil, &types.ConfigError{Field: "segmentation.vad", Reason: "strategy vad needs a vad engine"}
		}
		return segment.NewVADEndpointer(a.providers.VAD, vadConfig(a.cfg))
	default:
		return segment.FixedDuration{}, nil
	}
}

func vadConfig(cfg *config.Config) vad.Config {
	entry := cfg.Segmentation.VAD
	return vad.Config{
		SampleRate:      cfg.Audio.SampleRate,
		FrameSize:       cfg.Audio.FrameSize,
		SpeechThreshold: entry.OptFloat("threshold", defaultVADThreshold),
		MinSilenceMs:    entry.OptInt("min_silence_ms", defaultVADMinSilenceMs),
		SpeechPadMs:     entry.OptInt("speech_pad_ms", defaultVADSpeechPadMs),
	}
}

func newMatcher(m config.MatchingConfig, set phrase.Set) *phrase.Matcher {
	return phrase.NewMatcher(set,
		phrase.WithAlternatives(m.Alternatives()),
		phrase.WithMaxRank(m.MaxRank),
	)
}

// ─── Listen ──────────────────────────────────────────────────────────────────

// Listen loads the enrolled phrases and then matches every utterance the
// engine produces, calling onWake for each confirmed wake phrase. It blocks
// until ctx is done (returning ctx's error), the source ends (nil), the app
// is shut down (nil), or the audio device fails (an error wrapping
// [types.ErrDevice] or [types.ErrStreamInactive]).
//
// A missing or unreadable phrase file fails immediately with an error
// wrapping [types.ErrConfiguration]. Transcription failures are logged and
// listening continues.
func (a *App) Listen(ctx context.Context, onWake func(Detection)) error {
	if !a.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer a.busy.Store(false)

	if err := a.ReloadPhrases(); err != nil {
		return err
	}
	slog.Info("listening for wake phrases",
		"phrases", a.matcher.Load().Phrases().Len(),
		"strategy", a.engine.Strategy(),
	)

	for {
		u, err := a.engine.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, types.ErrTranscription):
				slog.Warn("utterance dropped, transcription failed", "err", err)
				continue
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.EOF), errors.Is(err, segment.ErrClosed):
				slog.Info("audio stream ended")
				return nil
			default:
				return fmt.Errorf("app: listen: %w", err)
			}
		}
		a.handleUtterance(ctx, u, onWake)
	}
}

func (a *App) handleUtterance(ctx context.Context, u segment.Utterance, onWake func(Detection)) {
	ctx, span := observe.StartSpan(ctx, "app.match")
	defer span.End()
	log := observe.Logger(ctx).With("segment_id", u.Segment.ID)

	if u.Hypothesis.IsEmpty() {
		log.Debug("empty hypothesis ignored")
		return
	}

	m := a.matcher.Load()
	res := m.Match(u.Hypothesis)
	if res.Matched {
		a.metrics.RecordWakeMatch(ctx, res.Rank)
		log.Info("wake phrase detected",
			"phrase", res.Phrase,
			"rank", res.Rank,
			"text", res.Text,
		)
		if onWake != nil {
			onWake(Detection{Match: res, Utterance: u})
		}
		return
	}

	a.metrics.WakeMisses.Add(ctx, 1)
	attrs := []any{"text", res.Text, "alternatives", len(u.Hypothesis.Alternatives)}
	if nearest, score, ok := m.Nearest(u.Hypothesis.Text); ok {
		attrs = append(attrs, "nearest", nearest, "similarity", score)
	}
	if similar, ok := m.SoundsLike(u.Hypothesis.Text); ok {
		attrs = append(attrs, "sounds_like", similar)
	}
	log.Debug("no wake phrase", attrs...)
}

// ReloadPhrases re-reads the phrase file into the active matcher.
func (a *App) ReloadPhrases() error {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()

	set, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("app: load phrases: %w", err)
	}
	a.matcher.Store(newMatcher(a.matching, set))
	return nil
}

// ─── Enroll ──────────────────────────────────────────────────────────────────

// Enroll collects enrollment.sample_count samples from the engine, merges
// them into the phrase file and installs the merged set in the matcher.
func (a *App) Enroll(ctx context.Context) (enroll.Result, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return enroll.Result{}, ErrBusy
	}
	defer a.busy.Store(false)

	a.storeMu.Lock()
	store := a.store
	a.storeMu.Unlock()

	opts := []enroll.Option{enroll.WithMetrics(a.metrics)}
	if a.prompt != nil {
		opts = append(opts, enroll.WithPrompt(a.prompt))
	}
	if a.onSample != nil {
		opts = append(opts, enroll.WithSampleHook(a.onSample))
	}
	wf, err := enroll.New(a.engine, store, a.cfg.Enrollment.SampleCount, opts...)
	if err != nil {
		return enroll.Result{}, fmt.Errorf("app: %w", err)
	}

	res, err := wf.Run(ctx)
	if err != nil {
		return res, err
	}
	a.matcher.Load().SetPhrases(phrase.NewSet(res.Stored...))
	return res, nil
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next: matching options and
// the phrase file path. Fields listed in diff.RestartRequired are logged and
// ignored.
func (a *App) ApplyConfig(next *config.Config, diff config.ConfigDiff) error {
	for _, field := range diff.RestartRequired {
		slog.Warn("config change needs a restart to take effect", "field", field)
	}
	if !diff.MatchingChanged && !diff.PhrasesPathChanged {
		return nil
	}

	a.storeMu.Lock()
	defer a.storeMu.Unlock()

	if diff.PhrasesPathChanged {
		a.store = phrasestore.New(next.Matching.PhrasesPath)
	}
	a.matching = next.Matching

	set := a.matcher.Load().Phrases()
	if diff.PhrasesPathChanged {
		loaded, err := a.store.LoadOrEmpty()
		if err != nil {
			return fmt.Errorf("app: reload phrases: %w", err)
		}
		set = loaded
	}
	a.matcher.Store(newMatcher(a.matching, set))
	slog.Info("matching reconfigured",
		"phrases_path", a.store.Path(),
		"phrases", set.Len(),
		"check_alternatives", a.matching.Alternatives(),
		"max_rank", a.matching.MaxRank,
	)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the segmentation engine.
func (a *App) Engine() *segment.Engine { return a.engine }

// Phrases returns the set the matcher currently confirms against.
func (a *App) Phrases() phrase.Set { return a.matcher.Load().Phrases() }

// Checkers returns the readiness checks for the operator HTTP listener.
// withPhrases adds the phrase file check; it is left out in enrollment mode,
// where the file may not exist yet.
func (a *App) Checkers(withPhrases bool) []health.Checker {
	checkers := []health.Checker{
		health.Engine(func() health.Pipeline { return a.engine }),
	}
	if withPhrases {
		a.storeMu.Lock()
		store := a.store
		a.storeMu.Unlock()
		checkers = append(checkers, health.Phrases(store))
	}
	if fb, ok := a.providers.Transcriber.(*resilience.TranscriberFallback); ok {
		checkers = append(checkers, health.Transcribers(fb.States))
	}
	return checkers
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. The engine is always closed first,
// whatever the state of ctx, so the audio device is released on every exit
// path and a running Listen or Enroll unblocks. The remaining closers respect
// the context deadline: if ctx expires before they finish, the rest are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers)+1)

		if err := a.engine.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
