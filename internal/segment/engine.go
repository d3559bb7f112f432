package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/earshot/internal/loudness"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// Option is a functional option for [New].
type Option func(*Engine)

// WithEndpointer selects the segmentation strategy. Defaults to
// [FixedDuration]. The engine takes ownership and closes it in
// [Engine.Close].
func WithEndpointer(ep Endpointer) Option {
	return func(e *Engine) {
		if ep != nil {
			e.ep = ep
		}
	}
}

// WithMetrics sets the metrics recorder. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// Engine is the segmentation state machine over one audio source.
//
// [Engine.Next] must be called from a single goroutine. [Engine.Close],
// [Engine.State], [Engine.Calibration] and [Engine.Err] are safe to call
// from any goroutine.
type Engine struct {
	src     audio.Source
	tr      stt.Transcriber
	cfg     Config
	ep      Endpointer
	metrics *observe.Metrics

	meter loudness.Meter
	cal   *loudness.Calibrator

	// Owned by the Next goroutine.
	threshold loudness.Calibration
	prev      audio.Frame
	hasPrev   bool
	open      *Segment
	recorded  time.Duration

	state       atomic.Int32
	calibration atomic.Pointer[loudness.Calibration]

	mu      sync.Mutex
	termErr error

	closed      atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// New validates cfg and returns an engine reading from src. The engine owns
// src from this point on: it is closed by [Engine.Close] or when the stream
// terminates. An invalid configuration returns an error wrapping
// [types.ErrConfiguration] and leaves src untouched.
func New(src audio.Source, cfg Config, tr stt.Transcriber, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, &types.ConfigError{Field: "audio.source", Reason: "must not be nil"}
	}
	if tr == nil {
		return nil, &types.ConfigError{Field: "transcriber", Reason: "must not be nil"}
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	meter, err := loudness.NewMeter(cfg.CalibrationOffset)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	cal, err := loudness.NewCalibrator(meter, cfg.CalibrationWindow, cfg.ThresholdMultiplier)
	if err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}

	e := &Engine{
		src:   src,
		tr:    tr,
		cfg:   cfg,
		ep:    FixedDuration{},
		meter: meter,
		cal:   cal,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.state.Store(int32(StateCalibrating))
	e.metrics.ActiveEngines.Add(context.Background(), 1)
	return e, nil
}

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Calibration returns the calibration result once the window has completed.
func (e *Engine) Calibration() (loudness.Calibration, bool) {
	c := e.calibration.Load()
	if c == nil {
		return loudness.Calibration{}, false
	}
	return *c, true
}

// Err returns the error that terminated the engine, or nil while it is
// still usable.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.termErr
}

// Strategy returns the name of the active endpointer.
func (e *Engine) Strategy() string { return e.ep.Name() }

// Next blocks until the next segment has been recorded and transcribed.
//
// Errors:
//   - wrapping [types.ErrTranscription]: the segment was discarded; the
//     engine is back in Idle and Next may be called again.
//   - wrapping [types.ErrDevice] or [types.ErrStreamInactive], or [io.EOF]
//     for a finite source: the engine is terminated and every later call
//     returns the same error. A segment open at EOF is emitted first.
//   - ctx.Err(): the engine is unchanged and Next may be called again.
//   - [ErrClosed] after [Engine.Close].
func (e *Engine) Next(ctx context.Context) (Utterance, error) {
	if e.closed.Load() {
		return Utterance{}, ErrClosed
	}
	if err := e.Err(); err != nil {
		return Utterance{}, err
	}

	for {
		f, err := e.src.ReadFrame(ctx)
		if err != nil {
			return e.readFailed(ctx, err)
		}
		e.metrics.FramesRead.Add(ctx, 1)

		if seg := e.step(ctx, f); seg != nil {
			return e.emit(ctx, seg)
		}
	}
}

// step advances the state machine by one frame and returns the segment when
// it has just been completed.
func (e *Engine) step(ctx context.Context, f audio.Frame) *Segment {
	defer func() {
		e.prev = f
		e.hasPrev = true
	}()

	switch e.State() {
	case StateCalibrating:
		if _, done := e.cal.Observe(f); done {
			cal, _ := e.cal.Result()
			e.threshold = cal
			e.calibration.Store(&cal)
			e.setState(StateIdle)
			e.metrics.CalibrationThreshold.Record(ctx, cal.SpeechThreshold)
			slog.Info("segment: calibration complete",
				"ambient_floor", cal.AmbientFloor,
				"speech_threshold", cal.SpeechThreshold,
				"frames", cal.Frames,
				"elapsed", cal.Elapsed,
			)
		}
		return nil

	case StateIdle:
		level := e.meter.Measure(f.Samples).Level
		if !e.threshold.IsSpeech(level) {
			e.recorded = 0
			return nil
		}
		e.open = &Segment{ID: uuid.NewString(), TriggerIndex: f.Index}
		if e.hasPrev {
			e.open.Frames = append(e.open.Frames, e.prev)
		}
		e.recorded = 0
		e.ep.Reset(e.threshold)
		e.setState(StateRecording)
		slog.Debug("segment: opened",
			"segment_id", e.open.ID,
			"trigger_index", f.Index,
			"level", level,
			"threshold", e.threshold.SpeechThreshold,
		)
		return e.record(f, level)

	case StateRecording:
		return e.record(f, e.meter.Measure(f.Samples).Level)
	}
	return nil
}

// record appends f to the open segment and closes it when complete.
func (e *Engine) record(f audio.Frame, level float64) *Segment {
	e.open.Frames = append(e.open.Frames, f)
	e.recorded += f.Duration()

	complete, err := e.ep.Observe(f, level)
	if err != nil {
		slog.Warn("segment: endpointer failed, relying on max utterance duration",
			"segment_id", e.open.ID,
			"strategy", e.ep.Name(),
			"err", err,
		)
	}

	switch {
	case e.recorded >= e.cfg.MaxUtterance:
		return e.close(ReasonMaxDuration)
	case complete:
		return e.close(ReasonEndpoint)
	}
	return nil
}

func (e *Engine) close(reason EndReason) *Segment {
	seg := e.open
	seg.Reason = reason
	e.open = nil
	e.recorded = 0
	e.setState(StateEmitting)
	return seg
}

// emit transcribes seg and returns to Idle.
func (e *Engine) emit(ctx context.Context, seg *Segment) (Utterance, error) {
	defer func() {
		if e.State() == StateEmitting {
			e.setState(StateIdle)
		}
	}()

	secs := seg.Duration().Seconds()
	e.metrics.RecordSegment(ctx, e.ep.Name(), string(seg.Reason), secs)

	ctx, span := observe.StartTranscriptionSpan(ctx, seg.ID, len(seg.Frames), secs)
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	h, err := e.tr.Transcribe(ctx, seg.Samples(), seg.SampleRate())
	e.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		if !errors.Is(err, types.ErrTranscription) {
			err = fmt.Errorf("%w: %w", types.ErrTranscription, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		log.Warn("segment: transcription failed, segment discarded",
			"segment_id", seg.ID,
			"frames", len(seg.Frames),
			"err", err,
		)
		return Utterance{}, fmt.Errorf("segment %s: %w", seg.ID, err)
	}

	log.Info("segment: emitted",
		"segment_id", seg.ID,
		"frames", len(seg.Frames),
		"duration", seg.Duration(),
		"reason", seg.Reason,
		"text", h.Text,
		"alternatives", len(h.Alternatives),
	)
	return Utterance{Segment: *seg, Hypothesis: h}, nil
}

// readFailed classifies a ReadFrame error.
func (e *Engine) readFailed(ctx context.Context, err error) (Utterance, error) {
	if e.closed.Load() {
		return Utterance{}, ErrClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return Utterance{}, err
	}

	if errors.Is(err, io.EOF) {
		if e.open != nil && len(e.open.Frames) > 0 {
			seg := e.close(ReasonEOF)
			u, emitErr := e.emit(ctx, seg)
			e.terminate(io.EOF)
			return u, emitErr
		}
		e.terminate(io.EOF)
		return Utterance{}, io.EOF
	}

	if !errors.Is(err, types.ErrDevice) && !errors.Is(err, types.ErrStreamInactive) {
		err = fmt.Errorf("segment: read frame: %w: %w", types.ErrDevice, err)
	}
	slog.Error("segment: audio source failed, engine terminated",
		"state", e.State(),
		"err", err,
	)
	e.terminate(err)
	return Utterance{}, err
}

// terminate records the final error and releases the source.
func (e *Engine) terminate(err error) {
	e.mu.Lock()
	if e.termErr == nil {
		e.termErr = err
	}
	e.mu.Unlock()
	e.open = nil
	e.setState(StateTerminated)
	if rerr := e.release(); rerr != nil {
		slog.Warn("segment: release audio source", "err", rerr)
	}
}

// Close stops the engine and releases the audio source and the endpointer.
// It may be called from any goroutine, in any state, any number of times; a
// blocked [Engine.Next] returns [ErrClosed]. An open segment is discarded.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return e.release()
}

func (e *Engine) release() error {
	e.releaseOnce.Do(func() {
		e.setState(StateTerminated)
		e.releaseErr = errors.Join(e.src.Close(), e.ep.Close())
		e.metrics.ActiveEngines.Add(context.Background(), -1)
	})
	return e.releaseErr
}

// setState moves to s unless the engine is already terminated.
func (e *Engine) setState(s State) {
	for {
		cur := e.state.Load()
		if State(cur) == StateTerminated {
			return
		}
		if e.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}
