// Package silero provides a vad.Engine backed by the Silero VAD ONNX model via
// github.com/streamer45/silero-vad-go.
//
// The detector processes audio in model windows internally and reports
// speech runs as start/end boundaries. A session converts those boundaries
// into per-frame [vad.VADEvent] values.
//
// Requires CGO and the ONNX Runtime shared library.
package silero

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// Engine creates Silero VAD sessions from a model file on disk.
type Engine struct {
	modelPath string
}

// New returns an Engine that loads the model at modelPath for each session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession creates a detector with its own model state.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("silero: frame size must be > 0, got %d", cfg.FrameSize)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold >= 1 {
		return nil, fmt.Errorf("silero: speech threshold must be in (0, 1), got %v", cfg.SpeechThreshold)
	}

	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(cfg.SpeechThreshold),
		MinSilenceDurationMs: cfg.MinSilenceMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{sd: sd, frameSize: cfg.FrameSize}, nil
}

// detector is the part of [speech.Detector] a session drives.
type detector interface {
	Detect(pcm []float32) ([]speech.Segment, error)
	Reset() error
	Destroy() error
}

type session struct {
	sd        detector
	frameSize int
	inSpeech  bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// ProcessFrame feeds one frame to the detector. A run that both starts and
// ends inside the frame is reported as VADSpeechEnd.
func (s *session) ProcessFrame(samples []int16) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errors.New("silero: session is closed")
	}
	if len(samples) != s.frameSize {
		return vad.VADEvent{}, fmt.Errorf("silero: frame has %d samples, want %d", len(samples), s.frameSize)
	}

	segs, err := s.sd.Detect(audio.SamplesToFloat32(samples))
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("silero: detect: %w", err)
	}
	return s.classify(segs), nil
}

func (s *session) classify(segs []speech.Segment) vad.VADEvent {
	ev := vad.VADEvent{Type: vad.VADSilence}
	if s.inSpeech {
		ev.Type = vad.VADSpeechContinue
	}
	for _, seg := range segs {
		if seg.SpeechEndAt > 0 {
			s.inSpeech = false
			ev.Type = vad.VADSpeechEnd
			continue
		}
		if !s.inSpeech {
			s.inSpeech = true
			ev.Type = vad.VADSpeechStart
		}
	}
	return ev
}

func (s *session) Reset() {
	s.inSpeech = false
	if s.closed {
		return
	}
	// A detector that failed to reset still carries the previous segment's
	// speech state into the next one.
	if err := s.sd.Reset(); err != nil {
		slog.Warn("silero: detector reset failed", "err", err)
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.closeErr = s.sd.Destroy()
	})
	return s.closeErr
}
