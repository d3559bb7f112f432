// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber using whisper.cpp Go bindings (CGO),
// eliminating HTTP overhead entirely. The model is loaded once at startup
// and shared by every call; each call creates its own context.
type Native struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeThreads sets the number of CPU threads used per inference.
// Zero keeps the whisper.cpp default.
func WithNativeThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative loads the whisper.cpp model from modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs in-process inference on samples. Segment texts are joined
// with single spaces; per-token probabilities become word details and the
// mean token probability becomes the hypothesis confidence.
func (n *Native) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return stt.Hypothesis{}, fmt.Errorf("whisper: %w: %w", types.ErrTranscription, err)
	}
	if sampleRate != whisperSampleRate {
		samples = audio.ResampleMono16(samples, sampleRate, whisperSampleRate)
	}

	h, err := n.infer(audio.SamplesToFloat32(samples))
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("whisper: %w: %w", types.ErrTranscription, err)
	}
	h.Duration = types.FrameDuration(len(samples), whisperSampleRate)
	return h, nil
}

func (n *Native) infer(samples []float32) (stt.Hypothesis, error) {
	// Contexts are not thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Hypothesis{}, fmt.Errorf("process audio: %w", err)
	}

	var (
		parts  []string
		words  []stt.WordDetail
		sumP   float64
		tokens int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Hypothesis{}, fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			word := strings.TrimSpace(tok.Text)
			// Special tokens such as [_BEG_] carry no speech.
			if word == "" || strings.HasPrefix(word, "[_") {
				continue
			}
			words = append(words, stt.WordDetail{
				Word:       word,
				Start:      tok.Start,
				End:        tok.End,
				Confidence: float64(tok.P),
			})
			sumP += float64(tok.P)
			tokens++
		}
	}

	h := stt.Hypothesis{Text: strings.Join(parts, " "), Words: words}
	if tokens > 0 {
		h.Confidence = sumP / float64(tokens)
	}
	return h, nil
}
