// Package openai provides an utterance transcriber backed by the OpenAI audio
// transcription API (or any server that implements the same endpoint).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL      string
	organization string
	language     string
	prompt       string
	timeout      time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithLanguage sets the ISO-639-1 input language (e.g. "en").
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithPrompt sets a text prompt that biases recognition, typically the
// enrolled wake phrases.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI Transcriber.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// Segments are never retried; a failed one is discarded upstream.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Transcribe implements stt.Transcriber. The segment is uploaded as a WAV
// file.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	wav := audio.EncodeWAV(samples, sampleRate)

	params := oai.AudioTranscriptionNewParams{
		File:        oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model:       t.model,
		Temperature: oai.Float(0),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("openai stt: %w: %w", types.ErrTranscription, err)
	}
	return stt.Hypothesis{
		Text:     strings.TrimSpace(resp.Text),
		Duration: types.FrameDuration(len(samples), sampleRate),
	}, nil
}
