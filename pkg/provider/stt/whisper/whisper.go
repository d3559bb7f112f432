// Package whisper provides whisper.cpp-backed utterance transcribers.
//
// [Client] talks to a running whisper-server binary over its REST API
// (POST /inference, WAV upload as multipart/form-data). [Native] links the
// whisper.cpp library through its CGO bindings and runs inference in-process.
//
// whisper.cpp is a batch engine: each call transcribes one complete segment,
// which is exactly the contract of stt.Transcriber.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	h, err := c.Transcribe(ctx, samples, 16000)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	defaultLanguage = "en"

	// whisperSampleRate is the only rate whisper.cpp models accept. Other
	// rates are resampled before upload.
	whisperSampleRate = 16000
)

// Compile-time assertion that Client implements stt.Transcriber.
var _ stt.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithTemperature sets the decoding temperature. Zero (the default) selects
// greedy decoding, which is the most stable choice for short wake phrases.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.temperature = temp
	}
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Client struct {
	serverURL   string
	model       string
	language    string
	temperature float64
	httpClient  *http.Client
}

// New creates a new Client that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads samples as a WAV file and returns the server's text.
func (c *Client) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	if sampleRate != whisperSampleRate {
		samples = audio.ResampleMono16(samples, sampleRate, whisperSampleRate)
	}
	text, err := c.infer(ctx, audio.EncodeWAV(samples, whisperSampleRate))
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("whisper: %w: %w", types.ErrTranscription, err)
	}
	return stt.Hypothesis{
		Text:     strings.TrimSpace(text),
		Duration: types.FrameDuration(len(samples), whisperSampleRate),
	}, nil
}

// infer POSTs wav to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (c *Client) infer(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     strconv.FormatFloat(c.temperature, 'f', -1, 64),
	}
	if c.language != "" {
		fields["language"] = c.language
	}
	if c.model != "" {
		fields["model"] = c.model
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("server error: %s", result.Error)
	}
	return result.Text, nil
}
