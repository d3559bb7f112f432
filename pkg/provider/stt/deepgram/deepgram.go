// Package deepgram provides a Deepgram-backed utterance transcriber using the
// Deepgram streaming WebSocket API. It implements the stt.Transcriber
// interface.
//
// Each Transcribe call opens one connection, streams the segment as raw
// linear16 audio, sends CloseStream and collects every final result until
// the server closes the stream. Deepgram can return several ranked
// alternatives per result, which map onto the N-best list of the hypothesis.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	deepgramEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel        = "nova-3"
	defaultLanguage     = "en"
	defaultAlternatives = 3

	// chunkSamples is the write size: 250 ms at 16 kHz.
	chunkSamples = 4000
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Keyword is a vocabulary hint. Boost is the Deepgram intensifier
// (e.g., 2 doubles the prior).
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithAlternatives sets how many ranked alternatives to request. Defaults to 3.
func WithAlternatives(n int) Option {
	return func(t *Transcriber) {
		t.alternatives = n
	}
}

// WithKeywords boosts recognition of the given words, typically the words of
// the enrolled wake phrases.
func WithKeywords(kws ...Keyword) Option {
	return func(t *Transcriber) {
		t.keywords = append(t.keywords, kws...)
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
type Transcriber struct {
	apiKey       string
	endpoint     string
	model        string
	language     string
	alternatives int
	keywords     []Keyword
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:       apiKey,
		endpoint:     deepgramEndpoint,
		model:        defaultModel,
		language:     defaultLanguage,
		alternatives: defaultAlternatives,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for one segment.
func (t *Transcriber) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "false")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	if t.alternatives > 1 {
		q.Set("alternatives", strconv.Itoa(t.alternatives))
	}

	for _, kw := range t.keywords {
		// Deepgram keyword format: word:boost (e.g., "jellybot:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcribe streams samples to Deepgram and returns the combined final
// results.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	h, err := t.transcribe(ctx, samples, sampleRate)
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("deepgram: %w: %w", types.ErrTranscription, err)
	}
	h.Duration = types.FrameDuration(len(samples), sampleRate)
	return h, nil
}

func (t *Transcriber) transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Hypothesis, error) {
	wsURL, err := t.buildURL(sampleRate)
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Hypothesis{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	type readResult struct {
		results []deepgramResponse
		err     error
	}
	done := make(chan readResult, 1)
	go func() {
		results, err := readFinals(ctx, conn)
		done <- readResult{results, err}
	}()

	for start := 0; start < len(samples); start += chunkSamples {
		end := min(start+chunkSamples, len(samples))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.SamplesToBytes(samples[start:end])); err != nil {
			return stt.Hypothesis{}, fmt.Errorf("write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Hypothesis{}, fmt.Errorf("write close stream: %w", err)
	}

	var rr readResult
	select {
	case rr = <-done:
	case <-ctx.Done():
		return stt.Hypothesis{}, ctx.Err()
	}
	if rr.err != nil {
		return stt.Hypothesis{}, rr.err
	}
	conn.Close(websocket.StatusNormalClosure, "segment complete")
	return combine(rr.results), nil
}

// readFinals receives messages until the server closes the stream, keeping
// only final Results events.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]deepgramResponse, error) {
	var (
		finals   []deepgramResponse
		metadata bool
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if metadata || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Results":
			if resp.IsFinal && len(resp.Channel.Alternatives) > 0 {
				finals = append(finals, resp)
			}
		case "Metadata":
			// Sent last, right before the server closes the socket.
			metadata = true
		}
	}
}

// combine folds consecutive final results into one hypothesis. Rank i of the
// combined list joins rank i of every result, falling back to the result's
// best alternative where it has fewer ranks.
func combine(results []deepgramResponse) stt.Hypothesis {
	if len(results) == 0 {
		return stt.Hypothesis{}
	}

	ranks := 0
	for _, r := range results {
		ranks = max(ranks, len(r.Channel.Alternatives))
	}

	alts := make([]stt.Alternative, ranks)
	for i := range ranks {
		var parts []string
		var conf float64
		for _, r := range results {
			a := r.Channel.Alternatives[min(i, len(r.Channel.Alternatives)-1)]
			if text := strings.TrimSpace(a.Transcript); text != "" {
				parts = append(parts, text)
			}
			conf += a.Confidence
		}
		alts[i] = stt.Alternative{
			Text:       strings.Join(parts, " "),
			Confidence: conf / float64(len(results)),
		}
	}

	h := stt.FromAlternatives(alts)
	for _, r := range results {
		for _, w := range r.Channel.Alternatives[0].Words {
			h.Words = append(h.Words, stt.WordDetail{
				Word:       w.Word,
				Start:      time.Duration(w.Start * float64(time.Second)),
				End:        time.Duration(w.End * float64(time.Second)),
				Confidence: w.Confidence,
			})
		}
	}
	return h
}
