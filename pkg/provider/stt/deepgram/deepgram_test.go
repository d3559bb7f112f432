package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/types"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	tr, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := tr.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "alternatives", "3", q.Get("alternatives"))
}

func TestBuildURL_Options(t *testing.T) {
	tr, err := New("key",
		WithModel("base"),
		WithLanguage("de-DE"),
		WithAlternatives(1),
		WithKeywords(Keyword{Word: "jellybot", Boost: 2}, Keyword{Word: "hey", Boost: 1.5}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := tr.buildURL(48000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	q, _ := url.ParseQuery(strings.SplitN(rawURL, "?", 2)[1])

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "alternatives", "", q.Get("alternatives"))

	kws := q["keywords"]
	if len(kws) != 2 || kws[0] != "jellybot:2" || kws[1] != "hey:1.5" {
		t.Errorf("keywords = %v, want [jellybot:2 hey:1.5]", kws)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- combine tests ----

func resultJSON(t *testing.T, final bool, alts ...string) []byte {
	t.Helper()
	type alt struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
		Words      []any   `json:"words"`
	}
	var as []alt
	for i, a := range alts {
		as = append(as, alt{Transcript: a, Confidence: 0.9 - 0.1*float64(i), Words: []any{
			map[string]any{"word": strings.Fields(a + " x")[0], "start": 0.1, "end": 0.4, "confidence": 0.9},
		}})
	}
	msg := map[string]any{
		"type":     "Results",
		"is_final": final,
		"channel":  map[string]any{"alternatives": as},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func parse(t *testing.T, b []byte) deepgramResponse {
	t.Helper()
	var r deepgramResponse
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCombine_SingleResult(t *testing.T) {
	h := combine([]deepgramResponse{parse(t, resultJSON(t, true, "hey jelly", "hey jellybot", "hey jelly"))})

	assertEqual(t, "text", "hey jelly", h.Text)
	if len(h.Alternatives) != 1 || h.Alternatives[0].Text != "hey jellybot" {
		t.Errorf("Alternatives = %+v, want [hey jellybot]", h.Alternatives)
	}
	if len(h.Words) != 1 || h.Words[0].Word != "hey" {
		t.Errorf("Words = %+v", h.Words)
	}
}

func TestCombine_MultipleResults(t *testing.T) {
	h := combine([]deepgramResponse{
		parse(t, resultJSON(t, true, "hey", "hay")),
		parse(t, resultJSON(t, true, "jelly")),
	})
	assertEqual(t, "text", "hey jelly", h.Text)
	if len(h.Alternatives) != 1 || h.Alternatives[0].Text != "hay jelly" {
		t.Errorf("Alternatives = %+v, want [hay jelly]", h.Alternatives)
	}
}

func TestCombine_Empty(t *testing.T) {
	if h := combine(nil); !h.IsEmpty() {
		t.Errorf("combine(nil) = %+v, want empty", h)
	}
}

// ---- end-to-end against a fake streaming server ----

func fakeServer(t *testing.T, gotBytes *atomic.Int64, auth *atomic.Value, replies ...[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, reply := range replies {
			if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
				return
			}
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_EndToEnd(t *testing.T) {
	var gotBytes atomic.Int64
	var auth atomic.Value
	srv := fakeServer(t, &gotBytes, &auth,
		resultJSON(t, false, "hey"),
		resultJSON(t, true, "hey jelly bot", "hey jellybot"),
	)

	tr, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	samples := make([]int16, 10000)
	h, err := tr.Transcribe(context.Background(), samples, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	assertEqual(t, "text", "hey jelly bot", h.Text)
	if len(h.Alternatives) != 1 || h.Alternatives[0].Text != "hey jellybot" {
		t.Errorf("Alternatives = %+v", h.Alternatives)
	}
	if gotBytes.Load() != int64(len(samples)*2) {
		t.Errorf("server received %d bytes, want %d", gotBytes.Load(), len(samples)*2)
	}
	assertEqual(t, "authorization", "Token secret", auth.Load().(string))
}

func TestTranscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := tr.Transcribe(context.Background(), make([]int16, 100), 16000)
	if !errors.Is(err, types.ErrTranscription) {
		t.Fatalf("error = %v, want ErrTranscription", err)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
