package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/types"
)

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// requestCount sums earshot.provider.requests points for provider and status.
func requestCount(t *testing.T, reader *sdkmetric.ManualReader, provider, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "earshot.provider.requests" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				if p.AsString() == provider && s.AsString() == status {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTranscriberFallback_PrimarySuccess(t *testing.T) {
	m, reader := newMetrics(t)
	primary := &sttmock.Transcriber{Default: sttmock.Result{Hypothesis: stt.Hypothesis{Text: "hey jellybot"}}}
	secondary := &sttmock.Transcriber{}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{}, WithMetrics(m))
	fb.AddFallback("deepgram", secondary)

	h, err := fb.Transcribe(context.Background(), []int16{1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Text != "hey jellybot" {
		t.Errorf("Text = %q", h.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Errorf("calls primary=%d secondary=%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	if got := primary.Calls[0].SampleRate; got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := requestCount(t, reader, "whisper", "ok"); got != 1 {
		t.Errorf("whisper ok requests = %d, want 1", got)
	}
}

func TestTranscriberFallback_Failover(t *testing.T) {
	m, reader := newMetrics(t)
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: errors.New("server unreachable")}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Hypothesis: stt.Hypothesis{Text: "okay computer"}}}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{}, WithMetrics(m))
	fb.AddFallback("deepgram", secondary)

	h, err := fb.Transcribe(context.Background(), []int16{1}, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Text != "okay computer" {
		t.Errorf("Text = %q", h.Text)
	}
	if got := requestCount(t, reader, "whisper", "error"); got != 1 {
		t.Errorf("whisper error requests = %d, want 1", got)
	}
	if got := requestCount(t, reader, "deepgram", "ok"); got != 1 {
		t.Errorf("deepgram ok requests = %d, want 1", got)
	}
}

func TestTranscriberFallback_AllFailWrapsTranscription(t *testing.T) {
	m, _ := newMetrics(t)
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: errors.New("boom")}}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{}, WithMetrics(m))
	_, err := fb.Transcribe(context.Background(), nil, 16000)
	if !errors.Is(err, types.ErrTranscription) {
		t.Errorf("err = %v, want ErrTranscription", err)
	}
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriberFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	m, _ := newMetrics(t)
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: errors.New("boom")}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Hypothesis: stt.Hypothesis{Text: "ok"}}}

	fb := NewTranscriberFallback(primary, "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	}, WithMetrics(m))
	fb.AddFallback("deepgram", secondary)

	for range 4 {
		if _, err := fb.Transcribe(context.Background(), nil, 16000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primary.CallCount() != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", primary.CallCount())
	}
	if got := fb.States()["whisper"]; got != StateOpen {
		t.Errorf("whisper breaker = %v, want open", got)
	}
}

type closingTranscriber struct {
	sttmock.Transcriber
	closed int
	err    error
}

func (c *closingTranscriber) Close() error {
	c.closed++
	return c.err
}

func TestTranscriberFallback_Close(t *testing.T) {
	m, _ := newMetrics(t)
	native := &closingTranscriber{}
	broken := &closingTranscriber{err: errors.New("busy")}

	fb := NewTranscriberFallback(native, "whisper-native", FallbackConfig{}, WithMetrics(m))
	fb.AddFallback("plain", &sttmock.Transcriber{})
	fb.AddFallback("broken", broken)

	err := fb.Close()
	if native.closed != 1 || broken.closed != 1 {
		t.Errorf("closed native=%d broken=%d, want 1/1", native.closed, broken.closed)
	}
	if err == nil {
		t.Error("expected the broken backend's close error")
	}
}
