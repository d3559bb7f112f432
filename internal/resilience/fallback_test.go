package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// backends builds a group of named transcription backends; each value is the
// backend name itself so the callback can tell which one it is talking to.
func backends(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

// transcribeVia returns "<backend>: text" for healthy backends and errTest
// for the ones listed in down. It records the order backends were tried in.
func transcribeVia(tried *[]string, down ...string) func(context.Context, string) (string, error) {
	return func(_ context.Context, backend string) (string, error) {
		*tried = append(*tried, backend)
		if slices.Contains(down, backend) {
			return "", errTest
		}
		return backend + ": hey jelly", nil
	}
}

func TestExecuteWithResult_Order(t *testing.T) {
	cfg := FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}

	tests := []struct {
		name      string
		down      []string
		want      string
		wantTried []string
	}{
		{"primary healthy", nil, "whisper-native: hey jelly", []string{"whisper-native"}},
		{"primary down", []string{"whisper-native"}, "whisper: hey jelly", []string{"whisper-native", "whisper"}},
		{"two down", []string{"whisper-native", "whisper"}, "deepgram: hey jelly", []string{"whisper-native", "whisper", "deepgram"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := backends(cfg, "whisper-native", "whisper", "deepgram")
			var tried []string
			got, err := ExecuteWithResult(context.Background(), fg, transcribeVia(&tried, tt.down...))
			if err != nil {
				t.Fatalf("ExecuteWithResult() = %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried = %v, want %v", tried, tt.wantTried)
			}
		})
	}
}

func TestExecuteWithResult_AllDownWrapsLastError(t *testing.T) {
	fg := backends(FallbackConfig{}, "whisper-native", "openai")

	var tried []string
	_, err := ExecuteWithResult(context.Background(), fg, transcribeVia(&tried, "whisper-native", "openai"))
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the backend error", err)
	}
	if len(tried) != 2 {
		t.Errorf("tried = %v, want both backends", tried)
	}
}

func TestExecuteWithResult_OpenBreakerSkipsBackend(t *testing.T) {
	fg := backends(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	}, "deepgram", "whisper")

	var tried []string
	for range 2 {
		if _, err := ExecuteWithResult(context.Background(), fg, transcribeVia(&tried, "deepgram")); err != nil {
			t.Fatalf("ExecuteWithResult() = %v", err)
		}
	}
	if got := fg.States()["deepgram"]; got != StateOpen {
		t.Fatalf("deepgram breaker = %v, want open", got)
	}

	tried = nil
	got, err := ExecuteWithResult(context.Background(), fg, transcribeVia(&tried))
	if err != nil {
		t.Fatalf("ExecuteWithResult() = %v", err)
	}
	if got != "whisper: hey jelly" || !slices.Equal(tried, []string{"whisper"}) {
		t.Errorf("result %q after trying %v, want whisper only", got, tried)
	}
}

func TestExecuteWithResult_CancelStopsFailover(t *testing.T) {
	fg := backends(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	}, "whisper-native", "whisper")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, backend string) (string, error) {
		tried = append(tried, backend)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want context.Canceled only", err)
	}
	if !slices.Equal(tried, []string{"whisper-native"}) {
		t.Errorf("tried = %v, want the primary only", tried)
	}
	// Cancellation must not count against the primary.
	if got := fg.States()["whisper-native"]; got != StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
}
