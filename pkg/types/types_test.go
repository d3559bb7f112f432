package types_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

func TestConfigError_UnwrapsToErrConfiguration(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("loudness: %w", &types.ConfigError{Field: "calibration.offset", Reason: "must be > 0"})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("errors.Is(%v, ErrConfiguration) = false", err)
	}
	var ce *types.ConfigError
	if !errors.As(err, &ce) {
		t.Fatal("errors.As failed to extract *ConfigError")
	}
	if ce.Field != "calibration.offset" {
		t.Errorf("Field = %q, want %q", ce.Field, "calibration.offset")
	}
	want := "configuration error: calibration.offset: must be > 0"
	if ce.Error() != want {
		t.Errorf("Error() = %q, want %q", ce.Error(), want)
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n, rate int
		want    time.Duration
	}{
		{2000, 16000, 125 * time.Millisecond},
		{16000, 16000, time.Second},
		{480, 48000, 10 * time.Millisecond},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := types.FrameDuration(tt.n, tt.rate); got != tt.want {
			t.Errorf("FrameDuration(%d, %d) = %v, want %v", tt.n, tt.rate, got, tt.want)
		}
	}
}
