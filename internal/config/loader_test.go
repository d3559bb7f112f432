package config_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/loudness"
	"github.com/MrWong99/earshot/pkg/types"
)

func TestValidate_OffsetRequired(t *testing.T) {
	t.Parallel()
	yaml := `
transcriber:
  primary:
    name: whisper
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing calibration.offset, got nil")
	}
	var ce *types.ConfigError
	if !errors.As(err, &ce) || ce.Field != "calibration.offset" {
		t.Errorf("expected ConfigError for calibration.offset, got: %v", err)
	}
	if !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got: %v", err)
	}
}

func TestValidate_EmptyDocument(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty config, got: %v", err)
	}
	for _, field := range []string{"calibration.offset", "transcriber.primary.name"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s, got: %v", field, err)
		}
	}
}

func TestValidate_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "log level",
			yaml:  "server: {log_level: verbose}",
			field: "server.log_level",
		},
		{
			name:  "negative offset",
			yaml:  "calibration: {offset: -3}",
			field: "calibration.offset",
		},
		{
			name:  "negative multiplier",
			yaml:  "calibration: {offset: 65, threshold_multiplier: -1}",
			field: "calibration.threshold_multiplier",
		},
		{
			name:  "multiplier below one",
			yaml:  "calibration: {offset: 65, threshold_multiplier: 0.5}",
			field: "calibration.threshold_multiplier",
		},
		{
			name:  "negative frame size",
			yaml:  "calibration: {offset: 65}\naudio: {frame_size: -1}",
			field: "audio.frame_size",
		},
		{
			name:  "negative queue",
			yaml:  "calibration: {offset: 65}\naudio: {queue_seconds: -1}",
			field: "audio.queue_seconds",
		},
		{
			name:  "strategy",
			yaml:  "calibration: {offset: 65}\nsegmentation: {strategy: magic}",
			field: "segmentation.strategy",
		},
		{
			name:  "negative max utterance",
			yaml:  "calibration: {offset: 65}\nsegmentation: {max_utterance_seconds: -2}",
			field: "segmentation.max_utterance_seconds",
		},
		{
			name:  "vad without engine",
			yaml:  "calibration: {offset: 65}\nsegmentation: {strategy: vad}",
			field: "segmentation.vad.name",
		},
		{
			name:  "trailing silence negative",
			yaml:  "calibration: {offset: 65}\nsegmentation: {strategy: trailing_silence, trailing_silence_seconds: -1}",
			field: "segmentation.trailing_silence_seconds",
		},
		{
			name:  "fallback without name",
			yaml:  "calibration: {offset: 65}\ntranscriber: {fallbacks: [{api_key: x}]}",
			field: "transcriber.fallbacks[0].name",
		},
		{
			name:  "max rank",
			yaml:  "calibration: {offset: 65}\nmatching: {max_rank: -5}",
			field: "matching.max_rank",
		},
		{
			name:  "sample count",
			yaml:  "calibration: {offset: 65}\nenrollment: {sample_count: -1}",
			field: "enrollment.sample_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, types.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error should mention %s, got: %v", tt.field, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.LogLevel = "loud"
	cfg.Enrollment.SampleCount = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		t.Fatalf("expected a joined error, got %T", err)
	}
	// log level, offset, primary name, sample count
	if n := len(joined.Unwrap()); n != 4 {
		t.Errorf("got %d errors, want 4: %v", n, err)
	}
}

func TestValidate_TrailingSilenceStrategyIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
calibration: {offset: 65}
segmentation:
  strategy: trailing_silence
  trailing_silence_seconds: 0.75
transcriber:
  primary: {name: openai, api_key: sk-test, model: whisper-1}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Segmentation.TrailingSilence().Milliseconds() != 750 {
		t.Errorf("trailing silence: got %v", cfg.Segmentation.TrailingSilence())
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, want := range map[string]string{
		"transcriber": "whisper",
		"vad":         "silero",
		"audio":       "portaudio",
	} {
		if !slices.Contains(config.ValidProviderNames[kind], want) {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, want)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Transcriber.Primary.Name != "whisper-native" || len(cfg.Transcriber.Fallbacks) != 1 {
		t.Errorf("transcriber = %+v", cfg.Transcriber)
	}
	if got := cfg.Segmentation.VAD.OptInt("min_silence_ms", 0); got != 300 {
		t.Errorf("vad min_silence_ms = %d, want 300", got)
	}
}

// Every multiplier the config accepts must also build a calibrator, so a bad
// value fails at load time rather than when the pipeline starts.
func TestValidate_MultiplierMatchesCalibrator(t *testing.T) {
	t.Parallel()

	meter, err := loudness.NewMeter(65)
	if err != nil {
		t.Fatalf("NewMeter: %v", err)
	}
	for _, mult := range []float64{0.5, 0.999, 1, 2.5} {
		cfg := &config.Config{}
		cfg.Calibration.Offset = 65
		cfg.Calibration.ThresholdMultiplier = mult
		cfg.Transcriber.Primary.Name = "whisper"
		config.ApplyDefaults(cfg)

		cfgErr := config.Validate(cfg)
		_, calErr := loudness.NewCalibrator(meter, time.Second, mult)
		if (cfgErr == nil) != (calErr == nil) {
			t.Errorf("multiplier %g: Validate() = %v, NewCalibrator() = %v", mult, cfgErr, calErr)
		}
	}
}
