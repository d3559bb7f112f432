package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/earshot/pkg/types"
)

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultSampleRate          = 16000
	DefaultFrameSize           = 2000
	DefaultQueueSeconds        = 2
	DefaultWindowSeconds       = 1
	DefaultThresholdMultiplier = 2.5
	DefaultMaxUtterance        = 2
	DefaultTrailingSilence     = 0.5
	DefaultMaxRank             = 3
	DefaultSampleCount         = 10
	DefaultPhrasesPath         = "wake_phrases.json"
	DefaultAudioSource         = "portaudio"
)

// micAdjacent is the top of the calibrated decibel scale.
const micAdjacent = 90

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper", "whisper-native", "deepgram", "openai"},
	"vad":         {"silero"},
	"audio":       {"portaudio", "malgo"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w: %w", path, types.ErrConfiguration, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w: %w", types.ErrConfiguration, err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default. The
// calibration offset has no default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Source == "" {
		cfg.Audio.Source = DefaultAudioSource
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.QueueSeconds == 0 {
		cfg.Audio.QueueSeconds = DefaultQueueSeconds
	}
	if cfg.Calibration.WindowSeconds == 0 {
		cfg.Calibration.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.Calibration.ThresholdMultiplier == 0 {
		cfg.Calibration.ThresholdMultiplier = DefaultThresholdMultiplier
	}
	if cfg.Segmentation.Strategy == "" {
		cfg.Segmentation.Strategy = StrategyFixed
	}
	if cfg.Segmentation.MaxUtteranceSeconds == 0 {
		cfg.Segmentation.MaxUtteranceSeconds = DefaultMaxUtterance
	}
	if cfg.Segmentation.TrailingSilenceSeconds == 0 {
		cfg.Segmentation.TrailingSilenceSeconds = DefaultTrailingSilence
	}
	if cfg.Matching.PhrasesPath == "" {
		cfg.Matching.PhrasesPath = DefaultPhrasesPath
	}
	if cfg.Matching.MaxRank == 0 {
		cfg.Matching.MaxRank = DefaultMaxRank
	}
	if cfg.Enrollment.SampleCount == 0 {
		cfg.Enrollment.SampleCount = DefaultSampleCount
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; every
// element wraps [types.ErrConfiguration].
func Validate(cfg *Config) error {
	var errs []error
	invalid := func(field, reason string, args ...any) {
		errs = append(errs, &types.ConfigError{Field: field, Reason: fmt.Sprintf(reason, args...)})
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		invalid("server.log_level", "%q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Source)
	if cfg.Audio.SampleRate <= 0 {
		invalid("audio.sample_rate", "%d must be > 0", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSize <= 0 {
		invalid("audio.frame_size", "%d must be > 0", cfg.Audio.FrameSize)
	}
	if cfg.Audio.QueueSeconds < 0 {
		invalid("audio.queue_seconds", "%g must not be negative", cfg.Audio.QueueSeconds)
	}

	// Calibration
	if cfg.Calibration.Offset <= 0 {
		invalid("calibration.offset", "is required and must be > 0 (got %g)", cfg.Calibration.Offset)
	}
	if cfg.Calibration.WindowSeconds <= 0 {
		invalid("calibration.window_seconds", "%g must be > 0", cfg.Calibration.WindowSeconds)
	}
	if cfg.Calibration.ThresholdMultiplier < 1 {
		invalid("calibration.threshold_multiplier", "%g must be >= 1", cfg.Calibration.ThresholdMultiplier)
	}
	if cfg.Calibration.Offset > micAdjacent {
		slog.Warn("calibration.offset is above the top of the calibrated scale; loud input will be compressed",
			"offset", cfg.Calibration.Offset,
		)
	}

	// Segmentation
	seg := cfg.Segmentation
	if !seg.Strategy.IsValid() {
		invalid("segmentation.strategy", "%q is invalid; valid values: fixed, trailing_silence, vad", seg.Strategy)
	}
	if seg.MaxUtteranceSeconds <= 0 {
		invalid("segmentation.max_utterance_seconds", "%g must be > 0", seg.MaxUtteranceSeconds)
	}
	if seg.Strategy == StrategyTrailingSilence {
		if seg.TrailingSilenceSeconds <= 0 {
			invalid("segmentation.trailing_silence_seconds", "%g must be > 0", seg.TrailingSilenceSeconds)
		} else if seg.TrailingSilenceSeconds >= seg.MaxUtteranceSeconds {
			slog.Warn("segmentation.trailing_silence_seconds is not shorter than max_utterance_seconds; segments will always run to the maximum",
				"trailing_silence_seconds", seg.TrailingSilenceSeconds,
				"max_utterance_seconds", seg.MaxUtteranceSeconds,
			)
		}
	}
	if seg.Strategy == StrategyVAD {
		if seg.VAD.Name == "" {
			invalid("segmentation.vad.name", "is required when strategy is vad")
		}
		validateProviderName("vad", seg.VAD.Name)
	}

	// Transcriber
	if cfg.Transcriber.Primary.Name == "" {
		invalid("transcriber.primary.name", "is required")
	}
	validateProviderName("transcriber", cfg.Transcriber.Primary.Name)
	for i, fb := range cfg.Transcriber.Fallbacks {
		if fb.Name == "" {
			invalid(fmt.Sprintf("transcriber.fallbacks[%d].name", i), "is required")
			continue
		}
		validateProviderName("transcriber", fb.Name)
	}

	// Matching
	if cfg.Matching.PhrasesPath == "" {
		invalid("matching.phrases_path", "is required")
	}
	if cfg.Matching.MaxRank < -1 {
		invalid("matching.max_rank", "%d is invalid; use -1 for unlimited", cfg.Matching.MaxRank)
	}

	// Enrollment
	if cfg.Enrollment.SampleCount < 1 {
		invalid("enrollment.sample_count", "%d must be >= 1", cfg.Enrollment.SampleCount)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is not in the known list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
