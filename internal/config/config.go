// Package config provides the configuration schema, loader, and provider registry
// for the earshot wake-phrase listener.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Strategy selects how a recording segment is ended.
type Strategy string

const (
	// StrategyFixed records until the maximum utterance duration.
	StrategyFixed Strategy = "fixed"

	// StrategyTrailingSilence ends a segment after a run of quiet frames.
	StrategyTrailingSilence Strategy = "trailing_silence"

	// StrategyVAD ends a segment when the VAD engine reports end of speech.
	StrategyVAD Strategy = "vad"
)

// IsValid reports whether s is a recognised segmentation strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFixed, StrategyTrailingSilence, StrategyVAD:
		return true
	}
	return false
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Calibration  CalibrationConfig  `yaml:"calibration"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Transcriber  TranscriberConfig  `yaml:"transcriber"`
	Matching     MatchingConfig     `yaml:"matching"`
	Enrollment   EnrollmentConfig   `yaml:"enrollment"`
}

// ServerConfig holds logging settings and the optional operator listener.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9464"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the capture backend and the frame format.
type AudioConfig struct {
	// Source selects the registered audio source (e.g., "portaudio", "malgo").
	Source string `yaml:"source"`

	// Device selects an input device by case-insensitive name substring.
	// Empty uses the system default.
	Device string `yaml:"device"`

	// SampleRate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of mono samples per frame.
	FrameSize int `yaml:"frame_size"`

	// QueueSeconds is the depth of the push-mode frame queue in seconds of
	// audio. Ignored by pull sources.
	QueueSeconds float64 `yaml:"queue_seconds"`
}

// QueueDuration returns QueueSeconds as a duration.
func (a AudioConfig) QueueDuration() time.Duration { return seconds(a.QueueSeconds) }

// CalibrationConfig tunes the ambient-noise calibration.
type CalibrationConfig struct {
	// Offset shifts raw dBFS onto the calibrated decibel scale. Required and
	// strictly positive; it is specific to the microphone and gain setting.
	Offset float64 `yaml:"offset"`

	// WindowSeconds is the amount of audio consumed before listening starts.
	WindowSeconds float64 `yaml:"window_seconds"`

	// ThresholdMultiplier scales the ambient floor into the speech threshold.
	ThresholdMultiplier float64 `yaml:"threshold_multiplier"`
}

// Window returns WindowSeconds as a duration.
func (c CalibrationConfig) Window() time.Duration { return seconds(c.WindowSeconds) }

// SegmentationConfig controls how long a segment records.
type SegmentationConfig struct {
	// Strategy selects the endpointer.
	Strategy Strategy `yaml:"strategy"`

	// MaxUtteranceSeconds bounds every segment regardless of strategy.
	MaxUtteranceSeconds float64 `yaml:"max_utterance_seconds"`

	// TrailingSilenceSeconds is the quiet run that ends a segment under
	// [StrategyTrailingSilence].
	TrailingSilenceSeconds float64 `yaml:"trailing_silence_seconds"`

	// VAD selects the VAD engine used by [StrategyVAD]. Recognised options:
	// threshold (float), min_silence_ms (int), speech_pad_ms (int).
	VAD ProviderEntry `yaml:"vad"`
}

// MaxUtterance returns MaxUtteranceSeconds as a duration.
func (s SegmentationConfig) MaxUtterance() time.Duration { return seconds(s.MaxUtteranceSeconds) }

// TrailingSilence returns TrailingSilenceSeconds as a duration.
func (s SegmentationConfig) TrailingSilence() time.Duration {
	return seconds(s.TrailingSilenceSeconds)
}

// TranscriberConfig declares the primary transcriber and ordered fallbacks.
// Each entry selects a named factory registered in the [Registry].
type TranscriberConfig struct {
	Primary   ProviderEntry   `yaml:"primary"`
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider. For local
	// backends (whisper-native, silero) it is the model file path.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// MatchingConfig controls wake-phrase confirmation. Hot-reloadable.
type MatchingConfig struct {
	// PhrasesPath is the JSON file holding the enrolled phrases.
	PhrasesPath string `yaml:"phrases_path"`

	// CheckAlternatives also tests the transcriber's ranked alternatives.
	// Nil means true.
	CheckAlternatives *bool `yaml:"check_alternatives"`

	// MaxRank is the deepest alternative rank considered. 0 selects the
	// default; -1 means unlimited.
	MaxRank int `yaml:"max_rank"`
}

// Alternatives reports whether ranked alternatives are checked.
func (m MatchingConfig) Alternatives() bool {
	return m.CheckAlternatives == nil || *m.CheckAlternatives
}

// EnrollmentConfig controls the enrollment workflow.
type EnrollmentConfig struct {
	// SampleCount is the number of accepted samples to collect.
	SampleCount int `yaml:"sample_count"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
