package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatchingChanged is true when check_alternatives or max_rank changed.
	MatchingChanged bool

	// PhrasesPathChanged is true when the phrase file moved; the enrolled
	// set must be reloaded from the new path.
	PhrasesPathChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart (e.g., "audio", "transcriber").
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MatchingChanged || d.PhrasesPathChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matching.Alternatives() != new.Matching.Alternatives() ||
		old.Matching.MaxRank != new.Matching.MaxRank {
		d.MatchingChanged = true
	}
	if old.Matching.PhrasesPath != new.Matching.PhrasesPath {
		d.PhrasesPathChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Calibration != new.Calibration {
		d.RestartRequired = append(d.RestartRequired, "calibration")
	}
	if !reflect.DeepEqual(old.Segmentation, new.Segmentation) {
		d.RestartRequired = append(d.RestartRequired, "segmentation")
	}
	if !reflect.DeepEqual(old.Transcriber, new.Transcriber) {
		d.RestartRequired = append(d.RestartRequired, "transcriber")
	}
	if old.Enrollment != new.Enrollment {
		d.RestartRequired = append(d.RestartRequired, "enrollment")
	}

	return d
}
