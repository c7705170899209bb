package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CooldownChanged bool

	ThresholdChanged bool

	// CatalogChanged is true if any input of the hazard assessor changed:
	// focal length, default group or height, class groups, object heights.
	CatalogChanged bool

	MutedChanged bool

	// RestartRequired names the config sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// HotReloadable reports whether the diff contains any change that can be
// applied without restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.CooldownChanged || d.ThresholdChanged || d.CatalogChanged || d.MutedChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oe, ne := old.Engine, new.Engine
	d.CooldownChanged = oe.Cooldown != ne.Cooldown
	d.ThresholdChanged = oe.ConfidenceThreshold != ne.ConfidenceThreshold
	d.CatalogChanged = oe.FocalLengthPx != ne.FocalLengthPx ||
		oe.DefaultGroup != ne.DefaultGroup ||
		oe.DefaultHeightM != ne.DefaultHeightM ||
		!maps.Equal(oe.ClassGroups, ne.ClassGroups) ||
		!maps.Equal(oe.ObjectHeights, ne.ObjectHeights)
	d.MutedChanged = old.Audio.Muted != new.Audio.Muted

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server.trace_sample_ratio")
	}
	oa, na := old.Audio, new.Audio
	if oa.ToneDuration != na.ToneDuration || oa.ToneFile != na.ToneFile {
		d.RestartRequired = append(d.RestartRequired, "audio.tone")
	}
	if oa.WordsPerMinute != na.WordsPerMinute || oa.OutputWAV != na.OutputWAV {
		d.RestartRequired = append(d.RestartRequired, "audio.output")
	}
	if !reflect.DeepEqual(oa.TTS, na.TTS) {
		d.RestartRequired = append(d.RestartRequired, "audio.tts")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}

	return d
}
