package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/navassist/pkg/hazard"
)

// ValidTTSNames lists the speech backends known to the CLI.
var ValidTTSNames = []string{"openai", "coqui"}

// suggestThreshold is the minimum Jaro-Winkler similarity for a "did you
// mean" hint.
const suggestThreshold = 0.85

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Suspicious but legal values are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f must be in [0, 1]", r))
	}

	// Engine
	eng := cfg.Engine
	if eng.FocalLengthPx <= 0 {
		errs = append(errs, fmt.Errorf("engine.focal_length_px %.1f must be positive", eng.FocalLengthPx))
	}
	if eng.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("engine.cooldown %s must not be negative", eng.Cooldown))
	}
	if eng.ConfidenceThreshold < 0 || eng.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.confidence_threshold %.2f is out of range [0, 1]", eng.ConfidenceThreshold))
	}
	if eng.DefaultHeightM <= 0 {
		errs = append(errs, fmt.Errorf("engine.default_height_m %.2f must be positive", eng.DefaultHeightM))
	}
	if _, err := hazard.ParseGroup(eng.DefaultGroup); err != nil {
		errs = append(errs, fmt.Errorf("engine.default_group: %w", err))
	}
	for _, class := range sortedKeys(eng.ClassGroups) {
		if _, err := hazard.ParseGroup(eng.ClassGroups[class]); err != nil {
			errs = append(errs, fmt.Errorf("engine.class_groups[%q]: %w", class, err))
		}
	}
	for _, class := range sortedKeys(eng.ObjectHeights) {
		if h := eng.ObjectHeights[class]; h <= 0 {
			errs = append(errs, fmt.Errorf("engine.object_heights[%q] %.2f must be positive", class, h))
		}
	}
	if len(errs) == 0 {
		warnUnmappedHeights(eng)
	}

	// Audio
	if cfg.Audio.ToneDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.tone_duration %s must not be negative", cfg.Audio.ToneDuration))
	}
	if cfg.Audio.WordsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("audio.words_per_minute %d must not be negative", cfg.Audio.WordsPerMinute))
	}
	errs = append(errs, validateProvider("audio.tts", cfg.Audio.TTS.ProviderEntry)...)
	if fb := cfg.Audio.TTS.Fallback; fb != nil {
		if cfg.Audio.TTS.Name == "" {
			errs = append(errs, errors.New("audio.tts.fallback requires audio.tts.name"))
		}
		if fb.Name == "" {
			errs = append(errs, errors.New("audio.tts.fallback.name is required"))
		}
		errs = append(errs, validateProvider("audio.tts.fallback", *fb)...)
	}

	// Journal
	if cfg.Journal.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("journal.buffer_size %d must not be negative", cfg.Journal.BufferSize))
	}

	return errors.Join(errs...)
}

// validateProvider checks a single TTS provider block. An empty name is
// valid and selects the console speaker.
func validateProvider(prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name != "" && !slices.Contains(ValidTTSNames, e.Name) {
		msg := fmt.Sprintf("%s.name %q is unknown; valid values: %v", prefix, e.Name, ValidTTSNames)
		if s := Suggest(e.Name, ValidTTSNames); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		errs = append(errs, errors.New(msg))
	}
	if e.SpeedFactor != 0 && (e.SpeedFactor < 0.5 || e.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("%s.speed_factor %.2f is out of range [0.5, 2.0]", prefix, e.SpeedFactor))
	}
	return errs
}

// warnUnmappedHeights logs height entries whose class has no group mapping.
// Such classes fall back to the default group, which usually means a typo.
func warnUnmappedHeights(eng EngineConfig) {
	cat, err := eng.Catalog()
	if err != nil {
		return
	}
	known := cat.Classes()
	for _, class := range sortedKeys(eng.ObjectHeights) {
		if cat.Mapped(class) {
			continue
		}
		attrs := []any{"class", class, "default_group", eng.DefaultGroup}
		if s := Suggest(class, known); s != "" {
			attrs = append(attrs, "did_you_mean", s)
		}
		slog.Warn("config: engine.object_heights entry has no group mapping", attrs...)
	}
}

// Suggest returns the candidate most similar to name by Jaro-Winkler
// distance, or "" if none is similar enough.
func Suggest(name string, candidates []string) string {
	best, bestScore := "", suggestThreshold
	for _, c := range candidates {
		if c == name {
			continue
		}
		if s := matchr.JaroWinkler(name, c, false); s >= bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
