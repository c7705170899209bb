// Command navassist is the main entry point for the NavAssist hazard alert
// engine. It reads detector frames as JSON lines, speaks the most severe
// hazard of each frame and serves a live status feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/navassist/internal/app"
	"github.com/MrWong99/navassist/internal/config"
	"github.com/MrWong99/navassist/internal/feed"
	"github.com/MrWong99/navassist/internal/observe"
	"github.com/MrWong99/navassist/internal/resilience"
	"github.com/MrWong99/navassist/pkg/provider/tts"
	"github.com/MrWong99/navassist/pkg/provider/tts/coqui"
	oaitts "github.com/MrWong99/navassist/pkg/provider/tts/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", `detector frames as JSON lines; "-" reads stdin, "" serves the status feed only`)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "navassist: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "navassist: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("navassist starting",
		"version", version,
		"config", *configPath,
		"input", *inputPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if err := reg.CheckTTS(cfg.Audio.TTS); err != nil {
		slog.Error("invalid tts configuration", "err", err)
		return 1
	}

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	var reader *feed.Reader
	switch *inputPath {
	case "":
	case "-":
		reader = feed.NewReader(os.Stdin)
	default:
		f, err := os.Open(*inputPath)
		if err != nil {
			slog.Error("failed to open input", "path", *inputPath, "err", err)
			return 1
		}
		defer f.Close()
		reader = feed.NewReader(f)
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithLogLevel(level),
		app.WithConfigFile(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// SIGHUP forces an immediate config reload.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			application.ReloadConfig()
		}
	}()

	runErr := application.Run(ctx, reader)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in TTS factories into reg. Each
// factory receives a config.ProviderEntry and constructs the provider from
// the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaitts.WithTimeout(d))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "mode"); mode != "" {
			opts = append(opts, coqui.WithMode(coqui.Mode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for _, name := range reg.TTSNames() {
		slog.Debug("registered provider", "kind", "tts", "name", name)
	}
}

// buildProviders instantiates the TTS backend named in cfg. Every backend
// sits behind its own circuit breaker; a configured fallback is tried when
// the primary fails or its breaker is open.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	entry := cfg.Audio.TTS
	if entry.Name == "" {
		return ps, nil
	}

	primary, err := reg.CreateTTS(entry.ProviderEntry)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "tts", "name", entry.Name)
	backends := []resilience.Backend{{Name: entry.Name, Provider: primary}}

	if entry.Fallback != nil {
		fallback, err := reg.CreateTTS(*entry.Fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Fallback.Name, "role", "fallback")
		// The fallback keeps its own voice: the primary's voice IDs mean nothing to it.
		backends = append(backends, resilience.Backend{
			Name: entry.Fallback.Name,
			Provider: tts.WithVoice(fallback, tts.VoiceProfile{
				ID:          entry.Fallback.Voice,
				SpeedFactor: entry.Fallback.SpeedFactor,
			}),
		})
	}

	metrics := observe.DefaultMetrics()
	failover, err := resilience.NewTTSFailover(resilience.BreakerConfig{
		FailureThreshold: resilience.DefaultFailureThreshold,
		Cooldown:         resilience.DefaultCooldown,
		OnStateChange: func(name string, _, to resilience.State) {
			metrics.RecordBreakerTransition(name, to.String())
		},
	}, backends...)
	if err != nil {
		return nil, fmt.Errorf("build tts failover: %w", err)
	}

	ps.TTS = failover
	ps.TTSHealth = failover
	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optDuration parses a duration string such as "10s" from Options. Invalid
// or missing values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
