// Package app wires all NavAssist subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the frame loop and the HTTP server, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSpeaker,
// WithJournalDB, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/navassist/internal/alert"
	"github.com/MrWong99/navassist/internal/config"
	"github.com/MrWong99/navassist/internal/engine"
	"github.com/MrWong99/navassist/internal/feed"
	"github.com/MrWong99/navassist/internal/health"
	"github.com/MrWong99/navassist/internal/journal"
	"github.com/MrWong99/navassist/internal/observe"
	"github.com/MrWong99/navassist/internal/statusfeed"
	"github.com/MrWong99/navassist/pkg/audio"
	"github.com/MrWong99/navassist/pkg/audio/announcer"
	"github.com/MrWong99/navassist/pkg/provider/tts"
)

// shutdownGrace bounds how long the HTTP server may take to drain.
const shutdownGrace = 5 * time.Second

// Providers holds the external backends built by main.go from the config
// registry. A nil TTS selects the console speaker.
type Providers struct {
	TTS tts.Provider

	// TTSHealth reports the TTS circuit breakers, if any.
	TTSHealth health.BreakerReporter
}

// App owns all subsystem lifetimes and orchestrates the hazard pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	clock    clock.Clock
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	console  io.Writer

	// Subsystems, initialised in New and torn down in Shutdown.
	speaker   audio.Speaker
	tone      audio.TonePlayer
	announcer *announcer.Announcer
	engine    *engine.Engine
	hub       *statusfeed.Hub
	journalDB journal.DB
	store     *journal.Store
	writer    *journal.Writer
	mux       *http.ServeMux
	listener  net.Listener
	watcher   *config.Watcher

	configPath string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSpeaker injects a speaker instead of building one from the TTS config.
func WithSpeaker(s audio.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithTone injects the alert tone player.
func WithTone(t audio.TonePlayer) Option {
	return func(a *App) { a.tone = t }
}

// WithJournalDB injects the journal database instead of connecting to
// journal.postgres_dsn.
func WithJournalDB(db journal.DB) Option {
	return func(a *App) { a.journalDB = db }
}

// WithClock replaces the wall clock used by the engine and console speaker.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reload adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConsole sets where the console speaker prints. Defaults to os.Stdout.
func WithConsole(w io.Writer) Option {
	return func(a *App) { a.console = w }
}

// WithListener serves HTTP on l instead of binding server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithConfigFile hot-reloads path while Run is active. Changes are applied
// through [App.ApplyConfig].
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. New performs all
// initialisation synchronously: audio output, announcer, journal connection,
// engine and HTTP routes. Any error is a fatal startup failure.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		clock:     clock.New(),
		console:   os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio output ──────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.releaseAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. Announcer ─────────────────────────────────────────────────────
	a.announcer = announcer.New(a.speaker, a.tone, announcer.WithObserver(a.metrics))

	// ── 3. Alert journal ─────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		a.announcer.Close()
		a.releaseAll()
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 4. Engine + status feed ──────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		a.announcer.Close()
		a.releaseAll()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 5. HTTP routes ───────────────────────────────────────────────────
	a.initHTTP()

	// ── 6. Config hot reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig, config.WithWatchClock(a.clock))
		if err != nil {
			_ = a.engine.Shutdown(ctx)
			a.releaseAll()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// releaseAll runs the closers collected so far, newest first. New calls it
// when a later step fails so files and pools opened earlier are not leaked.
func (a *App) releaseAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("release after failed startup", "err", err)
		}
	}
	a.closers = nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAudio builds the speaker and tone player unless both were injected.
func (a *App) initAudio() error {
	if a.speaker != nil && a.tone != nil {
		return nil
	}
	ac := a.cfg.Audio

	var sinkOpts []audio.SinkOption
	if ac.OutputWAV != "" {
		rec, err := audio.NewWAVRecorder(ac.OutputWAV, audio.DefaultFormat)
		if err != nil {
			return err
		}
		sinkOpts = append(sinkOpts, audio.WithRecorder(rec))
		a.closers = append(a.closers, rec.Close)
	}
	sink := audio.NewPacedSink(audio.DefaultFormat, sinkOpts...)

	if a.tone == nil {
		var clip audio.AudioFrame
		if ac.ToneFile != "" {
			f, err := audio.LoadWAV(ac.ToneFile)
			if err != nil {
				return fmt.Errorf("load tone file: %w", err)
			}
			clip = f
		}
		a.tone = audio.NewSinkTone(sink, clip, ac.ToneDuration)
	}

	if a.speaker == nil {
		if a.providers.TTS != nil {
			voice := tts.VoiceProfile{ID: ac.TTS.Voice, SpeedFactor: ac.TTS.SpeedFactor}
			a.speaker = audio.NewSynthSpeaker(a.providers.TTS, voice, sink)
			slog.Info("speech output", "backend", ac.TTS.Name, "voice", ac.TTS.Voice)
		} else {
			a.speaker = audio.NewConsoleSpeaker(a.console, ac.WordsPerMinute, a.clock)
			slog.Info("speech output", "backend", "console", "wpm", ac.WordsPerMinute)
		}
	}
	return nil
}

// initJournal connects the alert journal when configured or injected.
func (a *App) initJournal(ctx context.Context) error {
	switch {
	case a.journalDB != nil:
		a.store = journal.NewStore(a.journalDB)
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
	case a.cfg.Journal.PostgresDSN != "":
		store, pool, err := journal.Open(ctx, a.cfg.Journal.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	default:
		return nil
	}
	a.writer = journal.NewWriter(a.store, a.cfg.Journal.BufferSize, slog.Default())
	slog.Info("alert journal enabled")
	return nil
}

// initEngine builds the engine, its dispatcher and the status hub.
func (a *App) initEngine() error {
	assessor, err := a.cfg.Engine.Assessor()
	if err != nil {
		return err
	}

	var hubOpts []statusfeed.Option
	if a.store != nil {
		hubOpts = append(hubOpts, statusfeed.WithAlerts(a.store))
	}
	// The hub reads status through the engine, which does not exist yet.
	src := &engineSource{}
	a.hub = statusfeed.New(src, hubOpts...)

	dispatchOpts := []alert.Option{alert.WithCooldown(a.cfg.Engine.Cooldown)}
	if a.writer != nil {
		dispatchOpts = append(dispatchOpts, alert.WithJournal(a.writer))
	}
	a.engine = engine.New(a.announcer,
		engine.WithAssessor(assessor),
		engine.WithConfidenceThreshold(a.cfg.Engine.ConfidenceThreshold),
		engine.WithClock(a.clock),
		engine.WithMetrics(a.metrics),
		engine.WithDispatcherOptions(dispatchOpts...),
		engine.WithStatusListener(a.hub.Publish),
	)
	src.eng = a.engine
	if a.cfg.Audio.Muted {
		a.engine.SetMuted(true)
	}
	return nil
}

// initHTTP registers the status feed, health probes and metrics on one mux.
func (a *App) initHTTP() {
	checkers := []health.Checker{health.AnnouncerRunning(a.announcer)}
	if a.store != nil {
		checkers = append(checkers, health.Optional(health.Ping("journal", a.store)))
	}
	if a.providers.TTSHealth != nil {
		checkers = append(checkers, health.Breaker("tts", a.providers.TTSHealth))
	}

	a.mux = http.NewServeMux()
	health.New(checkers...).Register(a.mux)
	a.hub.Register(a.mux)
	a.mux.Handle("GET /metrics", promhttp.Handler())
}

type engineSource struct{ eng *engine.Engine }

func (s *engineSource) Status() engine.Status { return s.eng.Status() }

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the hazard engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Hub returns the status feed hub.
func (a *App) Hub() *statusfeed.Hub { return a.hub }

// ReloadConfig asks the config watcher to re-read its file now. It does
// nothing without [WithConfigFile].
func (a *App) ReloadConfig() {
	if a.watcher != nil {
		a.watcher.Trigger()
	}
}

// Handler returns the HTTP handler serving the feed, probes and metrics.
func (a *App) Handler() http.Handler { return observe.Middleware(a.metrics)(a.mux) }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. It has the
// signature of [config.ChangeFunc]. Sections needing a restart are only
// logged; the startup config stays in effect for them.
func (a *App) ApplyConfig(_, newCfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
	}
	if diff.CooldownChanged {
		a.engine.Dispatcher().SetCooldown(newCfg.Engine.Cooldown)
	}
	if diff.ThresholdChanged {
		a.engine.SetConfidenceThreshold(newCfg.Engine.ConfidenceThreshold)
	}
	if diff.CatalogChanged {
		assessor, err := newCfg.Engine.Assessor()
		if err != nil {
			slog.Error("app: rebuild assessor", "err", err)
		} else {
			a.engine.SetAssessor(assessor)
		}
	}
	if diff.MutedChanged {
		a.engine.SetMuted(newCfg.Audio.Muted)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog counterpart.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run processes frames from r and serves HTTP until ctx is cancelled or the
// frame stream ends. A nil r serves HTTP only. Run returns nil when the
// stream is exhausted and ctx.Err() when cancelled.
func (a *App) Run(ctx context.Context, r *feed.Reader) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if a.writer != nil {
		g.Go(func() error { return a.writer.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if err := a.serveHTTP(gctx, g); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	if r != nil {
		g.Go(func() error {
			// End of input stops the HTTP server and the journal writer too.
			defer cancel()
			return a.frameLoop(gctx, r)
		})
	}

	slog.Info("navassist running", "listen_addr", a.cfg.Server.ListenAddr, "input", r != nil)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// serveHTTP binds the listener and starts the server in g. It does nothing
// when no address is configured and no listener was injected.
func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group) error {
	ln := a.listener
	if ln == nil {
		if a.cfg.Server.ListenAddr == "" {
			return nil
		}
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return nil
}

// frameLoop feeds every frame of r to the engine. Malformed lines are logged
// and skipped. Reads happen on a separate goroutine so cancellation ends the
// loop even while the source is idle; the source is closed at that point to
// release the reader.
func (a *App) frameLoop(ctx context.Context, r *feed.Reader) error {
	var frames, skipped int
	defer func() {
		slog.Info("frame stream finished", "frames", frames, "skipped", skipped)
	}()

	stop := context.AfterFunc(ctx, func() {
		if err := r.Close(); err != nil {
			slog.Debug("close frame source", "err", err)
		}
	})
	defer stop()

	type result struct {
		frame feed.Frame
		err   error
	}
	next := make(chan result)
	go func() {
		defer close(next)
		for {
			f, err := r.Next()
			select {
			case next <- result{f, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !isLineError(err) {
				return
			}
		}
	}()

	for {
		var in result
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-next:
			if !ok {
				return nil
			}
			in = v
		}

		var le *feed.LineError
		switch err := in.err; {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &le):
			skipped++
			slog.Warn("skipping frame", "line", le.Line, "err", le.Err)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		frames++
		f := in.frame
		res, ok := a.engine.ProcessFrame(ctx, f.Detections, f.Width)
		if ok {
			slog.Debug("frame winner",
				"seq", f.Seq,
				"class", res.Winner.ClassName,
				"level", res.Level,
				"outcome", res.Decision.Outcome,
			)
		}
	}
}

func isLineError(err error) bool {
	var le *feed.LineError
	return errors.As(err, &le)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. The engine stops first so the
// announcer worker is joined before outputs are closed. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.engine.Shutdown(ctx); err != nil {
			shutdownErr = err
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
				return
			}
			slog.Warn("engine shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.writer != nil && a.writer.Dropped() > 0 {
			slog.Warn("journal entries dropped", "count", a.writer.Dropped())
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
