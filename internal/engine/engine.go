// Package engine wires the hazard pipeline for a stream of frames.
//
// For every frame the [Engine] drops low-confidence detections, enriches the
// rest with distance, direction and risk level, picks the single most severe
// object and hands it to the alert dispatcher. ProcessFrame never waits for
// audio: rendering happens on the announcer's own goroutine.
//
// The engine also keeps the presentation state the status feed reports:
// frame rate, object count, current level and the last spoken alert.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/navassist/internal/alert"
	"github.com/MrWong99/navassist/internal/observe"
	"github.com/MrWong99/navassist/pkg/hazard"
	"github.com/MrWong99/navassist/pkg/types"
)

// DefaultConfidenceThreshold is the minimum detector score considered.
const DefaultConfidenceThreshold = 0.4

// NoHazardsText is the status text shown when the last frame was safe.
const NoHazardsText = "No hazards detected"

// Engine states reported by [Status].
const (
	StateRunning = "RUNNING"
	StatePaused  = "PAUSED"
	StateStopped = "STOPPED"
)

// Announcer is the audio side of the pipeline. It is satisfied by
// *announcer.Announcer.
type Announcer interface {
	alert.Announcer

	// Close stops playback and waits for the worker to exit.
	Close() error
}

// Result describes one processed frame.
type Result struct {
	// Winner is the most severe detection of the frame.
	Winner types.EnrichedDetection

	// Level is the winner's risk level.
	Level types.RiskLevel

	// Detections holds every detection that passed the confidence filter,
	// in detector order.
	Detections []types.EnrichedDetection

	// Decision is what the dispatcher did with the winner.
	Decision alert.Decision
}

// Status is a point-in-time snapshot of the engine for presentation.
type Status struct {
	State     string          `json:"state"`
	Muted     bool            `json:"muted"`
	FPS       float64         `json:"fps"`
	Objects   int             `json:"objects"`
	Level     types.RiskLevel `json:"level"`
	Action    string          `json:"action,omitempty"`
	Message   string          `json:"message"`
	LastAlert string          `json:"last_alert,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithAssessor replaces the default assessor built from the built-in catalog.
func WithAssessor(a *hazard.Assessor) Option {
	return func(e *Engine) { e.assessor = a }
}

// WithConfidenceThreshold overrides [DefaultConfidenceThreshold].
func WithConfidenceThreshold(th float64) Option {
	return func(e *Engine) { e.threshold = th }
}

// WithClock replaces the wall clock for both the engine and its dispatcher.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithDispatcherOptions passes extra options to the internal dispatcher.
func WithDispatcherOptions(opts ...alert.Option) Option {
	return func(e *Engine) { e.dispatchOpts = append(e.dispatchOpts, opts...) }
}

// WithStatusListener registers fn to receive a [Status] after every frame and
// every state change. fn is called synchronously and must not block.
func WithStatusListener(fn func(Status)) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, fn) }
}

// Engine runs the per-frame hazard pipeline. It is safe for concurrent use,
// although frames are expected to arrive from a single loop.
type Engine struct {
	announcer    Announcer
	dispatcher   *alert.Dispatcher
	clock        clock.Clock
	metrics      *observe.Metrics
	log          *slog.Logger
	dispatchOpts []alert.Option
	listeners    []func(Status)

	mu        sync.Mutex
	assessor  *hazard.Assessor
	threshold float64
	paused    bool
	stopped   bool
	frames    []time.Time // frame timestamps within the last second
	objects   int
	level     types.RiskLevel
	action    string
	message   string
	updatedAt time.Time

	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns an Engine feeding ann.
func New(ann Announcer, opts ...Option) *Engine {
	e := &Engine{
		announcer: ann,
		clock:     clock.New(),
		log:       slog.Default(),
		threshold: DefaultConfidenceThreshold,
		level:     types.RiskSafe,
		message:   NoHazardsText,
	}
	for _, o := range opts {
		o(e)
	}
	if e.assessor == nil {
		e.assessor = hazard.NewAssessor(nil, 0)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	dopts := append([]alert.Option{
		alert.WithClock(e.clock),
		alert.WithMetrics(e.metrics),
		alert.WithLogger(e.log),
	}, e.dispatchOpts...)
	e.dispatcher = alert.NewDispatcher(ann, dopts...)
	return e
}

// Dispatcher returns the engine's alert dispatcher.
func (e *Engine) Dispatcher() *alert.Dispatcher { return e.dispatcher }

// ProcessFrame classifies one frame's detections and dispatches its winner.
// ok is false when the frame produced no winner or the engine is paused or
// shut down.
func (e *Engine) ProcessFrame(ctx context.Context, dets []types.Detection, frameWidth float64) (Result, bool) {
	start := e.clock.Now()

	e.mu.Lock()
	if e.paused || e.stopped {
		e.mu.Unlock()
		return Result{}, false
	}
	assessor, threshold := e.assessor, e.threshold
	e.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "engine.ProcessFrame")
	defer span.End()

	kept := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	enriched := assessor.AssessFrame(kept, frameWidth)
	for _, d := range enriched {
		e.metrics.RecordDetection(ctx, d.Group)
	}

	res := Result{Level: types.RiskSafe, Detections: enriched}
	winner, ok := hazard.Prioritize(enriched)
	if ok {
		res.Winner = winner
		res.Level = winner.Level
		res.Decision = e.dispatcher.Dispatch(ctx, winner)
	}

	span.SetAttributes(
		attribute.Int("detections", len(dets)),
		attribute.Int("objects", len(enriched)),
		attribute.String("level", res.Level.String()),
	)
	e.metrics.RecordFrame(ctx, res.Level, e.clock.Since(start))

	e.mu.Lock()
	now := e.clock.Now()
	e.recordFrameLocked(now)
	e.objects = len(enriched)
	e.level = res.Level
	if ok {
		e.action = hazard.GroupAction(winner.Group)
		e.message = hazard.PhraseFor(winner)
	} else {
		e.action = ""
		e.message = NoHazardsText
	}
	e.updatedAt = now
	st := e.statusLocked()
	e.mu.Unlock()

	e.notify(st)
	return res, ok
}

// Pause makes ProcessFrame ignore frames until [Engine.Resume].
func (e *Engine) Pause() {
	e.setPaused(true)
}

// Resume undoes [Engine.Pause].
func (e *Engine) Resume() {
	e.setPaused(false)
}

func (e *Engine) setPaused(p bool) {
	e.mu.Lock()
	if e.paused == p {
		e.mu.Unlock()
		return
	}
	e.paused = p
	e.frames = e.frames[:0]
	st := e.statusLocked()
	e.mu.Unlock()

	e.log.Info("engine: state changed", "state", st.State)
	e.notify(st)
}

// SetMuted toggles audio output. Frames are still classified and reported
// while muted.
func (e *Engine) SetMuted(muted bool) {
	e.dispatcher.SetMuted(muted)
	e.mu.Lock()
	st := e.statusLocked()
	e.mu.Unlock()
	e.log.Info("engine: audio muted", "muted", muted)
	e.notify(st)
}

// SetAssessor swaps the assessor used for subsequent frames.
func (e *Engine) SetAssessor(a *hazard.Assessor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assessor = a
}

// SetConfidenceThreshold changes the detector score cutoff.
func (e *Engine) SetConfidenceThreshold(th float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = th
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// Shutdown stops frame processing and closes the announcer, waiting for its
// worker to exit or ctx to expire. Subsequent calls return the first result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- e.announcer.Close() }()
		select {
		case err := <-done:
			e.shutdownErr = err
		case <-ctx.Done():
			e.shutdownErr = ctx.Err()
		}
		e.log.Info("engine: shut down", "err", e.shutdownErr)
	})
	return e.shutdownErr
}

// recordFrameLocked appends now and drops timestamps older than one second.
func (e *Engine) recordFrameLocked(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(e.frames) && !e.frames[i].After(cutoff) {
		i++
	}
	e.frames = append(e.frames[:0], e.frames[i:]...)
	e.frames = append(e.frames, now)
}

func (e *Engine) statusLocked() Status {
	state := StateRunning
	switch {
	case e.stopped:
		state = StateStopped
	case e.paused:
		state = StatePaused
	}
	_, last := e.dispatcher.LastAlert()
	return Status{
		State:     state,
		Muted:     e.dispatcher.Muted(),
		FPS:       float64(len(e.frames)),
		Objects:   e.objects,
		Level:     e.level,
		Action:    e.action,
		Message:   e.message,
		LastAlert: last,
		UpdatedAt: e.updatedAt,
	}
}

func (e *Engine) notify(st Status) {
	for _, fn := range e.listeners {
		fn(st)
	}
}
