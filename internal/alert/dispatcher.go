// Package alert turns the winning detection of each frame into spoken alert
// messages.
//
// The [Dispatcher] owns the single piece of cross-frame state in the hazard
// pipeline: the time of the last enqueued alert. CRITICAL winners always
// preempt whatever the announcer is doing. WARNING and INFO winners are
// spoken only once the cooldown since the previous alert has elapsed, which
// keeps the user from being flooded with repeats of the same minor hazard at
// frame rate.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/MrWong99/navassist/internal/observe"
	"github.com/MrWong99/navassist/pkg/hazard"
	"github.com/MrWong99/navassist/pkg/types"
)

// DefaultCooldown is the minimum gap between two non-critical alerts.
const DefaultCooldown = 3 * time.Second

// Announcer accepts alert messages for playback. It is satisfied by
// *announcer.Announcer.
type Announcer interface {
	// Enqueue appends msg to the playback queue.
	Enqueue(msg types.AlertMessage) bool

	// Preempt cancels the in-flight render, clears the queue and queues msg.
	Preempt(msg types.AlertMessage) bool
}

// Journal receives every message the dispatcher hands to the announcer.
// Implementations must not block.
type Journal interface {
	Record(ctx context.Context, msg types.AlertMessage, winner types.EnrichedDetection)
}

// Outcome describes what [Dispatcher.Dispatch] did with a winner.
type Outcome string

const (
	// OutcomeNone means there was nothing to announce.
	OutcomeNone Outcome = "none"

	// OutcomeEnqueued means a non-urgent message was queued.
	OutcomeEnqueued Outcome = "enqueued"

	// OutcomePreempted means an urgent message replaced all pending audio.
	OutcomePreempted Outcome = "preempting"

	// OutcomeSuppressed means the winner fell inside the cooldown window.
	OutcomeSuppressed Outcome = "suppressed"

	// OutcomeMuted means audio output is muted.
	OutcomeMuted Outcome = "muted"
)

// Decision is the result of one [Dispatcher.Dispatch] call.
type Decision struct {
	Outcome Outcome

	// Message is set for OutcomeEnqueued and OutcomePreempted.
	Message types.AlertMessage
}

// Queued reports whether the decision handed a message to the announcer.
func (d Decision) Queued() bool {
	return d.Outcome == OutcomeEnqueued || d.Outcome == OutcomePreempted
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithClock replaces the wall clock. Tests use [clock.NewMock].
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithCooldown overrides [DefaultCooldown].
func WithCooldown(c time.Duration) Option {
	return func(d *Dispatcher) { d.cooldown = c }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithJournal records every queued message in j.
func WithJournal(j Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher decides whether and how a frame's winner is announced.
// It is safe for concurrent use.
type Dispatcher struct {
	announcer Announcer
	clock     clock.Clock
	metrics   *observe.Metrics
	journal   Journal
	log       *slog.Logger

	mu        sync.Mutex
	cooldown  time.Duration
	muted     bool
	lastAlert time.Time // zero until the first queued message
	lastText  string
}

// NewDispatcher returns a Dispatcher feeding a.
func NewDispatcher(a Announcer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		announcer: a,
		clock:     clock.New(),
		cooldown:  DefaultCooldown,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.cooldown < 0 {
		d.cooldown = 0
	}
	return d
}

// SetCooldown changes the cooldown for subsequent dispatches. Negative values
// are treated as zero.
func (d *Dispatcher) SetCooldown(c time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = max(c, 0)
}

// Cooldown returns the active cooldown.
func (d *Dispatcher) Cooldown() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldown
}

// SetMuted enables or disables audio decisions. While muted no message is
// queued and the cooldown clock is left untouched.
func (d *Dispatcher) SetMuted(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = muted
}

// Muted reports whether the dispatcher is muted.
func (d *Dispatcher) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// LastAlert returns the time and text of the most recently queued message.
// The time is zero if nothing has been queued yet.
func (d *Dispatcher) LastAlert() (time.Time, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAlert, d.lastText
}

// Dispatch announces winner according to its level. A SAFE or zero winner
// means the frame had nothing to report and yields [OutcomeNone].
func (d *Dispatcher) Dispatch(ctx context.Context, winner types.EnrichedDetection) Decision {
	if winner.Level <= types.RiskSafe {
		return Decision{Outcome: OutcomeNone}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.muted {
		d.metrics.RecordAlert(ctx, winner.Level, observe.OutcomeMuted)
		return Decision{Outcome: OutcomeMuted}
	}

	now := d.clock.Now()
	urgent := winner.Level == types.RiskCritical
	if !urgent && !d.lastAlert.IsZero() && now.Sub(d.lastAlert) <= d.cooldown {
		d.metrics.RecordAlert(ctx, winner.Level, observe.OutcomeSuppressed)
		return Decision{Outcome: OutcomeSuppressed}
	}

	msg := types.AlertMessage{
		ID:        uuid.NewString(),
		Text:      hazard.PhraseFor(winner),
		Urgent:    urgent,
		Level:     winner.Level,
		CreatedAt: now,
	}

	var (
		queued  bool
		outcome = OutcomeEnqueued
	)
	if urgent {
		outcome = OutcomePreempted
		queued = d.announcer.Preempt(msg)
	} else {
		queued = d.announcer.Enqueue(msg)
	}
	if !queued {
		d.log.Warn("alert: announcer closed, dropping message", "id", msg.ID, "level", msg.Level)
		return Decision{Outcome: OutcomeNone}
	}

	d.lastAlert = now
	d.lastText = msg.Text
	d.metrics.RecordAlert(ctx, winner.Level, string(outcome))
	if d.journal != nil {
		d.journal.Record(ctx, msg, winner)
	}
	observe.WithTrace(ctx, d.log).Debug("alert: dispatched",
		"id", msg.ID,
		"level", msg.Level,
		"outcome", outcome,
		"text", msg.Text,
	)
	return Decision{Outcome: outcome, Message: msg}
}
