// Package resilience keeps a failing speech backend from delaying alerts.
//
// A [Breaker] stops calling a backend after repeated failures, so a dead TTS
// server costs one fast rejection per alert instead of a full request
// timeout. [TTSFailover] puts one breaker in front of each configured
// backend and renders with the first one that accepts.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrOpen is returned while a breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// Breaker defaults.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// State is a breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota
	// Open rejects every call until the cooldown has passed.
	Open
	// HalfOpen admits a single probe call. Its outcome closes or re-opens
	// the breaker.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the package defaults.
type BreakerConfig struct {
	Name string

	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	Clock clock.Clock

	// OnStateChange observes every transition. It runs with the breaker
	// locked and must not call back into it.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Breaker{cfg: cfg}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Allow admits one call or returns [ErrOpen]. An admitted call must hand its
// outcome to the returned report func exactly once.
func (b *Breaker) Allow() (report func(error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.cfg.Clock.Since(b.openedAt) >= b.cfg.Cooldown {
		b.transition(HalfOpen)
	}
	switch b.state {
	case Open:
		return nil, ErrOpen
	case HalfOpen:
		if b.probing {
			return nil, ErrOpen
		}
		b.probing = true
		return b.reporter(true), nil
	}
	return b.reporter(false), nil
}

// Do runs fn under the breaker.
func (b *Breaker) Do(fn func() error) error {
	report, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn()
	report(err)
	return err
}

// State returns the current mode. An open breaker whose cooldown has passed
// reports HalfOpen even before the next call moves it there.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cfg.Clock.Since(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) reporter(probe bool) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() { b.record(probe, err) })
	}
}

// record applies one outcome. A caller cancelling its own request says
// nothing about the backend and is ignored, except that it frees the probe
// slot.
func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err == nil:
		b.failures = 0
		if probe && b.state == HalfOpen {
			b.transition(Closed)
		}
		return
	}

	b.failures++
	if (probe && b.state == HalfOpen) || (b.state == Closed && b.failures >= b.cfg.FailureThreshold) {
		b.openedAt = b.cfg.Clock.Now()
		b.transition(Open)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	level := slog.LevelInfo
	if to == Open {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"name", b.cfg.Name, "from", from, "to", to, "failures", b.failures)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
