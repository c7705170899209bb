package health

import (
	"context"
	"errors"
)

var (
	// ErrNotRunning is returned by [AnnouncerRunning] once the audio worker
	// has exited.
	ErrNotRunning = errors.New("worker not running")

	// ErrBackendsDown is returned by [Breaker] when every backend's circuit
	// is open.
	ErrBackendsDown = errors.New("all backends unavailable")
)

// Runner reports whether a background worker is alive.
type Runner interface {
	Running() bool
}

// Pinger checks connectivity to a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes the health of a circuit-breaker protected backend.
type BreakerReporter interface {
	Healthy() bool
}

// AnnouncerRunning fails when the audio delivery worker has stopped.
func AnnouncerRunning(r Runner) Checker {
	return Checker{
		Name: "announcer",
		Check: func(context.Context) error {
			if !r.Running() {
				return ErrNotRunning
			}
			return nil
		},
	}
}

// Ping wraps a [Pinger] as a named checker.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Optional marks c as non-essential: its failure degrades readiness instead
// of failing it.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}

// Breaker fails when no backend behind b can currently serve requests.
func Breaker(name string, b BreakerReporter) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if b.Healthy() {
				return nil
			}
			return ErrBackendsDown
		},
	}
}
