package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
)

var errBackend = errors.New("backend down")

type transition struct{ from, to State }

// newTestBreaker returns a breaker with threshold 2 and a 10s cooldown on a
// mock clock, plus the recorded transitions.
func newTestBreaker(t *testing.T) (*Breaker, *clock.Mock, func() []transition) {
	t.Helper()
	mock := clock.NewMock()
	var (
		mu   sync.Mutex
		seen []transition
	)
	b := NewBreaker(BreakerConfig{
		Name:             "coqui",
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
		Clock:            mock,
		OnStateChange: func(name string, from, to State) {
			if name != "coqui" {
				t.Errorf("OnStateChange name = %q", name)
			}
			mu.Lock()
			seen = append(seen, transition{from, to})
			mu.Unlock()
		},
	})
	return b, mock, func() []transition {
		mu.Lock()
		defer mu.Unlock()
		return append([]transition(nil), seen...)
	}
}

func fail() error { return errBackend }
func ok() error   { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.cfg.FailureThreshold != DefaultFailureThreshold || b.cfg.Cooldown != DefaultCooldown || b.cfg.Clock == nil {
		t.Errorf("defaults not applied: %+v", b.cfg)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b, _, transitions := newTestBreaker(t)

	_ = b.Do(fail)
	if b.State() != Closed {
		t.Fatalf("state after 1 failure = %v, want closed", b.State())
	}
	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatalf("state after 2 failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("Do on open breaker = %v (called %v), want ErrOpen without a call", err, called)
	}
	if diff := cmp.Diff([]transition{{Closed, Open}}, transitions(), cmp.AllowUnexported(transition{})); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBreaker(t)

	for range 5 {
		_ = b.Do(fail)
		_ = b.Do(ok)
	}
	if b.State() != Closed {
		t.Errorf("alternating outcomes opened the breaker")
	}
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()
	b, _, _ := newTestBreaker(t)

	for range 5 {
		_ = b.Do(func() error { return context.Canceled })
	}
	if b.State() != Closed {
		t.Errorf("cancelled calls opened the breaker")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probe     error
		wantState State
		wantTrans []transition
	}{
		{
			name:      "success closes",
			probe:     nil,
			wantState: Closed,
			wantTrans: []transition{{Closed, Open}, {Open, HalfOpen}, {HalfOpen, Closed}},
		},
		{
			name:      "failure re-opens",
			probe:     errBackend,
			wantState: Open,
			wantTrans: []transition{{Closed, Open}, {Open, HalfOpen}, {HalfOpen, Open}},
		},
		{
			name:      "cancelled probe stays half-open",
			probe:     context.Canceled,
			wantState: HalfOpen,
			wantTrans: []transition{{Closed, Open}, {Open, HalfOpen}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, mock, transitions := newTestBreaker(t)
			_ = b.Do(fail)
			_ = b.Do(fail)

			mock.Add(9 * time.Second)
			if b.State() != Open {
				t.Fatalf("state before cooldown = %v, want open", b.State())
			}
			mock.Add(time.Second)
			if b.State() != HalfOpen {
				t.Fatalf("state after cooldown = %v, want half-open", b.State())
			}

			report, err := b.Allow()
			if err != nil {
				t.Fatalf("probe rejected: %v", err)
			}
			if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
				t.Errorf("second concurrent probe = %v, want ErrOpen", err)
			}
			report(tt.probe)
			report(errBackend) // later reports are ignored

			if got := b.State(); got != tt.wantState {
				t.Errorf("state after probe = %v, want %v", got, tt.wantState)
			}
			if diff := cmp.Diff(tt.wantTrans, transitions(), cmp.AllowUnexported(transition{})); diff != "" {
				t.Errorf("transitions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBreaker_ReopenRestartsCooldown(t *testing.T) {
	t.Parallel()
	b, mock, _ := newTestBreaker(t)
	_ = b.Do(fail)
	_ = b.Do(fail)

	mock.Add(10 * time.Second)
	_ = b.Do(fail) // failed probe

	mock.Add(5 * time.Second)
	if err := b.Do(ok); !errors.Is(err, ErrOpen) {
		t.Errorf("Do 5s after re-open = %v, want ErrOpen", err)
	}
	mock.Add(5 * time.Second)
	if err := b.Do(ok); err != nil {
		t.Errorf("Do after second cooldown = %v, want probe to run", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
