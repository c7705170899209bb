// Package mock provides in-memory implementations of [audio.Speaker],
// [audio.TonePlayer] and [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call in order so
// tests can assert on what was played, and they expose exported fields that
// control return values and blocking behaviour.
//
// Typical usage:
//
//	rec := &mock.Recorder{}
//	speaker := &mock.Speaker{Recorder: rec, Block: true}
//	tone := &mock.Tone{Recorder: rec}
//	a := announcer.New(speaker, tone)
//	...
//	rec.Events() // ["tone", "speak:Danger! ..."]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/navassist/pkg/audio"
)

// Recorder collects an ordered event log shared between several mocks, so
// tests can check the interleaving of tones and speech.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Add appends ev to the log.
func (r *Recorder) Add(ev string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the log.
func (r *Recorder) Events() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// ─── Speaker ─────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Recorder, if set, receives "speak:<text>" when Speak starts.
	Recorder *Recorder

	// Block makes Speak wait until Release is called or ctx is cancelled.
	Block bool

	// Err is returned from every non-cancelled Speak call.
	Err error

	// Started receives each text as Speak begins, if non-nil. Sends never
	// block; size the channel for the test.
	Started chan string

	release chan struct{}

	// Spoken records texts whose Speak call completed without cancellation.
	Spoken []string

	// Cancelled records texts whose Speak call observed ctx cancellation.
	Cancelled []string
}

// Speak implements [audio.Speaker].
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.Recorder.Add("speak:" + text)
	s.mu.Lock()
	block := s.Block
	if block && s.release == nil {
		s.release = make(chan struct{})
	}
	release := s.release
	started := s.Started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- text:
		default:
		}
	}

	if block {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.Cancelled = append(s.Cancelled, text)
		return ctx.Err()
	}
	s.Spoken = append(s.Spoken, text)
	return s.Err
}

// Release unblocks every Speak call currently waiting, and all future ones.
func (s *Speaker) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release == nil {
		s.release = make(chan struct{})
	}
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// SpokenTexts returns a copy of Spoken.
func (s *Speaker) SpokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Spoken))
	copy(out, s.Spoken)
	return out
}

// CancelledTexts returns a copy of Cancelled.
func (s *Speaker) CancelledTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Cancelled))
	copy(out, s.Cancelled)
	return out
}

// ─── Tone ────────────────────────────────────────────────────────────────────

// Tone is a mock implementation of [audio.TonePlayer].
type Tone struct {
	mu sync.Mutex

	// Recorder, if set, receives "tone" on every call.
	Recorder *Recorder

	// Err is returned from every PlayTone call.
	Err error

	// Calls counts PlayTone invocations.
	Calls int
}

// PlayTone implements [audio.TonePlayer].
func (t *Tone) PlayTone(ctx context.Context) error {
	t.Recorder.Add("tone")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.Err
}

// CallCount returns the number of PlayTone calls.
func (t *Tone) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Calls
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] that plays instantly.
type Sink struct {
	mu sync.Mutex

	// SinkFormat is returned by Format.
	SinkFormat audio.Format

	// Err is returned from every Play call.
	Err error

	// Frames records every frame passed to Play.
	Frames []audio.AudioFrame
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, frame audio.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frame)
	return s.Err
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SinkFormat
}

// Played returns a copy of the recorded frames.
func (s *Sink) Played() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.Frames))
	copy(out, s.Frames)
	return out
}

var (
	_ audio.Speaker    = (*Speaker)(nil)
	_ audio.TonePlayer = (*Tone)(nil)
	_ audio.Sink       = (*Sink)(nil)
)
