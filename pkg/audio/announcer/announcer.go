package announcer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/navassist/pkg/audio"
	"github.com/MrWong99/navassist/pkg/types"
)

// RenderKind names the two audio operations the worker performs.
type RenderKind string

const (
	RenderTone   RenderKind = "tone"
	RenderSpeech RenderKind = "speech"
)

// Observer receives render and queue events from the worker, typically to
// record metrics. Methods are called from the worker goroutine or with the
// queue lock held and must not block or call back into the [Announcer].
type Observer interface {
	// RenderFinished is called after every tone or speech render. err is
	// nil on success and a context error when the render was preempted.
	RenderFinished(kind RenderKind, d time.Duration, err error)

	// QueueDepthChanged is called with the change in queued messages.
	QueueDepthChanged(delta int)
}

type nopObserver struct{}

func (nopObserver) RenderFinished(RenderKind, time.Duration, error) {}
func (nopObserver) QueueDepthChanged(int)                          {}

// Option configures an [Announcer] during construction.
type Option func(*Announcer)

// WithObserver registers o for render and queue events.
func WithObserver(o Observer) Option {
	return func(a *Announcer) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithLogger sets the logger used for render failures. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *Announcer) {
		if l != nil {
			a.log = l
		}
	}
}

// Announcer is the audio delivery worker. It owns one goroutine that waits for
// queued messages and renders them in FIFO order.
//
// Every message is rendered under its own context. [Announcer.Preempt]
// cancels that context, so Speaker and TonePlayer implementations stop
// promptly when an urgent message arrives. Interrupted messages are dropped,
// never resumed.
//
// All exported methods are safe for concurrent use.
type Announcer struct {
	speaker  audio.Speaker
	tone     audio.TonePlayer
	observer Observer
	log      *slog.Logger

	mu        sync.Mutex
	queue     fifo
	current   *types.AlertMessage // message being rendered, or nil
	cancelCur context.CancelFunc  // cancels current's render context
	closed    bool

	notify chan struct{} // signalled when a message is enqueued
	done   chan struct{} // closed by Close to stop the worker
	exited chan struct{} // closed when the worker goroutine returns
}

// New creates an [Announcer] that speaks with speaker and plays tone before
// urgent messages. The worker goroutine starts immediately; call
// [Announcer.Close] to stop it.
func New(speaker audio.Speaker, tone audio.TonePlayer, opts ...Option) *Announcer {
	a := &Announcer{
		speaker:  speaker,
		tone:     tone,
		observer: nopObserver{},
		log:      slog.Default(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.run()
	return a
}

// Enqueue appends msg to the queue. It never blocks on audio. Returns false if
// the announcer has been closed.
func (a *Announcer) Enqueue(msg types.AlertMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.pushLocked(msg)
	return true
}

// Preempt interrupts the message being rendered, discards everything queued
// and enqueues msg, all under one lock. The next audio the worker produces is
// therefore msg's. Returns false if the announcer has been closed.
func (a *Announcer) Preempt(msg types.AlertMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.interruptLocked()
	if n := a.queue.Clear(); n > 0 {
		a.observer.QueueDepthChanged(-n)
	}
	a.pushLocked(msg)
	return true
}

// Len returns the number of messages waiting, not counting the one being
// rendered.
func (a *Announcer) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Len()
}

// Current returns the message being rendered, if any.
func (a *Announcer) Current() (types.AlertMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return types.AlertMessage{}, false
	}
	return *a.current, true
}

// Running reports whether the worker goroutine is alive.
func (a *Announcer) Running() bool {
	select {
	case <-a.exited:
		return false
	default:
		return true
	}
}

// Close stops the worker without rendering anything further, cancels the
// render in progress and waits for the goroutine to exit. Queued messages are
// discarded. Close is idempotent.
func (a *Announcer) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.exited
		return nil
	}
	a.closed = true
	a.interruptLocked()
	if n := a.queue.Clear(); n > 0 {
		a.observer.QueueDepthChanged(-n)
	}
	a.mu.Unlock()

	close(a.done)
	<-a.exited
	return nil
}

// pushLocked appends msg and wakes the worker. Must be called with a.mu held.
func (a *Announcer) pushLocked(msg types.AlertMessage) {
	a.queue.Push(msg)
	a.observer.QueueDepthChanged(1)
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// interruptLocked cancels the in-flight render. Must be called with a.mu held.
func (a *Announcer) interruptLocked() {
	if a.cancelCur != nil {
		a.cancelCur()
		a.cancelCur = nil
	}
}

// run is the worker goroutine.
func (a *Announcer) run() {
	defer close(a.exited)

	for {
		select {
		case <-a.done:
			return
		case <-a.notify:
		}

		for {
			msg, ctx, ok := a.dequeue()
			if !ok {
				break
			}
			a.render(ctx, msg)
			a.finish()
		}
	}
}

// dequeue pops the oldest message and installs a fresh render context for it.
// Returns ok=false if the queue is empty or the announcer is closed.
func (a *Announcer) dequeue() (types.AlertMessage, context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return types.AlertMessage{}, nil, false
	}
	msg, ok := a.queue.Pop()
	if !ok {
		return types.AlertMessage{}, nil, false
	}
	a.observer.QueueDepthChanged(-1)

	ctx, cancel := context.WithCancel(context.Background())
	a.current = &msg
	a.cancelCur = cancel
	return msg, ctx, true
}

// finish clears the in-flight state after a render.
func (a *Announcer) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Nil if Preempt or Close already cancelled it.
	if a.cancelCur != nil {
		a.cancelCur()
	}
	a.cancelCur = nil
	a.current = nil
}

// render plays msg: tone then speech for urgent messages, speech only
// otherwise. Failures are logged and counted; they never stop the worker.
func (a *Announcer) render(ctx context.Context, msg types.AlertMessage) {
	if msg.Urgent && a.tone != nil {
		// A failed tone still lets the warning be spoken.
		a.timed(ctx, RenderTone, msg, func() error { return a.tone.PlayTone(ctx) })
		if ctx.Err() != nil {
			a.log.Debug("announcer: preempted after tone", "id", msg.ID)
			return
		}
	}
	a.timed(ctx, RenderSpeech, msg, func() error { return a.speaker.Speak(ctx, msg.Text) })
}

func (a *Announcer) timed(ctx context.Context, kind RenderKind, msg types.AlertMessage, fn func() error) {
	start := time.Now()
	err := fn()
	a.observer.RenderFinished(kind, time.Since(start), err)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		a.log.Debug("announcer: render interrupted", "kind", kind, "id", msg.ID)
	default:
		a.log.Warn("announcer: render failed",
			"kind", kind,
			"id", msg.ID,
			"level", msg.Level,
			"err", err,
		)
	}
}
