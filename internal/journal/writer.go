package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/navassist/internal/alert"
	"github.com/MrWong99/navassist/pkg/types"
)

// DefaultBufferSize is the number of entries a [Writer] holds before it
// starts dropping.
const DefaultBufferSize = 64

// flushTimeout bounds the final drain after Run's context is cancelled.
const flushTimeout = 5 * time.Second

var _ alert.Journal = (*Writer)(nil)

// Inserter stores a single entry. *Store satisfies it.
type Inserter interface {
	Insert(ctx context.Context, e Entry) error
}

// Writer buffers journal entries and inserts them on its own goroutine.
// Record never blocks: when the buffer is full the entry is dropped and
// counted.
type Writer struct {
	store   Inserter
	entries chan Entry
	log     *slog.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64

	// mu orders Record's send against stop: once stopped is set under the
	// write lock, no entry can reach the channel after the final drain.
	mu      sync.RWMutex
	stopped bool
}

// NewWriter returns a Writer feeding store. A non-positive size selects
// [DefaultBufferSize].
func NewWriter(store Inserter, size int, log *slog.Logger) *Writer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		store:   store,
		entries: make(chan Entry, size),
		log:     log,
	}
}

// Record implements [alert.Journal].
func (w *Writer) Record(_ context.Context, msg types.AlertMessage, winner types.EnrichedDetection) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		w.dropped.Add(1)
		return
	}
	select {
	case w.entries <- NewEntry(msg, winner):
	default:
		w.dropped.Add(1)
		w.log.Warn("journal: buffer full, dropping entry", "id", msg.ID)
	}
}

// Run inserts entries until ctx is cancelled, then drains what is buffered
// using a fresh context bounded by a short timeout. It always returns nil;
// insert failures are logged and counted.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.entries:
			if ctx.Err() != nil {
				w.stop(&e)
				return nil
			}
			w.insert(ctx, e)
		case <-ctx.Done():
			w.stop(nil)
			return nil
		}
	}
}

// stop rejects further entries and flushes pending plus everything still
// buffered.
func (w *Writer) stop(pending *Entry) {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if pending != nil {
		w.insert(ctx, *pending)
	}
	for {
		select {
		case e := <-w.entries:
			w.insert(ctx, e)
		default:
			return
		}
	}
}

func (w *Writer) insert(ctx context.Context, e Entry) {
	if err := w.store.Insert(ctx, e); err != nil {
		w.failed.Add(1)
		w.log.Error("journal: insert failed", "id", e.ID, "err", err)
	}
}

// Dropped returns the number of entries discarded because the buffer was
// full or the writer had stopped.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Failed returns the number of entries whose insert returned an error.
func (w *Writer) Failed() uint64 { return w.failed.Load() }
