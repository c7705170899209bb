package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/navassist/pkg/types"
)

type recordingInserter struct {
	mu      sync.Mutex
	ids     []string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *recordingInserter) Insert(_ context.Context, e Entry) error {
	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, e.ID)
	return r.err
}

func (r *recordingInserter) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func msg(id string) types.AlertMessage {
	return types.AlertMessage{ID: id, Text: "x", Level: types.RiskInfo}
}

func TestWriter_InsertsInOrder(t *testing.T) {
	t.Parallel()
	ins := &recordingInserter{}
	w := NewWriter(ins, 8, nil)

	w.Record(context.Background(), msg("a"), types.EnrichedDetection{})
	w.Record(context.Background(), msg("b"), types.EnrichedDetection{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(ins.IDs()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("inserted %v, want [a b]", ins.IDs())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}

	got := ins.IDs()
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("insert order = %v, want [a b]", got)
	}
}

func TestWriter_DropsWhenFull(t *testing.T) {
	t.Parallel()
	w := NewWriter(&recordingInserter{}, 2, nil)

	for _, id := range []string{"a", "b", "c", "d"} {
		w.Record(context.Background(), msg(id), types.EnrichedDetection{})
	}
	if got := w.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestWriter_DrainsOnCancel(t *testing.T) {
	t.Parallel()
	ins := &recordingInserter{}
	w := NewWriter(ins, 4, nil)

	w.Record(context.Background(), msg("a"), types.EnrichedDetection{})
	w.Record(context.Background(), msg("b"), types.EnrichedDetection{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := len(ins.IDs()); got != 2 {
		t.Errorf("drained %d entries, want 2", got)
	}

	w.Record(context.Background(), msg("late"), types.EnrichedDetection{})
	if got := w.Dropped(); got != 1 {
		t.Errorf("Dropped() after stop = %d, want 1", got)
	}
}

func TestWriter_CountsFailures(t *testing.T) {
	t.Parallel()
	ins := &recordingInserter{err: errors.New("db down")}
	w := NewWriter(ins, 4, nil)

	w.Record(context.Background(), msg("a"), types.EnrichedDetection{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = w.Run(ctx)

	if got := w.Failed(); got != 1 {
		t.Errorf("Failed() = %d, want 1", got)
	}
}

func TestWriter_RecordDoesNotBlock(t *testing.T) {
	t.Parallel()
	ins := &recordingInserter{block: make(chan struct{}), started: make(chan struct{}, 1)}
	defer close(ins.block)
	w := NewWriter(ins, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	w.Record(context.Background(), msg("a"), types.EnrichedDetection{})
	<-ins.started

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			w.Record(context.Background(), msg(string(rune('b'+i))), types.EnrichedDetection{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked while the inserter was stuck")
	}
	if w.Dropped() == 0 {
		t.Error("expected some entries to be dropped")
	}
}

func TestWriter_EveryEntryAccountedForAcrossStop(t *testing.T) {
	t.Parallel()
	const perRecorder, recorders = 200, 4
	ins := &recordingInserter{}
	w := NewWriter(ins, perRecorder*recorders, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var wg sync.WaitGroup
	for r := range recorders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perRecorder {
				if i == perRecorder/2 && r == 0 {
					cancel()
				}
				w.Record(context.Background(), msg(fmt.Sprintf("%d-%d", r, i)), types.EnrichedDetection{})
			}
		}()
	}
	wg.Wait()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if got := uint64(len(ins.IDs())) + w.Dropped(); got != perRecorder*recorders {
		t.Errorf("inserted %d + dropped %d = %d, want %d",
			len(ins.IDs()), w.Dropped(), got, perRecorder*recorders)
	}
	if n := len(w.entries); n != 0 {
		t.Errorf("%d entries left unwritten in the buffer", n)
	}
}
