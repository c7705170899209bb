// Package mock provides an in-memory implementation of [engine.Announcer]
// for use in unit tests.
//
// The mock records every queued message and allows the test to configure
// Close behaviour via exported fields. It is safe for concurrent use.
package mock

import (
	"sync"

	"github.com/MrWong99/navassist/internal/engine"
	"github.com/MrWong99/navassist/pkg/types"
)

// Compile-time interface assertion.
var _ engine.Announcer = (*Announcer)(nil)

// Announcer is a mock implementation of [engine.Announcer].
type Announcer struct {
	mu sync.Mutex

	// CloseErr is returned by [Announcer.Close].
	CloseErr error

	// CloseBlock, when non-nil, makes Close wait until it is closed.
	CloseBlock chan struct{}

	// Enqueued and Preempted accumulate the messages received.
	Enqueued  []types.AlertMessage
	Preempted []types.AlertMessage

	// CloseCalls counts Close invocations.
	CloseCalls int

	closed bool
}

// Enqueue implements [engine.Announcer].
func (a *Announcer) Enqueue(msg types.AlertMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.Enqueued = append(a.Enqueued, msg)
	return true
}

// Preempt implements [engine.Announcer].
func (a *Announcer) Preempt(msg types.AlertMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.Preempted = append(a.Preempted, msg)
	return true
}

// Close implements [engine.Announcer].
func (a *Announcer) Close() error {
	a.mu.Lock()
	a.CloseCalls++
	a.closed = true
	block, err := a.CloseBlock, a.CloseErr
	a.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

// Messages returns copies of the enqueued and preempted messages.
func (a *Announcer) Messages() (enqueued, preempted []types.AlertMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	enqueued = append([]types.AlertMessage(nil), a.Enqueued...)
	preempted = append([]types.AlertMessage(nil), a.Preempted...)
	return enqueued, preempted
}

// Closes returns the number of Close calls.
func (a *Announcer) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CloseCalls
}
