// Package mock provides test doubles for the alert package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/navassist/internal/alert"
	"github.com/MrWong99/navassist/pkg/types"
)

var (
	_ alert.Announcer = (*Announcer)(nil)
	_ alert.Journal   = (*Journal)(nil)
)

// Call records one Enqueue or Preempt invocation.
type Call struct {
	Method  string
	Message types.AlertMessage
}

// Announcer records every message it receives.
type Announcer struct {
	mu sync.Mutex

	// Closed makes Enqueue and Preempt report false.
	Closed bool

	Calls []Call
}

// Enqueue implements [alert.Announcer].
func (a *Announcer) Enqueue(msg types.AlertMessage) bool {
	return a.add("Enqueue", msg)
}

// Preempt implements [alert.Announcer].
func (a *Announcer) Preempt(msg types.AlertMessage) bool {
	return a.add("Preempt", msg)
}

func (a *Announcer) add(method string, msg types.AlertMessage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Closed {
		return false
	}
	a.Calls = append(a.Calls, Call{Method: method, Message: msg})
	return true
}

// Recorded returns a copy of the recorded calls.
func (a *Announcer) Recorded() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.Calls))
	copy(out, a.Calls)
	return out
}

// Entry is one recorded journal write.
type Entry struct {
	Message types.AlertMessage
	Winner  types.EnrichedDetection
}

// Journal records every entry it receives.
type Journal struct {
	mu      sync.Mutex
	Entries []Entry
}

// Record implements [alert.Journal].
func (j *Journal) Record(_ context.Context, msg types.AlertMessage, winner types.EnrichedDetection) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Entries = append(j.Entries, Entry{Message: msg, Winner: winner})
}

// Recorded returns a copy of the recorded entries.
func (j *Journal) Recorded() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.Entries))
	copy(out, j.Entries)
	return out
}
