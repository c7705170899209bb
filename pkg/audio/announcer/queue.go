// Package announcer provides the audio delivery worker: a single goroutine
// that speaks [types.AlertMessage] values one at a time from a FIFO queue,
// plays an alert tone before urgent messages, and lets urgent messages
// preempt whatever is playing or waiting.
package announcer

import "github.com/MrWong99/navassist/pkg/types"

// fifo is an unbounded first-in first-out queue of alert messages. It is not
// safe for concurrent use; the announcer guards it with its mutex.
type fifo struct {
	items []types.AlertMessage
	head  int
}

func (q *fifo) Len() int { return len(q.items) - q.head }

func (q *fifo) Push(msg types.AlertMessage) {
	q.items = append(q.items, msg)
}

// Pop removes and returns the oldest message. ok is false if the queue is
// empty.
func (q *fifo) Pop() (msg types.AlertMessage, ok bool) {
	if q.Len() == 0 {
		return types.AlertMessage{}, false
	}
	msg = q.items[q.head]
	q.items[q.head] = types.AlertMessage{}
	q.head++
	// Reclaim the backing array once it is more than half consumed.
	if q.head > len(q.items)/2 {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return msg, true
}

// Clear discards every queued message and returns how many were dropped.
func (q *fifo) Clear() int {
	n := q.Len()
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}
