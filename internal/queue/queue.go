// Package queue implements an unbounded, thread-safe ingress FIFO.
// Producers (arbitrary host goroutines calling Handler.Emit) push without
// blocking; the single worker goroutine polls without blocking and gets an
// explicit "empty" signal instead of an error, mirroring the source
// project's distinction between queue.Empty and real processing errors
// (log_async/worker.py's _fetch_events loop).
//
// No third-party queue implementation appears anywhere in the example pack
// for this shape (unbounded, single-consumer, non-blocking poll); a
// container/list-backed FIFO behind a mutex is the straightforward idiomatic
// choice and is what the stdlib is for here.
package queue

import (
	"container/list"
	"sync"
)

// Queue is a FIFO of opaque byte payloads.
type Queue struct {
	mu    sync.Mutex
	items *list.List
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: list.New()}
}

// Push appends payload to the tail. Per-producer-goroutine FIFO order is
// preserved; order across goroutines is whatever interleaving the mutex
// allows.
func (q *Queue) Push(payload []byte) {
	q.mu.Lock()
	q.items.PushBack(payload)
	q.mu.Unlock()
}

// PushFront re-queues payload at the head. Used for best-effort retry
// ordering: Worker calls PushFront (not Push) when a buffer write fails,
// so a retried payload is the next one re-attempted rather than going to
// the back of the line behind everything enqueued since.
func (q *Queue) PushFront(payload []byte) {
	q.mu.Lock()
	q.items.PushFront(payload)
	q.mu.Unlock()
}

// TryPop removes and returns the head element. ok is false when the queue is
// empty — the Go equivalent of the source's queue.Empty exception, handled
// as control flow rather than an error value.
func (q *Queue) TryPop() (payload []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	q.items.Remove(front)
	return front.Value.([]byte), true
}

// Len returns the current queue depth, used for the worker's queue_size
// gauge and the shutdown-drain warning.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
