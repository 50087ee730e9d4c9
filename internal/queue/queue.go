// Package queue provides the sealed multi-consumer FIFO that hands trace files
// to ingestion workers.
package queue

import (
	"errors"
	"sync"
)

// ErrSealed is returned when pushing to a queue that has been sealed.
var ErrSealed = errors.New("queue is sealed")

// WorkQueue is a thread-safe FIFO of file paths. Producers Push and then Seal;
// consumers Claim until the queue reports that it is sealed and empty.
// Every pushed path is returned by exactly one Claim.
type WorkQueue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	entries  []string
	sealed   bool
}

// New creates an empty, unsealed queue.
func New() *WorkQueue {
	q := &WorkQueue{entries: make([]string, 0)}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Push adds a path to the back of the queue.
// Returns ErrSealed once Seal has been called.
func (q *WorkQueue) Push(path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return ErrSealed
	}
	q.entries = append(q.entries, path)
	q.nonEmpty.Signal()
	return nil
}

// Seal closes the queue for writes and wakes every blocked consumer.
// Sealing twice is a no-op.
func (q *WorkQueue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return
	}
	q.sealed = true
	q.nonEmpty.Broadcast()
}

// Claim removes and returns the path at the front of the queue, blocking while
// the queue is empty but not yet sealed. Returns ("", false) once the queue is
// sealed and drained.
func (q *WorkQueue) Claim() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) == 0 && !q.sealed {
		q.nonEmpty.Wait()
	}
	if len(q.entries) == 0 {
		return "", false
	}

	path := q.entries[0]
	q.entries[0] = ""
	q.entries = q.entries[1:]
	return path, true
}

// Len returns the number of unclaimed paths.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
