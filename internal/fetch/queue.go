package fetch

import (
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/restcache/internal/resolver"
)

// completion is a settled network operation waiting to be applied.
type completion struct {
	flight   *flight
	mutation *Mutation
	success  *resolver.Success
	failure  *resolver.Failure
	span     trace.Span
}

// completionQueue is a thread-safe FIFO queue for completions.
//
// Resolver callbacks enqueue from any goroutine; the client's single
// writer (Run or Drain) dequeues. The channel signal lets Run wait with a
// context.
type completionQueue struct {
	mu     sync.Mutex
	items  []completion
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		items:  make([]completion, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a completion to the back of the queue.
// Returns false if the queue is closed.
func (q *completionQueue) Enqueue(c completion) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, c)

	// Non-blocking - buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front completion without blocking.
func (q *completionQueue) TryDequeue() (completion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return completion{}, false
	}

	c := q.items[0]

	// Nil out the slot so the backing array does not retain payloads.
	q.items[0] = completion{}

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return c, true
}

// Wait returns a channel that signals when completions may be available.
// The channel is closed by Close.
func (q *completionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *completionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more completions will be enqueued.
func (q *completionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
