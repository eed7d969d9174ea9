// Package queue carries job commands to the shard that owns the job.
//
// Each shard has its own bounded FIFO. A full queue rejects instead of
// blocking so callers see backpressure immediately.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Result is what a shard sends back for one command.
type Result struct {
	Value any
	Err   error
}

// Envelope is a queued command plus its reply channel.
type Envelope struct {
	Ctx        context.Context
	Command    model.Command
	Reply      chan Result // buffered, capacity 1
	EnqueuedAt time.Time
}

// NewEnvelope wraps cmd for submission.
func NewEnvelope(ctx context.Context, cmd model.Command) Envelope {
	return Envelope{Ctx: ctx, Command: cmd, Reply: make(chan Result, 1), EnqueuedAt: time.Now()}
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an envelope or returns *BackpressureError when full.
	Enqueue(ctx context.Context, e Envelope) error
	// Dequeue returns the channel the shard worker drains. It is closed by Close.
	Dequeue() <-chan Envelope
	Len() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	envelopes chan Envelope
	capacity  int
	shard     int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.envelopes = make(chan Envelope, q.capacity)
	metrics.UpdateQueueCapacity(q.capacity)
	return q
}

// Enqueue adds an envelope without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Envelope) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return err
	}

	select {
	case q.envelopes <- e:
		metrics.RecordQueueEnqueue()
		q.publish()
		return nil
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return &BackpressureError{Shard: q.shard, Capacity: q.capacity}
	}
}

// Dequeue returns the receive side of the queue.
func (q *InMemoryQueue) Dequeue() <-chan Envelope {
	return q.envelopes
}

// Len returns the number of pending envelopes.
func (q *InMemoryQueue) Len() int {
	return len(q.envelopes)
}

// Close stops new enqueues. Pending envelopes stay readable.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.envelopes)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) publish() {
	size := len(q.envelopes)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
