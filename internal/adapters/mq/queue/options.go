package queue

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of pending envelopes.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithShard tags the queue with the shard it feeds.
func WithShard(shard int) Option {
	return func(q *InMemoryQueue) {
		if shard >= 0 {
			q.shard = shard
		}
	}
}
