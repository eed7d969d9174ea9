// Package dedupe records which (job, technician) settlements were already
// applied so that completion and release events stay idempotent.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 100000

// Ledger remembers settled (job, technician) pairs.
type Ledger interface {
	// Settle atomically records the pair. It returns true if the pair had
	// already been settled, in which case the caller must not apply it again.
	Settle(ctx context.Context, jobID, technicianID string) bool

	// Unsettle forgets a pair whose settlement could not be applied, so a
	// retry is accepted.
	Unsettle(ctx context.Context, jobID, technicianID string)

	// Settled reports whether the pair was recorded, without recording it.
	Settled(ctx context.Context, jobID, technicianID string) bool

	Size() int64
}

// Key is the ledger key for a pair.
func Key(jobID, technicianID string) string {
	return jobID + "\x00" + technicianID
}

// inMemoryLedger keeps keys in a map and evicts the oldest entry once
// maxSize is reached. maxSize <= 0 means unbounded.
type inMemoryLedger struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // insertion order, used for eviction in bounded mode
	maxSize int
	size    atomic.Int64
}

// NewInMemoryLedger creates a ledger with configuration options.
func NewInMemoryLedger(opts ...Option) Ledger {
	l := &inMemoryLedger{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(l)
	}
	l.seen = make(map[string]struct{})
	return l
}

func (l *inMemoryLedger) Settle(_ context.Context, jobID, technicianID string) bool {
	k := Key(jobID, technicianID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[k]; ok {
		return true
	}
	if l.maxSize > 0 {
		for len(l.seen) >= l.maxSize && len(l.order) > 0 {
			l.evictOldest()
		}
		l.order = append(l.order, k)
	}
	l.seen[k] = struct{}{}
	l.size.Add(1)
	return false
}

func (l *inMemoryLedger) Unsettle(_ context.Context, jobID, technicianID string) {
	k := Key(jobID, technicianID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[k]; !ok {
		return
	}
	delete(l.seen, k)
	l.size.Add(-1)
	if l.maxSize > 0 {
		for i, o := range l.order {
			if o == k {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}

func (l *inMemoryLedger) Settled(_ context.Context, jobID, technicianID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[Key(jobID, technicianID)]
	return ok
}

// evictOldest must be called with l.mu held.
func (l *inMemoryLedger) evictOldest() {
	k := l.order[0]
	l.order[0] = ""
	l.order = l.order[1:]
	if _, ok := l.seen[k]; ok {
		delete(l.seen, k)
		l.size.Add(-1)
	}
}

func (l *inMemoryLedger) Size() int64 {
	return l.size.Load()
}
