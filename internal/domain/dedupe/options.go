package dedupe

// Option applies a configuration option to the in-memory ledger.
type Option func(*inMemoryLedger)

// WithMaxSize sets the maximum number of pairs kept in memory.
// If maxSize > 0 the oldest pair is evicted first.
// If maxSize <= 0 the ledger is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(l *inMemoryLedger) {
		l.maxSize = maxSize
	}
}
