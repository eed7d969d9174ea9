package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// TimeoutOption configures a TimeoutStore.
type TimeoutOption func(*TimeoutStore)

// WithTimeout sets the bound applied to every call.
func WithTimeout(d time.Duration) TimeoutOption {
	return func(s *TimeoutStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}
