package service

import (
	"time"

	"github.com/okian/repairflow/internal/adapters/notify"
	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/escalation"
	"github.com/okian/repairflow/internal/domain/scoring"
	"github.com/okian/repairflow/internal/domain/sla"
	"github.com/okian/repairflow/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the job and technician store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithNotifier sets where escalations are delivered.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock replaces time.Now. Tests use it to move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithShards sets the number of per-job command shards.
func WithShards(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shards = n
		}
	}
}

// WithQueueCapacity bounds each shard queue.
func WithQueueCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithDedupeSize bounds the outcome ledger.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithMaxRework sets how many QC failures a job may have before it is
// escalated. Values below 1 keep the default.
func WithMaxRework(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRework = n
		}
	}
}

// WithSLAPolicy replaces the SLA tables.
func WithSLAPolicy(p sla.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithEscalationLevels replaces the escalation ladder.
func WithEscalationLevels(levels []escalation.Level) Option {
	return func(s *Service) {
		if len(levels) > 0 {
			s.levels = levels
		}
	}
}

// WithSweepInterval sets how often open jobs are checked for escalation.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithAssignOnEscalation requests a technician when an unassigned job escalates.
func WithAssignOnEscalation(enabled bool) Option {
	return func(s *Service) { s.assignOnEscalation = enabled }
}

// WithScoringOptions configures the technician scorer.
func WithScoringOptions(opts ...scoring.Option) Option {
	return func(s *Service) { s.scoringOpts = append(s.scoringOpts, opts...) }
}

// WithAssignmentOptions configures the assignment engine.
func WithAssignmentOptions(opts ...assignment.Option) Option {
	return func(s *Service) { s.assignmentOpts = append(s.assignmentOpts, opts...) }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithNotifyTimeout bounds every notification dispatch.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithDefaultEstimatedHours sets the estimate used for jobs created without one.
func WithDefaultEstimatedHours(h float64) Option {
	return func(s *Service) {
		if h > 0 {
			s.defaultEstimatedHours = h
		}
	}
}
