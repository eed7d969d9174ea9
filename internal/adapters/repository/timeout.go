package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/metrics"
)

const defaultStoreTimeout = 2 * time.Second

// TimeoutStore bounds every call of an inner Store and converts deadline
// overruns into StoreTimeoutError. The inner store must honour ctx.
type TimeoutStore struct {
	inner   Store
	timeout time.Duration
}

// NewTimeoutStore wraps inner.
func NewTimeoutStore(inner Store, opts ...TimeoutOption) *TimeoutStore {
	s := &TimeoutStore{inner: inner, timeout: defaultStoreTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call runs fn under the store timeout and records latency.
func (s *TimeoutStore) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(cctx)
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err == nil {
		return nil
	}
	// Only our own deadline is a store timeout; a caller deadline or
	// cancellation is passed through untouched.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		metrics.RecordStoreTimeout(op)
		return &StoreTimeoutError{Op: op, Timeout: s.timeout, Err: err}
	}
	return err
}

func (s *TimeoutStore) CreateJob(ctx context.Context, job *model.Job) error {
	return s.call(ctx, "create_job", func(ctx context.Context) error { return s.inner.CreateJob(ctx, job) })
}

func (s *TimeoutStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var out *model.Job
	err := s.call(ctx, "get_job", func(ctx context.Context) error {
		var err error
		out, err = s.inner.GetJob(ctx, id)
		return err
	})
	return out, err
}

func (s *TimeoutStore) SaveJob(ctx context.Context, job *model.Job) error {
	return s.call(ctx, "save_job", func(ctx context.Context) error { return s.inner.SaveJob(ctx, job) })
}

func (s *TimeoutStore) ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error) {
	var out []*model.Job
	err := s.call(ctx, "list_jobs", func(ctx context.Context) error {
		var err error
		out, err = s.inner.ListJobs(ctx, filter)
		return err
	})
	return out, err
}

func (s *TimeoutStore) UpsertTechnician(ctx context.Context, tech *model.Technician) error {
	return s.call(ctx, "upsert_technician", func(ctx context.Context) error { return s.inner.UpsertTechnician(ctx, tech) })
}

func (s *TimeoutStore) GetTechnician(ctx context.Context, id string) (*model.Technician, error) {
	var out *model.Technician
	err := s.call(ctx, "get_technician", func(ctx context.Context) error {
		var err error
		out, err = s.inner.GetTechnician(ctx, id)
		return err
	})
	return out, err
}

func (s *TimeoutStore) ListTechnicians(ctx context.Context, filter TechnicianFilter) ([]*model.Technician, error) {
	var out []*model.Technician
	err := s.call(ctx, "list_technicians", func(ctx context.Context) error {
		var err error
		out, err = s.inner.ListTechnicians(ctx, filter)
		return err
	})
	return out, err
}

func (s *TimeoutStore) AdjustActiveJobs(ctx context.Context, adjustments ...Adjustment) error {
	return s.call(ctx, "adjust_active_jobs", func(ctx context.Context) error { return s.inner.AdjustActiveJobs(ctx, adjustments...) })
}

func (s *TimeoutStore) RecordOutcome(ctx context.Context, technicianID, jobID string, score float64) (*model.Technician, error) {
	var out *model.Technician
	err := s.call(ctx, "record_outcome", func(ctx context.Context) error {
		var err error
		out, err = s.inner.RecordOutcome(ctx, technicianID, jobID, score)
		return err
	})
	return out, err
}

func (s *TimeoutStore) Close() error { return s.inner.Close() }
