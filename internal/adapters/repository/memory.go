package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/metrics"
)

// MemoryStore is an in-memory Store. Jobs and technicians live behind
// separate locks; no method holds both.
type MemoryStore struct {
	jobMu sync.RWMutex
	jobs  map[string]*model.Job

	techMu sync.RWMutex
	techs  map[string]*model.Technician

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs a memory store and starts its metrics updater,
// which ticks at metrics.RefreshInterval unless overridden.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		jobs:                  make(map[string]*model.Job),
		techs:                 make(map[string]*model.Technician),
		metricsUpdateInterval: metrics.RefreshInterval(),
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background goroutine.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s", ErrDuplicate, job.ID)
	}
	job.Version = 1
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.jobMu.RLock()
	defer s.jobMu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return j.Clone(), nil
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, job.ID)
	}
	if cur.Version != job.Version {
		return fmt.Errorf("%w: job %s at version %d, saving %d", ErrConflict, job.ID, cur.Version, job.Version)
	}
	job.Version++
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.jobMu.RLock()
	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Match(j) {
			out = append(out, j.Clone())
		}
	}
	s.jobMu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *MemoryStore) UpsertTechnician(ctx context.Context, tech *model.Technician) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.techMu.Lock()
	defer s.techMu.Unlock()
	c := tech.Clone()
	if cur, ok := s.techs[tech.ID]; ok {
		c.ActiveJobCount = cur.ActiveJobCount
		c.CompletedJobs = cur.CompletedJobs
		c.PerformanceScore = cur.PerformanceScore
		c.Commitments = cur.Commitments
	}
	s.techs[tech.ID] = c
	return nil
}

func (s *MemoryStore) GetTechnician(ctx context.Context, id string) (*model.Technician, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.techMu.RLock()
	defer s.techMu.RUnlock()
	t, ok := s.techs[id]
	if !ok {
		return nil, fmt.Errorf("%w: technician %s", ErrNotFound, id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTechnicians(ctx context.Context, filter TechnicianFilter) ([]*model.Technician, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.techMu.RLock()
	out := make([]*model.Technician, 0, len(s.techs))
	for _, t := range s.techs {
		if filter.Match(t) {
			out = append(out, t.Clone())
		}
	}
	s.techMu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *MemoryStore) AdjustActiveJobs(ctx context.Context, adjustments ...Adjustment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.techMu.Lock()
	defer s.techMu.Unlock()
	for _, a := range adjustments {
		if _, ok := s.techs[a.TechnicianID]; !ok {
			return fmt.Errorf("%w: technician %s", ErrNotFound, a.TechnicianID)
		}
	}
	for _, a := range adjustments {
		ApplyAdjustment(s.techs[a.TechnicianID], a)
	}
	return nil
}

func (s *MemoryStore) RecordOutcome(ctx context.Context, technicianID, jobID string, score float64) (*model.Technician, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.techMu.Lock()
	defer s.techMu.Unlock()
	t, ok := s.techs[technicianID]
	if !ok {
		return nil, fmt.Errorf("%w: technician %s", ErrNotFound, technicianID)
	}
	ApplyOutcome(t, jobID, score)
	return t.Clone(), nil
}

// ApplyAdjustment mutates t in place. Other Store implementations use it so
// workload rules stay identical.
func ApplyAdjustment(t *model.Technician, a Adjustment) {
	t.ActiveJobCount = max(0, t.ActiveJobCount+a.Delta)
	if a.ReleaseJobID != "" {
		t.ReleaseCommitment(a.ReleaseJobID)
	}
	if a.Commit != nil {
		t.ReleaseCommitment(a.Commit.JobID)
		t.Commitments = append(t.Commitments, *a.Commit)
	}
}

// ApplyOutcome settles a finished job on t in place. Scores are clamped to [0,100].
func ApplyOutcome(t *model.Technician, jobID string, score float64) {
	score = max(0, min(100, score))
	t.ActiveJobCount = max(0, t.ActiveJobCount-1)
	t.PerformanceScore = FoldPerformance(t.PerformanceScore, t.CompletedJobs, score)
	t.CompletedJobs++
	t.ReleaseCommitment(jobID)
}

// startMetricsUpdater publishes store gauges until ctx ends or Close is called.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	open := 0
	s.jobMu.RLock()
	for _, j := range s.jobs {
		if !j.State.IsTerminal() {
			open++
		}
	}
	s.jobMu.RUnlock()

	s.techMu.RLock()
	techs := len(s.techs)
	s.techMu.RUnlock()

	metrics.UpdateOpenJobs(open)
	metrics.UpdateTechnicianCount(techs)
}
