// Package service implements the job lifecycle service. It owns every write
// to job records and routes them through per-job command shards, so all
// mutations of one job are applied by a single goroutine in arrival order.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/repairflow/internal/adapters/mq/worker"
	"github.com/okian/repairflow/internal/adapters/notify"
	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/dedupe"
	"github.com/okian/repairflow/internal/domain/escalation"
	"github.com/okian/repairflow/internal/domain/lifecycle"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/scoring"
	"github.com/okian/repairflow/internal/domain/sla"
	"github.com/okian/repairflow/internal/domain/types"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/okian/repairflow/pkg/metrics"
)

const (
	defaultQueueCapacity  = 1024
	defaultDedupeSize     = 100_000
	defaultSweepInterval  = time.Minute
	defaultStoreTimeout   = 2 * time.Second
	defaultNotifyTimeout  = 5 * time.Second
	defaultEstimatedHours = 2.0
	autoAssignTimeout     = 30 * time.Second
	poolShutdownTimeout   = 30 * time.Second
	systemActor           = "system"
)

// PoolFilter narrows the candidate technicians of an assignment.
type PoolFilter struct {
	TechnicianIDs []string `json:"technician_ids,omitempty"`
	Skills        []string `json:"skills,omitempty"`
}

// Service is the job lifecycle service.
type Service struct {
	mu      sync.Mutex
	started atomic.Bool
	stopped bool

	// Collaborators
	store     repository.Store
	notifier  notify.Notifier
	ledger    dedupe.Ledger
	validator *lifecycle.Validator
	scheduler *escalation.Scheduler
	engine    *assignment.Engine
	pool      *worker.Pool

	// Configuration
	shards                int
	queueCapacity         int
	dedupeSize            int
	maxRework             int
	policy                sla.Policy
	levels                []escalation.Level
	sweepInterval         time.Duration
	assignOnEscalation    bool
	storeTimeout          time.Duration
	notifyTimeout         time.Duration
	defaultEstimatedHours float64
	scoringOpts           []scoring.Option
	assignmentOpts        []assignment.Option
	now                   func() time.Time

	// Background work
	runCtx  context.Context
	cancel  context.CancelFunc
	bgMu    sync.Mutex
	closing bool
	wg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service. Components are built by Start.
func New(opts ...Option) *Service {
	s := &Service{
		shards:                runtime.NumCPU(),
		queueCapacity:         defaultQueueCapacity,
		dedupeSize:            defaultDedupeSize,
		maxRework:             lifecycle.DefaultMaxRework,
		policy:                sla.DefaultPolicy(),
		levels:                escalation.DefaultLevels(),
		sweepInterval:         defaultSweepInterval,
		storeTimeout:          defaultStoreTimeout,
		notifyTimeout:         defaultNotifyTimeout,
		defaultEstimatedHours: defaultEstimatedHours,
		now:                   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the shards and the escalation sweep.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("service")

	if err := s.policy.Validate(); err != nil {
		return err
	}
	if err := escalation.ValidateLevels(s.levels); err != nil {
		return err
	}
	scorer, err := scoring.NewScorer(s.scoringOpts...)
	if err != nil {
		return err
	}

	s.engine = assignment.NewEngine(scorer, s.assignmentOpts...)
	s.validator = lifecycle.NewValidator(lifecycle.WithMaxRework(s.maxRework))
	s.scheduler = escalation.NewScheduler(s.policy, escalation.WithLevels(s.levels))
	s.ledger = dedupe.NewInMemoryLedger(dedupe.WithMaxSize(s.dedupeSize))
	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.logger.Info(ctx, "using in-memory store")
	}
	s.store = repository.NewTimeoutStore(s.store, repository.WithTimeout(s.storeTimeout))
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.logger)
	}

	s.pool = worker.NewPool(s.shards, worker.HandlerFunc(s.handle),
		worker.WithName("job-shards"),
		worker.WithLogger(s.logger),
		worker.WithQueueCapacity(s.queueCapacity),
	)
	s.pool.Start()

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go s.sweepLoop(s.runCtx)

	s.started.Store(true)
	s.logger.Info(ctx, "job lifecycle service started",
		logger.Int("shards", s.shards),
		logger.Int("queueCapacity", s.queueCapacity),
		logger.Int("maxRework", s.maxRework),
		logger.Duration("sweepInterval", s.sweepInterval),
	)
	return nil
}

// Stop drains the shards and closes the store. A stopped service cannot be restarted.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started.Load() {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping job lifecycle service...")
	s.started.Store(false)
	s.stopped = true

	s.bgMu.Lock()
	s.closing = true
	s.bgMu.Unlock()
	s.cancel()
	s.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(ctx, "shard shutdown failed", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "store close failed", logger.Error(err))
	}
	s.logger.Info(ctx, "job lifecycle service stopped")
}

func (s *Service) submit(ctx context.Context, cmd model.Command) (any, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	v, err := s.pool.Submit(ctx, cmd)
	if errors.Is(err, worker.ErrStopped) {
		return nil, ErrStopped
	}
	return v, err
}

// CreateJob creates a job in CREATED with SLA deadlines computed from its
// priority and tier. With spec.AutoAssign it also requests a technician;
// an assignment failure is reported in the result and does not undo the job.
func (s *Service) CreateJob(ctx context.Context, spec model.JobSpec) (types.CreatedJob, error) {
	if !s.started.Load() {
		return types.CreatedJob{}, ErrNotStarted
	}
	if err := spec.Validate(); err != nil {
		return types.CreatedJob{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	now := s.now()
	job := model.NewJob(spec, now, s.defaultEstimatedHours)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	id := job.ID
	job.SLAResponseDeadline, job.SLACompletionDeadline = s.policy.Deadlines(now, spec.Priority, spec.CustomerTier)
	job.History = []model.HistoryEntry{{
		ID:     uuid.NewString(),
		To:     model.StateCreated,
		At:     now,
		Actor:  actorOr(spec.Actor),
		Reason: "created",
	}}
	if _, err := s.submit(ctx, model.CreateJobCommand{Job: job}); err != nil {
		return types.CreatedJob{}, err
	}
	metrics.RecordJobCreated()
	s.logger.Info(ctx, "job created",
		logger.String("jobID", id),
		logger.String("priority", string(spec.Priority)),
		logger.String("tier", string(spec.CustomerTier)),
	)

	out := types.CreatedJob{ID: id}
	if spec.AutoAssign {
		res, err := s.RequestAssignment(ctx, id, PoolFilter{}, actorOr(spec.Actor))
		if err != nil {
			s.logger.Warn(ctx, "initial assignment failed", logger.String("jobID", id), logger.Error(err))
			out.AssignmentError = err.Error()
		} else {
			out.Assignment = &types.AssignmentSummary{
				TechnicianID:   res.Winner.TechnicianID,
				Overall:        res.Winner.Overall,
				Confidence:     res.Winner.Confidence,
				Recommendation: res.Winner.Recommendation,
			}
		}
	}
	return out, nil
}

// AdvanceJob moves a job to target. Rework past the cap lands the job in
// ESCALATED instead, and a manager is notified.
func (s *Service) AdvanceJob(ctx context.Context, jobID string, target model.State, reason, actor string) (*model.Job, error) {
	v, err := s.submit(ctx, model.AdvanceJobCommand{JobID: jobID, Target: target, Reason: reason, Actor: actor})
	if err != nil {
		return nil, err
	}
	return v.(*model.Job), nil
}

// RequestAssignment ranks the filtered technician pool for an unassigned job
// and commits the winner. Scoring runs outside the job's shard; the commit
// runs inside it and fails with StaleAssignmentError if the job moved on.
func (s *Service) RequestAssignment(ctx context.Context, jobID string, filter PoolFilter, actor string) (assignment.Result, error) {
	if !s.started.Load() {
		return assignment.Result{}, ErrNotStarted
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return assignment.Result{}, err
	}
	if err := assignable(job); err != nil {
		return assignment.Result{}, err
	}
	if job.AssignedTechnicianID != "" {
		return assignment.Result{}, fmt.Errorf("%w: job %s is held by %s", ErrAlreadyAssigned, job.ID, job.AssignedTechnicianID)
	}

	pool, err := s.store.ListTechnicians(ctx, repository.TechnicianFilter{
		IDs:    filter.TechnicianIDs,
		Skills: model.NormalizeSkills(filter.Skills),
	})
	if err != nil {
		return assignment.Result{}, err
	}
	res, err := s.rank(ctx, job, pool)
	if err != nil {
		return assignment.Result{}, err
	}
	res.Kind = model.AssignmentInitial

	_, err = s.submit(ctx, model.CommitAssignmentCommand{
		JobID:            job.ID,
		Kind:             model.AssignmentInitial,
		TechnicianID:     res.Winner.TechnicianID,
		ExpectedState:    job.State,
		ExpectedAssignee: "",
		Reason:           res.Reason,
		Actor:            actorOr(actor),
		EstimatedHours:   job.EstimatedHours,
	})
	if err != nil {
		return assignment.Result{}, err
	}
	s.recordAssignment(ctx, res)
	return res, nil
}

// ReassignJob moves an assigned job to the best other technician.
func (s *Service) ReassignJob(ctx context.Context, jobID, reason, actor string) (assignment.Result, error) {
	if !s.started.Load() {
		return assignment.Result{}, ErrNotStarted
	}
	if strings.TrimSpace(reason) == "" {
		return assignment.Result{}, fmt.Errorf("%w: a reason is required to reassign", ErrInvalidInput)
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return assignment.Result{}, err
	}
	if err := assignable(job); err != nil {
		return assignment.Result{}, err
	}
	previous := job.AssignedTechnicianID
	if previous == "" {
		return assignment.Result{}, fmt.Errorf("%w: job %s", ErrNotAssigned, job.ID)
	}

	pool, err := s.store.ListTechnicians(ctx, repository.TechnicianFilter{})
	if err != nil {
		return assignment.Result{}, err
	}
	res, err := s.rank(ctx, job, assignment.Without(pool, previous))
	if err != nil {
		return assignment.Result{}, err
	}
	res.Kind = model.AssignmentReassign
	res.Previous = previous

	_, err = s.submit(ctx, model.ReassignCommand{CommitAssignmentCommand: model.CommitAssignmentCommand{
		JobID:            job.ID,
		Kind:             model.AssignmentReassign,
		TechnicianID:     res.Winner.TechnicianID,
		ExpectedState:    job.State,
		ExpectedAssignee: previous,
		Reason:           reason,
		Actor:            actorOr(actor),
		EstimatedHours:   job.EstimatedHours,
	}})
	if err != nil {
		return assignment.Result{}, err
	}
	s.recordAssignment(ctx, res)
	return res, nil
}

// GetEscalationStatus fires any due escalation levels and returns the job's
// escalation bookkeeping.
func (s *Service) GetEscalationStatus(ctx context.Context, jobID string) (escalation.Status, error) {
	job, err := s.checkedJob(ctx, jobID)
	if err != nil {
		return escalation.Status{}, err
	}
	return s.scheduler.StatusOf(job), nil
}

// GetJob returns a job after firing any due escalation levels.
func (s *Service) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.checkedJob(ctx, jobID)
}

func (s *Service) checkedJob(ctx context.Context, jobID string) (*model.Job, error) {
	v, err := s.submit(ctx, model.CheckEscalationCommand{JobID: jobID, Now: s.now()})
	if err != nil {
		return nil, err
	}
	return v.(*model.Job), nil
}

// UpdatePartAvailability changes the stock status of one part of a job.
func (s *Service) UpdatePartAvailability(ctx context.Context, jobID, sku string, availability model.PartAvailability) (*model.Job, error) {
	a, err := model.ParsePartAvailability(string(availability))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	v, err := s.submit(ctx, model.UpdatePartCommand{JobID: jobID, SKU: strings.TrimSpace(sku), Availability: a})
	if err != nil {
		return nil, err
	}
	return v.(*model.Job), nil
}

// RecordOutcome settles a technician's work on a job: it releases the
// job from the technician's workload and folds score into their rolling
// performance. Repeating an outcome for the same pair is a no-op.
func (s *Service) RecordOutcome(ctx context.Context, jobID, technicianID string, score float64) (types.Outcome, error) {
	if strings.TrimSpace(technicianID) == "" {
		return types.Outcome{}, fmt.Errorf("%w: technician id is required", ErrInvalidInput)
	}
	if score < 0 || score > 100 {
		return types.Outcome{}, fmt.Errorf("%w: score %.2f outside [0,100]", ErrInvalidInput, score)
	}
	v, err := s.submit(ctx, model.RecordOutcomeCommand{JobID: jobID, TechnicianID: technicianID, Score: score})
	if err != nil {
		return types.Outcome{}, err
	}
	return v.(types.Outcome), nil
}

// UpsertTechnician creates or updates a technician profile. Workload
// fields of an existing technician are kept.
func (s *Service) UpsertTechnician(ctx context.Context, tech *model.Technician) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if err := tech.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.store.UpsertTechnician(ctx, tech)
}

// GetTechnician returns one technician.
func (s *Service) GetTechnician(ctx context.Context, id string) (*model.Technician, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.store.GetTechnician(ctx, id)
}

// ListTechnicians returns technicians matching filter ordered by id.
func (s *Service) ListTechnicians(ctx context.Context, filter PoolFilter) ([]*model.Technician, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.store.ListTechnicians(ctx, repository.TechnicianFilter{
		IDs:    filter.TechnicianIDs,
		Skills: model.NormalizeSkills(filter.Skills),
	})
}

// ListJobs returns jobs matching filter ordered by id.
func (s *Service) ListJobs(ctx context.Context, filter repository.JobFilter) ([]*model.Job, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.store.ListJobs(ctx, filter)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (types.Stats, error) {
	stats := types.Stats{Started: s.started.Load(), JobsByState: map[string]int{}}
	if !stats.Started {
		return stats, nil
	}
	stats.Shards = s.pool.Shards()
	stats.QueueLength = s.pool.Len()
	stats.LedgerSize = s.ledger.Size()

	jobs, err := s.store.ListJobs(ctx, repository.JobFilter{})
	if err != nil {
		return stats, err
	}
	open := repository.JobFilter{OpenOnly: true}
	for _, j := range jobs {
		stats.Jobs++
		stats.JobsByState[string(j.State)]++
		if open.Match(j) {
			stats.OpenJobs++
			if j.AssignedTechnicianID == "" {
				stats.UnassignedJobs++
			}
		}
	}
	techs, err := s.store.ListTechnicians(ctx, repository.TechnicianFilter{})
	if err != nil {
		return stats, err
	}
	stats.Technicians = len(techs)

	metrics.UpdateOpenJobs(stats.OpenJobs)
	metrics.UpdateTechnicianCount(stats.Technicians)
	metrics.UpdateQueueSize(stats.QueueLength)
	return stats, nil
}

// Size returns the number of settled outcomes in the ledger.
func (s *Service) Size() int64 {
	if !s.started.Load() {
		return 0
	}
	return s.ledger.Size()
}

func (s *Service) rank(ctx context.Context, job *model.Job, pool []*model.Technician) (assignment.Result, error) {
	res, err := s.engine.Rank(ctx, job, pool, s.now())
	if err != nil {
		if errors.Is(err, assignment.ErrNoEligibleTechnician) {
			metrics.RecordAssignmentFailure("no_eligible")
			s.logger.Warn(ctx, "no eligible technician", logger.String("jobID", job.ID), logger.Error(err))
		}
		return assignment.Result{}, err
	}
	return res, nil
}

func (s *Service) recordAssignment(ctx context.Context, res assignment.Result) {
	metrics.RecordAssignment(string(res.Kind), string(res.Winner.Recommendation), res.Winner.Confidence)
	s.logger.Info(ctx, "technician assigned",
		logger.String("jobID", res.JobID),
		logger.String("kind", string(res.Kind)),
		logger.String("technicianID", res.Winner.TechnicianID),
		logger.String("previous", res.Previous),
		logger.Float64("overall", res.Winner.Overall),
		logger.Float64("confidence", res.Winner.Confidence),
	)
}

// assignable rejects jobs that no longer take technician changes.
func assignable(job *model.Job) error {
	if job.State.IsTerminal() {
		return &lifecycle.TerminalStateError{JobID: job.ID, State: job.State}
	}
	if job.State.IsOutOfBand() {
		return &lifecycle.TransitionError{JobID: job.ID, From: job.State, To: job.State, Detail: "escalated jobs are resolved outside the lifecycle"}
	}
	return nil
}

func actorOr(actor string) string {
	if a := strings.TrimSpace(actor); a != "" {
		return a
	}
	return systemActor
}
