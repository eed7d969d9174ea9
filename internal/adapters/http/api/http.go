// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/repairflow/internal/adapters/repository"
	service "github.com/okian/repairflow/internal/app"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/escalation"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/types"
	"github.com/okian/repairflow/pkg/backoff"
	"github.com/okian/repairflow/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	JobDependencies
	TechnicianDependencies
	StatsProvider
}

// JobDependencies covers job lifecycle and assignment operations.
type JobDependencies interface {
	CreateJob(ctx context.Context, spec model.JobSpec) (types.CreatedJob, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter repository.JobFilter) ([]*model.Job, error)
	AdvanceJob(ctx context.Context, jobID string, target model.State, reason, actor string) (*model.Job, error)
	RequestAssignment(ctx context.Context, jobID string, filter PoolFilter, actor string) (assignment.Result, error)
	ReassignJob(ctx context.Context, jobID, reason, actor string) (assignment.Result, error)
	GetEscalationStatus(ctx context.Context, jobID string) (escalation.Status, error)
	UpdatePartAvailability(ctx context.Context, jobID, sku string, availability model.PartAvailability) (*model.Job, error)
	Sweep(ctx context.Context) (int, error)
}

// TechnicianDependencies covers technician profile and outcome operations.
type TechnicianDependencies interface {
	UpsertTechnician(ctx context.Context, tech *model.Technician) error
	GetTechnician(ctx context.Context, id string) (*model.Technician, error)
	ListTechnicians(ctx context.Context, filter PoolFilter) ([]*model.Technician, error)
	RecordOutcome(ctx context.Context, jobID, technicianID string, score float64) (types.Outcome, error)
}

// PoolFilter mirrors the service's candidate filter.
type PoolFilter = service.PoolFilter

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	jobsHandler       *JobsHandler
	technicianHandler *TechniciansHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	r := newRetrier(cfg)
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		jobsHandler:       NewJobsHandler(deps, r),
		technicianHandler: NewTechniciansHandler(deps, r),
	}
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	v1.HandleFunc("/jobs", MetricsMiddleware(s.jobsHandler.HandleCreate, "jobs_create")).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", MetricsMiddleware(s.jobsHandler.HandleList, "jobs_list")).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", MetricsMiddleware(s.jobsHandler.HandleGet, "jobs_get")).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/advance", MetricsMiddleware(s.jobsHandler.HandleAdvance, "jobs_advance")).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/assignment", MetricsMiddleware(s.jobsHandler.HandleAssign, "jobs_assign")).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/reassign", MetricsMiddleware(s.jobsHandler.HandleReassign, "jobs_reassign")).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/escalation", MetricsMiddleware(s.jobsHandler.HandleEscalation, "jobs_escalation")).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/parts/{sku}", MetricsMiddleware(s.jobsHandler.HandlePart, "jobs_part")).Methods(http.MethodPut)
	v1.HandleFunc("/escalations/sweep", MetricsMiddleware(s.jobsHandler.HandleSweep, "escalations_sweep")).Methods(http.MethodPost)

	// Technician endpoints
	v1.HandleFunc("/technicians", MetricsMiddleware(s.technicianHandler.HandleList, "technicians_list")).Methods(http.MethodGet)
	v1.HandleFunc("/technicians/{id}", MetricsMiddleware(s.technicianHandler.HandleGet, "technicians_get")).Methods(http.MethodGet)
	v1.HandleFunc("/technicians/{id}", MetricsMiddleware(s.technicianHandler.HandleUpsert, "technicians_upsert")).Methods(http.MethodPut)
	v1.HandleFunc("/technicians/{id}/outcomes", MetricsMiddleware(s.technicianHandler.HandleOutcome, "technicians_outcome")).Methods(http.MethodPost)
}

// Option configures the Server.
type Option func(*config)

type config struct {
	retryAttempts int
	retryInitial  time.Duration
	retryMax      time.Duration
	logger        logger.Logger
}

func defaultConfig() config {
	return config{
		retryAttempts: 3,
		retryInitial:  25 * time.Millisecond,
		retryMax:      500 * time.Millisecond,
	}
}

// WithRetry sets how often retryable service errors are retried and the
// backoff between attempts.
func WithRetry(attempts int, initial, maxDelay time.Duration) Option {
	return func(c *config) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if initial > 0 {
			c.retryInitial = initial
		}
		if maxDelay > 0 {
			c.retryMax = maxDelay
		}
	}
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

// retrier repeats retryable service calls with jittered backoff.
type retrier struct {
	attempts int
	strategy backoff.Strategy
	log      logger.Logger
}

func newRetrier(c config) *retrier {
	l := c.logger
	if l == nil {
		l = logger.NewNop()
	}
	return &retrier{
		attempts: c.retryAttempts,
		strategy: backoff.NewExponentialWithJitter(c.retryInitial, c.retryMax),
		log:      l.Named("http"),
	}
}

func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return backoff.Retry(ctx, r.attempts, r.strategy, fn, func(attempt int, err error) {
		metricsRetry()
		r.log.Debug(ctx, "retrying request",
			logger.String("op", op),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := describe(err)
	writeJSON(w, status, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
