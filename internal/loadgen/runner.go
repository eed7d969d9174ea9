package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/types"
	"github.com/okian/repairflow/pkg/logger"
)

const (
	directoryPermission = 0750
	filePermission      = 0640
	progressInterval    = time.Second
	actor               = "loadgen"
)

// jobResult is what happened to one planned job.
type jobResult struct {
	JobID        string      `json:"job_id"`
	State        model.State `json:"state"`
	TechnicianID string      `json:"technician_id,omitempty"`
	AutoAssigned bool        `json:"auto_assigned,omitempty"`
	LateAssigned bool        `json:"late_assigned,omitempty"`
	Reassigned   bool        `json:"reassigned,omitempty"`
	Reworks      int         `json:"reworks,omitempty"`
	Parts        int         `json:"parts_released,omitempty"`
	Outcome      bool        `json:"outcome_recorded,omitempty"`
	Err          string      `json:"error,omitempty"`
}

// Report is written to Config.OutputFile.
type Report struct {
	Stats *Stats      `json:"stats"`
	Jobs  []jobResult `json:"jobs"`
}

type runner struct {
	cfg    *Config
	client *HTTPClient
	log    logger.Logger
}

// Run executes a complete simulation against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	stats := &Stats{
		RunID:     uuid.NewString()[:8],
		Seed:      seed,
		StartTime: time.Now(),
	}
	r := &runner{
		cfg:    cfg,
		client: newHTTPClient(cfg.BaseURL, cfg.Timeout),
		log:    logger.Get().Named("loadgen").With(logger.String("run", stats.RunID)),
	}

	r.log.Info(ctx, "starting repairflow simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("technicians", cfg.Technicians),
		logger.Int("jobs", cfg.Jobs),
		logger.Int("workers", cfg.Workers),
		logger.Float64("reworkRate", cfg.ReworkRate),
		logger.Any("seed", seed))

	if err := r.client.healthy(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	gen := newGenerator(seed, stats.RunID)
	techs := gen.technicians(cfg.Technicians)
	plans := gen.jobs(cfg.Jobs, cfg.ReworkRate, cfg.ReassignRate)

	if err := r.seed(ctx, techs); err != nil {
		return nil, fmt.Errorf("seed roster: %w", err)
	}
	stats.Technicians = len(techs)

	results := r.walkAll(ctx, plans)
	tally(stats, results)

	var sweep struct {
		Escalated int `json:"escalated"`
	}
	if err := r.client.Post(ctx, "/v1/escalations/sweep", nil, &sweep); err != nil {
		r.log.Warn(ctx, "escalation sweep failed", logger.Error(err))
	}
	stats.SweepEscalated = sweep.Escalated

	verifyErr := r.verify(ctx, techs, results)

	stats.Requests = r.client.requests.Load()
	stats.Retries = r.client.retries.Load()
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, &Report{Stats: stats, Jobs: results}); err != nil {
			r.log.Warn(ctx, "failed to save report", logger.Error(err))
		} else {
			r.log.Info(ctx, "report saved", logger.String("file", cfg.OutputFile))
		}
	}
	r.displayFinalStats(ctx, stats)
	if verifyErr != nil {
		return stats, verifyErr
	}
	r.log.Info(ctx, "simulation completed successfully")
	return stats, nil
}

// seed upserts the roster with bounded concurrency.
func (r *runner) seed(ctx context.Context, techs []*model.Technician) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, t := range techs {
		g.Go(func() error {
			return r.client.Put(gctx, "/v1/technicians/"+url.PathEscape(t.ID), t, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.log.Info(ctx, "roster seeded", logger.Int("technicians", len(techs)))
	return nil
}

// walkAll runs every plan through a fixed pool of workers.
func (r *runner) walkAll(ctx context.Context, plans []jobPlan) []jobResult {
	results := make([]jobResult, len(plans))
	work := make(chan int, r.cfg.Workers*2)
	var (
		wg       sync.WaitGroup
		done     atomic.Int64
		failed   atomic.Int64
		reportMu sync.Mutex
		lastSeen time.Time
	)

	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i] = r.walk(ctx, plans[i])
				if results[i].Err != "" {
					failed.Add(1)
				}
				n := done.Add(1)

				reportMu.Lock()
				if time.Since(lastSeen) >= progressInterval {
					lastSeen = time.Now()
					r.log.Info(ctx, "progress",
						logger.Int64("done", n),
						logger.Int("total", len(plans)),
						logger.Int64("failed", failed.Load()))
				}
				reportMu.Unlock()
			}
		}()
	}

	go func() {
		defer close(work)
		for i := range plans {
			select {
			case <-ctx.Done():
				return
			case work <- i:
			}
		}
	}()
	wg.Wait()

	// plans never handed out because ctx ended
	for i := range results {
		if results[i].JobID == "" {
			results[i] = jobResult{JobID: plans[i].Spec.ID, Err: "not started"}
		}
	}
	return results
}

// walk drives one job from creation to delivery.
func (r *runner) walk(ctx context.Context, plan jobPlan) (res jobResult) {
	jobID := plan.Spec.ID
	res.JobID = jobID
	fail := func(step string, err error) jobResult {
		res.Err = fmt.Sprintf("%s: %v", step, err)
		if r.cfg.Verbose {
			r.log.Warn(ctx, "job step failed", logger.String("job_id", jobID), logger.String("step", step), logger.Error(err))
		}
		return res
	}

	var created types.CreatedJob
	if err := r.client.Post(ctx, "/v1/jobs", plan.Spec, &created); err != nil {
		return fail("create", err)
	}
	res.State = model.StateCreated
	if created.Assignment != nil {
		res.TechnicianID = created.Assignment.TechnicianID
		res.AutoAssigned = true
	}

	if err := r.advance(ctx, &res, model.StateInDiagnosis, model.StateAwaitingApproval, model.StateApproved); err != nil {
		return fail("advance", err)
	}

	if res.TechnicianID == "" {
		var ranked assignment.Result
		err := r.client.Post(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/assignment", map[string]string{"actor": actor}, &ranked)
		if isKind(err, "no_eligible_technician") {
			return res
		}
		if err != nil {
			return fail("assign", err)
		}
		res.TechnicianID = ranked.Winner.TechnicianID
		res.LateAssigned = true
	}

	if err := r.advance(ctx, &res, model.StateInProgress); err != nil {
		return fail("advance", err)
	}

	if plan.Reassign {
		var ranked assignment.Result
		err := r.client.Post(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/reassign",
			map[string]string{"reason": "shift change", "actor": actor}, &ranked)
		switch {
		case err == nil:
			res.TechnicianID = ranked.Winner.TechnicianID
			res.Reassigned = true
		case isKind(err, "no_eligible_technician"):
		default:
			return fail("reassign", err)
		}
	}

	for {
		if err := r.advance(ctx, &res, model.StatePartsOrdered); err != nil {
			return fail("advance", err)
		}
		if res.Parts == 0 {
			for _, p := range plan.Spec.Parts {
				path := "/v1/jobs/" + url.PathEscape(jobID) + "/parts/" + url.PathEscape(p.SKU)
				if err := r.client.Put(ctx, path, map[string]string{"availability": string(model.PartInStock)}, nil); err != nil {
					return fail("release part", err)
				}
				res.Parts++
			}
		}
		if err := r.advance(ctx, &res, model.StateTesting, model.StateQualityCheck); err != nil {
			return fail("advance", err)
		}
		if res.Reworks >= plan.QCFailures {
			break
		}
		job, err := r.step(ctx, jobID, model.StateInProgress, "failed quality check")
		if err != nil {
			return fail("rework", err)
		}
		res.Reworks++
		res.State = job.State
		if job.State == model.StateEscalated {
			return res
		}
	}

	if err := r.advance(ctx, &res, model.StateCompleted, model.StateCustomerApproved, model.StateDelivered); err != nil {
		return fail("advance", err)
	}

	var out types.Outcome
	body := map[string]any{"job_id": jobID, "score": plan.Score}
	if err := r.client.Post(ctx, "/v1/technicians/"+url.PathEscape(res.TechnicianID)+"/outcomes", body, &out); err != nil {
		return fail("outcome", err)
	}
	res.Outcome = !out.Duplicate
	return res
}

// advance walks res through targets in order.
func (r *runner) advance(ctx context.Context, res *jobResult, targets ...model.State) error {
	for _, target := range targets {
		job, err := r.step(ctx, res.JobID, target, "")
		if err != nil {
			return err
		}
		res.State = job.State
	}
	return nil
}

func (r *runner) step(ctx context.Context, jobID string, target model.State, reason string) (*model.Job, error) {
	var job model.Job
	body := map[string]string{"target": string(target), "reason": reason, "actor": actor}
	if err := r.client.Post(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/advance", body, &job); err != nil {
		return nil, fmt.Errorf("to %s: %w", target, err)
	}
	return &job, nil
}

func isKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func tally(stats *Stats, results []jobResult) {
	for _, res := range results {
		if res.Err != "" && res.State == "" {
			stats.JobsFailed++
			continue
		}
		stats.JobsCreated++
		if res.Err != "" {
			stats.JobsFailed++
		}
		switch {
		case res.AutoAssigned:
			stats.AutoAssigned++
		case res.LateAssigned:
			stats.LateAssigned++
		default:
			stats.Unassigned++
		}
		switch res.State {
		case model.StateDelivered:
			stats.Delivered++
		case model.StateEscalated:
			stats.Escalated++
		}
		stats.Reworks += res.Reworks
		stats.PartsReleased += res.Parts
		if res.Reassigned {
			stats.Reassignments++
		}
		if res.Outcome {
			stats.Outcomes++
		}
	}
}

func saveReport(filename string, report *Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(filename, data, filePermission)
}

func (r *runner) displayFinalStats(ctx context.Context, stats *Stats) {
	var jobsPerSecond float64
	if stats.Duration > 0 {
		jobsPerSecond = float64(stats.JobsCreated) / stats.Duration.Seconds()
	}
	r.log.Info(ctx, "final statistics",
		logger.Int("jobsCreated", stats.JobsCreated),
		logger.Int("jobsFailed", stats.JobsFailed),
		logger.Int("autoAssigned", stats.AutoAssigned),
		logger.Int("lateAssigned", stats.LateAssigned),
		logger.Int("unassigned", stats.Unassigned),
		logger.Int("delivered", stats.Delivered),
		logger.Int("escalated", stats.Escalated),
		logger.Int("reworks", stats.Reworks),
		logger.Int("reassignments", stats.Reassignments),
		logger.Int("outcomes", stats.Outcomes),
		logger.Int64("requests", stats.Requests),
		logger.Int64("retries", stats.Retries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("jobsPerSecond", jobsPerSecond))
}
