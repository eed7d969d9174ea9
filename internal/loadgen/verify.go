package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"
)

// techQueryBatch bounds the ids sent in one roster query.
const techQueryBatch = 50

// verify reconciles the server's view with what the walkers observed:
//   - every job that finished without an error is in the state the walker saw
//   - delivered jobs are archived and end their history in DELIVERED
//   - the roster's active counts and commitments equal the jobs still held
func (r *runner) verify(ctx context.Context, techs []*model.Technician, results []jobResult) error {
	r.log.Info(ctx, "verifying results")

	var jobs []*model.Job
	if err := r.client.Get(ctx, "/v1/jobs", &jobs); err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	byID := make(map[string]*model.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	var problems []error
	held := 0
	for _, res := range results {
		if res.State == "" {
			continue
		}
		job, ok := byID[res.JobID]
		if !ok {
			problems = append(problems, fmt.Errorf("job %s missing from listing", res.JobID))
			continue
		}
		if res.Err == "" && job.State != res.State {
			problems = append(problems, fmt.Errorf("job %s is %s, walker saw %s", job.ID, job.State, res.State))
		}
		if job.State == model.StateDelivered {
			if !job.Archived {
				problems = append(problems, fmt.Errorf("delivered job %s is not archived", job.ID))
			}
			if last := job.History[len(job.History)-1]; last.To != model.StateDelivered {
				problems = append(problems, fmt.Errorf("job %s history ends in %s", job.ID, last.To))
			}
		}
		if job.AssignedTechnicianID != "" && !res.Outcome {
			held++
		}
	}

	active, committed, err := r.workload(ctx, techs)
	if err != nil {
		return err
	}
	if active != held {
		problems = append(problems, fmt.Errorf("roster carries %d active jobs, %d jobs are held", active, held))
	}
	if committed != held {
		problems = append(problems, fmt.Errorf("roster carries %d commitments, %d jobs are held", committed, held))
	}

	if len(problems) > 0 {
		for _, p := range problems {
			r.log.Error(ctx, "verification failed", logger.Error(p))
		}
		return fmt.Errorf("%w: %w", ErrInconsistent, errors.Join(problems...))
	}
	r.log.Info(ctx, "verification passed", logger.Int("heldJobs", held), logger.Int("jobs", len(results)))
	return nil
}

// workload sums active counts and commitments across the run's roster.
func (r *runner) workload(ctx context.Context, techs []*model.Technician) (active, committed int, err error) {
	for start := 0; start < len(techs); start += techQueryBatch {
		end := min(start+techQueryBatch, len(techs))
		ids := make([]string, 0, end-start)
		for _, t := range techs[start:end] {
			ids = append(ids, t.ID)
		}
		var page []*model.Technician
		if err := r.client.Get(ctx, "/v1/technicians?id="+url.QueryEscape(strings.Join(ids, ",")), &page); err != nil {
			return 0, 0, fmt.Errorf("list technicians: %w", err)
		}
		for _, t := range page {
			active += t.ActiveJobCount
			committed += len(t.Commitments)
		}
	}
	return active, committed, nil
}
