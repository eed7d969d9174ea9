package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/okian/repairflow/internal/adapters/repository"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/internal/domain/escalation"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/types"
)

const maxBodyBytes = 1 << 20

// JobsHandler handles job requests.
type JobsHandler struct {
	deps  JobDependencies
	retry *retrier
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(deps JobDependencies, r *retrier) *JobsHandler {
	return &JobsHandler{deps: deps, retry: r}
}

type advanceRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type assignRequest struct {
	TechnicianIDs []string `json:"technician_ids"`
	Skills        []string `json:"skills"`
	Actor         string   `json:"actor"`
}

type reassignRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type partRequest struct {
	Availability string `json:"availability"`
}

type sweepResponse struct {
	Escalated int `json:"escalated"`
}

// HandleCreate handles POST /v1/jobs requests.
func (h *JobsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_job"
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateJobSpec(body); err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	var spec model.JobSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	// A fixed id keeps retries from creating the job twice.
	if strings.TrimSpace(spec.ID) == "" {
		spec.ID = uuid.NewString()
	}

	var out types.CreatedJob
	err = h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		out, err = h.deps.CreateJob(ctx, spec)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// HandleGet handles GET /v1/jobs/{id} requests.
func (h *JobsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_job"
	id := mux.Vars(r)["id"]
	var job *model.Job
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		job, err = h.deps.GetJob(ctx, id)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleList handles GET /v1/jobs?open=true&unassigned=true requests.
func (h *JobsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_jobs"
	q := r.URL.Query()
	var filter repository.JobFilter
	var err error
	if filter.OpenOnly, err = boolParam(q.Get("open")); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if filter.Unassigned, err = boolParam(q.Get("unassigned")); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	var jobs []*model.Job
	err = h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		jobs, err = h.deps.ListJobs(ctx, filter)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// HandleAdvance handles POST /v1/jobs/{id}/advance requests.
func (h *JobsHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	const op = "api.advance_job"
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	target, err := model.ParseState(req.Target)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id := mux.Vars(r)["id"]
	var job *model.Job
	err = h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		job, err = h.deps.AdvanceJob(ctx, id, target, req.Reason, req.Actor)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleAssign handles POST /v1/jobs/{id}/assignment requests.
func (h *JobsHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	const op = "api.request_assignment"
	var req assignRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id := mux.Vars(r)["id"]
	filter := PoolFilter{TechnicianIDs: req.TechnicianIDs, Skills: req.Skills}
	var res assignment.Result
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		res, err = h.deps.RequestAssignment(ctx, id, filter, req.Actor)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReassign handles POST /v1/jobs/{id}/reassign requests.
func (h *JobsHandler) HandleReassign(w http.ResponseWriter, r *http.Request) {
	const op = "api.reassign_job"
	var req reassignRequest
	if err := decode(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id := mux.Vars(r)["id"]
	var res assignment.Result
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		res, err = h.deps.ReassignJob(ctx, id, req.Reason, req.Actor)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleEscalation handles GET /v1/jobs/{id}/escalation requests.
func (h *JobsHandler) HandleEscalation(w http.ResponseWriter, r *http.Request) {
	const op = "api.escalation_status"
	id := mux.Vars(r)["id"]
	var st escalation.Status
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		st, err = h.deps.GetEscalationStatus(ctx, id)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandlePart handles PUT /v1/jobs/{id}/parts/{sku} requests.
func (h *JobsHandler) HandlePart(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_part"
	var req partRequest
	if err := decode(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	availability, err := model.ParsePartAvailability(req.Availability)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	vars := mux.Vars(r)
	var job *model.Job
	err = h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		job, err = h.deps.UpdatePartAvailability(ctx, vars["id"], vars["sku"], availability)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleSweep handles POST /v1/escalations/sweep requests.
func (h *JobsHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	const op = "api.sweep"
	n, err := h.deps.Sweep(r.Context())
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Escalated: n})
}

// decodeOptional decodes a body that may be empty.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := decode(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
