package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/types"
)

// TechniciansHandler handles technician requests.
type TechniciansHandler struct {
	deps  TechnicianDependencies
	retry *retrier
}

// NewTechniciansHandler creates a new technicians handler.
func NewTechniciansHandler(deps TechnicianDependencies, r *retrier) *TechniciansHandler {
	return &TechniciansHandler{deps: deps, retry: r}
}

type outcomeRequest struct {
	JobID string   `json:"job_id"`
	Score *float64 `json:"score"`
}

// HandleUpsert handles PUT /v1/technicians/{id} requests. The path id wins
// over any id in the body.
func (h *TechniciansHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	const op = "api.upsert_technician"
	var tech model.Technician
	if err := decode(r, &tech); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	tech.ID = mux.Vars(r)["id"]
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		return h.deps.UpsertTechnician(ctx, &tech)
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	h.writeTechnician(w, r, op, tech.ID)
}

// HandleGet handles GET /v1/technicians/{id} requests.
func (h *TechniciansHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.writeTechnician(w, r, "api.get_technician", mux.Vars(r)["id"])
}

func (h *TechniciansHandler) writeTechnician(w http.ResponseWriter, r *http.Request, op, id string) {
	var tech *model.Technician
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		tech, err = h.deps.GetTechnician(ctx, id)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, tech)
}

// HandleList handles GET /v1/technicians?skill=a,b&id=x requests.
func (h *TechniciansHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_technicians"
	q := r.URL.Query()
	filter := PoolFilter{
		TechnicianIDs: splitList(q["id"]),
		Skills:        splitList(q["skill"]),
	}
	var techs []*model.Technician
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		techs, err = h.deps.ListTechnicians(ctx, filter)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if techs == nil {
		techs = []*model.Technician{}
	}
	writeJSON(w, http.StatusOK, techs)
}

// HandleOutcome handles POST /v1/technicians/{id}/outcomes requests.
func (h *TechniciansHandler) HandleOutcome(w http.ResponseWriter, r *http.Request) {
	const op = "api.record_outcome"
	var req outcomeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.JobID) == "" || req.Score == nil {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	techID := mux.Vars(r)["id"]
	var out types.Outcome
	err := h.retry.do(r.Context(), op, func(ctx context.Context) error {
		var err error
		out, err = h.deps.RecordOutcome(ctx, req.JobID, techID, *req.Score)
		return err
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// splitList flattens repeated and comma separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
