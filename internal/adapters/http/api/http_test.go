package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/repairflow/internal/adapters/http/api"
	"github.com/okian/repairflow/internal/adapters/mq/queue"
	"github.com/okian/repairflow/internal/adapters/repository"
	service "github.com/okian/repairflow/internal/app"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/internal/domain/types"
	"github.com/okian/repairflow/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func newRouter(deps api.Dependencies) *mux.Router {
	r := mux.NewRouter()
	api.NewServer(deps, api.WithRetry(3, time.Millisecond, 2*time.Millisecond)).Register(context.Background(), r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

const jobBody = `{
	"id": "job-1",
	"priority": "high",
	"required_skills": ["screen_repair"],
	"location": {"lat": 45.4642, "lng": 9.19},
	"parts": [{"sku": "LCD-7", "availability": "order_required"}],
	"auto_assign": true
}`

const techBody = `{
	"name": "Giulia",
	"skills": ["Screen_Repair"],
	"location": {"lat": 45.4642, "lng": 9.19},
	"performance_score": 75
}`

func TestServer_JobRoutes(t *testing.T) {
	Convey("Given the API in front of a running service", t, func() {
		svc := service.New(service.WithLogger(logger.NewNop()), service.WithShards(2))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		r := newRouter(svc)

		So(do(r, http.MethodPut, "/v1/technicians/giulia", techBody).Code, ShouldEqual, http.StatusOK)

		Convey("When a job body breaks the schema", func() {
			w := do(r, http.MethodPost, "/v1/jobs", `{"priority": "soon", "location": {"lat": 1, "lng": 2}}`)

			Convey("Then it is rejected with 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeBody[types.ErrorBody](w).Kind, ShouldEqual, "bad_request")
			})
		})

		Convey("When a job is created with auto assignment", func() {
			w := do(r, http.MethodPost, "/v1/jobs", jobBody)
			So(w.Code, ShouldEqual, http.StatusCreated)
			created := decodeBody[types.CreatedJob](w)

			Convey("Then it is assigned and readable", func() {
				So(created.ID, ShouldEqual, "job-1")
				So(created.Assignment.TechnicianID, ShouldEqual, "giulia")

				w := do(r, http.MethodGet, "/v1/jobs/job-1", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				job := decodeBody[model.Job](w)
				So(job.State, ShouldEqual, model.StateCreated)
				So(job.AssignedTechnicianID, ShouldEqual, "giulia")

				w = do(r, http.MethodGet, "/v1/jobs?open=true", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(len(decodeBody[[]model.Job](w)), ShouldEqual, 1)
			})

			Convey("Then an illegal move is a conflict", func() {
				w := do(r, http.MethodPost, "/v1/jobs/job-1/advance", `{"target": "testing"}`)
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decodeBody[types.ErrorBody](w).Kind, ShouldEqual, "illegal_transition")
			})

			Convey("Then an unknown target is a bad request", func() {
				w := do(r, http.MethodPost, "/v1/jobs/job-1/advance", `{"target": "teleported"}`)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("Then missing parts block testing", func() {
				for _, target := range []string{"in_diagnosis", "awaiting_approval", "approved", "in-progress", "parts_ordered"} {
					w := do(r, http.MethodPost, "/v1/jobs/job-1/advance", `{"target": "`+target+`", "actor": "bench"}`)
					So(w.Code, ShouldEqual, http.StatusOK)
				}
				w := do(r, http.MethodPost, "/v1/jobs/job-1/advance", `{"target": "testing"}`)
				So(w.Code, ShouldEqual, http.StatusConflict)
				body := decodeBody[types.ErrorBody](w)
				So(body.Kind, ShouldEqual, "parts_not_ready")
				So(body.Details, ShouldResemble, []any{"LCD-7"})

				So(do(r, http.MethodPut, "/v1/jobs/job-1/parts/LCD-7", `{"availability": "in_stock"}`).Code, ShouldEqual, http.StatusOK)
				So(do(r, http.MethodPost, "/v1/jobs/job-1/advance", `{"target": "testing"}`).Code, ShouldEqual, http.StatusOK)
			})

			Convey("Then a second assignment is a conflict and reassign needs a reason", func() {
				So(do(r, http.MethodPost, "/v1/jobs/job-1/assignment", "").Code, ShouldEqual, http.StatusConflict)
				So(do(r, http.MethodPost, "/v1/jobs/job-1/reassign", `{"actor": "desk"}`).Code, ShouldEqual, http.StatusBadRequest)
				w := do(r, http.MethodPost, "/v1/jobs/job-1/reassign", `{"reason": "sick", "actor": "desk"}`)
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decodeBody[types.ErrorBody](w).Kind, ShouldEqual, "no_eligible_technician")
			})

			Convey("Then outcomes apply once", func() {
				first := do(r, http.MethodPost, "/v1/technicians/giulia/outcomes", `{"job_id": "job-1", "score": 90}`)
				So(first.Code, ShouldEqual, http.StatusOK)
				So(decodeBody[types.Outcome](first).Duplicate, ShouldBeFalse)
				second := do(r, http.MethodPost, "/v1/technicians/giulia/outcomes", `{"job_id": "job-1", "score": 90}`)
				So(decodeBody[types.Outcome](second).Duplicate, ShouldBeTrue)
				So(do(r, http.MethodPost, "/v1/technicians/giulia/outcomes", `{"job_id": "job-1"}`).Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("Then escalation status is served", func() {
				w := do(r, http.MethodGet, "/v1/jobs/job-1/escalation", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"level":0`)
				So(do(r, http.MethodPost, "/v1/escalations/sweep", "").Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When a job does not exist", func() {
			w := do(r, http.MethodGet, "/v1/jobs/ghost", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeBody[types.ErrorBody](w).Kind, ShouldEqual, "not_found")
		})

		Convey("When listing technicians by skill", func() {
			w := do(r, http.MethodGet, "/v1/technicians?skill=screen_repair", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			techs := decodeBody[[]model.Technician](w)
			So(len(techs), ShouldEqual, 1)
			So(techs[0].Skills, ShouldResemble, []string{"screen_repair"})
			So(do(r, http.MethodGet, "/v1/technicians?skill=battery", "").Body.String(), ShouldEqual, "[]\n")
		})

		Convey("When health and stats are requested", func() {
			So(do(r, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			w := do(r, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			stats := decodeBody[types.Stats](w)
			So(stats.Started, ShouldBeTrue)
			So(stats.Technicians, ShouldEqual, 1)
		})

		Convey("When a route is called with the wrong method", func() {
			So(do(r, http.MethodDelete, "/v1/jobs/job-1", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

// flakyDeps fails GetJob with err until calls reaches succeedOn.
type flakyDeps struct {
	api.Dependencies
	err       error
	succeedOn int32
	calls     atomic.Int32
}

func (f *flakyDeps) GetJob(_ context.Context, id string) (*model.Job, error) {
	if n := f.calls.Add(1); f.succeedOn == 0 || n < f.succeedOn {
		return nil, f.err
	}
	return &model.Job{ID: id, State: model.StateCreated}, nil
}

func TestServer_Retries(t *testing.T) {
	Convey("Given a service whose store times out twice", t, func() {
		deps := &flakyDeps{
			err:       &repository.StoreTimeoutError{Op: "get_job", Timeout: time.Millisecond, Err: context.DeadlineExceeded},
			succeedOn: 3,
		}
		w := do(newRouter(deps), http.MethodGet, "/v1/jobs/job-9", "")

		Convey("Then the request succeeds on the third attempt", func() {
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.calls.Load(), ShouldEqual, 3)
		})
	})

	Convey("Given a service that stays under backpressure", t, func() {
		deps := &flakyDeps{err: &queue.BackpressureError{Shard: 1, Capacity: 8}}
		w := do(newRouter(deps), http.MethodGet, "/v1/jobs/job-9", "")

		Convey("Then the client gets 429 after the retry budget", func() {
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(deps.calls.Load(), ShouldEqual, 3)
		})
	})

	Convey("Given a service that fails permanently", t, func() {
		deps := &flakyDeps{err: errors.New("disk on fire")}
		w := do(newRouter(deps), http.MethodGet, "/v1/jobs/job-9", "")

		Convey("Then it is not retried", func() {
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
			So(deps.calls.Load(), ShouldEqual, 1)
		})
	})
}

func TestErrorHelpers(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		base := errors.New("boom")

		Convey("Then kinds and causes stay reachable", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, base)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, base), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
			So(api.Wrap("api.op", nil), ShouldBeNil)
			So(api.NewKind("api.op", api.ErrSchema).Error(), ShouldEqual, "api.op: request does not match schema")
		})
	})
}
