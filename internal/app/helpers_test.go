package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/repairflow/internal/adapters/notify"
	service "github.com/okian/repairflow/internal/app"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var (
	t0   = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	shop = model.Location{Lat: 52.3676, Lng: 4.9041, Address: "Damrak 1"}
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder captures notifications and optionally fails them.
type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail error
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.fail
}

func (r *recorder) Messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.msgs...)
}

var errWebhookDown = errors.New("webhook down")

type harness struct {
	svc   *service.Service
	clock *clock
	notes *recorder
}

// startService builds and starts a service on a fake clock. The sweep
// interval is long so tests drive escalation through Sweep.
func startService(opts ...service.Option) *harness {
	h := &harness{clock: newClock(), notes: &recorder{}}
	base := []service.Option{
		service.WithShards(4),
		service.WithClock(h.clock.Now),
		service.WithNotifier(h.notes),
		service.WithSweepInterval(time.Hour),
	}
	h.svc = service.New(append(base, opts...)...)
	So(h.svc.Start(context.Background()), ShouldBeNil)
	return h
}

func technician(id string, skills []string, active int, perf float64) *model.Technician {
	return &model.Technician{
		ID:               id,
		Skills:           skills,
		Location:         shop,
		ActiveJobCount:   active,
		PerformanceScore: perf,
	}
}

func seed(svc *service.Service, techs ...*model.Technician) {
	for _, t := range techs {
		So(svc.UpsertTechnician(context.Background(), t), ShouldBeNil)
	}
}

func screenJob(priority model.Priority) model.JobSpec {
	return model.JobSpec{
		CustomerID:     "cust-1",
		Description:    "cracked display",
		Priority:       priority,
		RequiredSkills: []string{"screen_repair"},
		Location:       shop,
		EstimatedHours: 2,
	}
}

// walk advances a job through targets and fails the test on any error.
func walk(svc *service.Service, jobID string, targets ...model.State) *model.Job {
	var job *model.Job
	for _, target := range targets {
		var err error
		job, err = svc.AdvanceJob(context.Background(), jobID, target, "", "bench")
		So(err, ShouldBeNil)
		So(job.State, ShouldEqual, target)
	}
	return job
}

// toQualityCheck takes a freshly assigned job from CREATED to QUALITY_CHECK.
func toQualityCheck(svc *service.Service, jobID string) {
	walk(svc, jobID,
		model.StateInDiagnosis,
		model.StateAwaitingApproval,
		model.StateApproved,
		model.StateInProgress,
		model.StatePartsOrdered,
		model.StateTesting,
		model.StateQualityCheck,
	)
}
