package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/repairflow/internal/adapters/mq/queue"
	"github.com/okian/repairflow/internal/adapters/mq/worker"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

// recordingHandler tracks, per job, the order commands ran in and whether
// two commands for one job ever overlapped.
type recordingHandler struct {
	mu       sync.Mutex
	inFlight map[string]int
	order    map[string][]string
	overlap  bool
	block    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{inFlight: map[string]int{}, order: map[string][]string{}}
}

func (h *recordingHandler) Handle(ctx context.Context, cmd model.Command) (any, error) {
	id := cmd.TargetJob()
	h.mu.Lock()
	h.inFlight[id]++
	if h.inFlight[id] > 1 {
		h.overlap = true
	}
	h.mu.Unlock()

	if h.block != nil {
		<-h.block
	}
	time.Sleep(100 * time.Microsecond)

	h.mu.Lock()
	h.inFlight[id]--
	adv, _ := cmd.(model.AdvanceJobCommand)
	h.order[id] = append(h.order[id], adv.Reason)
	h.mu.Unlock()

	if adv.Reason == "fail" {
		return nil, errors.New("boom")
	}
	if adv.Reason == "panic" {
		panic("handler exploded")
	}
	return adv.Reason, nil
}

func cmd(job, reason string) model.AdvanceJobCommand {
	return model.AdvanceJobCommand{JobID: job, Target: model.StateInDiagnosis, Reason: reason}
}

func TestPool(t *testing.T) {
	convey.Convey("Given a started pool", t, func() {
		h := newRecordingHandler()
		pool := worker.NewPool(4, h, worker.WithName("test"))
		pool.Start()
		ctx := context.Background()
		defer func() { _ = pool.Shutdown(ctx) }()

		convey.Convey("Then a job always lands on the same shard", func() {
			convey.So(pool.Shards(), convey.ShouldEqual, 4)
			s := pool.ShardFor("job-42")
			for i := 0; i < 10; i++ {
				convey.So(pool.ShardFor("job-42"), convey.ShouldEqual, s)
			}
		})

		convey.Convey("When submitting a command", func() {
			v, err := pool.Submit(ctx, cmd("job-1", "ok"))
			convey.So(err, convey.ShouldBeNil)
			convey.So(v, convey.ShouldEqual, "ok")
		})

		convey.Convey("When the handler fails", func() {
			_, err := pool.Submit(ctx, cmd("job-1", "fail"))
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldEqual, "boom")
		})

		convey.Convey("When the handler panics", func() {
			_, err := pool.Submit(ctx, cmd("job-1", "panic"))
			convey.So(errors.Is(err, worker.ErrPanic), convey.ShouldBeTrue)

			convey.Convey("Then the shard keeps serving", func() {
				v, err := pool.Submit(ctx, cmd("job-1", "after"))
				convey.So(err, convey.ShouldBeNil)
				convey.So(v, convey.ShouldEqual, "after")
			})
		})

		convey.Convey("When many callers hit the same jobs concurrently", func() {
			var wg sync.WaitGroup
			for j := 0; j < 5; j++ {
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func(j, i int) {
						defer wg.Done()
						_, _ = pool.Submit(ctx, cmd(fmt.Sprintf("job-%d", j), fmt.Sprintf("c%d", i)))
					}(j, i)
				}
			}
			wg.Wait()

			convey.Convey("Then no two commands for one job overlapped", func() {
				h.mu.Lock()
				defer h.mu.Unlock()
				convey.So(h.overlap, convey.ShouldBeFalse)
				for j := 0; j < 5; j++ {
					convey.So(len(h.order[fmt.Sprintf("job-%d", j)]), convey.ShouldEqual, 20)
				}
			})
		})

		convey.Convey("When one caller submits in sequence", func() {
			for i := 0; i < 10; i++ {
				_, _ = pool.Submit(ctx, cmd("job-seq", fmt.Sprintf("%d", i)))
			}
			convey.Convey("Then they run in arrival order", func() {
				h.mu.Lock()
				defer h.mu.Unlock()
				convey.So(h.order["job-seq"], convey.ShouldResemble, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"})
			})
		})
	})
}

func TestPoolBackpressureAndSkip(t *testing.T) {
	convey.Convey("Given a single blocked shard with room for one command", t, func() {
		h := newRecordingHandler()
		h.block = make(chan struct{})
		pool := worker.NewPool(1, h, worker.WithQueueCapacity(1))
		pool.Start()
		ctx := context.Background()

		// occupy the worker
		firstDone := make(chan error, 1)
		go func() {
			_, err := pool.Submit(ctx, cmd("job-1", "first"))
			firstDone <- err
		}()
		time.Sleep(20 * time.Millisecond)

		// fill the queue with a command whose caller gives up
		abandoned, cancel := context.WithCancel(ctx)
		skipped := make(chan error, 1)
		go func() {
			_, err := pool.Submit(abandoned, cmd("job-1", "abandoned"))
			skipped <- err
		}()
		time.Sleep(20 * time.Millisecond)

		convey.Convey("Then the next submission is rejected with backpressure", func() {
			_, err := pool.Submit(ctx, cmd("job-1", "rejected"))
			convey.So(errors.Is(err, queue.ErrBackpressure), convey.ShouldBeTrue)

			cancel()
			convey.So(errors.Is(<-skipped, context.Canceled), convey.ShouldBeTrue)
			close(h.block)
			convey.So(<-firstDone, convey.ShouldBeNil)
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("And the abandoned command never ran", func() {
				h.mu.Lock()
				defer h.mu.Unlock()
				convey.So(h.order["job-1"], convey.ShouldResemble, []string{"first"})
			})

			convey.Convey("And a stopped pool refuses work", func() {
				_, err := pool.Submit(ctx, cmd("job-1", "late"))
				convey.So(errors.Is(err, worker.ErrStopped), convey.ShouldBeTrue)
			})
		})
	})
}
