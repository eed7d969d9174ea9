// Package worker runs job commands on per-job shards.
//
// Every command for a job hashes to the same shard, and each shard is
// served by exactly one goroutine, so commands for one job apply in
// arrival order and never overlap. Different jobs proceed in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/repairflow/internal/adapters/mq/queue"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/okian/repairflow/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Handler executes one command. It runs on the shard that owns the job.
type Handler interface {
	Handle(ctx context.Context, cmd model.Command) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd model.Command) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd model.Command) (any, error) { return f(ctx, cmd) }

// InMemoryWorker drains one shard queue.
type InMemoryWorker struct {
	name    string
	queue   queue.Queue
	handler Handler
	done    chan struct{}
	logger  logger.Logger
}

func newWorker(name string, q queue.Queue, h Handler, l logger.Logger) *InMemoryWorker {
	return &InMemoryWorker{
		name:    name,
		queue:   q,
		handler: h,
		done:    make(chan struct{}),
		logger:  l.Named(name),
	}
}

// Run processes envelopes until the queue is closed and drained.
func (w *InMemoryWorker) Run() {
	defer close(w.done)
	for env := range w.queue.Dequeue() {
		metrics.RecordQueueDequeue()
		w.process(env)
	}
}

func (w *InMemoryWorker) process(env queue.Envelope) { //nolint:gocritic // hugeParam: envelopes travel by value
	// the caller gave up while the command was queued
	if err := env.Ctx.Err(); err != nil {
		metrics.RecordCommandSkipped()
		env.Reply <- queue.Result{Err: err}
		return
	}

	start := time.Now()
	v, err := w.safeHandle(env)
	metrics.RecordCommandLatency(env.Command.Name(), float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		w.logger.Debug(env.Ctx, "command failed",
			logger.String("command", env.Command.Name()),
			logger.String("jobID", env.Command.TargetJob()),
			logger.Error(err),
		)
	}
	env.Reply <- queue.Result{Value: v, Err: err}
}

func (w *InMemoryWorker) safeHandle(env queue.Envelope) (v any, err error) { //nolint:gocritic // hugeParam: envelopes travel by value
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(env.Ctx, "command handler panicked",
				logger.String("command", env.Command.Name()),
				logger.String("jobID", env.Command.TargetJob()),
				logger.Any("panic", r),
			)
			v, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return w.handler.Handle(env.Ctx, env.Command)
}

// Pool owns one worker per shard.
type Pool struct {
	name          string
	queueCapacity int
	queues        []*queue.InMemoryQueue
	workers       []*InMemoryWorker
	logger        logger.Logger
}

// NewPool creates a pool with the given number of shards.
// A non-positive count uses runtime.NumCPU().
func NewPool(shards int, handler Handler, opts ...Option) *Pool {
	if shards < 1 {
		shards = runtime.NumCPU()
	}
	p := &Pool{
		name:          "shard-pool",
		queueCapacity: defaultQueueCapacity,
		logger:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named(p.name)

	p.queues = make([]*queue.InMemoryQueue, shards)
	p.workers = make([]*InMemoryWorker, shards)
	for i := 0; i < shards; i++ {
		p.queues[i] = queue.NewInMemoryQueue(queue.WithCapacity(p.queueCapacity), queue.WithShard(i))
		p.workers[i] = newWorker("shard-"+strconv.Itoa(i), p.queues[i], handler, p.logger)
	}
	return p
}

// Start launches one goroutine per shard.
func (p *Pool) Start() {
	for _, w := range p.workers {
		go w.Run()
	}
	metrics.UpdateWorkerCount(len(p.workers))
}

// Shards returns the shard count.
func (p *Pool) Shards() int { return len(p.workers) }

// ShardFor maps a job id to its shard.
func (p *Pool) ShardFor(jobID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return int(h.Sum32() % uint32(len(p.workers))) //nolint:gosec // shard count is small and positive
}

// Len returns the number of commands waiting across all shards.
func (p *Pool) Len() int {
	n := 0
	for _, q := range p.queues {
		n += q.Len()
	}
	return n
}

// Submit routes cmd to its shard and waits for the result.
// A full shard returns *queue.BackpressureError without waiting.
func (p *Pool) Submit(ctx context.Context, cmd model.Command) (any, error) {
	env := queue.NewEnvelope(ctx, cmd)
	if err := p.queues[p.ShardFor(cmd.TargetJob())].Enqueue(ctx, env); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return nil, ErrStopped
		}
		return nil, err
	}
	select {
	case res := <-env.Reply:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting commands and waits for queued ones to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, q := range p.queues {
		_ = q.Close()
	}
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "shard shutdown timed out", logger.Int("shard", i))
			return fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
