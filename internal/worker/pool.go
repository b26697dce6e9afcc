// Package worker provides the in-process execution backend: a bounded pool
// that runs agent executor jobs asynchronously and reports outcomes back to
// the dispatch coordinator.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/zulandar/relay/internal/dispatch"
	"github.com/zulandar/relay/internal/models"
)

// queueDepth is the number of accepted-but-not-started jobs the pool will
// hold before refusing submissions.
const queueDepth = 128

// Executor runs one agent round. It is the black box behind the pool: given
// a job (query or decision+checkpoint, plus memory context) it returns the
// round's result or an execution error.
type Executor interface {
	Execute(ctx context.Context, job dispatch.Job) (dispatch.Result, error)
}

// Reporter receives execution outcomes. *dispatch.Coordinator satisfies it.
type Reporter interface {
	OnExecutionComplete(ctx context.Context, ref dispatch.Ref, expectedPrior string, result dispatch.Result)
	OnExecutionFailed(ctx context.Context, ref dispatch.Ref, expectedPrior string, err error)
}

// Pool implements dispatch.Backend. Accepted jobs queue on a channel; a
// dispatcher goroutine hands them to executor goroutines, with a weighted
// semaphore capping how many run at once.
type Pool struct {
	executor Executor
	reporter Reporter
	sem      *semaphore.Weighted
	log      *slog.Logger

	mu      sync.Mutex
	jobs    chan dispatch.Job
	started bool
	closed  bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a Pool running at most maxConcurrent executors at once.
func NewPool(executor Executor, reporter Reporter, maxConcurrent int64, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		executor: executor,
		reporter: reporter,
		sem:      semaphore.NewWeighted(maxConcurrent),
		log:      log,
		jobs:     make(chan dispatch.Job, queueDepth),
	}
}

// SetReporter attaches the outcome reporter. The pool and the coordinator
// reference each other, so one side binds after construction; this must
// happen before Start.
func (p *Pool) SetReporter(reporter Reporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reporter = reporter
}

// Start launches the dispatcher. Must be called before Submit.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.dispatchLoop()
}

// Stop refuses further submissions, cancels in-flight executors, and waits
// for them to report.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Submit accepts a job for asynchronous execution. An error means the job
// was not accepted and nothing will run.
func (p *Pool) Submit(ctx context.Context, job dispatch.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("worker: pool not started")
	}
	if p.closed {
		return fmt.Errorf("worker: pool stopped")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return fmt.Errorf("worker: queue full (%d pending)", queueDepth)
	}
}

func (p *Pool) dispatchLoop() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.sem.Acquire(p.runCtx, 1); err != nil {
			// Shutting down; fail the job so it is not silently lost.
			p.reporter.OnExecutionFailed(context.Background(), job.Ref, models.TaskRunning,
				fmt.Errorf("worker: pool shut down before execution"))
			continue
		}
		p.wg.Add(1)
		go func(job dispatch.Job) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.run(job)
		}(job)
	}
}

// run executes one job and reports the outcome. The report itself uses a
// fresh context: a cancelled executor must still be able to record failure.
func (p *Pool) run(job dispatch.Job) {
	p.log.Debug("executing job", "task_id", job.TaskID, "kind", job.Kind, "handle", job.Handle)
	result, err := p.executor.Execute(p.runCtx, job)
	reportCtx := context.Background()
	if err != nil {
		p.reporter.OnExecutionFailed(reportCtx, job.Ref, models.TaskRunning, err)
		return
	}
	p.reporter.OnExecutionComplete(reportCtx, job.Ref, models.TaskRunning, result)
}
