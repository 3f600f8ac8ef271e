package jobmanager

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"golang.org/x/sync/semaphore"
)

// ThreadManagerID identifies the local manager in saved workflows.
const ThreadManagerID = "thread"

// ThreadManager runs jobs on goroutines, at most workers at a time.
type ThreadManager struct {
	sem     *semaphore.Weighted
	workers int
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewThreadManager creates a manager. workers <= 0 means one per CPU.
func NewThreadManager(workers int) *ThreadManager {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &ThreadManager{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

func (m *ThreadManager) ID() string { return ThreadManagerID }

func (m *ThreadManager) Kind() Kind { return Local }

// Workers returns the concurrency limit.
func (m *ThreadManager) Workers() int { return m.workers }

// SubmitJob starts the job in the background. It never blocks on the
// worker limit.
func (m *ThreadManager) SubmitJob(ctx context.Context, exec Executable, inputs []*tablerepo.Table) (*Job, error) {
	if m.closed.Load() {
		return nil, ErrShutdown
	}
	logger := ctxlog.ForNode(ctx, exec.ID())
	job := newJob(ctx, "", exec.ID())
	m.wg.Add(1)
	go m.work(job, exec, inputs, logger)
	return job, nil
}

func (m *ThreadManager) work(job *Job, exec Executable, inputs []*tablerepo.Table, logger *slog.Logger) {
	defer m.wg.Done()
	if err := m.sem.Acquire(job.ctx, 1); err != nil {
		logger.Debug("Job canceled before it started.", "jobID", job.id)
		job.finish(Canceled)
		return
	}
	defer m.sem.Release(1)
	if job.ctx.Err() != nil {
		job.finish(Canceled)
		return
	}
	logger.Debug("Worker picked up job.", "jobID", job.id)
	status := run(job, exec, func(ctx context.Context) Status {
		return exec.PerformExecuteNode(ctx, inputs)
	})
	logger.Debug("Job finished.", "jobID", job.id, "status", status)
	job.finish(status)
}

func (m *ThreadManager) CanDisconnect(*Job) bool { return false }

func (m *ThreadManager) Disconnect(*Job) {}

func (m *ThreadManager) SaveReconnectSettings(*Job, settings.Sink) {}

func (m *ThreadManager) LoadFromReconnectSettings(context.Context, settings.Source, Executable) (*Job, error) {
	return nil, ErrNotRemote
}

// Wait blocks until every submitted job stopped.
func (m *ThreadManager) Wait() { m.wg.Wait() }

// Shutdown rejects new jobs and waits for running ones.
func (m *ThreadManager) Shutdown() {
	m.closed.Store(true)
	m.wg.Wait()
}
