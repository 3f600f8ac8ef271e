package jobmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vk/nodeflow/internal/nodeid"
)

var errDisconnected = errors.New("job disconnected")

// Job is one submitted execution.
type Job struct {
	id   string
	node nodeid.ID

	ctx    context.Context
	cancel context.CancelCauseFunc

	started      atomic.Bool
	disconnected atomic.Bool
	done         chan struct{}
	once         sync.Once
	status       Status
}

func newJob(ctx context.Context, id string, node nodeid.ID) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	jctx, cancel := context.WithCancelCause(ctx)
	return &Job{id: id, node: node, ctx: jctx, cancel: cancel, done: make(chan struct{})}
}

func (j *Job) ID() string { return j.id }

func (j *Job) Node() nodeid.ID { return j.node }

// Cancel stops a job that has not started and cancels the context of a
// running one. It is safe to call more than once.
func (j *Job) Cancel() { j.cancel(context.Canceled) }

// Done is closed when the job stopped.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job stopped and returns its status.
func (j *Job) Wait() Status {
	<-j.done
	return j.status
}

// Started reports whether the job got past the queue.
func (j *Job) Started() bool { return j.started.Load() }

// Disconnected reports whether the manager detached from the job.
func (j *Job) Disconnected() bool { return j.disconnected.Load() }

func (j *Job) finish(s Status) {
	j.once.Do(func() {
		j.status = s
		j.cancel(nil)
		close(j.done)
	})
}

// run drives exec through the notification protocol with body as the
// execution step.
func run(j *Job, exec Executable, body func(ctx context.Context) Status) Status {
	j.started.Store(true)
	if !exec.NotifyParentPreExecuteStart() {
		return Canceled
	}
	status := Success
	if err := exec.NotifyParentExecuteStart(); err != nil {
		status = Failure
	}
	if status == Success {
		status = body(j.ctx)
	}
	if j.disconnected.Load() {
		return status
	}
	exec.NotifyParentPostExecuteStart(status)
	exec.NotifyParentExecuteFinished(status)
	return status
}
