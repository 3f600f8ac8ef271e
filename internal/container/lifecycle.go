package container

import (
	"context"
	"fmt"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/tablerepo"
)

// MarkForExecution marks or unmarks the container for execution.
func (c *Container) MarkForExecution(flag bool) {
	c.mu.Lock()
	defer c.unlock()
	if flag {
		switch c.state {
		case nodestate.Idle:
			c.setExecutionEnvironment(NewExecutionEnvironment())
			c.setState(nodestate.UnconfiguredMarkedForExec, "MarkForExecution")
		case nodestate.Configured:
			c.setExecutionEnvironment(NewExecutionEnvironment())
			c.setState(nodestate.ConfiguredMarkedForExec, "MarkForExecution")
		default:
			c.illegalState("MarkForExecution")
		}
		return
	}
	switch c.state {
	case nodestate.UnconfiguredMarkedForExec:
		c.setState(nodestate.Idle, "MarkForExecution")
	case nodestate.ConfiguredMarkedForExec:
		c.setState(nodestate.Configured, "MarkForExecution")
	case nodestate.ExecutedMarkedForExec:
		c.setState(nodestate.Executed, "MarkForExecution")
	default:
		c.illegalState("MarkForExecution")
	}
	c.setExecutionEnvironment(nil)
}

// MarkForReExecution marks an executed container to run again without a
// reset. env must request re-execution.
func (c *Container) MarkForReExecution(env *ExecutionEnvironment) {
	c.mu.Lock()
	defer c.unlock()
	if c.state != nodestate.Executed {
		c.illegalState("MarkForReExecution")
	}
	if env == nil || !env.ReExecute() {
		c.invariant("re-execution requires a re-execution environment")
	}
	c.setExecutionEnvironment(env)
	c.setState(nodestate.ExecutedMarkedForExec, "MarkForReExecution")
}

// Queue hands a marked container to its job manager. It returns false for
// an unconfigured container, leaving its state untouched. If the job cannot
// be submitted the container runs through the whole notification sequence
// with a failure status.
func (c *Container) Queue(ctx context.Context, inputs []*tablerepo.Table) bool {
	queued, err := c.submit(ctx, inputs)
	if !queued {
		return false
	}
	if err != nil {
		ctxlog.ForNode(ctx, c.id).Error("Failed to submit job.", "error", err)
		c.NotifyParentPreExecuteStart()
		_ = c.NotifyParentExecuteStart()
		c.NotifyParentPostExecuteStart(jobmanager.Failure)
		c.NotifyParentExecuteFinished(jobmanager.Failure)
	}
	return true
}

func (c *Container) submit(ctx context.Context, inputs []*tablerepo.Table) (bool, error) {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.UnconfiguredMarkedForExec:
		return false, nil
	case nodestate.ConfiguredMarkedForExec:
		c.setState(nodestate.ConfiguredQueued, "Queue")
	case nodestate.ExecutedMarkedForExec:
		c.setState(nodestate.ExecutedQueued, "Queue")
	default:
		c.illegalState("Queue")
	}
	c.execCtx = ctx
	m := c.findJobManagerLocked()
	job, err := submitJob(ctx, m, c, inputs)
	if err != nil {
		c.setMessageLocked(Errorf("Failed to submit job to job manager %q: %v", m.ID(), err))
		return true, err
	}
	c.job = job
	c.jobSaved = false
	return true, nil
}

// submitJob turns a panicking manager into a submission error.
func submitJob(ctx context.Context, m jobmanager.Manager, c *Container, inputs []*tablerepo.Table) (job *jobmanager.Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			job, err = nil, fmt.Errorf("job manager panicked: %v", r)
		}
	}()
	return m.SubmitJob(ctx, c, inputs)
}

// CancelExecution cancels a marked, queued or running container. It is a
// no-op on an executed container.
func (c *Container) CancelExecution() {
	c.mu.Lock()
	defer c.unlock()
	logger := ctxlog.ForNode(c.execCtx, c.id)
	switch c.state {
	case nodestate.UnconfiguredMarkedForExec:
		c.setState(nodestate.Idle, "CancelExecution")
		c.setExecutionEnvironment(nil)
	case nodestate.ConfiguredMarkedForExec:
		c.setState(nodestate.Configured, "CancelExecution")
		c.setExecutionEnvironment(nil)
	case nodestate.ExecutedMarkedForExec:
		c.setState(nodestate.Executed, "CancelExecution")
		c.setExecutionEnvironment(nil)
	case nodestate.ConfiguredQueued, nodestate.ExecutedQueued:
		c.progress.Cancel()
		if c.job != nil {
			c.job.Cancel()
			c.job = nil
		}
		c.setExecutionEnvironment(nil)
		if c.state == nodestate.ExecutedQueued {
			c.setState(nodestate.Executed, "CancelExecution")
		} else {
			c.setState(nodestate.Configured, "CancelExecution")
		}
	case nodestate.Executing:
		c.progress.Cancel()
		if c.job != nil {
			c.job.Cancel()
		}
	case nodestate.PreExecute, nodestate.PostExecute, nodestate.ExecutingRemotely:
		if c.job != nil {
			c.progress.Cancel()
			c.job.Cancel()
			return
		}
		logger.Warn("Canceling node without job, resetting it.", "state", c.state)
		c.setState(nodestate.Idle, "CancelExecution")
		c.setExecutionEnvironment(nil)
	case nodestate.Executed:
		// nothing to cancel
	default:
		logger.Debug("Nothing to cancel.", "state", c.state)
	}
}

// RawReset resets the container without touching its neighbours.
func (c *Container) RawReset() {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.ExecutedMarkedForExec:
		c.setExecutionEnvironment(nil)
		c.performReset()
		c.setState(nodestate.Idle, "RawReset")
	case nodestate.ConfiguredMarkedForExec:
		c.setExecutionEnvironment(nil)
		c.setState(nodestate.Configured, "RawReset")
	case nodestate.UnconfiguredMarkedForExec:
		c.setExecutionEnvironment(nil)
		c.setState(nodestate.Idle, "RawReset")
	case nodestate.Executed, nodestate.Configured:
		c.performReset()
		c.setState(nodestate.Idle, "RawReset")
	default:
		c.illegalState("RawReset")
	}
}

// performReset runs the reset hook. Callers hold c.mu.
func (c *Container) performReset() {
	c.comp.Reset()
	c.clearFileStoreHandler()
	c.cleanOutPorts(false)
	c.execBundle = nil
	c.dirty = true
}

// CleanOutPorts drops the outputs, e.g. before a loop restart.
func (c *Container) CleanOutPorts(isLoopRestart bool) {
	c.mu.Lock()
	defer c.unlock()
	c.cleanOutPorts(isLoopRestart)
}

// cleanOutPorts drops the outputs and releases temp tables. Callers hold c.mu.
func (c *Container) cleanOutPorts(isLoopRestart bool) {
	if n := c.comp.CleanOutPorts(c.tables(), isLoopRestart); n > 0 {
		ctxlog.ForNode(c.execCtx, c.id).Debug("Released temporary tables.", "count", n)
	}
}

func (c *Container) tables() *tablerepo.Repository {
	if c.parent == nil {
		return nil
	}
	return c.parent.TableRepository()
}

// IsResetable reports whether RawReset is legal.
func (c *Container) IsResetable() bool {
	return c.State().IsResetable()
}

// CanPerformReset reports whether a reset would change anything.
func (c *Container) CanPerformReset() bool {
	return c.State() == nodestate.Executed
}
