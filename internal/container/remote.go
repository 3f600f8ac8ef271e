package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
)

// ErrNotRemote is returned by reconnect operations on a container that is
// not executing remotely.
var ErrNotRemote = errors.New("node is not executing remotely")

// MimicRemotePreExecute moves a marked container to PREEXECUTE as if a
// remote job had picked it up. Executed containers are left alone.
func (c *Container) MimicRemotePreExecute() {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.Executed:
		return
	case nodestate.UnconfiguredMarkedForExec, nodestate.ConfiguredMarkedForExec, nodestate.ExecutedMarkedForExec,
		nodestate.ConfiguredQueued, nodestate.ExecutedQueued:
		c.progress.Reset()
		c.setState(nodestate.PreExecute, "MimicRemotePreExecute")
	default:
		c.illegalState("MimicRemotePreExecute")
	}
}

// MimicRemoteExecuting moves the container to EXECUTINGREMOTELY.
func (c *Container) MimicRemoteExecuting() {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.Executed:
		return
	case nodestate.PreExecute:
		c.setState(nodestate.ExecutingRemotely, "MimicRemoteExecuting")
	default:
		c.illegalState("MimicRemoteExecuting")
	}
}

// MimicRemotePostExecute moves the container to POSTEXECUTE.
func (c *Container) MimicRemotePostExecute() {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.Executed:
		return
	case nodestate.PreExecute, nodestate.ExecutingRemotely:
		c.setState(nodestate.PostExecute, "MimicRemotePostExecute")
	default:
		c.illegalState("MimicRemotePostExecute")
	}
}

// MimicRemoteExecuted finishes a mimicked execution with status.
func (c *Container) MimicRemoteExecuted(status jobmanager.Status) {
	if c.State() == nodestate.Executed {
		return
	}
	c.performStateTransitionExecuted(status)
}

// CreateExecutionResult captures the outcome of an execution so it can be
// applied to a container elsewhere.
func (c *Container) CreateExecutionResult() (jobmanager.Result, error) {
	c.mu.Lock()
	msg, state := c.message, c.state
	c.mu.Unlock()
	out, err := c.comp.Outputs()
	if err != nil {
		return jobmanager.Result{}, err
	}
	return jobmanager.Result{
		Success: state == nodestate.Executed,
		Message: msg.Text,
		Outputs: out,
	}, nil
}

// LoadExecutionResult applies an execution result produced elsewhere.
func (c *Container) LoadExecutionResult(r jobmanager.Result) error {
	if !r.Success {
		if r.Message != "" {
			c.SetMessage(Errorf("%s", r.Message))
		}
		return nil
	}
	if err := c.comp.SetOutputs(r.Outputs); err != nil {
		return err
	}
	if r.Message != "" {
		c.SetMessage(Warningf("%s", r.Message))
	}
	return c.putOutputTablesIntoGlobalRepository()
}

// Describe returns the node type and its encoded model settings.
func (c *Container) Describe() (string, []byte, error) {
	t := settings.New(keyModel)
	c.comp.SaveModelSettings(t)
	return c.comp.Name(), settings.Encode(t), nil
}

// SaveExecutionJobReconnectInfo saves what is needed to reconnect to the
// running remote job and marks the job as saved, so shutdown disconnects
// instead of cancelling it.
func (c *Container) SaveExecutionJobReconnectInfo(sink settings.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nodestate.ExecutingRemotely {
		return fmt.Errorf("%w: %s", ErrNotRemote, c.state)
	}
	if c.job == nil {
		return fmt.Errorf("%w: no job", ErrNotRemote)
	}
	m := c.findJobManagerLocked()
	if !m.CanDisconnect(c.job) {
		return fmt.Errorf("job manager %q cannot disconnect from %s", m.ID(), c.id)
	}
	m.SaveReconnectSettings(c.job, sink)
	c.jobSaved = true
	return nil
}

// ContinueExecutionOnLoad reconnects a loaded container to its remote job.
func (c *Container) ContinueExecutionOnLoad(ctx context.Context, inputs []*tablerepo.Table, src settings.Source) error {
	c.mu.Lock()
	defer c.unlock()
	if c.state != nodestate.ExecutingRemotely {
		return fmt.Errorf("%w: %s", ErrNotRemote, c.state)
	}
	m := c.findJobManagerLocked()
	job, err := m.LoadFromReconnectSettings(ctx, src, c)
	if err != nil {
		c.setMessageLocked(Errorf("Failed to reconnect to remote job: %v", err))
		return err
	}
	c.execCtx = ctx
	c.job = job
	ctxlog.ForNode(ctx, c.id).Info("Reconnected to remote job.", "jobID", job.ID(), "inputs", len(inputs))
	return nil
}

// PerformShutdown releases the container. A job saved for reconnection is
// disconnected, any other running job is canceled. It is idempotent.
func (c *Container) PerformShutdown() {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return
	}
	c.shuttingDown = true
	job, saved := c.job, c.jobSaved
	var m jobmanager.Manager
	if job != nil && saved {
		m = c.findJobManagerLocked()
	}
	inProgress := c.state.IsExecutionInProgress()
	c.mu.Unlock()

	switch {
	case m != nil:
		m.Disconnect(job)
	case inProgress:
		c.CancelExecution()
	}

	c.mu.Lock()
	c.isShutdown = true
	nodestate.Exit(c.state)
	c.mu.Unlock()
	c.flush()
	c.clearListeners()
	c.progress.RemoveAllListeners()
}

// IsShutdown reports whether PerformShutdown ran.
func (c *Container) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isShutdown
}
