package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
)

var _ jobmanager.RemoteExecutable = (*Container)(nil)

// NotifyParentPreExecuteStart moves a queued container to PREEXECUTE. It
// returns false if the container was canceled in the meantime.
func (c *Container) NotifyParentPreExecuteStart() bool {
	if c.parent != nil && !c.parent.DoBeforePreExecution(c) {
		return false
	}
	return c.performStateTransitionPreExecute()
}

// NotifyParentExecuteStart moves the container to EXECUTING, or
// EXECUTINGREMOTELY for remote job managers.
func (c *Container) NotifyParentExecuteStart() error {
	var parentErr error
	if c.parent != nil {
		parentErr = c.parent.DoBeforeExecution(c)
	}
	if err := c.performStateTransitionExecuting(); err != nil {
		return err
	}
	if parentErr != nil {
		c.SetMessage(Errorf("Execution not possible: %v", parentErr))
	}
	return parentErr
}

func (c *Container) NotifyParentPostExecuteStart(status jobmanager.Status) {
	if c.parent != nil {
		c.parent.DoBeforePostExecution(c, status)
	}
	c.performStateTransitionPostExecute()
}

func (c *Container) NotifyParentExecuteFinished(status jobmanager.Status) {
	c.performStateTransitionExecuted(status)
	if c.parent != nil {
		c.parent.DoAfterExecution(c, status)
	}
}

func (c *Container) performStateTransitionPreExecute() bool {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.ConfiguredQueued, nodestate.ExecutedQueued:
		c.progress.Reset()
		c.setState(nodestate.PreExecute, "PreExecute")
		return true
	}
	// Any other state means the container was canceled before the job ran.
	return false
}

func (c *Container) performStateTransitionExecuting() error {
	c.mu.Lock()
	defer c.unlock()
	if c.state != nodestate.PreExecute {
		c.illegalState("Executing")
	}
	c.comp.ClearLoopContext()
	if c.findJobManagerLocked().Kind() == jobmanager.Local {
		c.setState(nodestate.Executing, "Executing")
	} else {
		c.setState(nodestate.ExecutingRemotely, "Executing")
	}
	if err := c.initFileStoreHandler(); err != nil {
		c.setMessageLocked(Errorf("File store: %v", err))
		return err
	}
	return nil
}

func (c *Container) performStateTransitionPostExecute() {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.PreExecute, nodestate.Executing, nodestate.ExecutingRemotely:
		c.setState(nodestate.PostExecute, "PostExecute")
	default:
		c.illegalState("PostExecute")
	}
}

func (c *Container) performStateTransitionExecuted(status jobmanager.Status) {
	c.mu.Lock()
	defer c.unlock()
	if c.state != nodestate.PostExecute {
		c.illegalState("Executed")
	}
	if h := c.comp.FileStoreHandler(); h != nil {
		h.Close()
	}
	switch {
	case status == jobmanager.Success && c.comp.LoopContext() != nil:
		// The loop end waits for the next iteration.
		c.setState(nodestate.ConfiguredMarkedForExec, "Executed")
		c.postProperty(PropertyLoopStatus, c.loopStatusLocked())
	case status == jobmanager.Success:
		bundle := c.bundle
		c.execBundle = &bundle
		c.setExecutionEnvironment(nil)
		c.setState(nodestate.Executed, "Executed")
		if c.comp.IsLoopEnd() {
			c.postProperty(PropertyLoopStatus, c.loopStatusLocked())
		}
	default:
		kept := c.message
		if status == jobmanager.Canceled && kept.Type == MessageNone {
			kept = Warningf("Execution canceled")
		}
		c.comp.Reset()
		c.cleanOutPorts(false)
		c.clearFileStoreHandler()
		c.setMessageLocked(kept)
		c.setExecutionEnvironment(nil)
		c.setState(nodestate.Idle, "Executed")
	}
	c.job = nil
	c.jobSaved = false
	c.dirty = true
}

// PerformExecuteNode runs the computation outside the container mutex and
// publishes its outputs into the workflow's table repository.
func (c *Container) PerformExecuteNode(ctx context.Context, inputs []*tablerepo.Table) (status jobmanager.Status) {
	logger := ctxlog.ForNode(ctx, c.id)
	if c.progress.Canceled() {
		c.SetMessage(Warningf("Execution canceled"))
		return jobmanager.Canceled
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Node panicked during execution.", "panic", r)
			c.SetMessage(Errorf("Execute failed: %v", r))
			status = jobmanager.Failure
		}
	}()

	// Flow variables may have changed since configure, e.g. in a loop body.
	model, err := c.Settings().applyOverrides(c.comp.InStack())
	if err == nil {
		err = c.comp.LoadModelSettings(model)
	}
	if err != nil {
		logger.Error("Failed to apply flow variables.", "error", err)
		c.SetMessage(Errorf("Failed to apply flow variables: %v", err))
		return jobmanager.Failure
	}

	ec := unit.NewExecutionContext(ctx, unit.ExecutionOptions{
		Node:        c.id,
		Stack:       c.comp.NewOutStack(),
		Credentials: c.credentials(),
		Progress:    c.progress,
		Tables:      c.tables(),
		FileStore:   c.comp.FileStoreHandler(),
	})
	logger.Debug("Executing node.", "type", c.comp.Name())
	err = c.comp.Execute(ec, inputs)
	switch {
	case errors.Is(err, unit.ErrCanceled):
		logger.Info("Node execution canceled.")
		c.SetMessage(Warningf("Execution canceled"))
		return jobmanager.Canceled
	case err != nil:
		logger.Error("Node execution failed.", "error", err)
		c.SetMessage(Errorf("Execute failed: %v", err))
		return jobmanager.Failure
	}
	if err := c.putOutputTablesIntoGlobalRepository(); err != nil {
		c.SetMessage(Errorf("Execute failed: %v", err))
		return jobmanager.Failure
	}
	c.SetMessage(NoMessage)
	logger.Debug("Node execution succeeded.")
	return jobmanager.Success
}

func (c *Container) credentials() unit.Credentials {
	if c.parent == nil {
		return nil
	}
	return c.parent.Credentials()
}

func (c *Container) putOutputTablesIntoGlobalRepository() error {
	repo := c.tables()
	if repo == nil {
		return nil
	}
	out, err := c.comp.Outputs()
	if err != nil {
		return err
	}
	for _, t := range out {
		if t == nil || unit.IsInactive(t.Spec) {
			continue
		}
		if err := repo.Put(t); err != nil {
			return fmt.Errorf("publishing table %d: %w", t.ID, err)
		}
	}
	return nil
}

// initFileStoreHandler picks the handler for the coming execution. Callers
// hold c.mu.
func (c *Container) initFileStoreHandler() error {
	in := c.comp.InStack()
	p := filestore.Placement{
		Node:     c.id.String(),
		LoopEnd:  c.comp.IsLoopEnd(),
		Previous: c.comp.FileStoreHandler(),
		Inner:    c.comp.PendingLoop(),
	}
	if c.parent != nil {
		p.BaseDir = c.parent.FileStoreDir()
	}
	if in != nil {
		objs := in.Objects()
		for i := len(objs) - 1; i >= 0; i-- {
			o := objs[i]
			if o.Kind() == flowstack.KindLoopContext {
				lc := o.Loop()
				p.Upstream = &filestore.Loop{Iteration: lc.Iteration(), Handler: lc.FileStoreHandler()}
				break
			}
			if o.Kind() == flowstack.KindVirtualScope {
				p.VirtualHost = o.VirtualScope().HostFileStoreHandler()
				break
			}
		}
	}
	res, err := filestore.Resolve(p)
	if err != nil {
		var lineage *filestore.LineageError
		if errors.As(err, &lineage) {
			c.invariant("%v", err)
		}
		return err
	}
	if res.DisposePrevious {
		c.disposeHandler(p.Previous)
	}
	if res.Created && c.parent != nil {
		c.parent.FileStoreRepository().Add(res.Handler)
	}
	if err := res.Handler.Open(); err != nil {
		return err
	}
	c.comp.SetFileStoreHandler(res.Handler)
	return nil
}

func (c *Container) disposeHandler(h *filestore.Handler) {
	if h == nil {
		return
	}
	if c.parent != nil {
		c.parent.FileStoreRepository().Remove(h.ID())
	}
	if err := h.ClearAndDispose(); err != nil {
		ctxlog.ForNode(c.execCtx, c.id).Warn("Failed to dispose file store.", "error", err)
	}
}

// clearFileStoreHandler disposes the current handler. Callers hold c.mu.
func (c *Container) clearFileStoreHandler() {
	c.disposeHandler(c.comp.FileStoreHandler())
	c.comp.SetFileStoreHandler(nil)
}

// FileStoreHandler returns the handler of the last execution.
func (c *Container) FileStoreHandler() *filestore.Handler {
	return c.comp.FileStoreHandler()
}
