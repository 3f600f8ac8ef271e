package workflow

import (
	"context"

	"github.com/vk/nodeflow/internal/container"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
)

// run executes fn on the scheduling trampoline. The goroutine that finds the
// trampoline idle drains it, so fn may run on another goroutine after run
// returned. Wait covers work still on the trampoline.
func (w *Workflow) run(fn func()) {
	w.pending.Add(1)
	w.evMu.Lock()
	w.events = append(w.events, fn)
	if w.draining {
		w.evMu.Unlock()
		return
	}
	w.draining = true
	for len(w.events) > 0 {
		next := w.events[0]
		w.events = w.events[1:]
		w.evMu.Unlock()
		next()
		w.pending.Add(-1)
		w.notify()
		w.evMu.Lock()
	}
	w.draining = false
	w.evMu.Unlock()
}

// notify wakes everybody in Wait.
func (w *Workflow) notify() {
	w.sigMu.Lock()
	close(w.changed)
	w.changed = make(chan struct{})
	w.sigMu.Unlock()
}

func (w *Workflow) ctx() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.execCtx
}

// ExecuteAll marks every node that is not executed and queues the ones whose
// predecessors hold output. It does not wait for the execution to finish.
func (w *Workflow) ExecuteAll(ctx context.Context) {
	w.canceled.Store(false)
	w.mu.Lock()
	w.execCtx = ctx
	w.failed = nil
	w.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("Executing workflow.", "workflowID", w.id.String())

	w.run(func() {
		cs := w.Nodes()
		for _, c := range cs {
			switch c.State() {
			case nodestate.Idle, nodestate.Configured:
				c.MarkForExecution(true)
			}
		}
		for _, c := range cs {
			w.tryQueue(ctx, c)
		}
	})
}

// tryQueue hands a marked node to the job manager once all its predecessors
// executed. A node that can never run is unmarked together with its
// downstream nodes.
func (w *Workflow) tryQueue(ctx context.Context, c *container.Container) {
	s := c.State()
	switch s {
	case nodestate.UnconfiguredMarkedForExec, nodestate.ConfiguredMarkedForExec, nodestate.ExecutedMarkedForExec:
	default:
		return
	}
	if w.isWaitingLoopEnd(c) {
		return
	}
	logger := ctxlog.ForNode(ctx, c.ID())
	if w.canceled.Load() {
		w.unmark(ctx, c)
		return
	}
	for i, conn := range w.inConns(c) {
		if conn == nil {
			logger.Warn("Node cannot execute, an input is not connected.", "port", i)
			c.SetMessage(container.Errorf("Input %d is not connected", i))
			w.abandon(ctx, c)
			return
		}
	}
	if !w.predecessorsExecuted(c) {
		return
	}

	if s == nodestate.ExecutedMarkedForExec {
		if err := w.refreshStack(c); err != nil {
			c.SetMessage(container.Errorf("Conflicting flow object stacks: %v", err))
			w.abandon(ctx, c)
			return
		}
	} else {
		w.configureNode(ctx, c)
	}
	in, err := w.inputs(c)
	if err != nil {
		logger.Error("Failed to collect node inputs.", "error", err)
		c.SetMessage(container.Errorf("%v", err))
		w.abandon(ctx, c)
		return
	}
	if !c.Queue(ctx, in) {
		logger.Warn("Node cannot execute, it is not configured.")
		w.abandon(ctx, c)
		return
	}
	logger.Debug("Node queued.")
}

// abandon unmarks c and its downstream nodes and records c as failed.
func (w *Workflow) abandon(ctx context.Context, c *container.Container) {
	w.unmark(ctx, c)
	w.recordFailure(c.ID())
	w.cancelDownstream(ctx, c)
}

// unmark takes c out of the current execution. A loop end waiting between
// iterations forgets its loop.
func (w *Workflow) unmark(ctx context.Context, c *container.Container) {
	c.CancelExecution()
	if c.Computation().LoopContext() != nil && c.State() == nodestate.Configured {
		c.RawReset()
		w.configureNode(ctx, c)
	}
	w.mu.Lock()
	delete(w.loops, c.ID().String())
	w.mu.Unlock()
}

func (w *Workflow) cancelDownstream(ctx context.Context, c *container.Container) {
	down, err := w.downstream(c.ID())
	if err != nil {
		return
	}
	for _, d := range down {
		switch d.State() {
		case nodestate.UnconfiguredMarkedForExec, nodestate.ConfiguredMarkedForExec, nodestate.ExecutedMarkedForExec:
			ctxlog.ForNode(ctx, d.ID()).Debug("Unmarking node, a predecessor did not execute.", "predecessor", c.ID().String())
			w.unmark(ctx, d)
		}
	}
}

func (w *Workflow) recordFailure(id nodeid.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failed = append(w.failed, id)
}

// Failures returns the nodes that failed or were canceled in the last
// execution.
func (w *Workflow) Failures() []nodeid.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]nodeid.ID(nil), w.failed...)
}

// Canceled reports whether the last execution was canceled.
func (w *Workflow) Canceled() bool { return w.canceled.Load() }

func (w *Workflow) DoBeforePreExecution(*container.Container) bool { return true }

func (w *Workflow) DoBeforeExecution(c *container.Container) error {
	ctxlog.ForNode(w.ctx(), c.ID()).Debug("Node execution starting.")
	return nil
}

func (w *Workflow) DoBeforePostExecution(*container.Container, jobmanager.Status) {
	w.finishing.Add(1)
}

// DoAfterExecution schedules the reaction to a finished job.
func (w *Workflow) DoAfterExecution(c *container.Container, status jobmanager.Status) {
	w.run(func() { w.afterExecution(c, status) })
	w.finishing.Add(-1)
}

func (w *Workflow) afterExecution(c *container.Container, status jobmanager.Status) {
	ctx := w.ctx()
	logger := ctxlog.ForNode(ctx, c.ID())
	if status != jobmanager.Success {
		logger.Warn("Node did not execute.", "status", status.String(), "message", c.Message().Text)
		w.recordFailure(c.ID())
		w.cancelDownstream(ctx, c)
		w.settleLoops(ctx)
		return
	}

	if c.Computation().IsLoopEnd() && c.State() == nodestate.ConfiguredMarkedForExec {
		logger.Debug("Loop iteration finished.")
		w.mu.Lock()
		w.loops[c.ID().String()] = false
		w.mu.Unlock()
	} else {
		w.mu.Lock()
		deps, _ := w.graph.Dependents(c.ID().String())
		next := make([]*container.Container, 0, len(deps))
		for _, k := range deps {
			next = append(next, w.nodes[k])
		}
		w.mu.Unlock()
		for _, d := range next {
			w.tryQueue(ctx, d)
		}
	}
	w.restartLoops(ctx)
	w.settleLoops(ctx)
}

// Cancel cancels every marked, queued and running node.
func (w *Workflow) Cancel(ctx context.Context) {
	w.canceled.Store(true)
	ctxlog.FromContext(ctx).Info("🛑 Canceling workflow execution.", "workflowID", w.id.String())
	w.run(func() {
		cs := w.Nodes()
		for i := len(cs) - 1; i >= 0; i-- {
			w.unmark(ctx, cs[i])
		}
		w.settleLoops(ctx)
	})
}

// Wait blocks until no node is queued or executing and no scheduling work
// is left. Nodes parked behind a paused loop do not count.
func (w *Workflow) Wait(ctx context.Context) error {
	for {
		w.sigMu.Lock()
		ch := w.changed
		w.sigMu.Unlock()
		if w.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (w *Workflow) idle() bool {
	if w.pending.Load() > 0 || w.finishing.Load() > 0 {
		return false
	}
	for _, c := range w.Nodes() {
		switch c.State() {
		case nodestate.ConfiguredQueued, nodestate.ExecutedQueued, nodestate.PreExecute,
			nodestate.Executing, nodestate.ExecutingRemotely, nodestate.PostExecute:
			return false
		}
	}
	return true
}
