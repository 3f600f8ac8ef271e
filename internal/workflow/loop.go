package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/nodeflow/internal/container"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
)

// isWaitingLoopEnd reports whether c finished an iteration and waits for its
// loop body to run again.
func (w *Workflow) isWaitingLoopEnd(c *container.Container) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.loops[c.ID().String()]
	return ok
}

// loopBody returns the nodes a loop restart runs again besides the head: the
// nodes between head and tail, then branches leaving the loop that do not
// lead past the tail.
func (w *Workflow) loopBody(head, tail nodeid.ID) ([]*container.Container, error) {
	w.mu.Lock()
	keys, err := w.graph.Between(head.String(), tail.String())
	body := make([]*container.Container, len(keys))
	for i, k := range keys {
		body[i] = w.nodes[k]
	}
	w.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, err)
	}

	down, err := w.downstream(head)
	if err != nil {
		return nil, err
	}
	after, err := w.downstream(tail)
	if err != nil {
		return nil, err
	}
	skip := map[nodeid.ID]bool{tail: true}
	for _, c := range body {
		skip[c.ID()] = true
	}
	for _, c := range after {
		skip[c.ID()] = true
	}
	for _, c := range down {
		if !skip[c.ID()] {
			body = append(body, c)
		}
	}
	return body, nil
}

// restartLoops runs the next iteration of every waiting loop whose body is
// at rest. Paused loops stay parked unless a resume was requested.
func (w *Workflow) restartLoops(ctx context.Context) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.loops))
	for k := range w.loops {
		keys = append(keys, k)
	}
	w.mu.Unlock()
	sort.Strings(keys)

	for _, k := range keys {
		tail, err := w.Node(nodeid.MustParse(k))
		if err != nil || tail.State() != nodestate.ConfiguredMarkedForExec {
			w.forgetLoop(k)
			continue
		}
		w.mu.Lock()
		resume := w.loops[k]
		w.mu.Unlock()
		if tail.IsLoopPaused() && !resume {
			continue
		}
		lc := tail.Computation().LoopContext()
		if lc == nil {
			w.forgetLoop(k)
			continue
		}
		logger := ctxlog.ForNode(ctx, tail.ID())
		head, err := w.Node(lc.Head())
		if err != nil {
			logger.Error("Loop start is gone.", "head", lc.Head().String())
			w.abandon(ctx, tail)
			continue
		}
		body, err := w.loopBody(head.ID(), tail.ID())
		if err != nil {
			logger.Error("Cannot determine loop body.", "error", err)
			w.abandon(ctx, tail)
			continue
		}
		all := append([]*container.Container{head}, body...)
		atRest, executed := true, true
		for _, c := range all {
			s := c.State()
			if s.IsExecutionInProgress() {
				atRest = false
			}
			if s != nodestate.Executed {
				executed = false
			}
		}
		if !atRest {
			continue
		}
		if !executed {
			logger.Warn("Loop body did not execute, stopping loop.")
			w.abandon(ctx, tail)
			continue
		}

		w.forgetLoop(k)
		logger.Debug("Restarting loop.", "head", head.ID().String(), "iteration", lc.Iteration()+1)
		for _, c := range all {
			c.MarkForReExecution(container.ReExecutionEnvironment())
			c.CleanOutPorts(true)
		}
		w.tryQueue(ctx, head)
	}
}

func (w *Workflow) forgetLoop(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.loops, key)
}

// settleLoops resets loops that stopped halfway, e.g. after a failure in the
// body or a cancel, so the next execution starts them from iteration 0.
func (w *Workflow) settleLoops(ctx context.Context) {
	for _, head := range w.Nodes() {
		if head.State() != nodestate.Executed || !head.Computation().IsLoopStart() {
			continue
		}
		if pl := head.Computation().PendingLoop(); pl == nil || pl.Iteration == 0 {
			continue
		}
		down, err := w.downstream(head.ID())
		if err != nil {
			continue
		}
		busy := false
		for _, c := range down {
			if c.State().IsExecutionInProgress() {
				busy = true
				break
			}
		}
		if busy {
			continue
		}
		ctxlog.ForNode(ctx, head.ID()).Info("Resetting unfinished loop.")
		cs := append([]*container.Container{head}, down...)
		if err := w.resetAll(ctx, cs); err != nil {
			ctxlog.ForNode(ctx, head.ID()).Warn("Failed to reset unfinished loop.", "error", err)
			continue
		}
		w.configureAll(ctx, cs)
	}
}

// PauseLoop asks the loop end id to stop after its current iteration.
func (w *Workflow) PauseLoop(id nodeid.ID) error {
	c, err := w.Node(id)
	if err != nil {
		return err
	}
	if !c.Computation().IsLoopEnd() {
		return fmt.Errorf("node %s is not a loop end", id)
	}
	c.PauseLoopExecution(true)
	return nil
}

// ResumeLoopExecution continues a paused loop. With oneStep the loop runs a
// single iteration and pauses again.
func (w *Workflow) ResumeLoopExecution(ctx context.Context, id nodeid.ID, oneStep bool) error {
	c, err := w.Node(id)
	if err != nil {
		return err
	}
	if !c.IsLoopPaused() {
		return fmt.Errorf("loop of node %s is not paused", id)
	}
	ctxlog.ForNode(ctx, id).Info("Resuming loop.", "oneStep", oneStep)
	c.PauseLoopExecution(oneStep)
	w.mu.Lock()
	w.execCtx = ctx
	w.loops[id.String()] = true
	w.mu.Unlock()
	w.run(func() { w.restartLoops(ctx) })
	return nil
}
