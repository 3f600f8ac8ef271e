package workflow

import (
	"context"
	"fmt"

	"github.com/vk/nodeflow/internal/container"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/zclconf/go-cty/cty"
)

// Configure configures every node that is not executing, in topological
// order.
func (w *Workflow) Configure(ctx context.Context) {
	w.configureAll(ctx, w.Nodes())
}

func (w *Workflow) configureAll(ctx context.Context, cs []*container.Container) {
	for _, c := range cs {
		w.configureNode(ctx, c)
	}
}

// configureNode merges the predecessor stacks into c and configures it with
// the predecessor specs. Executed and executing nodes are left alone.
func (w *Workflow) configureNode(ctx context.Context, c *container.Container) bool {
	switch c.State() {
	case nodestate.Idle, nodestate.Configured,
		nodestate.UnconfiguredMarkedForExec, nodestate.ConfiguredMarkedForExec:
	default:
		return false
	}
	if err := w.refreshStack(c); err != nil {
		ctxlog.ForNode(ctx, c.ID()).Warn("Conflicting flow object stacks.", "error", err)
		c.SetMessage(container.Errorf("Conflicting flow object stacks: %v", err))
		return false
	}
	return c.Configure(ctx, w.inSpecs(c), false)
}

// refreshStack installs the merge of the predecessor stacks, or a copy of
// the root stack for a node without predecessors.
func (w *Workflow) refreshStack(c *container.Container) error {
	conns := w.inConns(c)
	preds := make([]*flowstack.Stack, len(conns))
	for i, conn := range conns {
		if p := w.predecessor(conn); p != nil {
			preds[i] = p.OutgoingFlowObjectStack()
		}
	}
	s, err := flowstack.Merge(c.ID(), w.root, preds)
	if err != nil {
		return err
	}
	c.SetFlowObjectStack(s)
	return nil
}

func (w *Workflow) inSpecs(c *container.Container) []cty.Type {
	conns := w.inConns(c)
	specs := make([]cty.Type, len(conns))
	for i, conn := range conns {
		p := w.predecessor(conn)
		if p == nil {
			specs[i] = cty.NilType
			continue
		}
		specs[i] = p.OutSpecs()[conn.SourcePort]
	}
	return specs
}

// inputs collects the output tables feeding c.
func (w *Workflow) inputs(c *container.Container) ([]*tablerepo.Table, error) {
	conns := w.inConns(c)
	in := make([]*tablerepo.Table, len(conns))
	for i, conn := range conns {
		p := w.predecessor(conn)
		if p == nil {
			return nil, fmt.Errorf("input %d of node %s is not connected", i, c.ID())
		}
		out, err := p.Outputs()
		if err != nil {
			return nil, fmt.Errorf("outputs of node %s: %w", p.ID(), err)
		}
		in[i] = out[conn.SourcePort]
	}
	return in, nil
}

// predecessorsExecuted reports whether every node feeding c holds output.
func (w *Workflow) predecessorsExecuted(c *container.Container) bool {
	for _, conn := range w.inConns(c) {
		p := w.predecessor(conn)
		if p == nil || p.State() != nodestate.Executed {
			return false
		}
	}
	return true
}

// ResetNode resets id and everything downstream of it, then configures them
// again.
func (w *Workflow) ResetNode(ctx context.Context, id nodeid.ID) error {
	c, err := w.Node(id)
	if err != nil {
		return err
	}
	down, err := w.downstream(id)
	if err != nil {
		return err
	}
	cs := append([]*container.Container{c}, down...)
	if err := w.resetAll(ctx, cs); err != nil {
		return err
	}
	w.configureAll(ctx, cs)
	return nil
}

// Reset resets every node and configures the workflow again.
func (w *Workflow) Reset(ctx context.Context) error {
	cs := w.Nodes()
	if err := w.resetAll(ctx, cs); err != nil {
		return err
	}
	w.mu.Lock()
	w.failed = nil
	w.mu.Unlock()
	w.configureAll(ctx, cs)
	return nil
}

// resetAll resets cs, given in topological order, from the back. Nothing is
// reset if one of them is executing or carries a reset lock.
func (w *Workflow) resetAll(ctx context.Context, cs []*container.Container) error {
	for _, c := range cs {
		s := c.State()
		if s.IsExecutionInProgress() {
			return fmt.Errorf("%w: node %s is %s", ErrBusy, c.ID(), s)
		}
		if s == nodestate.Executed && c.NodeLocks().HasResetLock() {
			return fmt.Errorf("%w: node %s cannot be reset", ErrLocked, c.ID())
		}
	}
	for i := len(cs) - 1; i >= 0; i-- {
		c := cs[i]
		if c.State() == nodestate.Idle {
			continue
		}
		ctxlog.ForNode(ctx, c.ID()).Debug("Resetting node.", "state", c.State())
		c.RawReset()
	}
	return nil
}
