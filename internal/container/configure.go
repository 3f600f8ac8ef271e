package container

import (
	"context"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

// SetFlowObjectStack installs the merged stack of the predecessors.
func (c *Container) SetFlowObjectStack(s *flowstack.Stack) {
	c.comp.SetInStack(s)
}

// OutgoingFlowObjectStack is the stack successors merge.
func (c *Container) OutgoingFlowObjectStack() *flowstack.Stack {
	return c.comp.OutStack()
}

// OutSpecs returns the current output specs.
func (c *Container) OutSpecs() []cty.Type {
	return c.comp.OutSpecs()
}

// Outputs returns the output tables of an executed container.
func (c *Container) Outputs() ([]*tablerepo.Table, error) {
	return c.comp.Outputs()
}

// IsInactive reports whether the container sits on an inactive branch.
func (c *Container) IsInactive() bool {
	return c.comp.IsInactive()
}

// Configure configures the computation with the given input specs and
// reports whether the output specs or the inactivity changed.
func (c *Container) Configure(ctx context.Context, in []cty.Type, keepMessage bool) bool {
	c.mu.Lock()
	defer c.unlock()
	prevSpecs := c.comp.OutSpecs()
	prevInactive := c.comp.IsInactive()

	switch c.state {
	case nodestate.Idle:
		if c.nodeConfigure(ctx, in, keepMessage) {
			c.setState(nodestate.Configured, "Configure")
		}
	case nodestate.UnconfiguredMarkedForExec:
		if c.nodeConfigure(ctx, in, keepMessage) {
			c.setState(nodestate.ConfiguredMarkedForExec, "Configure")
		}
	case nodestate.Configured:
		if !c.nodeConfigure(ctx, in, keepMessage) {
			c.setState(nodestate.Idle, "Configure")
		}
	case nodestate.ConfiguredMarkedForExec:
		if !c.nodeConfigure(ctx, in, keepMessage) {
			c.setState(nodestate.UnconfiguredMarkedForExec, "Configure")
		}
	case nodestate.ExecutingRemotely:
		// only while loading a workflow with a disconnected job
		if !c.nodeConfigure(ctx, in, keepMessage) {
			c.setState(nodestate.Idle, "Configure")
		}
	default:
		c.illegalState("Configure")
	}

	if prevInactive != c.comp.IsInactive() {
		c.dirty = true
		c.postState(StateEvent{Node: c.id, State: c.state, InactivityChanged: true})
		return true
	}
	next := c.comp.OutSpecs()
	for i := range next {
		if !sameSpec(prevSpecs[i], next[i]) {
			return true
		}
	}
	return false
}

func sameSpec(a, b cty.Type) bool {
	if a == cty.NilType || b == cty.NilType {
		return a == cty.NilType && b == cty.NilType
	}
	return a.Equals(b)
}

// nodeConfigure applies flow variable overrides, configures the
// computation and publishes exposed settings as flow variables. Callers hold
// c.mu.
func (c *Container) nodeConfigure(ctx context.Context, in []cty.Type, keepMessage bool) bool {
	logger := ctxlog.ForNode(ctx, c.id)
	model, err := c.settings.applyOverrides(c.comp.InStack())
	if err != nil {
		logger.Warn("Failed to apply flow variables.", "error", err)
		c.setMessageLocked(Errorf("Failed to apply flow variables: %v", err))
		return false
	}
	if err := c.comp.LoadModelSettings(model); err != nil {
		c.setMessageLocked(Errorf("%v", err))
		return false
	}

	out := c.comp.NewOutStack()
	cc := unit.NewConfigureContext(ctx, c.id, out, c.credentials())
	if err := c.comp.Configure(cc, in); err != nil {
		logger.Debug("Configure failed.", "error", err)
		c.setMessageLocked(Warningf("%v", err))
		return false
	}

	vars, err := c.settings.exposedVariables(model)
	if err != nil {
		c.setMessageLocked(Errorf("Failed to expose flow variables: %v", err))
		return false
	}
	for i := len(vars) - 1; i >= 0; i-- {
		if err := out.PushVariable(vars[i]); err != nil {
			c.setMessageLocked(Errorf("Failed to expose flow variables: %v", err))
			return false
		}
	}
	c.comp.SetOutStack(out)
	if !keepMessage {
		c.setMessageLocked(NoMessage)
	}
	return true
}
