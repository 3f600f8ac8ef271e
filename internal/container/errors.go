package container

import (
	"fmt"

	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
)

// IllegalStateError is the panic value of a transition outside the
// transition table.
type IllegalStateError struct {
	Node   nodeid.ID
	State  nodestate.State
	Method string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state of node %s: %s in %s", e.Node, e.State, e.Method)
}

// InvariantError is the panic value of any other broken container invariant.
type InvariantError struct {
	Node   nodeid.ID
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("node %s: %s", e.Node, e.Reason)
}

func (c *Container) illegalState(method string) {
	panic(&IllegalStateError{Node: c.id, State: c.state, Method: method})
}

func (c *Container) invariant(format string, args ...any) {
	panic(&InvariantError{Node: c.id, Reason: fmt.Sprintf(format, args...)})
}
