package flowstack

import (
	"errors"
	"fmt"

	"github.com/vk/nodeflow/internal/nodeid"
)

var (
	// ErrForeignOwner is returned when pushing an object owned by another node.
	ErrForeignOwner = errors.New("flow object is owned by a different node")
	// ErrNotNested is returned when predecessor scopes conflict during a merge.
	ErrNotNested = errors.New("flow objects not properly nested")
	// ErrNoSuchScope is returned when popping a scope that is not on the stack.
	ErrNoSuchScope = errors.New("scope not on flow object stack")
)

// OwnershipError details a rejected push.
type OwnershipError struct {
	Owner  nodeid.ID
	Target nodeid.ID
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%v: owned by %s, pushed onto stack of %s", ErrForeignOwner, e.Owner, e.Target)
}

func (e *OwnershipError) Unwrap() error { return ErrForeignOwner }

// NestingError details conflicting scope markers found during a merge.
type NestingError struct {
	Node  nodeid.ID
	Depth int
}

func (e *NestingError) Error() string {
	return fmt.Sprintf("%v: conflicting scopes at depth %d in merged stack of %s", ErrNotNested, e.Depth, e.Node)
}

func (e *NestingError) Unwrap() error { return ErrNotNested }
