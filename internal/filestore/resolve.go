package filestore

import (
	"fmt"
)

// LineageError reports a violated handler invariant, e.g. a fresh handler
// requested in the middle of a loop. It indicates a scheduling defect.
type LineageError struct {
	Node   string
	Reason string
}

func (e *LineageError) Error() string {
	return fmt.Sprintf("file store lineage violated for %s: %s", e.Node, e.Reason)
}

// Loop describes a loop as seen by a node: the iteration about to run and the
// handler of its loop start, which is nil until iteration 0 resolved it.
type Loop struct {
	Iteration int
	Handler   *Handler
}

// Placement is everything Resolve needs to choose a handler.
type Placement struct {
	Node    string
	BaseDir string
	// Upstream is the loop enclosing the node, taken from its incoming stack.
	Upstream *Loop
	// Inner is the loop the node starts, taken from its outgoing stack.
	Inner *Loop
	// VirtualHost is the host's handler when the node runs inside a virtual
	// scope.
	VirtualHost *Handler
	LoopEnd     bool
	Previous    *Handler
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Handler *Handler
	// Created is true if Handler is new and must be registered.
	Created bool
	// DisposePrevious is true if Placement.Previous must be disposed.
	DisposePrevious bool
}

func reuse(h *Handler) Resolution { return Resolution{Handler: h} }

func fresh(h, previous *Handler) Resolution {
	return Resolution{Handler: h, Created: true, DisposePrevious: previous != nil}
}

// Resolve selects the handler for one execution of a node. Iterations after
// the first always reuse the handler of iteration 0.
func Resolve(p Placement) (Resolution, error) {
	switch {
	case p.Inner == nil && p.Upstream == nil:
		if p.VirtualHost != nil {
			if p.Previous != nil && p.Previous.Parent() == p.VirtualHost {
				return reuse(p.Previous), nil
			}
			return fresh(NewReference(p.Node, p.VirtualHost), p.Previous), nil
		}
		return fresh(NewPlain(p.Node, p.BaseDir), p.Previous), nil

	case p.Inner != nil:
		if p.Inner.Iteration > 0 {
			if p.Previous == nil {
				return Resolution{}, &LineageError{Node: p.Node, Reason: fmt.Sprintf("loop start has no handler in iteration %d", p.Inner.Iteration)}
			}
			if k := p.Previous.Kind(); k != KindLoopStart && k != KindLoopStartReference {
				return Resolution{}, &LineageError{Node: p.Node, Reason: "loop start carries a " + k.String() + " handler"}
			}
			return reuse(p.Previous), nil
		}
		// A new loop run: an inner loop restarted by its outer loop still
		// holds the handler of its previous run.
		switch {
		case p.Upstream != nil:
			if p.Upstream.Handler == nil {
				return Resolution{}, &LineageError{Node: p.Node, Reason: "enclosing loop has no handler"}
			}
			return fresh(NewLoopStartReference(p.Node, p.Upstream.Handler), p.Previous), nil
		case p.VirtualHost != nil:
			return fresh(NewLoopStartReference(p.Node, p.VirtualHost), p.Previous), nil
		default:
			return fresh(NewLoopStart(p.Node, p.BaseDir), p.Previous), nil
		}

	default:
		start := p.Upstream.Handler
		if start == nil {
			return Resolution{}, &LineageError{Node: p.Node, Reason: "enclosing loop has no handler"}
		}
		if p.Upstream.Iteration > 0 {
			if p.Previous == nil || p.Previous.Parent() != start {
				return Resolution{}, &LineageError{Node: p.Node, Reason: fmt.Sprintf("no handler of iteration 0 to reuse in iteration %d", p.Upstream.Iteration)}
			}
			return reuse(p.Previous), nil
		}
		if p.LoopEnd {
			return fresh(NewLoopEnd(p.Node, start), p.Previous), nil
		}
		return fresh(NewReference(p.Node, start), p.Previous), nil
	}
}
