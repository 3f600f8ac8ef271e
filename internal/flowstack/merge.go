package flowstack

import (
	"github.com/vk/nodeflow/internal/nodeid"
)

// NewRoot creates the root stack of a workflow holding the given global
// variables. Every node without predecessors starts from a copy of it.
func NewRoot(arena *Arena, owner nodeid.ID, globals []Variable) (*Stack, error) {
	root := New(arena, owner)
	for _, v := range globals {
		if err := root.PushVariable(v.WithScope(ScopeGlobal)); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// segmented is a predecessor stack split at its scope markers: segments[i]
// holds the variables between markers[i-1] and markers[i].
type segmented struct {
	markers  []Ref
	segments [][]Ref
}

func segment(s *Stack) segmented {
	out := segmented{segments: [][]Ref{nil}}
	for _, r := range s.Refs() {
		obj := s.arena.Get(r)
		if obj.IsMarker() {
			out.markers = append(out.markers, r)
			out.segments = append(out.segments, nil)
			continue
		}
		if v, _ := obj.Variable(); v.Scope == ScopeLocal {
			continue
		}
		last := len(out.segments) - 1
		out.segments[last] = append(out.segments[last], r)
	}
	return out
}

// portOrder returns the evaluation order of n ports: 1..n-1, then 0.
func portOrder(n int) []int {
	order := make([]int, 0, n)
	for i := 1; i < n; i++ {
		order = append(order, i)
	}
	if n > 0 {
		order = append(order, 0)
	}
	return order
}

// Merge computes the incoming stack of owner from its predecessors' stacks,
// indexed by input port. Nil entries (unconnected ports) are skipped. With
// no predecessors the result is a copy of root.
func Merge(owner nodeid.ID, root *Stack, preds []*Stack) (*Stack, error) {
	var arena *Arena
	var parts []segmented
	for _, port := range portOrder(len(preds)) {
		p := preds[port]
		if p == nil {
			continue
		}
		arena = p.arena
		parts = append(parts, segment(p))
	}
	if len(parts) == 0 {
		if root == nil {
			return New(nil, owner), nil
		}
		return root.Copy(owner), nil
	}

	var longest []Ref
	for _, p := range parts {
		if len(p.markers) > len(longest) {
			longest = p.markers
		}
	}
	for _, p := range parts {
		for depth, m := range p.markers {
			if longest[depth] != m {
				return nil, &NestingError{Node: owner, Depth: depth}
			}
		}
	}

	out := New(arena, owner)
	seen := make(map[Ref]bool)
	for depth := 0; depth <= len(longest); depth++ {
		for _, p := range parts {
			if depth >= len(p.segments) {
				continue
			}
			for _, r := range p.segments[depth] {
				if seen[r] {
					continue
				}
				seen[r] = true
				out.refs = append(out.refs, r)
			}
		}
		if depth < len(longest) {
			out.refs = append(out.refs, longest[depth])
		}
	}
	return out, nil
}
