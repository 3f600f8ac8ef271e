package flowstack

import (
	"fmt"
	"sync"

	"github.com/vk/nodeflow/internal/nodeid"
)

// Stack is an ordered list of flow objects owned by one node. Index 0 is the
// bottom. All methods are safe for concurrent use.
type Stack struct {
	arena *Arena
	owner nodeid.ID

	mu   sync.RWMutex
	refs []Ref
}

// New creates an empty stack for owner.
func New(arena *Arena, owner nodeid.ID) *Stack {
	return &Stack{arena: arena, owner: owner}
}

func (s *Stack) Owner() nodeid.ID { return s.owner }

func (s *Stack) Arena() *Arena { return s.arena }

// Copy returns a new stack with the same content owned by owner. Objects keep
// their original owners.
func (s *Stack) Copy(owner nodeid.ID) *Stack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]Ref, len(s.refs))
	copy(refs, s.refs)
	return &Stack{arena: s.arena, owner: owner, refs: refs}
}

// Push adds obj on top. An unowned object becomes owned by the stack's node.
func (s *Stack) Push(obj *Object) error {
	ref, err := s.arena.claim(obj, s.owner)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
	return nil
}

// PushVariable wraps v into a new object and pushes it.
func (s *Stack) PushVariable(v Variable) error {
	if err := v.Validate(); err != nil {
		return err
	}
	return s.Push(NewVariable(v))
}

func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

// Refs returns a copy of the stack content, bottom first.
func (s *Stack) Refs() []Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ref, len(s.refs))
	copy(out, s.refs)
	return out
}

// Objects returns the objects, bottom first.
func (s *Stack) Objects() []*Object {
	refs := s.Refs()
	out := make([]*Object, len(refs))
	for i, r := range refs {
		out[i] = s.arena.Get(r)
	}
	return out
}

// Contains reports whether obj is referenced by the stack.
func (s *Stack) Contains(obj *Object) bool {
	for _, o := range s.Objects() {
		if o == obj {
			return true
		}
	}
	return false
}

// PeekVariable returns the topmost variable with the given name.
func (s *Stack) PeekVariable(name string) (Variable, bool) {
	objs := s.Objects()
	for i := len(objs) - 1; i >= 0; i-- {
		if v, ok := objs[i].Variable(); ok && v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Variables returns the visible variables: for each name the topmost one, in
// the order in which the names first appear from the bottom.
func (s *Stack) Variables() []Variable {
	objs := s.Objects()
	idx := make(map[string]int)
	var out []Variable
	for _, o := range objs {
		v, ok := o.Variable()
		if !ok {
			continue
		}
		if i, seen := idx[v.Name]; seen {
			out[i] = v
			continue
		}
		idx[v.Name] = len(out)
		out = append(out, v)
	}
	return out
}

// OwnVariables returns the variables pushed by the stack's own node, bottom
// first.
func (s *Stack) OwnVariables() []Variable {
	var out []Variable
	for _, r := range s.Refs() {
		if s.arena.Owner(r) != s.owner {
			continue
		}
		if v, ok := s.arena.Get(r).Variable(); ok {
			out = append(out, v)
		}
	}
	return out
}

// PeekLoopContext returns the innermost loop context.
func (s *Stack) PeekLoopContext() (*LoopContext, bool) {
	objs := s.Objects()
	for i := len(objs) - 1; i >= 0; i-- {
		if objs[i].Kind() == KindLoopContext {
			return objs[i].Loop(), true
		}
	}
	return nil, false
}

// PopScope removes the marker of the given scope and everything above it.
func (s *Stack) PopScope(marker *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.refs) - 1; i >= 0; i-- {
		if s.arena.Get(s.refs[i]) == marker {
			s.refs = s.refs[:i]
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNoSuchScope, marker.ScopeID())
}

// markerObject returns the object that carries the given loop context.
func (s *Stack) markerObject(loop *LoopContext) (*Object, bool) {
	for _, o := range s.Objects() {
		if o.Kind() == KindLoopContext && o.Loop() == loop {
			return o, true
		}
	}
	return nil, false
}

// PopLoop removes the loop context and everything above it.
func (s *Stack) PopLoop(loop *LoopContext) error {
	marker, ok := s.markerObject(loop)
	if !ok {
		return fmt.Errorf("%w: loop of %s", ErrNoSuchScope, loop.Head())
	}
	return s.PopScope(marker)
}
