package flowstack

import (
	"sync"

	"github.com/vk/nodeflow/internal/nodeid"
)

// Ref is the index of an object in its arena.
type Ref int

const noRef Ref = -1

// Arena stores the flow objects of one workflow. Objects are never removed;
// stacks refer to them by index.
type Arena struct {
	mu      sync.RWMutex
	objects []*Object
}

func NewArena() *Arena {
	return &Arena{}
}

// Get returns the object stored at ref.
func (a *Arena) Get(ref Ref) *Object {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.objects[ref]
}

// Len returns the number of stored objects.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.objects)
}

// Owner returns the owner of the object at ref.
func (a *Arena) Owner(ref Ref) nodeid.ID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.objects[ref].owner
}

// claim assigns owner to obj and stores it. It fails if obj belongs to a
// different node.
func (a *Arena) claim(obj *Object, owner nodeid.ID) (Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !obj.owner.IsZero() && obj.owner != owner {
		return noRef, &OwnershipError{Owner: obj.owner, Target: owner}
	}
	obj.owner = owner
	if obj.ref == noRef {
		obj.ref = Ref(len(a.objects))
		a.objects = append(a.objects, obj)
	}
	return obj.ref, nil
}
