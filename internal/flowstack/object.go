package flowstack

import (
	"sync"

	"github.com/google/uuid"
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/nodeid"
)

// Kind tags the variant of a flow object.
type Kind int

const (
	KindVariable Kind = iota
	KindLoopContext
	KindVirtualScope
)

// LoopContext links a loop start and loop end and tracks the iteration. One
// context instance lives for the whole loop; the loop start advances it.
type LoopContext struct {
	scopeID uuid.UUID
	head    nodeid.ID

	mu        sync.Mutex
	tail      nodeid.ID
	iteration int
	last      bool
	fileStore *filestore.Handler
}

func (l *LoopContext) ScopeID() uuid.UUID { return l.scopeID }

// Head is the loop start node.
func (l *LoopContext) Head() nodeid.ID { return l.head }

// Tail is the loop end node, zero until the loop end ran once.
func (l *LoopContext) Tail() nodeid.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail
}

func (l *LoopContext) SetTail(id nodeid.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tail = id
}

func (l *LoopContext) Iteration() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iteration
}

// Advance moves to the next iteration.
func (l *LoopContext) Advance() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iteration++
}

// IsLast reports whether the current iteration is the final one.
func (l *LoopContext) IsLast() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *LoopContext) SetLast(last bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = last
}

// FileStoreHandler is the loop start's handler, set in iteration 0.
func (l *LoopContext) FileStoreHandler() *filestore.Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileStore
}

func (l *LoopContext) SetFileStoreHandler(h *filestore.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fileStore = h
}

// VirtualScope marks nodes executed on behalf of a host node (e.g. the
// content of a component run as one unit).
type VirtualScope struct {
	scopeID   uuid.UUID
	host      nodeid.ID
	hostStore *filestore.Handler
	outerLoop *LoopContext
}

func (v *VirtualScope) ScopeID() uuid.UUID { return v.scopeID }

func (v *VirtualScope) Host() nodeid.ID { return v.host }

// HostFileStoreHandler is the handler nodes in the scope must reference.
func (v *VirtualScope) HostFileStoreHandler() *filestore.Handler { return v.hostStore }

// OuterLoop is the loop enclosing the host, if any.
func (v *VirtualScope) OuterLoop() *LoopContext { return v.outerLoop }

// Object is a single flow object.
type Object struct {
	kind     Kind
	variable Variable
	loop     *LoopContext
	scope    *VirtualScope

	// guarded by the arena
	owner nodeid.ID
	ref   Ref
}

// NewVariable wraps a variable into an unowned object.
func NewVariable(v Variable) *Object {
	return &Object{kind: KindVariable, variable: v, ref: noRef}
}

// NewLoopContext creates the context of a new loop headed by head.
func NewLoopContext(head nodeid.ID) *Object {
	return &Object{kind: KindLoopContext, loop: &LoopContext{scopeID: uuid.New(), head: head}, ref: noRef}
}

// NewVirtualScope creates a virtual scope marker for host.
func NewVirtualScope(host nodeid.ID, hostStore *filestore.Handler, outerLoop *LoopContext) *Object {
	return &Object{
		kind:  KindVirtualScope,
		scope: &VirtualScope{scopeID: uuid.New(), host: host, hostStore: hostStore, outerLoop: outerLoop},
		ref:   noRef,
	}
}

func (o *Object) Kind() Kind { return o.kind }

// IsMarker reports whether the object opens a scope.
func (o *Object) IsMarker() bool { return o.kind != KindVariable }

// Variable returns the wrapped variable.
func (o *Object) Variable() (Variable, bool) {
	return o.variable, o.kind == KindVariable
}

func (o *Object) Loop() *LoopContext { return o.loop }

func (o *Object) VirtualScope() *VirtualScope { return o.scope }

// ScopeID identifies the scope of a marker.
func (o *Object) ScopeID() uuid.UUID {
	switch o.kind {
	case KindLoopContext:
		return o.loop.scopeID
	case KindVirtualScope:
		return o.scope.scopeID
	}
	return uuid.Nil
}
