package container

import (
	"sync"

	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/unit"
)

// StateEvent announces a new state. InactivityChanged is set when only the
// inactivity of the node changed.
type StateEvent struct {
	Node              nodeid.ID
	State             nodestate.State
	InactivityChanged bool
}

type MessageEvent struct {
	Node    nodeid.ID
	Message Message
}

type ProgressEvent struct {
	Node nodeid.ID
	unit.ProgressEvent
}

// UIInfo is the layout information of a node.
type UIInfo struct {
	X, Y, Width, Height int
}

type UIInfoEvent struct {
	Node nodeid.ID
	Info UIInfo
}

// Property names a changed container property.
type Property string

const (
	PropertyLocks       Property = "locks"
	PropertyJobManager  Property = "job_manager"
	PropertyAnnotation  Property = "annotation"
	PropertyDescription Property = "description"
	PropertyLoopStatus  Property = "loop_status"
)

type PropertyEvent struct {
	Node     nodeid.ID
	Property Property
	Value    any
}

// listeners is an observer registry.
type listeners[E any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(E)
}

// add registers fn and returns a function that removes it.
func (l *listeners[E]) add(fn func(E)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(E))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// notify calls every listener in registration order.
func (l *listeners[E]) notify(ev E) {
	l.mu.Lock()
	fns := make([]func(E), 0, len(l.fns))
	for i := 0; i < l.next; i++ {
		if fn, ok := l.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (l *listeners[E]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}

func (l *listeners[E]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

func (c *Container) AddStateListener(fn func(StateEvent)) (remove func()) {
	return c.stateL.add(fn)
}

func (c *Container) AddMessageListener(fn func(MessageEvent)) (remove func()) {
	return c.messageL.add(fn)
}

func (c *Container) AddProgressListener(fn func(ProgressEvent)) (remove func()) {
	return c.progressL.add(fn)
}

func (c *Container) AddUIInfoListener(fn func(UIInfoEvent)) (remove func()) {
	return c.uiInfoL.add(fn)
}

func (c *Container) AddPropertyListener(fn func(PropertyEvent)) (remove func()) {
	return c.propertyL.add(fn)
}

// ListenerCount returns the number of registered listeners of all kinds.
func (c *Container) ListenerCount() int {
	return c.stateL.len() + c.messageL.len() + c.progressL.len() + c.uiInfoL.len() + c.propertyL.len()
}

func (c *Container) clearListeners() {
	c.stateL.clear()
	c.messageL.clear()
	c.progressL.clear()
	c.uiInfoL.clear()
	c.propertyL.clear()
}

// post queues a delivery. Callers hold c.mu.
func (c *Container) post(deliver func()) {
	c.outbox = append(c.outbox, deliver)
}

// unlock releases c.mu and delivers queued events.
func (c *Container) unlock() {
	c.mu.Unlock()
	c.flush()
}

// flush delivers queued events in order. Deliveries of concurrent
// transitions are serialised by dispatchMu.
func (c *Container) flush() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	for {
		c.mu.Lock()
		batch := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, deliver := range batch {
			deliver()
		}
	}
}

func (c *Container) postState(ev StateEvent) {
	c.post(func() { c.stateL.notify(ev) })
}

func (c *Container) postMessage(m Message) {
	ev := MessageEvent{Node: c.id, Message: m}
	c.post(func() { c.messageL.notify(ev) })
}

func (c *Container) postProperty(p Property, v any) {
	ev := PropertyEvent{Node: c.id, Property: p, Value: v}
	c.post(func() { c.propertyL.notify(ev) })
}
