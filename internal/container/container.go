package container

import (
	"context"
	"sync"

	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/unit"
)

// ExecutionEnvironment exists while a container is marked, queued or
// executing.
type ExecutionEnvironment struct {
	reExecute bool
}

func NewExecutionEnvironment() *ExecutionEnvironment { return &ExecutionEnvironment{} }

// ReExecutionEnvironment is used to execute an executed node again without
// a reset, as loops do.
func ReExecutionEnvironment() *ExecutionEnvironment {
	return &ExecutionEnvironment{reExecute: true}
}

func (e *ExecutionEnvironment) ReExecute() bool { return e.reExecute }

// BundleInfo identifies the software that executed a node. It is captured
// on successful execution and kept across loads.
type BundleInfo struct {
	Name    string
	Version string
}

// Location is where a container was saved. A dirty location must be written
// again.
type Location struct {
	Dir   string
	Dirty bool
}

// Container is a node container. Create it with NewNative.
type Container struct {
	id       nodeid.ID
	parent   Parent
	comp     Computation
	progress *unit.Progress
	bundle   BundleInfo

	mu           sync.Mutex
	state        nodestate.State
	jobManager   jobmanager.Manager
	job          *jobmanager.Job
	jobSaved     bool
	execCtx      context.Context
	message      Message
	locks        NodeLocks
	dirty        bool
	location     *Location
	annotation   string
	description  string
	uiInfo       *UIInfo
	env          *ExecutionEnvironment
	settings     Settings
	execBundle   *BundleInfo
	isShutdown   bool
	shuttingDown bool
	outbox       []func()

	dispatchMu sync.Mutex
	stateL     listeners[StateEvent]
	messageL   listeners[MessageEvent]
	progressL  listeners[ProgressEvent]
	uiInfoL    listeners[UIInfoEvent]
	propertyL  listeners[PropertyEvent]
}

// NewNative creates an IDLE container around a native computation. bundle
// describes the running software.
func NewNative(parent Parent, id nodeid.ID, comp Computation, bundle BundleInfo) *Container {
	c := &Container{
		id:       id,
		parent:   parent,
		comp:     comp,
		progress: unit.NewProgress(),
		bundle:   bundle,
		state:    nodestate.Idle,
		settings: NewSettings(),
		execCtx:  context.Background(),
	}
	c.comp.SaveModelSettings(c.settings.Model)
	c.progress.AddListener(func(ev unit.ProgressEvent) {
		c.progressL.notify(ProgressEvent{Node: c.id, ProgressEvent: ev})
	})
	nodestate.Enter(nodestate.Idle)
	return c
}

func (c *Container) ID() nodeid.ID { return c.id }

func (c *Container) Parent() Parent { return c.parent }

// Computation returns the wrapped computation.
func (c *Container) Computation() Computation { return c.comp }

// Name is the node type.
func (c *Container) Name() string { return c.comp.Name() }

func (c *Container) Progress() *unit.Progress { return c.progress }

func (c *Container) State() nodestate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState moves to s. Callers hold c.mu.
func (c *Container) setState(s nodestate.State, method string) {
	if !nodestate.CanTransition(c.state, s) {
		c.illegalState(method)
	}
	if s == c.state {
		return
	}
	if !c.isShutdown {
		nodestate.Move(c.state, s)
	}
	c.state = s
	c.postState(StateEvent{Node: c.id, State: s})
}

// JobManager returns the manager set on this container, nil if it inherits
// its parent's.
func (c *Container) JobManager() jobmanager.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobManager
}

// SetJobManager sets the manager for this container. It is illegal while
// the container is queued or executing.
func (c *Container) SetJobManager(m jobmanager.Manager) {
	c.mu.Lock()
	defer c.unlock()
	switch c.state {
	case nodestate.ConfiguredQueued, nodestate.ExecutedQueued, nodestate.PreExecute,
		nodestate.Executing, nodestate.ExecutingRemotely, nodestate.PostExecute:
		c.illegalState("SetJobManager")
	}
	if m == c.jobManager {
		return
	}
	c.jobManager = m
	c.postProperty(PropertyJobManager, m)
}

// FindJobManager returns the manager set on the container or inherited from
// the parent chain.
func (c *Container) FindJobManager() jobmanager.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findJobManagerLocked()
}

func (c *Container) findJobManagerLocked() jobmanager.Manager {
	if c.jobManager != nil {
		return c.jobManager
	}
	if c.parent == nil {
		c.invariant("root container without job manager")
	}
	m := c.parent.FindJobManager()
	if m == nil {
		c.invariant("no job manager in parent chain")
	}
	return m
}

// Job returns the pending execution job, nil unless queued or executing.
func (c *Container) Job() *jobmanager.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

func (c *Container) Message() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

func (c *Container) SetMessage(m Message) {
	c.mu.Lock()
	defer c.unlock()
	c.setMessageLocked(m)
}

func (c *Container) setMessageLocked(m Message) {
	if m == c.message {
		return
	}
	c.message = m
	c.postMessage(m)
}

func (c *Container) NodeLocks() NodeLocks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks
}

// ChangeNodeLocks sets or clears the given locks. Listeners are told only
// if a lock actually changed.
func (c *Container) ChangeNodeLocks(set bool, locks ...Lock) {
	c.mu.Lock()
	defer c.unlock()
	next := c.locks.with(set, locks...)
	if next == c.locks {
		return
	}
	c.locks = next
	c.postProperty(PropertyLocks, next)
}

func (c *Container) Annotation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.annotation
}

func (c *Container) SetAnnotation(text string) {
	c.mu.Lock()
	defer c.unlock()
	if text == c.annotation {
		return
	}
	c.annotation = text
	c.dirty = true
	c.postProperty(PropertyAnnotation, text)
}

func (c *Container) Description() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

func (c *Container) SetDescription(text string) {
	c.mu.Lock()
	defer c.unlock()
	if text == c.description {
		return
	}
	c.description = text
	c.dirty = true
	c.postProperty(PropertyDescription, text)
}

// UIInfo returns the layout information, nil if none was set.
func (c *Container) UIInfo() *UIInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uiInfo == nil {
		return nil
	}
	info := *c.uiInfo
	return &info
}

func (c *Container) SetUIInfo(info UIInfo) {
	c.mu.Lock()
	defer c.unlock()
	c.uiInfo = &info
	ev := UIInfoEvent{Node: c.id, Info: info}
	c.post(func() { c.uiInfoL.notify(ev) })
}

// ExecutionEnvironment is non-nil while the container is marked, queued or
// executing.
func (c *Container) ExecutionEnvironment() *ExecutionEnvironment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.env
}

func (c *Container) setExecutionEnvironment(env *ExecutionEnvironment) {
	if env != nil && c.env != nil {
		c.invariant("execution environment already set")
	}
	c.env = env
}

// ExecutedBundle is the software that produced the current outputs.
func (c *Container) ExecutedBundle() *BundleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execBundle
}

// Settings returns a copy of the container settings.
func (c *Container) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Copy()
}

// SetSettings validates the model settings and stores a copy.
func (c *Container) SetSettings(s Settings) error {
	if err := c.comp.LoadModelSettings(s.Model); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.unlock()
	c.settings = s.Copy()
	c.dirty = true
	return nil
}

// IsDirty reports whether the container must be saved.
func (c *Container) IsDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty || c.location == nil || c.location.Dirty
}

// SetDirty marks the container and its parent dirty. Lazily loaded outputs
// are materialised first because the saved directory may go away.
func (c *Container) SetDirty() {
	if c.comp.HasLazyOutputs() {
		if err := c.comp.MaterializeOutputs(); err != nil {
			c.SetMessage(Errorf("Failed to load outputs: %v", err))
		}
	}
	c.mu.Lock()
	c.dirty = true
	c.unlock()
	if c.parent != nil {
		c.parent.SetDirty()
	}
}

// SetLocation records where the container was saved and marks it clean.
func (c *Container) SetLocation(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = &Location{Dir: dir}
	c.dirty = false
}

// Location returns the saved location, nil if never saved.
func (c *Container) Location() *Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.location == nil {
		return nil
	}
	l := *c.location
	return &l
}

// MarkLocationDirty flags the saved location as outdated.
func (c *Container) MarkLocationDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.location != nil {
		c.location.Dirty = true
	}
}
