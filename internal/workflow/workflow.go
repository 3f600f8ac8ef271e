package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vk/nodeflow/internal/container"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/dag"
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
)

var (
	ErrUnknownNode = errors.New("unknown node")
	ErrPortInUse   = errors.New("input port already connected")
	ErrBadPort     = errors.New("port out of range")
	ErrBusy        = errors.New("workflow is executing")
	ErrLocked      = errors.New("node is locked")
)

// Connection links an output port to an input port.
type Connection struct {
	Source     nodeid.ID
	SourcePort int
	Dest       nodeid.ID
	DestPort   int
}

func (c Connection) String() string {
	return fmt.Sprintf("%s[%d] -> %s[%d]", c.Source, c.SourcePort, c.Dest, c.DestPort)
}

// Options configure a new workflow.
type Options struct {
	// ID of the workflow; nodes get child ids. Defaults to 0.
	ID nodeid.ID
	// JobManager runs the jobs of all nodes. Defaults to a thread manager
	// with one worker per CPU.
	JobManager jobmanager.Manager
	Registry   *registry.Registry
	// Dir is the base directory of node file stores. Defaults to a
	// directory below os.TempDir.
	Dir         string
	Credentials unit.Credentials
	// Globals are the workflow variables at the bottom of every stack.
	Globals []flowstack.Variable
	Bundle  container.BundleInfo
}

// Workflow hosts node containers. It implements container.Parent.
type Workflow struct {
	id     nodeid.ID
	opts   Options
	tables *tablerepo.Repository
	stores *filestore.Repository
	arena  *flowstack.Arena
	root   *flowstack.Stack

	dirty    atomic.Bool
	canceled atomic.Bool

	mu      sync.Mutex
	nodes   map[string]*container.Container
	conns   []Connection
	graph   *dag.Graph
	nextIdx int
	execCtx context.Context
	loops   map[string]bool
	failed  []nodeid.ID

	// scheduling trampoline, see run
	evMu      sync.Mutex
	events    []func()
	draining  bool
	pending   atomic.Int64
	finishing atomic.Int64

	sigMu   sync.Mutex
	changed chan struct{}
}

var _ container.Parent = (*Workflow)(nil)

// New creates an empty workflow.
func New(opts Options) (*Workflow, error) {
	if opts.ID.IsZero() {
		opts.ID = nodeid.New(0)
	}
	if opts.Registry == nil {
		return nil, errors.New("workflow needs a node registry")
	}
	if opts.JobManager == nil {
		opts.JobManager = jobmanager.NewThreadManager(0)
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join(os.TempDir(), "nodeflow")
	}
	arena := flowstack.NewArena()
	root, err := flowstack.NewRoot(arena, opts.ID, opts.Globals)
	if err != nil {
		return nil, fmt.Errorf("invalid workflow variables: %w", err)
	}
	w := &Workflow{
		id:      opts.ID,
		opts:    opts,
		tables:  tablerepo.New(),
		stores:  filestore.NewRepository(),
		arena:   arena,
		root:    root,
		nodes:   make(map[string]*container.Container),
		graph:   dag.New(),
		execCtx: context.Background(),
		loops:   make(map[string]bool),
		changed: make(chan struct{}),
	}
	return w, nil
}

func (w *Workflow) ID() nodeid.ID { return w.id }

func (w *Workflow) FindJobManager() jobmanager.Manager { return w.opts.JobManager }

func (w *Workflow) SetDirty() { w.dirty.Store(true) }

// IsDirty reports whether the workflow changed since it was saved.
func (w *Workflow) IsDirty() bool { return w.dirty.Load() }

func (w *Workflow) TableRepository() *tablerepo.Repository { return w.tables }

func (w *Workflow) FileStoreRepository() *filestore.Repository { return w.stores }

func (w *Workflow) FileStoreDir() string { return w.opts.Dir }

func (w *Workflow) Credentials() unit.Credentials { return w.opts.Credentials }

// Globals returns the workflow variables.
func (w *Workflow) Globals() []flowstack.Variable {
	return append([]flowstack.Variable(nil), w.opts.Globals...)
}

// AddNode creates a node of the registered type and configures it.
func (w *Workflow) AddNode(ctx context.Context, typeName string) (nodeid.ID, error) {
	w.mu.Lock()
	id := w.id.Child(w.nextIdx)
	w.mu.Unlock()
	c, err := w.addNode(id, typeName)
	if err != nil {
		return nodeid.ID{}, err
	}
	w.configureNode(ctx, c)
	return id, nil
}

func (w *Workflow) addNode(id nodeid.ID, typeName string) (*container.Container, error) {
	model, err := w.opts.Registry.Create(typeName)
	if err != nil {
		return nil, err
	}
	c := container.NewNative(w, id, unit.New(id, typeName, model), w.opts.Bundle)
	c.AddStateListener(func(container.StateEvent) { w.notify() })

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.nodes[id.String()]; ok {
		c.PerformShutdown()
		return nil, fmt.Errorf("node %s already exists", id)
	}
	w.nodes[id.String()] = c
	w.graph.AddNode(id.String())
	if idx := id.Index(); idx >= w.nextIdx {
		w.nextIdx = idx + 1
	}
	w.dirty.Store(true)
	return c, nil
}

// Node returns the container with the given id.
func (w *Workflow) Node(id nodeid.ID) (*container.Container, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nodeLocked(id.String())
}

func (w *Workflow) nodeLocked(key string) (*container.Container, error) {
	c, ok := w.nodes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, key)
	}
	return c, nil
}

// Nodes returns all containers in topological order.
func (w *Workflow) Nodes() []*container.Container {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.orderedLocked()
}

func (w *Workflow) orderedLocked() []*container.Container {
	keys, err := w.graph.TopologicalSort()
	if err != nil {
		// AddEdge rejects cycles, so the graph is always sortable.
		panic(err)
	}
	out := make([]*container.Container, len(keys))
	for i, k := range keys {
		out[i] = w.nodes[k]
	}
	return out
}

// Connections returns the connections ordered by destination.
func (w *Workflow) Connections() []Connection {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]Connection(nil), w.conns...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dest != out[j].Dest {
			return out[i].Dest.String() < out[j].Dest.String()
		}
		return out[i].DestPort < out[j].DestPort
	})
	return out
}

// Connect adds a connection. An executed destination is reset together with
// everything downstream of it; the destination is then configured again.
func (w *Workflow) Connect(ctx context.Context, conn Connection) error {
	w.mu.Lock()
	src, err := w.nodeLocked(conn.Source.String())
	if err != nil {
		w.mu.Unlock()
		return err
	}
	dst, err := w.nodeLocked(conn.Dest.String())
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if conn.SourcePort < 0 || conn.SourcePort >= src.Computation().NrOutPorts() {
		w.mu.Unlock()
		return fmt.Errorf("%w: output %d of %s", ErrBadPort, conn.SourcePort, conn.Source)
	}
	if conn.DestPort < 0 || conn.DestPort >= dst.Computation().NrInPorts() {
		w.mu.Unlock()
		return fmt.Errorf("%w: input %d of %s", ErrBadPort, conn.DestPort, conn.Dest)
	}
	for _, c := range w.conns {
		if c.Dest == conn.Dest && c.DestPort == conn.DestPort {
			w.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrPortInUse, c)
		}
	}
	if s := dst.State(); s.IsExecutionInProgress() {
		w.mu.Unlock()
		return fmt.Errorf("%w: node %s is %s", ErrBusy, conn.Dest, s)
	}
	if err := w.graph.AddEdge(conn.Source.String(), conn.Dest.String()); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("cannot connect %s: %w", conn, err)
	}
	w.conns = append(w.conns, conn)
	w.mu.Unlock()

	w.dirty.Store(true)
	ctxlog.FromContext(ctx).Debug("Nodes connected.", "connection", conn.String())
	return w.ResetNode(ctx, conn.Dest)
}

// Disconnect removes the connection into dest's input port.
func (w *Workflow) Disconnect(ctx context.Context, dest nodeid.ID, port int) error {
	w.mu.Lock()
	idx := -1
	for i, c := range w.conns {
		if c.Dest == dest && c.DestPort == port {
			idx = i
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: no connection into input %d of %s", ErrUnknownNode, port, dest)
	}
	conn := w.conns[idx]
	w.conns = append(w.conns[:idx], w.conns[idx+1:]...)
	still := false
	for _, c := range w.conns {
		if c.Source == conn.Source && c.Dest == conn.Dest {
			still = true
		}
	}
	if !still {
		w.graph.RemoveEdge(conn.Source.String(), conn.Dest.String())
	}
	w.mu.Unlock()

	w.dirty.Store(true)
	return w.ResetNode(ctx, dest)
}

// RemoveNode deletes a node and its connections. Nodes with a delete lock
// and nodes that are executing are kept.
func (w *Workflow) RemoveNode(ctx context.Context, id nodeid.ID) error {
	c, err := w.Node(id)
	if err != nil {
		return err
	}
	if c.NodeLocks().HasDeleteLock() {
		return fmt.Errorf("%w: %s cannot be deleted", ErrLocked, id)
	}
	if c.State().IsExecutionInProgress() {
		return fmt.Errorf("%w: %s is %s", ErrBusy, id, c.State())
	}
	down, err := w.downstream(id)
	if err != nil {
		return err
	}
	if err := w.resetAll(ctx, append([]*container.Container{c}, down...)); err != nil {
		return err
	}

	w.mu.Lock()
	kept := w.conns[:0]
	for _, conn := range w.conns {
		if conn.Source != id && conn.Dest != id {
			kept = append(kept, conn)
		}
	}
	w.conns = kept
	w.graph.RemoveNode(id.String())
	delete(w.nodes, id.String())
	w.mu.Unlock()

	c.PerformShutdown()
	w.dirty.Store(true)
	w.configureAll(ctx, down)
	return nil
}

// SetNodeSettings replaces the settings of a node, resetting it and its
// downstream nodes first.
func (w *Workflow) SetNodeSettings(ctx context.Context, id nodeid.ID, s container.Settings) error {
	c, err := w.Node(id)
	if err != nil {
		return err
	}
	if c.NodeLocks().HasConfigureLock() {
		return fmt.Errorf("%w: %s cannot be configured", ErrLocked, id)
	}
	if err := w.ResetNode(ctx, id); err != nil {
		return err
	}
	if err := c.SetSettings(s); err != nil {
		return fmt.Errorf("invalid settings for node %s: %w", id, err)
	}
	down, err := w.downstream(id)
	if err != nil {
		return err
	}
	w.configureAll(ctx, append([]*container.Container{c}, down...))
	return nil
}

// downstream returns the containers fed by id, in topological order.
func (w *Workflow) downstream(id nodeid.ID) ([]*container.Container, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys, err := w.graph.Downstream(id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	out := make([]*container.Container, len(keys))
	for i, k := range keys {
		out[i] = w.nodes[k]
	}
	return out, nil
}

// inConns returns the connections into id indexed by input port.
func (w *Workflow) inConns(c *container.Container) []*Connection {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Connection, c.Computation().NrInPorts())
	for i := range w.conns {
		conn := w.conns[i]
		if conn.Dest == c.ID() {
			out[conn.DestPort] = &conn
		}
	}
	return out
}

// predecessor returns the container feeding conn, or nil.
func (w *Workflow) predecessor(conn *Connection) *container.Container {
	if conn == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nodes[conn.Source.String()]
}

// Shutdown releases all containers. The workflow is unusable afterwards.
func (w *Workflow) Shutdown() {
	w.mu.Lock()
	nodes := make([]*container.Container, 0, len(w.nodes))
	for _, c := range w.nodes {
		nodes = append(nodes, c)
	}
	w.mu.Unlock()
	for _, c := range nodes {
		c.PerformShutdown()
	}
}
