package unit

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/zclconf/go-cty/cty"
)

// InactiveSpec is the spec of a port on an inactive branch.
var InactiveSpec = cty.Capsule("inactive", reflect.TypeOf(struct{}{}))

// IsInactive reports whether spec marks an inactive branch.
func IsInactive(spec cty.Type) bool {
	return spec != cty.NilType && spec.Equals(InactiveSpec)
}

// InactiveTable is the output of an inactive node.
func InactiveTable() *tablerepo.Table {
	return &tablerepo.Table{Spec: InactiveSpec, Rows: cty.NullVal(cty.List(cty.EmptyObject))}
}

// ErrNoLoopStart is returned by a loop end executed outside a loop.
var ErrNoLoopStart = errors.New("loop end is not connected to a loop start")

// Loader lazily produces an output table, e.g. from a saved workflow.
type Loader func() (*tablerepo.Table, error)

// Node wraps one Model. It is safe for concurrent use; the hosting container
// serialises state changes.
type Node struct {
	id      nodeid.ID
	name    string
	model   Model
	nrIn    int
	nrOut   int
	loopEnd LoopEnd

	mu         sync.Mutex
	outSpecs   []cty.Type
	outData    []*tablerepo.Table
	loaders    []Loader
	inStack    *flowstack.Stack
	outStack   *flowstack.Stack
	fileStore  *filestore.Handler
	loopStart  *flowstack.Object
	loopCtx    *flowstack.LoopContext
	pause      bool
	inactive   bool
	tempTables []*tablerepo.Table
}

// New wraps model. name is the node type shown in logs and saved workflows.
func New(id nodeid.ID, name string, model Model) *Node {
	in, out := model.Ports()
	n := &Node{
		id:       id,
		name:     name,
		model:    model,
		nrIn:     in,
		nrOut:    out,
		outSpecs: make([]cty.Type, out),
		outData:  make([]*tablerepo.Table, out),
		loaders:  make([]Loader, out),
	}
	if le, ok := model.(LoopEnd); ok {
		n.loopEnd = le
	}
	return n
}

func (n *Node) ID() nodeid.ID { return n.id }

func (n *Node) Name() string { return n.name }

func (n *Node) Model() Model { return n.model }

func (n *Node) NrInPorts() int { return n.nrIn }

func (n *Node) NrOutPorts() int { return n.nrOut }

// IsLoopStart reports whether the model opens a loop.
func (n *Node) IsLoopStart() bool {
	_, ok := n.model.(LoopStart)
	return ok
}

// IsLoopEnd reports whether the model closes a loop.
func (n *Node) IsLoopEnd() bool { return n.loopEnd != nil }

// SetInStack sets the merged stack of the predecessors.
func (n *Node) SetInStack(s *flowstack.Stack) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inStack = s
}

func (n *Node) InStack() *flowstack.Stack {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inStack
}

// OutStack is the stack successors merge. Before the first configure it is
// the incoming stack.
func (n *Node) OutStack() *flowstack.Stack {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.outStack == nil {
		return n.inStack
	}
	return n.outStack
}

// NewOutStack starts an outgoing stack from the incoming one.
func (n *Node) NewOutStack() *flowstack.Stack {
	in := n.InStack()
	if in == nil {
		return flowstack.New(flowstack.NewArena(), n.id)
	}
	return in.Copy(n.id)
}

// SetOutStack installs a stack built by NewOutStack.
func (n *Node) SetOutStack(s *flowstack.Stack) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outStack = s
}

// Configure runs the model's configure. An inactive input makes the whole
// node inactive without asking the model.
func (n *Node) Configure(cc *ConfigureContext, in []cty.Type) error {
	if len(in) != n.nrIn {
		return fmt.Errorf("node %s expects %d inputs, got %d", n.id, n.nrIn, len(in))
	}
	for _, s := range in {
		if IsInactive(s) {
			n.setInactive(true)
			n.setOutSpecs(inactiveSpecs(n.nrOut))
			return nil
		}
	}
	for i, s := range in {
		if s == cty.NilType {
			return fmt.Errorf("input %d of node %s has no spec", i, n.id)
		}
	}
	out, err := n.model.Configure(cc, in)
	if err != nil {
		n.setOutSpecs(make([]cty.Type, n.nrOut))
		return err
	}
	if len(out) != n.nrOut {
		n.setOutSpecs(make([]cty.Type, n.nrOut))
		return fmt.Errorf("model of node %s returned %d specs for %d outputs", n.id, len(out), n.nrOut)
	}
	inactive := false
	if r, ok := n.model.(InactivityReporter); ok && r.Inactive() {
		inactive = true
		out = inactiveSpecs(n.nrOut)
	}
	n.setInactive(inactive)
	n.setOutSpecs(out)
	return nil
}

func inactiveSpecs(n int) []cty.Type {
	out := make([]cty.Type, n)
	for i := range out {
		out[i] = InactiveSpec
	}
	return out
}

func (n *Node) setOutSpecs(specs []cty.Type) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outSpecs = specs
}

func (n *Node) setInactive(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inactive = v
}

// IsInactive reports whether the node sits on an inactive branch.
func (n *Node) IsInactive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inactive
}

// OutSpecs returns a copy of the output specs. Unknown specs are cty.NilType.
func (n *Node) OutSpecs() []cty.Type {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]cty.Type(nil), n.outSpecs...)
}

// Execute runs the model. Loop starts open or advance their loop context
// before the model runs; loop ends attach to the innermost loop and keep it
// alive until its last iteration.
func (n *Node) Execute(ec *ExecutionContext, in []*tablerepo.Table) error {
	if err := ec.CheckCanceled(); err != nil {
		return err
	}
	for _, t := range in {
		if t != nil && IsInactive(t.Spec) {
			n.setInactive(true)
			n.setOutputs(inactiveOutputs(n.nrOut))
			n.SetOutStack(ec.Stack())
			return nil
		}
	}
	if n.IsInactive() {
		n.setOutputs(inactiveOutputs(n.nrOut))
		n.SetOutStack(ec.Stack())
		return nil
	}

	var loop *flowstack.LoopContext
	switch {
	case n.IsLoopStart():
		n.mu.Lock()
		if n.loopStart == nil || n.loopStart.Loop().IsLast() {
			n.loopStart = flowstack.NewLoopContext(n.id)
			n.loopStart.Loop().SetFileStoreHandler(n.fileStore)
		} else {
			n.loopStart.Loop().Advance()
		}
		obj := n.loopStart
		n.mu.Unlock()
		if err := ec.Stack().Push(obj); err != nil {
			return err
		}
		loop = obj.Loop()
	case n.IsLoopEnd():
		lc, ok := ec.Stack().PeekLoopContext()
		if !ok {
			return ErrNoLoopStart
		}
		lc.SetTail(n.id)
		if lc.Iteration() == 0 {
			n.loopEnd.StartLoop()
		}
		loop = lc
	default:
		if lc, ok := ec.Stack().PeekLoopContext(); ok {
			loop = lc
		}
	}
	ec.loop = loop

	out, err := n.model.Execute(ec, in)
	if err != nil {
		return err
	}
	if err := ec.CheckCanceled(); err != nil {
		return err
	}

	switch {
	case n.IsLoopStart():
		loop.SetLast(n.model.(LoopStart).LastIteration())
	case n.IsLoopEnd():
		if !loop.IsLast() {
			n.mu.Lock()
			n.loopCtx = loop
			n.mu.Unlock()
			n.SetOutStack(ec.Stack())
			return nil
		}
		n.mu.Lock()
		n.loopCtx = nil
		n.mu.Unlock()
		if err := ec.Stack().PopLoop(loop); err != nil {
			return err
		}
	}

	if len(out) != n.nrOut {
		return fmt.Errorf("model of node %s returned %d tables for %d outputs", n.id, len(out), n.nrOut)
	}
	specs := make([]cty.Type, len(out))
	for i, t := range out {
		if t == nil {
			return fmt.Errorf("model of node %s returned no table for output %d", n.id, i)
		}
		specs[i] = t.Spec
	}
	n.setOutputs(out)
	n.setOutSpecs(specs)
	n.SetOutStack(ec.Stack())

	// Temp tables of earlier loop iterations stay until the next clean.
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range ec.Created() {
		if !containsTable(out, t) {
			n.tempTables = append(n.tempTables, t)
		}
	}
	return nil
}

func containsTable(ts []*tablerepo.Table, t *tablerepo.Table) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func inactiveOutputs(n int) []*tablerepo.Table {
	out := make([]*tablerepo.Table, n)
	for i := range out {
		out[i] = InactiveTable()
	}
	return out
}

func (n *Node) setOutputs(out []*tablerepo.Table) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outData = out
	n.loaders = make([]Loader, n.nrOut)
}

// OutData returns the table of an output port, loading it on first access.
func (n *Node) OutData(port int) (*tablerepo.Table, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.outDataLocked(port)
}

func (n *Node) outDataLocked(port int) (*tablerepo.Table, error) {
	if port < 0 || port >= n.nrOut {
		return nil, fmt.Errorf("node %s has no output %d", n.id, port)
	}
	if n.outData[port] == nil && n.loaders[port] != nil {
		t, err := n.loaders[port]()
		if err != nil {
			return nil, fmt.Errorf("loading output %d of node %s: %w", port, n.id, err)
		}
		n.outData[port] = t
		n.loaders[port] = nil
	}
	return n.outData[port], nil
}

// Outputs returns all output tables, loading lazy ones.
func (n *Node) Outputs() ([]*tablerepo.Table, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*tablerepo.Table, n.nrOut)
	for i := range out {
		t, err := n.outDataLocked(i)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// SetOutputLoader installs a lazy loader for a port with a known spec.
func (n *Node) SetOutputLoader(port int, spec cty.Type, l Loader) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outData[port] = nil
	n.loaders[port] = l
	n.outSpecs[port] = spec
}

// SetOutputs installs outputs produced elsewhere, e.g. by a remote run.
func (n *Node) SetOutputs(out []*tablerepo.Table) error {
	if len(out) != n.nrOut {
		return fmt.Errorf("node %s has %d outputs, got %d tables", n.id, n.nrOut, len(out))
	}
	specs := make([]cty.Type, len(out))
	for i, t := range out {
		if t != nil {
			specs[i] = t.Spec
		}
	}
	n.setOutputs(out)
	n.setOutSpecs(specs)
	return nil
}

// HasLazyOutputs reports whether some output has not been loaded yet.
func (n *Node) HasLazyOutputs() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, l := range n.loaders {
		if l != nil {
			return true
		}
	}
	return false
}

// MaterializeOutputs loads every lazy output into memory.
func (n *Node) MaterializeOutputs() error {
	_, err := n.Outputs()
	return err
}

// Reset resets the model and forgets the loop the node started.
func (n *Node) Reset() {
	n.model.Reset()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loopStart = nil
	n.loopCtx = nil
	n.inactive = false
}

// CleanOutPorts drops the output tables and unpublishes them from repo. A
// loop restart keeps the specs, the outgoing stack and the temp tables for
// the next iteration; otherwise the temp tables are released and their
// number returned.
func (n *Node) CleanOutPorts(repo *tablerepo.Repository, isLoopRestart bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, t := range n.outData {
		if t != nil && repo != nil {
			repo.Remove(t)
		}
		n.outData[i] = nil
		n.loaders[i] = nil
		if !isLoopRestart {
			n.outSpecs[i] = cty.NilType
		}
	}
	if isLoopRestart {
		return 0
	}
	released := len(n.tempTables)
	n.tempTables = nil
	n.outStack = nil
	return released
}

// LoopContext is the live loop a loop end waits on between iterations.
func (n *Node) LoopContext() *flowstack.LoopContext {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loopCtx
}

func (n *Node) ClearLoopContext() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loopCtx = nil
}

// PendingLoop describes the loop a loop start is about to run: iteration 0
// for a fresh loop, otherwise the next iteration with the handler of
// iteration 0. A loop that ran its last iteration starts over. It is nil for
// other nodes.
func (n *Node) PendingLoop() *filestore.Loop {
	if !n.IsLoopStart() {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.loopStart == nil || n.loopStart.Loop().IsLast() {
		return &filestore.Loop{}
	}
	lc := n.loopStart.Loop()
	return &filestore.Loop{Iteration: lc.Iteration() + 1, Handler: lc.FileStoreHandler()}
}

// SetPauseLoopExecution requests a loop end to stop after the current
// iteration.
func (n *Node) SetPauseLoopExecution(pause bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pause = pause
}

func (n *Node) PauseLoopExecution() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pause
}

func (n *Node) FileStoreHandler() *filestore.Handler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fileStore
}

func (n *Node) SetFileStoreHandler(h *filestore.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fileStore = h
}

// LoadModelSettings validates and applies model settings.
func (n *Node) LoadModelSettings(src settings.Source) error {
	if err := n.model.LoadSettings(src); err != nil {
		return fmt.Errorf("invalid settings for node %s: %w", n.id, err)
	}
	return nil
}

// SaveModelSettings writes the current model settings.
func (n *Node) SaveModelSettings(sink settings.Sink) {
	n.model.SaveSettings(sink)
}
