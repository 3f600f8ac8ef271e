package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vk/nodeflow/internal/container"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

// FileName is the workflow definition inside a workflow directory.
const FileName = "workflow.hcl"

const (
	formatVersion = "1"

	keyVersion     = "version"
	keyVariables   = "variables"
	keyNodes       = "nodes"
	keyConnections = "connections"
	keyContainer   = "container"
	keyOutputs     = "outputs"
	keyReconnect   = "reconnect"
)

// Save writes the workflow into dir: the definition file plus the output
// tables of every executed node. Nothing may be queued or executing.
func (w *Workflow) Save(ctx context.Context, dir string) error {
	if w.pending.Load() > 0 || w.finishing.Load() > 0 {
		return ErrBusy
	}
	cs := w.Nodes()
	for _, c := range cs {
		switch s := c.State(); s {
		case nodestate.ConfiguredQueued, nodestate.ExecutedQueued, nodestate.PreExecute,
			nodestate.Executing, nodestate.PostExecute:
			return fmt.Errorf("%w: node %s is %s", ErrBusy, c.ID(), s)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workflow directory: %w", err)
	}
	logger := ctxlog.FromContext(ctx)

	t := settings.New("workflow")
	t.AddString(keyVersion, formatVersion)
	flowstack.SaveVariables(t.AddTree(keyVariables), w.opts.Globals)

	nodes := t.AddChild(keyNodes)
	for _, c := range cs {
		key := nodeKey(c.ID())
		nt := nodes.AddChild(key)
		nt.AddString("id", c.ID().String())
		nt.AddString("type", c.Name())
		if c.State() == nodestate.ExecutingRemotely {
			if err := c.SaveExecutionJobReconnectInfo(nt.AddTree(keyReconnect)); err != nil {
				logger.Warn("Running node will be reset on load.", "nodeID", c.ID().String(), "error", err)
			}
		}
		c.Save(nt.AddChild(keyContainer))
		switch c.State() {
		case nodestate.Executed, nodestate.ExecutedMarkedForExec:
			if err := w.saveOutputs(dir, key, c, nt.AddChild(keyOutputs)); err != nil {
				return err
			}
		}
	}

	conns := t.AddChild(keyConnections)
	for i, conn := range w.Connections() {
		ct := conns.AddChild("conn_" + strconv.Itoa(i))
		ct.AddString("source", conn.Source.String())
		ct.AddInt("source_port", conn.SourcePort)
		ct.AddString("dest", conn.Dest.String())
		ct.AddInt("dest_port", conn.DestPort)
	}

	if err := settings.WriteFile(filepath.Join(dir, FileName), t); err != nil {
		return err
	}
	for _, c := range cs {
		c.SetLocation(filepath.Join(dir, nodeKey(c.ID())))
	}
	w.dirty.Store(false)
	logger.Debug("Workflow saved.", "dir", dir, "nodes", len(cs))
	return nil
}

func nodeKey(id nodeid.ID) string {
	return "node_" + strconv.Itoa(id.Index())
}

func (w *Workflow) saveOutputs(dir, key string, c *container.Container, t *settings.Tree) error {
	outs, err := c.Outputs()
	if err != nil {
		return fmt.Errorf("failed to read outputs of node %s: %w", c.ID(), err)
	}
	nodeDir := filepath.Join(dir, key)
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create node directory: %w", err)
	}
	for i, out := range outs {
		pt := t.AddChild("port_" + strconv.Itoa(i))
		if out == nil {
			continue
		}
		if unit.IsInactive(out.Spec) {
			pt.AddBool("inactive", true)
			continue
		}
		spec, err := tablerepo.MarshalSpec(out.Spec)
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		rows, err := out.MarshalRows()
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		base := "port_" + strconv.Itoa(i)
		if err := os.WriteFile(filepath.Join(nodeDir, base+".spec.json"), spec, 0o644); err != nil {
			return fmt.Errorf("failed to write output spec: %w", err)
		}
		if err := os.WriteFile(filepath.Join(nodeDir, base+".json"), rows, 0o644); err != nil {
			return fmt.Errorf("failed to write output table: %w", err)
		}
		pt.AddString("spec", filepath.Join(key, base+".spec.json"))
		pt.AddString("rows", filepath.Join(key, base+".json"))
	}
	return nil
}

// Load reads a workflow saved in dir. Problems that leave a usable workflow,
// such as a node whose settings no longer validate, are returned as
// problems; err is set only if nothing could be loaded. Variables in
// opts.Globals replace saved variables of the same name.
func Load(ctx context.Context, dir string, opts Options) (w *Workflow, problems []error, err error) {
	logger := ctxlog.FromContext(ctx)
	t, err := settings.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, nil, err
	}
	if v, err := t.GetString(keyVersion); err != nil || v != formatVersion {
		return nil, nil, fmt.Errorf("unsupported workflow format %q", v)
	}
	if t.ContainsKey(keyVariables) {
		src, err := t.GetTree(keyVariables)
		if err != nil {
			return nil, nil, err
		}
		saved, err := flowstack.LoadVariables(src)
		if err != nil {
			return nil, nil, err
		}
		opts.Globals = mergeGlobals(saved, opts.Globals)
	}
	if w, err = New(opts); err != nil {
		return nil, nil, err
	}

	type loaded struct {
		c         *container.Container
		state     nodestate.State
		outputs   *settings.Tree
		reconnect *settings.Tree
	}
	byID := make(map[nodeid.ID]*loaded)

	nodes, err := t.Child(keyNodes)
	if err != nil && !errors.Is(err, settings.ErrKeyNotFound) {
		return nil, nil, err
	}
	if nodes != nil {
		for _, key := range nodes.Keys() {
			nt, err := nodes.Child(key)
			if err != nil {
				return nil, nil, err
			}
			rawID, err := nt.GetString("id")
			if err != nil {
				return nil, nil, fmt.Errorf("node %s: %w", key, err)
			}
			id, err := nodeid.Parse(rawID)
			if err != nil {
				return nil, nil, fmt.Errorf("node %s: %w", key, err)
			}
			typeName, err := nt.GetString("type")
			if err != nil {
				return nil, nil, fmt.Errorf("node %s: %w", key, err)
			}
			c, err := w.addNode(id, typeName)
			if err != nil {
				return nil, nil, fmt.Errorf("node %s: %w", id, err)
			}
			l := &loaded{c: c}
			byID[id] = l

			ct, err := nt.Child(keyContainer)
			if err != nil {
				problems = append(problems, fmt.Errorf("node %s: %w", id, err))
				continue
			}
			p, err := container.ReadPersisted(ct)
			if err != nil {
				problems = append(problems, fmt.Errorf("node %s: %w", id, err))
				continue
			}
			if err := c.Restore(p); err != nil {
				logger.Warn("Node settings could not be loaded.", "nodeID", id.String(), "error", err)
				problems = append(problems, fmt.Errorf("node %s: invalid settings: %w", id, err))
				continue
			}
			l.state = p.State
			l.outputs, _ = nt.Child(keyOutputs)
			l.reconnect, _ = nt.Child(keyReconnect)
		}
	}

	conns, err := t.Child(keyConnections)
	if err == nil {
		for _, key := range conns.Keys() {
			conn, err := readConnection(conns, key)
			if err == nil {
				err = w.addConnection(conn)
			}
			if err != nil {
				problems = append(problems, fmt.Errorf("connection %s: %w", key, err))
			}
		}
	}
	w.mu.Lock()
	err = w.graph.DetectCycles()
	w.mu.Unlock()
	if err != nil {
		w.Shutdown()
		return nil, nil, fmt.Errorf("loading %s: %w", dir, err)
	}

	for _, c := range w.Nodes() {
		l := byID[c.ID()]
		w.configureNode(ctx, c)
		switch l.state {
		case nodestate.Executed:
			if c.State() != nodestate.Configured {
				problems = append(problems, fmt.Errorf("node %s was executed but cannot be configured: %s", c.ID(), c.Message().Text))
				continue
			}
			if err := w.installLoaders(dir, c, l.outputs); err != nil {
				problems = append(problems, err)
				continue
			}
			c.RestoreState(nodestate.Executed)
		case nodestate.ExecutingRemotely:
			if c.State() != nodestate.Configured || l.reconnect == nil {
				problems = append(problems, fmt.Errorf("node %s cannot reconnect to its job", c.ID()))
				continue
			}
			in, err := w.inputs(c)
			if err != nil {
				problems = append(problems, err)
				continue
			}
			c.RestoreState(nodestate.ExecutingRemotely)
			if err := c.ContinueExecutionOnLoad(ctx, in, l.reconnect); err != nil {
				problems = append(problems, fmt.Errorf("node %s: %w", c.ID(), err))
			}
		}
		c.SetLocation(filepath.Join(dir, nodeKey(c.ID())))
	}
	w.dirty.Store(false)
	logger.Debug("Workflow loaded.", "dir", dir, "nodes", len(byID), "problems", len(problems))
	return w, problems, nil
}

// addConnection adds a connection without touching node states.
func (w *Workflow) addConnection(conn Connection) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	src, err := w.nodeLocked(conn.Source.String())
	if err != nil {
		return err
	}
	dst, err := w.nodeLocked(conn.Dest.String())
	if err != nil {
		return err
	}
	if conn.SourcePort >= src.Computation().NrOutPorts() || conn.DestPort >= dst.Computation().NrInPorts() {
		return ErrBadPort
	}
	for _, c := range w.conns {
		if c.Dest == conn.Dest && c.DestPort == conn.DestPort {
			return ErrPortInUse
		}
	}
	if err := w.graph.AddEdge(conn.Source.String(), conn.Dest.String()); err != nil {
		return err
	}
	w.conns = append(w.conns, conn)
	return nil
}

func readConnection(conns *settings.Tree, key string) (Connection, error) {
	ct, err := conns.Child(key)
	if err != nil {
		return Connection{}, err
	}
	var conn Connection
	var raw string
	if raw, err = ct.GetString("source"); err != nil {
		return Connection{}, err
	}
	if conn.Source, err = nodeid.Parse(raw); err != nil {
		return Connection{}, err
	}
	if raw, err = ct.GetString("dest"); err != nil {
		return Connection{}, err
	}
	if conn.Dest, err = nodeid.Parse(raw); err != nil {
		return Connection{}, err
	}
	if conn.SourcePort, err = ct.GetInt("source_port"); err != nil {
		return Connection{}, err
	}
	if conn.DestPort, err = ct.GetInt("dest_port"); err != nil {
		return Connection{}, err
	}
	return conn, nil
}

// installLoaders points the output ports of c at the saved tables. They are
// read on first access.
func (w *Workflow) installLoaders(dir string, c *container.Container, outputs *settings.Tree) error {
	n := c.Computation().NrOutPorts()
	if n == 0 {
		return nil
	}
	if outputs == nil {
		return fmt.Errorf("node %s was executed but its outputs were not saved", c.ID())
	}
	for i := 0; i < n; i++ {
		pt, err := outputs.Child("port_" + strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		if pt.ContainsKey("inactive") {
			c.Computation().SetOutputLoader(i, unit.InactiveSpec, func() (*tablerepo.Table, error) {
				return unit.InactiveTable(), nil
			})
			continue
		}
		specPath, err := pt.GetString("spec")
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		rowsPath, err := pt.GetString("rows")
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		raw, err := os.ReadFile(filepath.Join(dir, specPath))
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		spec, err := tablerepo.UnmarshalSpec(raw)
		if err != nil {
			return fmt.Errorf("output %d of node %s: %w", i, c.ID(), err)
		}
		c.Computation().SetOutputLoader(i, spec, w.tableLoader(spec, filepath.Join(dir, rowsPath)))
	}
	return nil
}

func (w *Workflow) tableLoader(spec cty.Type, path string) unit.Loader {
	return func() (*tablerepo.Table, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		t, err := tablerepo.UnmarshalTable(w.tables.NewID(), spec, data)
		if err != nil {
			return nil, err
		}
		if err := w.tables.Put(t); err != nil {
			return nil, err
		}
		return t, nil
	}
}

// mergeGlobals returns saved with every variable of override replacing the
// saved one of the same name; new names are appended.
func mergeGlobals(saved, override []flowstack.Variable) []flowstack.Variable {
	out := append([]flowstack.Variable(nil), saved...)
	for _, v := range override {
		replaced := false
		for i := range out {
			if out[i].Name == v.Name {
				out[i] = v
				replaced = true
			}
		}
		if !replaced {
			out = append(out, v)
		}
	}
	return out
}
