package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

var rowSpec = cty.Object(map[string]cty.Type{"v": cty.Number})

// fakeModel has one setting, "label", and produces one single-row table per
// output.
type fakeModel struct {
	in, out   int
	label     string
	configErr error
	execErr   error
	inactive  bool
	release   chan struct{}
}

func (m *fakeModel) Ports() (int, int) { return m.in, m.out }

func (m *fakeModel) Configure(cc *unit.ConfigureContext, in []cty.Type) ([]cty.Type, error) {
	if m.configErr != nil {
		return nil, m.configErr
	}
	out := make([]cty.Type, m.out)
	for i := range out {
		out[i] = rowSpec
	}
	return out, nil
}

func (m *fakeModel) Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error) {
	if m.release != nil {
		select {
		case <-m.release:
		case <-ec.Context().Done():
			return nil, unit.ErrCanceled
		}
	}
	if err := ec.CheckCanceled(); err != nil {
		return nil, err
	}
	if m.execErr != nil {
		return nil, m.execErr
	}
	out := make([]*tablerepo.Table, m.out)
	for i := range out {
		t, err := ec.CreateTable(rowSpec, []cty.Value{cty.ObjectVal(map[string]cty.Value{"v": cty.NumberIntVal(int64(i))})})
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (m *fakeModel) Reset() {}

func (m *fakeModel) Inactive() bool { return m.inactive }

func (m *fakeModel) SaveSettings(sink settings.Sink) { sink.AddString("label", m.label) }

func (m *fakeModel) LoadSettings(src settings.Source) error {
	v, err := src.GetString("label")
	if err != nil {
		return err
	}
	m.label = v
	return nil
}

// recordingParent records the execution hooks it receives.
type recordingParent struct {
	manager jobmanager.Manager
	tables  *tablerepo.Repository
	stores  *filestore.Repository
	dir     string
	preOK   bool

	mu       sync.Mutex
	hooks    []string
	dirty    int
	finished chan jobmanager.Status
}

func newParent(t *testing.T, m jobmanager.Manager) *recordingParent {
	t.Helper()
	return &recordingParent{
		manager:  m,
		tables:   tablerepo.New(),
		stores:   filestore.NewRepository(),
		dir:      t.TempDir(),
		preOK:    true,
		finished: make(chan jobmanager.Status, 8),
	}
}

func (p *recordingParent) record(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, s)
}

func (p *recordingParent) Hooks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hooks...)
}

func (p *recordingParent) ID() nodeid.ID                              { return nodeid.New(0) }
func (p *recordingParent) FindJobManager() jobmanager.Manager         { return p.manager }
func (p *recordingParent) TableRepository() *tablerepo.Repository     { return p.tables }
func (p *recordingParent) FileStoreRepository() *filestore.Repository { return p.stores }
func (p *recordingParent) FileStoreDir() string                       { return p.dir }
func (p *recordingParent) Credentials() unit.Credentials {
	return unit.CredentialsMap{"db": {"scott", "tiger"}}
}

func (p *recordingParent) SetDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty++
}

func (p *recordingParent) DoBeforePreExecution(*Container) bool {
	p.record("pre")
	return p.preOK
}

func (p *recordingParent) DoBeforeExecution(*Container) error {
	p.record("execute")
	return nil
}

func (p *recordingParent) DoBeforePostExecution(_ *Container, s jobmanager.Status) {
	p.record("post:" + s.String())
}

func (p *recordingParent) DoAfterExecution(_ *Container, s jobmanager.Status) {
	p.record("finished:" + s.String())
	p.finished <- s
}

func (p *recordingParent) await(t *testing.T) jobmanager.Status {
	t.Helper()
	select {
	case s := <-p.finished:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not finish")
		return jobmanager.Failure
	}
}

// failingManager refuses every job.
type failingManager struct{}

func (failingManager) ID() string            { return "failing" }
func (failingManager) Kind() jobmanager.Kind { return jobmanager.Local }

func (failingManager) SubmitJob(context.Context, jobmanager.Executable, []*tablerepo.Table) (*jobmanager.Job, error) {
	return nil, errors.New("no capacity")
}

func (failingManager) CanDisconnect(*jobmanager.Job) bool                  { return false }
func (failingManager) Disconnect(*jobmanager.Job)                          {}
func (failingManager) SaveReconnectSettings(*jobmanager.Job, settings.Sink) {}

func (failingManager) LoadFromReconnectSettings(context.Context, settings.Source, jobmanager.Executable) (*jobmanager.Job, error) {
	return nil, jobmanager.ErrNotRemote
}

func newContainer(t *testing.T, p Parent, m *fakeModel) *Container {
	t.Helper()
	id := nodeid.New(1)
	c := NewNative(p, id, unit.New(id, "fake", m), BundleInfo{Name: "nodeflow", Version: "test"})
	t.Cleanup(c.PerformShutdown)
	return c
}

func recordStates(c *Container) func() []nodestate.State {
	var mu sync.Mutex
	var states []nodestate.State
	c.AddStateListener(func(ev StateEvent) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, ev.State)
	})
	return func() []nodestate.State {
		mu.Lock()
		defer mu.Unlock()
		return append([]nodestate.State(nil), states...)
	}
}

func configured(t *testing.T, c *Container) {
	t.Helper()
	c.SetFlowObjectStack(flowstack.New(nil, nodeid.New(0)))
	c.Configure(context.Background(), nil, false)
	require.Equal(t, nodestate.Configured, c.State())
}

func TestIllegalTransitionPanicsAndKeepsState(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})

	defer func() {
		r := recover()
		require.NotNil(t, r)
		var ise *IllegalStateError
		require.ErrorAs(t, r.(error), &ise)
		assert.Equal(t, "MarkForReExecution", ise.Method)
		assert.Equal(t, nodestate.Idle, c.State())
	}()
	c.MarkForReExecution(ReExecutionEnvironment())
}

func TestQueueUnconfiguredReturnsFalse(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	c.MarkForExecution(true)
	require.Equal(t, nodestate.UnconfiguredMarkedForExec, c.State())

	assert.False(t, c.Queue(context.Background(), nil))
	assert.Equal(t, nodestate.UnconfiguredMarkedForExec, c.State())
	assert.Nil(t, c.Job())
}

func TestExecuteSuccess(t *testing.T) {
	tm := jobmanager.NewThreadManager(2)
	p := newParent(t, tm)
	c := newContainer(t, p, &fakeModel{out: 2})
	states := recordStates(c)

	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	require.Equal(t, jobmanager.Success, p.await(t))

	assert.Equal(t, nodestate.Executed, c.State())
	assert.Nil(t, c.ExecutionEnvironment())
	assert.Nil(t, c.Job())
	assert.Equal(t, &BundleInfo{Name: "nodeflow", Version: "test"}, c.ExecutedBundle())
	assert.Equal(t, []string{"pre", "execute", "post:success", "finished:success"}, p.Hooks())

	want := []nodestate.State{
		nodestate.Configured, nodestate.ConfiguredMarkedForExec, nodestate.ConfiguredQueued,
		nodestate.PreExecute, nodestate.Executing, nodestate.PostExecute, nodestate.Executed,
	}
	if diff := cmp.Diff(want, states()); diff != "" {
		t.Errorf("state events mismatch (-want +got):\n%s", diff)
	}

	out, err := c.Outputs()
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, tbl := range out {
		got, ok := p.tables.Get(tbl.ID)
		require.True(t, ok)
		assert.Same(t, tbl, got)
	}
	require.NotNil(t, c.FileStoreHandler())
	assert.Equal(t, 1, p.stores.Len())
}

func TestExecuteFailureResetsToIdle(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1, execErr: errors.New("boom")})

	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	require.Equal(t, jobmanager.Failure, p.await(t))

	assert.Equal(t, nodestate.Idle, c.State())
	assert.Equal(t, MessageError, c.Message().Type)
	assert.Contains(t, c.Message().Text, "boom")
	assert.Equal(t, 0, p.tables.Len())
	assert.Nil(t, c.FileStoreHandler())
	assert.Equal(t, 0, p.stores.Len())
}

func TestSubmitFailureRunsFullSequence(t *testing.T) {
	p := newParent(t, failingManager{})
	c := newContainer(t, p, &fakeModel{out: 1})

	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))

	assert.Equal(t, []string{"pre", "execute", "post:failure", "finished:failure"}, p.Hooks())
	assert.Equal(t, nodestate.Idle, c.State())
	msg := c.Message()
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Text, "no capacity")
}

// panickingManager panics instead of returning an error.
type panickingManager struct{ failingManager }

func (panickingManager) SubmitJob(context.Context, jobmanager.Executable, []*tablerepo.Table) (*jobmanager.Job, error) {
	panic("manager is broken")
}

func TestSubmitPanicRunsFullSequence(t *testing.T) {
	p := newParent(t, panickingManager{})
	c := newContainer(t, p, &fakeModel{out: 1})
	states := recordStates(c)

	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))

	assert.Equal(t, []string{"pre", "execute", "post:failure", "finished:failure"}, p.Hooks())
	assert.Equal(t, nodestate.Idle, c.State())
	assert.Contains(t, c.Message().Text, "manager is broken")
	assert.Nil(t, c.Job())
	assert.NotContains(t, states(), nodestate.Executed)
}

func TestPreExecutionRefused(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	p.preOK = false
	c := newContainer(t, p, &fakeModel{out: 1})

	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	job := c.Job()
	require.NotNil(t, job)
	<-job.Done()

	assert.Equal(t, []string{"pre"}, p.Hooks())
	assert.Equal(t, nodestate.ConfiguredQueued, c.State())
}

func TestMarkAndUnmarkExecutionEnvironment(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})

	c.MarkForExecution(true)
	assert.Equal(t, nodestate.UnconfiguredMarkedForExec, c.State())
	require.NotNil(t, c.ExecutionEnvironment())
	assert.False(t, c.ExecutionEnvironment().ReExecute())

	c.MarkForExecution(false)
	assert.Equal(t, nodestate.Idle, c.State())
	assert.Nil(t, c.ExecutionEnvironment())

	configured(t, c)
	c.MarkForExecution(true)
	assert.Equal(t, nodestate.ConfiguredMarkedForExec, c.State())
	c.MarkForExecution(false)
	assert.Equal(t, nodestate.Configured, c.State())
}

func TestMarkForReExecutionRequiresReExecuteEnvironment(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1})
	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	require.Equal(t, jobmanager.Success, p.await(t))

	assert.PanicsWithError(t, (&InvariantError{Node: c.ID(), Reason: "re-execution requires a re-execution environment"}).Error(), func() {
		c.MarkForReExecution(NewExecutionEnvironment())
	})
	c.MarkForReExecution(ReExecutionEnvironment())
	assert.Equal(t, nodestate.ExecutedMarkedForExec, c.State())
	assert.True(t, c.ExecutionEnvironment().ReExecute())
}

func TestRawReset(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, c *Container, p *recordingParent)
		want  nodestate.State
	}{
		{
			name:  "unconfigured marked",
			setup: func(t *testing.T, c *Container, _ *recordingParent) { c.MarkForExecution(true) },
			want:  nodestate.Idle,
		},
		{
			name: "configured marked",
			setup: func(t *testing.T, c *Container, _ *recordingParent) {
				configured(t, c)
				c.MarkForExecution(true)
			},
			want: nodestate.Configured,
		},
		{
			name:  "configured",
			setup: func(t *testing.T, c *Container, _ *recordingParent) { configured(t, c) },
			want:  nodestate.Idle,
		},
		{
			name: "executed",
			setup: func(t *testing.T, c *Container, p *recordingParent) {
				configured(t, c)
				c.MarkForExecution(true)
				require.True(t, c.Queue(context.Background(), nil))
				require.Equal(t, jobmanager.Success, p.await(t))
			},
			want: nodestate.Idle,
		},
		{
			name: "executed marked",
			setup: func(t *testing.T, c *Container, p *recordingParent) {
				configured(t, c)
				c.MarkForExecution(true)
				require.True(t, c.Queue(context.Background(), nil))
				require.Equal(t, jobmanager.Success, p.await(t))
				c.MarkForReExecution(ReExecutionEnvironment())
			},
			want: nodestate.Idle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParent(t, jobmanager.NewThreadManager(1))
			c := newContainer(t, p, &fakeModel{out: 1})
			tt.setup(t, c, p)

			c.RawReset()
			assert.Equal(t, tt.want, c.State())
			assert.Nil(t, c.ExecutionEnvironment())
			assert.Equal(t, 0, p.tables.Len())
		})
	}
}

func TestRawResetWhileExecutingPanics(t *testing.T) {
	release := make(chan struct{})
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1, release: release})
	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	require.Eventually(t, func() bool { return c.State() == nodestate.Executing }, 5*time.Second, time.Millisecond)

	assert.Panics(t, c.RawReset)
	assert.Equal(t, nodestate.Executing, c.State())
	close(release)
	require.Equal(t, jobmanager.Success, p.await(t))
}

func TestCancelExecution(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		p := newParent(t, jobmanager.NewThreadManager(1))
		c := newContainer(t, p, &fakeModel{out: 1, release: release})
		configured(t, c)
		c.MarkForExecution(true)
		require.True(t, c.Queue(context.Background(), nil))
		require.Eventually(t, func() bool { return c.State() == nodestate.Executing }, 5*time.Second, time.Millisecond)

		c.CancelExecution()
		require.Equal(t, jobmanager.Canceled, p.await(t))
		assert.Equal(t, nodestate.Idle, c.State())
		assert.Equal(t, Warningf("Execution canceled"), c.Message())
	})

	t.Run("marked", func(t *testing.T) {
		c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
		configured(t, c)
		c.MarkForExecution(true)
		c.CancelExecution()
		assert.Equal(t, nodestate.Configured, c.State())
		assert.Nil(t, c.ExecutionEnvironment())
	})

	t.Run("executed twice is a no-op", func(t *testing.T) {
		p := newParent(t, jobmanager.NewThreadManager(1))
		c := newContainer(t, p, &fakeModel{out: 1})
		configured(t, c)
		c.MarkForExecution(true)
		require.True(t, c.Queue(context.Background(), nil))
		require.Equal(t, jobmanager.Success, p.await(t))
		states := recordStates(c)

		c.CancelExecution()
		c.CancelExecution()
		assert.Equal(t, nodestate.Executed, c.State())
		assert.Empty(t, states())
	})
}

func TestSetJobManagerWhileQueuedPanics(t *testing.T) {
	release := make(chan struct{})
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1, release: release})
	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))

	var ise *IllegalStateError
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r)
			require.ErrorAs(t, r.(error), &ise)
		}()
		c.SetJobManager(jobmanager.NewThreadManager(1))
	}()
	assert.Equal(t, "SetJobManager", ise.Method)
	close(release)
	require.Equal(t, jobmanager.Success, p.await(t))

	var props []PropertyEvent
	c.AddPropertyListener(func(ev PropertyEvent) { props = append(props, ev) })
	tm := jobmanager.NewThreadManager(3)
	c.SetJobManager(tm)
	assert.Same(t, tm, c.JobManager())
	require.Len(t, props, 1)
	assert.Equal(t, PropertyJobManager, props[0].Property)
}

func TestNodeLocks(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	var events []PropertyEvent
	c.AddPropertyListener(func(ev PropertyEvent) { events = append(events, ev) })

	c.ChangeNodeLocks(true, LockDelete, LockConfigure)
	c.ChangeNodeLocks(true, LockDelete)
	locks := c.NodeLocks()
	assert.True(t, locks.HasDeleteLock())
	assert.False(t, locks.HasResetLock())
	assert.True(t, locks.HasConfigureLock())
	require.Len(t, events, 1)
	assert.Equal(t, PropertyLocks, events[0].Property)

	tree := settings.New("locks")
	locks.Save(tree)
	loaded, err := LoadNodeLocks(tree)
	require.NoError(t, err)
	assert.Equal(t, locks, loaded)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := NewSettings()
	s.MemoryPolicy = CacheOnDisc
	s.Model.AddString("label", "x")
	s.Model.AddChild("nested").AddInt("n", 3)
	s.SetOverride("label", "v")
	s.SetExposed("out", "nested/n")

	tree := settings.New("node")
	s.Save(tree)
	decoded, err := settings.Decode(settings.Encode(tree), "node.hcl")
	require.NoError(t, err)
	loaded, err := LoadSettings(decoded)
	require.NoError(t, err)
	assert.True(t, s.Equal(loaded))

	s.MemoryPolicy = CacheInMemory
	assert.False(t, s.Equal(loaded))
}

func TestContainerSaveAndRestore(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1, label: "first"})
	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	require.Equal(t, jobmanager.Success, p.await(t))
	c.ChangeNodeLocks(true, LockReset)
	c.SetAnnotation("note")
	c.SetDescription("described")
	c.SetUIInfo(UIInfo{X: 1, Y: 2, Width: 30, Height: 40})
	c.SetMessage(Warningf("careful"))

	tree := settings.New("node")
	c.Save(tree)
	decoded, err := settings.Decode(settings.Encode(tree), "node.hcl")
	require.NoError(t, err)
	persisted, err := ReadPersisted(decoded)
	require.NoError(t, err)

	assert.Equal(t, nodestate.Executed, persisted.State)
	assert.True(t, c.Settings().Equal(persisted.Settings))

	model := &fakeModel{out: 1}
	id := nodeid.New(2)
	restored := NewNative(p, id, unit.New(id, "fake", model), BundleInfo{})
	t.Cleanup(restored.PerformShutdown)
	require.NoError(t, restored.Restore(persisted))
	assert.Equal(t, "first", model.label)
	assert.Equal(t, c.NodeLocks(), restored.NodeLocks())
	assert.Equal(t, c.Message(), restored.Message())
	assert.Equal(t, "note", restored.Annotation())
	assert.Equal(t, "described", restored.Description())
	assert.Equal(t, c.UIInfo(), restored.UIInfo())
	assert.Equal(t, c.ExecutedBundle(), restored.ExecutedBundle())

	configured(t, restored)
	restored.RestoreState(persisted.State)
	assert.Equal(t, nodestate.Executed, restored.State())
}

func TestSavedStateCollapsesTransientStates(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	c.MarkForExecution(true)
	tree := settings.New("node")
	c.Save(tree)
	name, err := tree.GetString("state")
	require.NoError(t, err)
	assert.Equal(t, nodestate.Idle.String(), name)

	c.MarkForExecution(false)
	configured(t, c)
	c.MarkForExecution(true)
	tree = settings.New("node")
	c.Save(tree)
	name, err = tree.GetString("state")
	require.NoError(t, err)
	assert.Equal(t, nodestate.Configured.String(), name)
}

func TestDirty(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1})

	assert.True(t, c.IsDirty(), "never saved")
	c.SetLocation("/tmp/wf/node_1")
	assert.False(t, c.IsDirty())

	c.MarkLocationDirty()
	assert.True(t, c.IsDirty())

	c.SetLocation("/tmp/wf/node_1")
	c.SetDirty()
	assert.True(t, c.IsDirty())
	assert.Equal(t, 1, p.dirty)
}

func TestSetDirtyMaterializesLazyOutputs(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1})
	configured(t, c)

	tbl, err := tablerepo.NewTable(7, rowSpec, nil)
	require.NoError(t, err)
	loads := 0
	c.Computation().SetOutputLoader(0, rowSpec, func() (*tablerepo.Table, error) {
		loads++
		return tbl, nil
	})
	require.True(t, c.Computation().HasLazyOutputs())

	c.SetDirty()
	assert.False(t, c.Computation().HasLazyOutputs())
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, p.dirty)
}

func TestConfigureAppliesOverridesAndExposesVariables(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	model := &fakeModel{out: 1, label: "default"}
	c := newContainer(t, p, model)

	s := c.Settings()
	s.SetOverride("label", "greeting")
	s.SetExposed("published", "label")
	require.NoError(t, c.SetSettings(s))

	arena := flowstack.NewArena()
	in := flowstack.New(arena, nodeid.New(0))
	require.NoError(t, in.PushVariable(flowstack.StringVar("greeting", "hello")))
	c.SetFlowObjectStack(in)

	assert.True(t, c.Configure(context.Background(), nil, false))
	require.Equal(t, nodestate.Configured, c.State())
	assert.Equal(t, "hello", model.label)

	v, ok := c.OutgoingFlowObjectStack().PeekVariable("published")
	require.True(t, ok)
	assert.Equal(t, "hello", v.Value.AsString())

	// Stored settings are untouched by the override.
	label, err := c.Settings().Model.GetString("label")
	require.NoError(t, err)
	assert.Equal(t, "default", label)
}

func TestConfigureMissingOverrideVariable(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	s := c.Settings()
	s.SetOverride("label", "absent")
	require.NoError(t, c.SetSettings(s))

	c.SetFlowObjectStack(flowstack.New(nil, nodeid.New(0)))
	c.Configure(context.Background(), nil, false)
	assert.Equal(t, nodestate.Idle, c.State())
	assert.Equal(t, MessageError, c.Message().Type)
}

func TestConfigureFailureUnconfigures(t *testing.T) {
	model := &fakeModel{out: 1}
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), model)
	configured(t, c)
	c.MarkForExecution(true)

	model.configErr = errors.New("bad input")
	assert.True(t, c.Configure(context.Background(), nil, false))
	assert.Equal(t, nodestate.UnconfiguredMarkedForExec, c.State())
	assert.Equal(t, Warningf("bad input"), c.Message())

	model.configErr = nil
	c.Configure(context.Background(), nil, false)
	assert.Equal(t, nodestate.ConfiguredMarkedForExec, c.State())
	assert.Equal(t, NoMessage, c.Message())
}

func TestInactivityChangeEvent(t *testing.T) {
	model := &fakeModel{out: 1}
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), model)
	configured(t, c)

	var events []StateEvent
	c.AddStateListener(func(ev StateEvent) { events = append(events, ev) })

	assert.False(t, c.Configure(context.Background(), nil, false))
	assert.Empty(t, events)

	model.inactive = true
	assert.True(t, c.Configure(context.Background(), nil, false))
	assert.True(t, c.IsInactive())
	require.Len(t, events, 1)
	assert.Equal(t, StateEvent{Node: c.ID(), State: nodestate.Configured, InactivityChanged: true}, events[0])
	assert.True(t, unit.IsInactive(c.OutSpecs()[0]))
}

func TestMimicRemoteExecution(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	c := newContainer(t, p, &fakeModel{out: 1})
	configured(t, c)
	c.MarkForExecution(true)

	c.MimicRemotePreExecute()
	assert.Equal(t, nodestate.PreExecute, c.State())
	c.MimicRemoteExecuting()
	assert.Equal(t, nodestate.ExecutingRemotely, c.State())
	c.MimicRemotePostExecute()
	assert.Equal(t, nodestate.PostExecute, c.State())
	c.MimicRemoteExecuted(jobmanager.Success)
	assert.Equal(t, nodestate.Executed, c.State())

	states := recordStates(c)
	c.MimicRemotePreExecute()
	c.MimicRemoteExecuting()
	c.MimicRemotePostExecute()
	c.MimicRemoteExecuted(jobmanager.Failure)
	assert.Equal(t, nodestate.Executed, c.State())
	assert.Empty(t, states())
}

func TestExecutionResultRoundTrip(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	src := newContainer(t, p, &fakeModel{out: 1})
	configured(t, src)
	src.MarkForExecution(true)
	require.True(t, src.Queue(context.Background(), nil))
	require.Equal(t, jobmanager.Success, p.await(t))

	res, err := src.CreateExecutionResult()
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Outputs, 1)

	q := newParent(t, jobmanager.NewThreadManager(1))
	id := nodeid.New(3)
	dst := NewNative(q, id, unit.New(id, "fake", &fakeModel{out: 1}), BundleInfo{})
	t.Cleanup(dst.PerformShutdown)
	require.NoError(t, dst.LoadExecutionResult(res))
	out, err := dst.Outputs()
	require.NoError(t, err)
	assert.Same(t, res.Outputs[0], out[0])
	_, ok := q.tables.Get(out[0].ID)
	assert.True(t, ok)

	require.NoError(t, dst.LoadExecutionResult(jobmanager.Result{Message: "remote failed"}))
	assert.Equal(t, Errorf("remote failed"), dst.Message())
}

func TestDescribe(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1, label: "abc"})
	name, raw, err := c.Describe()
	require.NoError(t, err)
	assert.Equal(t, "fake", name)
	tree, err := settings.Decode(raw, "model.hcl")
	require.NoError(t, err)
	label, err := tree.GetString("label")
	require.NoError(t, err)
	assert.Equal(t, "abc", label)
}

func TestReconnectRequiresRemoteState(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	err := c.SaveExecutionJobReconnectInfo(settings.New("job"))
	assert.ErrorIs(t, err, ErrNotRemote)
	err = c.ContinueExecutionOnLoad(context.Background(), nil, settings.New("job"))
	assert.ErrorIs(t, err, ErrNotRemote)
}

func TestLoopStatusOfPlainNode(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	assert.Equal(t, LoopNone, c.LoopStatus())
	c.PauseLoopExecution(true)
	assert.Equal(t, LoopNone, c.LoopStatus())
}

func TestListenersAndShutdown(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})

	var messages []string
	remove := c.AddMessageListener(func(ev MessageEvent) { messages = append(messages, ev.Message.Text) })
	var progress []float64
	c.AddProgressListener(func(ev ProgressEvent) { progress = append(progress, ev.Fraction) })
	var infos []UIInfo
	c.AddUIInfoListener(func(ev UIInfoEvent) { infos = append(infos, ev.Info) })

	c.SetMessage(Warningf("one"))
	c.SetMessage(Warningf("one"))
	remove()
	c.SetMessage(Warningf("two"))
	c.Progress().Set(0.5, "half")
	c.SetUIInfo(UIInfo{X: 5})

	assert.Equal(t, []string{"one"}, messages)
	assert.Equal(t, []float64{0.5}, progress)
	assert.Equal(t, []UIInfo{{X: 5}}, infos)

	c.PerformShutdown()
	c.PerformShutdown()
	assert.True(t, c.IsShutdown())
	assert.Equal(t, 0, c.ListenerCount())
}

func TestConcurrentShutdownLeavesStateOnce(t *testing.T) {
	c := newContainer(t, newParent(t, jobmanager.NewThreadManager(1)), &fakeModel{out: 1})
	configured(t, c)
	before := nodestate.Count(nodestate.Configured)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.PerformShutdown()
		}()
	}
	wg.Wait()

	assert.True(t, c.IsShutdown())
	assert.Equal(t, before-1, nodestate.Count(nodestate.Configured))
}

func TestCredentialsReachModel(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	id := nodeid.New(4)
	m := &credModel{}
	c := NewNative(p, id, unit.New(id, "cred", m), BundleInfo{})
	t.Cleanup(c.PerformShutdown)
	configured(t, c)
	c.MarkForExecution(true)
	require.True(t, c.Queue(context.Background(), nil))
	require.Equal(t, jobmanager.Success, p.await(t))
	assert.Equal(t, "scott", m.login)
}

type credModel struct{ login string }

func (m *credModel) Ports() (int, int) { return 0, 0 }
func (m *credModel) Configure(*unit.ConfigureContext, []cty.Type) ([]cty.Type, error) {
	return nil, nil
}

func (m *credModel) Execute(ec *unit.ExecutionContext, _ []*tablerepo.Table) ([]*tablerepo.Table, error) {
	login, _, err := ec.Credentials("db")
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	m.login = login
	return nil, nil
}
func (m *credModel) Reset()                             {}
func (m *credModel) SaveSettings(settings.Sink)         {}
func (m *credModel) LoadSettings(settings.Source) error { return nil }

// loopHeadModel is a loop start running a fixed number of iterations.
type loopHeadModel struct {
	fakeModel
	iterations int
	last       bool
}

func (m *loopHeadModel) Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error) {
	m.last = ec.Loop().Iteration()+1 >= m.iterations
	return m.fakeModel.Execute(ec, in)
}

func (m *loopHeadModel) LastIteration() bool { return m.last }

type loopTailModel struct{ fakeModel }

func (m *loopTailModel) StartLoop() {}

func newNode(t *testing.T, p Parent, idx int, m unit.Model) *Container {
	t.Helper()
	id := nodeid.New(idx)
	c := NewNative(p, id, unit.New(id, "fake", m), BundleInfo{Name: "nodeflow", Version: "test"})
	t.Cleanup(c.PerformShutdown)
	return c
}

// runAfter executes c with the outputs and outgoing stack of pred, or with
// root when pred is nil.
func runAfter(t *testing.T, p *recordingParent, root *flowstack.Stack, c, pred *Container) {
	t.Helper()
	ctx := context.Background()
	var in []*tablerepo.Table
	var specs []cty.Type
	stack := root.Copy(c.ID())
	if pred != nil {
		out, err := pred.Outputs()
		require.NoError(t, err)
		in, specs = out, pred.OutSpecs()
		stack, err = flowstack.Merge(c.ID(), root, []*flowstack.Stack{pred.OutgoingFlowObjectStack()})
		require.NoError(t, err)
	}
	c.SetFlowObjectStack(stack)
	switch c.State() {
	case nodestate.Idle:
		c.Configure(ctx, specs, false)
		c.MarkForExecution(true)
	case nodestate.ConfiguredMarkedForExec:
		c.Configure(ctx, specs, false)
	}
	require.True(t, c.Queue(ctx, in))
	require.Equal(t, jobmanager.Success, p.await(t), c.Message().Text)
}

func TestLoopIterationsReuseFileStoreHandlers(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	root := flowstack.New(flowstack.NewArena(), nodeid.New(0))
	head := newNode(t, p, 1, &loopHeadModel{fakeModel: fakeModel{out: 1}, iterations: 4})
	body := newNode(t, p, 2, &fakeModel{in: 1, out: 1})
	tail := newNode(t, p, 3, &loopTailModel{fakeModel{in: 1, out: 1}})

	var heads, bodies, tails []*filestore.Handler
	for i := 0; i < 4; i++ {
		if i > 0 {
			for _, c := range []*Container{head, body} {
				c.MarkForReExecution(ReExecutionEnvironment())
				c.CleanOutPorts(true)
			}
		}
		runAfter(t, p, root, head, nil)
		runAfter(t, p, root, body, head)
		runAfter(t, p, root, tail, body)
		heads = append(heads, head.FileStoreHandler())
		bodies = append(bodies, body.FileStoreHandler())
		tails = append(tails, tail.FileStoreHandler())
		if i < 3 {
			require.Equal(t, nodestate.ConfiguredMarkedForExec, tail.State())
			assert.Equal(t, LoopRunning, tail.LoopStatus())
		}
	}
	assert.Equal(t, nodestate.Executed, tail.State())

	require.NotNil(t, heads[0])
	assert.Equal(t, filestore.KindLoopStart, heads[0].Kind())
	assert.Equal(t, filestore.KindReference, bodies[0].Kind())
	assert.Equal(t, filestore.KindLoopEnd, tails[0].Kind())
	for i := 1; i < 4; i++ {
		assert.Same(t, heads[0], heads[i], "loop start in iteration %d", i)
		assert.Same(t, bodies[0], bodies[i], "body in iteration %d", i)
		assert.Same(t, tails[0], tails[i], "loop end in iteration %d", i)
	}
	assert.Same(t, heads[0], bodies[0].Parent())
	assert.Same(t, heads[0], tails[0].Parent())
	assert.Equal(t, 3, p.stores.Len())
}

func TestVirtualScopeNodeReferencesHostStore(t *testing.T) {
	p := newParent(t, jobmanager.NewThreadManager(1))
	host := filestore.NewPlain("host", p.dir)
	root := flowstack.New(flowstack.NewArena(), nodeid.New(0))
	require.NoError(t, root.Push(flowstack.NewVirtualScope(nodeid.New(0), host, nil)))
	c := newNode(t, p, 1, &fakeModel{out: 1})

	runAfter(t, p, root, c, nil)
	h := c.FileStoreHandler()
	require.NotNil(t, h)
	assert.Equal(t, filestore.KindReference, h.Kind())
	assert.Same(t, host, h.Parent())

	// Running again inside the same scope keeps the handler.
	c.MarkForReExecution(ReExecutionEnvironment())
	c.CleanOutPorts(true)
	runAfter(t, p, root, c, nil)
	assert.Same(t, h, c.FileStoreHandler())
	assert.False(t, host.IsDisposed())
}
