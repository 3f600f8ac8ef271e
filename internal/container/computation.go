package container

import (
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

// Computation is the work a container schedules. *unit.Node is the native
// computation.
type Computation interface {
	Name() string
	NrInPorts() int
	NrOutPorts() int

	Configure(cc *unit.ConfigureContext, in []cty.Type) error
	Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) error
	Reset()
	// CleanOutPorts returns the number of released temp tables.
	CleanOutPorts(repo *tablerepo.Repository, isLoopRestart bool) int

	OutSpecs() []cty.Type
	Outputs() ([]*tablerepo.Table, error)
	SetOutputs(out []*tablerepo.Table) error
	SetOutputLoader(port int, spec cty.Type, l unit.Loader)
	HasLazyOutputs() bool
	MaterializeOutputs() error
	IsInactive() bool

	SetInStack(s *flowstack.Stack)
	InStack() *flowstack.Stack
	NewOutStack() *flowstack.Stack
	SetOutStack(s *flowstack.Stack)
	OutStack() *flowstack.Stack

	IsLoopStart() bool
	IsLoopEnd() bool
	LoopContext() *flowstack.LoopContext
	ClearLoopContext()
	PendingLoop() *filestore.Loop
	SetPauseLoopExecution(pause bool)
	PauseLoopExecution() bool

	FileStoreHandler() *filestore.Handler
	SetFileStoreHandler(h *filestore.Handler)

	LoadModelSettings(src settings.Source) error
	SaveModelSettings(sink settings.Sink)
}

var _ Computation = (*unit.Node)(nil)
