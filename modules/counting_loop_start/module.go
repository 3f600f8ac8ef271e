// Package counting_loop_start provides a loop start that runs its loop body
// a fixed number of times.
package counting_loop_start

import (
	"fmt"

	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

const TypeName = "counting_loop_start"

// Variables pushed into the loop body.
const (
	VarCurrentIteration = "currentIteration"
	VarMaxIterations    = "maxIterations"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(TypeName, func() unit.Model { return New() })
}

// Model passes its input through once per iteration.
type Model struct {
	Iterations int

	iteration int
}

var _ unit.LoopStart = (*Model)(nil)

func New() *Model { return &Model{Iterations: 3} }

func (m *Model) Ports() (int, int) { return 1, 1 }

func (m *Model) Configure(cc *unit.ConfigureContext, in []cty.Type) ([]cty.Type, error) {
	if err := cc.PushVariable(flowstack.IntVar(VarMaxIterations, m.Iterations)); err != nil {
		return nil, err
	}
	if err := cc.PushVariable(flowstack.IntVar(VarCurrentIteration, 0)); err != nil {
		return nil, err
	}
	return []cty.Type{in[0]}, nil
}

func (m *Model) Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error) {
	loop := ec.Loop()
	if loop == nil {
		return nil, fmt.Errorf("loop start executed without a loop context")
	}
	m.iteration = loop.Iteration()
	if err := ec.PushVariable(flowstack.IntVar(VarMaxIterations, m.Iterations)); err != nil {
		return nil, err
	}
	if err := ec.PushVariable(flowstack.IntVar(VarCurrentIteration, m.iteration)); err != nil {
		return nil, err
	}
	ec.SetProgress(float64(m.iteration+1)/float64(m.Iterations), fmt.Sprintf("iteration %d of %d", m.iteration+1, m.Iterations))
	t, err := ec.CreateTable(in[0].Spec, in[0].RowSlice())
	if err != nil {
		return nil, err
	}
	return []*tablerepo.Table{t}, nil
}

// LastIteration reports whether the iteration that just ran was the last.
func (m *Model) LastIteration() bool {
	return m.iteration+1 >= m.Iterations
}

func (m *Model) Reset() { m.iteration = 0 }

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddInt("iterations", m.Iterations)
}

func (m *Model) LoadSettings(src settings.Source) error {
	n, err := src.GetInt("iterations")
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("iterations must be positive, got %d", n)
	}
	m.Iterations = n
	return nil
}
