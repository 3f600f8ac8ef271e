// Package loop_end provides a loop end that collects the rows of every
// iteration into one table with an added iteration column.
package loop_end

import (
	"fmt"
	"sync"

	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

const TypeName = "loop_end"

// Module implements the registry.Module interface for this package.
type Module struct{}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(TypeName, func() unit.Model { return New() })
}

// Model collects rows across iterations.
type Model struct {
	Column string

	mu   sync.Mutex
	rows []cty.Value
}

var _ unit.LoopEnd = (*Model)(nil)

func New() *Model { return &Model{Column: "iteration"} }

func (m *Model) Ports() (int, int) { return 1, 1 }

func (m *Model) outSpec(in cty.Type) (cty.Type, error) {
	attrs := in.AttributeTypes()
	if _, exists := attrs[m.Column]; exists {
		return cty.NilType, fmt.Errorf("input already has a column %q", m.Column)
	}
	out := make(map[string]cty.Type, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[m.Column] = cty.Number
	return cty.Object(out), nil
}

func (m *Model) Configure(_ *unit.ConfigureContext, in []cty.Type) ([]cty.Type, error) {
	spec, err := m.outSpec(in[0])
	if err != nil {
		return nil, err
	}
	return []cty.Type{spec}, nil
}

// StartLoop drops rows of a previous loop run.
func (m *Model) StartLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
}

func (m *Model) Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error) {
	loop := ec.Loop()
	if loop == nil {
		return nil, unit.ErrNoLoopStart
	}
	spec, err := m.outSpec(in[0].Spec)
	if err != nil {
		return nil, err
	}
	iteration := cty.NumberIntVal(int64(loop.Iteration()))

	m.mu.Lock()
	for _, row := range in[0].RowSlice() {
		vals := row.AsValueMap()
		if vals == nil {
			vals = make(map[string]cty.Value)
		}
		vals[m.Column] = iteration
		m.rows = append(m.rows, cty.ObjectVal(vals))
	}
	rows := append([]cty.Value(nil), m.rows...)
	m.mu.Unlock()

	ec.Logger().Debug("Collected loop iteration.", "iteration", loop.Iteration(), "rows", len(rows))
	t, err := ec.CreateTable(spec, rows)
	if err != nil {
		return nil, err
	}
	return []*tablerepo.Table{t}, nil
}

func (m *Model) Reset() { m.StartLoop() }

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddString("column", m.Column)
}

func (m *Model) LoadSettings(src settings.Source) error {
	column, err := src.GetString("column")
	if err != nil {
		return err
	}
	if column == "" {
		return fmt.Errorf("iteration column name must not be empty")
	}
	m.Column = column
	return nil
}
