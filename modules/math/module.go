// Package math provides a node that appends a column computed from a
// numeric column of its input.
package math

import (
	"fmt"

	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

const TypeName = "math"

// Module implements the registry.Module interface for this package.
type Module struct{}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(TypeName, func() unit.Model { return New() })
}

// Operation is applied to the source value and the operand.
type Operation string

const (
	Add      Operation = "add"
	Subtract Operation = "subtract"
	Multiply Operation = "multiply"
)

// Model computes Target = Source <Operation> Operand for every row.
type Model struct {
	Source    string
	Target    string
	Operation Operation
	Operand   float64
}

func New() *Model {
	return &Model{Source: "value", Target: "result", Operation: Multiply, Operand: 1}
}

func (m *Model) Ports() (int, int) { return 1, 1 }

func (m *Model) Configure(_ *unit.ConfigureContext, in []cty.Type) ([]cty.Type, error) {
	out, err := m.outSpec(in[0])
	if err != nil {
		return nil, err
	}
	return []cty.Type{out}, nil
}

func (m *Model) outSpec(in cty.Type) (cty.Type, error) {
	attrs := in.AttributeTypes()
	src, ok := attrs[m.Source]
	if !ok {
		return cty.NilType, fmt.Errorf("input has no column %q", m.Source)
	}
	if src != cty.Number {
		return cty.NilType, fmt.Errorf("column %q is %s, not a number", m.Source, src.FriendlyName())
	}
	if _, exists := attrs[m.Target]; exists {
		return cty.NilType, fmt.Errorf("input already has a column %q", m.Target)
	}
	out := make(map[string]cty.Type, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[m.Target] = cty.Number
	return cty.Object(out), nil
}

func (m *Model) apply(v cty.Value) cty.Value {
	if v.IsNull() || !v.IsKnown() {
		return cty.NullVal(cty.Number)
	}
	operand := cty.NumberFloatVal(m.Operand)
	switch m.Operation {
	case Add:
		return v.Add(operand)
	case Subtract:
		return v.Subtract(operand)
	default:
		return v.Multiply(operand)
	}
}

func (m *Model) Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error) {
	spec, err := m.outSpec(in[0].Spec)
	if err != nil {
		return nil, err
	}
	src := in[0].RowSlice()
	rows := make([]cty.Value, 0, len(src))
	for i, row := range src {
		if err := ec.CheckCanceled(); err != nil {
			return nil, err
		}
		vals := row.AsValueMap()
		if vals == nil {
			vals = make(map[string]cty.Value)
		}
		vals[m.Target] = m.apply(row.GetAttr(m.Source))
		rows = append(rows, cty.ObjectVal(vals))
		ec.SetProgress(float64(i+1)/float64(len(src)), "")
	}
	t, err := ec.CreateTable(spec, rows)
	if err != nil {
		return nil, err
	}
	return []*tablerepo.Table{t}, nil
}

func (m *Model) Reset() {}

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddString("source", m.Source)
	sink.AddString("target", m.Target)
	sink.AddString("operation", string(m.Operation))
	sink.AddDouble("operand", m.Operand)
}

func (m *Model) LoadSettings(src settings.Source) error {
	source, err := src.GetString("source")
	if err != nil {
		return err
	}
	target, err := src.GetString("target")
	if err != nil {
		return err
	}
	op, err := src.GetString("operation")
	if err != nil {
		return err
	}
	switch Operation(op) {
	case Add, Subtract, Multiply:
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	operand, err := src.GetDouble("operand")
	if err != nil {
		return err
	}
	if source == "" || target == "" {
		return fmt.Errorf("source and target columns must be set")
	}
	m.Source, m.Target, m.Operation, m.Operand = source, target, Operation(op), operand
	return nil
}
