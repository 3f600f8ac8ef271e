// Package variable_source provides a node that publishes one flow variable
// and reports it as a one-row table.
package variable_source

import (
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

const TypeName = "variable_source"

// Module implements the registry.Module interface for this package.
type Module struct{}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(TypeName, func() unit.Model { return New() })
}

var outSpec = cty.Object(map[string]cty.Type{"name": cty.String, "value": cty.String})

// Model pushes a variable on configure and on execute.
type Model struct {
	Name  string
	Value string
	Type  string
}

func New() *Model {
	return &Model{Name: "var", Value: "", Type: flowstack.TypeString.String()}
}

func (m *Model) Ports() (int, int) { return 0, 1 }

func (m *Model) variable() (flowstack.Variable, error) {
	return flowstack.ParseVariable(m.Name, m.Value, m.Type)
}

func (m *Model) Configure(cc *unit.ConfigureContext, _ []cty.Type) ([]cty.Type, error) {
	v, err := m.variable()
	if err != nil {
		return nil, err
	}
	if err := cc.PushVariable(v); err != nil {
		return nil, err
	}
	return []cty.Type{outSpec}, nil
}

func (m *Model) Execute(ec *unit.ExecutionContext, _ []*tablerepo.Table) ([]*tablerepo.Table, error) {
	v, err := m.variable()
	if err != nil {
		return nil, err
	}
	if err := ec.PushVariable(v); err != nil {
		return nil, err
	}
	t, err := ec.CreateTable(outSpec, []cty.Value{cty.ObjectVal(map[string]cty.Value{
		"name":  cty.StringVal(v.Name),
		"value": cty.StringVal(v.Text()),
	})})
	if err != nil {
		return nil, err
	}
	return []*tablerepo.Table{t}, nil
}

func (m *Model) Reset() {}

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddString("name", m.Name)
	sink.AddString("value", m.Value)
	sink.AddString("type", m.Type)
}

func (m *Model) LoadSettings(src settings.Source) error {
	var next Model
	var err error
	if next.Name, err = src.GetString("name"); err != nil {
		return err
	}
	if next.Value, err = src.GetString("value"); err != nil {
		return err
	}
	if next.Type, err = src.GetString("type"); err != nil {
		return err
	}
	if _, err := next.variable(); err != nil {
		return err
	}
	*m = next
	return nil
}
