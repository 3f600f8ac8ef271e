// Package table_creator provides a source node that builds a one-column
// numeric table from its settings.
package table_creator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

// TypeName is the node type registered by this module.
const TypeName = "table_creator"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the node type with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(TypeName, func() unit.Model { return New() })
}

// Model creates a table with one Number column.
type Model struct {
	Column string
	Values []float64
}

// New returns a model producing 1, 2 and 3 in column "value".
func New() *Model {
	return &Model{Column: "value", Values: []float64{1, 2, 3}}
}

func (m *Model) Ports() (int, int) { return 0, 1 }

func (m *Model) spec() cty.Type {
	return cty.Object(map[string]cty.Type{m.Column: cty.Number})
}

func (m *Model) Configure(_ *unit.ConfigureContext, _ []cty.Type) ([]cty.Type, error) {
	return []cty.Type{m.spec()}, nil
}

func (m *Model) Execute(ec *unit.ExecutionContext, _ []*tablerepo.Table) ([]*tablerepo.Table, error) {
	rows := make([]cty.Value, 0, len(m.Values))
	for i, v := range m.Values {
		if i%1000 == 0 {
			if err := ec.CheckCanceled(); err != nil {
				return nil, err
			}
		}
		rows = append(rows, cty.ObjectVal(map[string]cty.Value{m.Column: cty.NumberFloatVal(v)}))
	}
	t, err := ec.CreateTable(m.spec(), rows)
	if err != nil {
		return nil, err
	}
	ec.SetProgress(1, fmt.Sprintf("%d rows", len(rows)))
	return []*tablerepo.Table{t}, nil
}

func (m *Model) Reset() {}

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddString("column", m.Column)
	parts := make([]string, len(m.Values))
	for i, v := range m.Values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	sink.AddString("values", strings.Join(parts, ","))
}

func (m *Model) LoadSettings(src settings.Source) error {
	column, err := src.GetString("column")
	if err != nil {
		return err
	}
	if column == "" {
		return fmt.Errorf("column name must not be empty")
	}
	raw, err := src.GetString("values")
	if err != nil {
		return err
	}
	values, err := ParseValues(raw)
	if err != nil {
		return err
	}
	m.Column, m.Values = column, values
	return nil
}

// ParseValues parses a comma separated list of numbers. Blank input yields
// an empty list.
func ParseValues(raw string) ([]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
