// Package print provides a sink node that writes the rows of its input.
package print

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

const TypeName = "print"

// Module implements the registry.Module interface for this package. Out
// defaults to standard output.
type Module struct {
	Out io.Writer
}

func (m *Module) Register(r *registry.Registry) {
	out := m.Out
	if out == nil {
		out = os.Stdout
	}
	r.RegisterNode(TypeName, func() unit.Model { return New(out) })
}

// Model prints every row as sorted "key = value" lines.
type Model struct {
	Title string

	out io.Writer
}

func New(out io.Writer) *Model { return &Model{out: out} }

func (m *Model) Ports() (int, int) { return 1, 0 }

func (m *Model) Configure(_ *unit.ConfigureContext, _ []cty.Type) ([]cty.Type, error) {
	return nil, nil
}

func (m *Model) Execute(ec *unit.ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error) {
	ec.Logger().Info("Printing input", "rows", in[0].Len())
	var b strings.Builder
	if m.Title != "" {
		fmt.Fprintf(&b, "%s\n", m.Title)
	}
	cols := in[0].Columns()
	for i, row := range in[0].RowSlice() {
		if err := ec.CheckCanceled(); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "  row %d\n", i)
		for _, k := range cols {
			fmt.Fprintf(&b, "      %s = %s\n", k, render(row.GetAttr(k)))
		}
	}
	if in[0].Len() == 0 {
		fmt.Fprintln(&b, "      (empty)")
	}
	if _, err := io.WriteString(m.out, b.String()); err != nil {
		return nil, err
	}
	return nil, nil
}

func render(v cty.Value) string {
	switch {
	case v.IsNull():
		return "(null)"
	case v.Type() == cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case v.Type() == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case v.Type() == cty.Bool:
		return fmt.Sprintf("%t", v.True())
	}
	return v.GoString()
}

func (m *Model) Reset() {}

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddString("title", m.Title)
}

func (m *Model) LoadSettings(src settings.Source) error {
	title, err := src.GetString("title")
	if err != nil {
		return err
	}
	m.Title = title
	return nil
}
