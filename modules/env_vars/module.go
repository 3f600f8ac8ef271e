// Package env_vars provides a node that lists the process environment as a
// table and can publish it as flow variables.
package env_vars

import (
	"os"
	"sort"
	"strings"

	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

const TypeName = "env_vars"

// Module implements the registry.Module interface for this package.
type Module struct{}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(TypeName, func() unit.Model { return New() })
}

var outSpec = cty.Object(map[string]cty.Type{"name": cty.String, "value": cty.String})

// Model reads environment variables whose name starts with Prefix.
type Model struct {
	Prefix string
	// Publish pushes every matching variable as a string flow variable.
	Publish bool

	environ func() []string
}

func New() *Model {
	return &Model{environ: os.Environ}
}

func (m *Model) Ports() (int, int) { return 0, 1 }

func (m *Model) Configure(_ *unit.ConfigureContext, _ []cty.Type) ([]cty.Type, error) {
	return []cty.Type{outSpec}, nil
}

// lookup returns the matching variables sorted by name.
func (m *Model) lookup() [][2]string {
	var pairs [][2]string
	for _, e := range m.environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], m.Prefix) {
			continue
		}
		pairs = append(pairs, [2]string{pair[0], pair[1]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

func (m *Model) Execute(ec *unit.ExecutionContext, _ []*tablerepo.Table) ([]*tablerepo.Table, error) {
	pairs := m.lookup()
	rows := make([]cty.Value, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, cty.ObjectVal(map[string]cty.Value{
			"name":  cty.StringVal(p[0]),
			"value": cty.StringVal(p[1]),
		}))
		if m.Publish {
			if err := ec.PushVariable(flowstack.StringVar(p[0], p[1])); err != nil {
				return nil, err
			}
		}
	}
	ec.Logger().Debug("Read environment.", "prefix", m.Prefix, "count", len(rows))
	t, err := ec.CreateTable(outSpec, rows)
	if err != nil {
		return nil, err
	}
	return []*tablerepo.Table{t}, nil
}

func (m *Model) Reset() {}

func (m *Model) SaveSettings(sink settings.Sink) {
	sink.AddString("prefix", m.Prefix)
	sink.AddBool("publish", m.Publish)
}

func (m *Model) LoadSettings(src settings.Source) error {
	prefix, err := src.GetString("prefix")
	if err != nil {
		return err
	}
	publish, err := src.GetBool("publish")
	if err != nil {
		return err
	}
	m.Prefix, m.Publish = prefix, publish
	return nil
}
