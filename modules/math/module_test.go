package math

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

var inSpec = cty.Object(map[string]cty.Type{"value": cty.Number, "label": cty.String})

func input(t *testing.T, vals ...cty.Value) *tablerepo.Table {
	t.Helper()
	rows := make([]cty.Value, len(vals))
	for i, v := range vals {
		rows[i] = cty.ObjectVal(map[string]cty.Value{"value": v, "label": cty.StringVal("r")})
	}
	tbl, err := tablerepo.NewTable(1, inSpec, rows)
	require.NoError(t, err)
	return tbl
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		model   *Model
		in      cty.Type
		wantErr string
	}{
		{name: "appends target", model: New(), in: inSpec},
		{name: "missing source", model: &Model{Source: "nope", Target: "result"}, in: inSpec, wantErr: "no column"},
		{name: "source not numeric", model: &Model{Source: "label", Target: "result"}, in: inSpec, wantErr: "not a number"},
		{name: "target exists", model: &Model{Source: "value", Target: "label"}, in: inSpec, wantErr: "already has"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.model.Configure(nil, []cty.Type{tt.in})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, out[0].HasAttribute("result"))
			assert.True(t, out[0].HasAttribute("label"))
		})
	}
}

func TestExecute(t *testing.T) {
	for op, want := range map[Operation][]float64{
		Add:      {3, 4},
		Subtract: {-1, 0},
		Multiply: {2, 4},
	} {
		t.Run(string(op), func(t *testing.T) {
			m := &Model{Source: "value", Target: "result", Operation: op, Operand: 2}
			ec := unit.NewExecutionContext(context.Background(), unit.ExecutionOptions{Node: nodeid.New(1)})
			out, err := m.Execute(ec, []*tablerepo.Table{input(t, cty.NumberIntVal(1), cty.NumberIntVal(2))})
			require.NoError(t, err)
			var got []float64
			for _, row := range out[0].RowSlice() {
				f, _ := row.GetAttr("result").AsBigFloat().Float64()
				got = append(got, f)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestExecute_NullStaysNull(t *testing.T) {
	ec := unit.NewExecutionContext(context.Background(), unit.ExecutionOptions{Node: nodeid.New(1)})
	out, err := New().Execute(ec, []*tablerepo.Table{input(t, cty.NullVal(cty.Number))})
	require.NoError(t, err)
	assert.True(t, out[0].Row(0).GetAttr("result").IsNull())
}

func TestLoadSettings(t *testing.T) {
	tree := settings.New("model")
	(&Model{Source: "a", Target: "b", Operation: Add, Operand: 1.5}).SaveSettings(tree)
	m := New()
	require.NoError(t, m.LoadSettings(tree))
	assert.Equal(t, &Model{Source: "a", Target: "b", Operation: Add, Operand: 1.5}, m)

	tree.AddString("operation", "divide")
	assert.ErrorContains(t, New().LoadSettings(tree), "unknown operation")

	tree.AddString("operation", "add")
	tree.AddString("target", "")
	assert.Error(t, New().LoadSettings(tree))
}
