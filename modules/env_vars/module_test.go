package env_vars

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/unit"
)

func fakeEnviron() []string {
	return []string{"APP_B=2", "OTHER=x", "APP_A=1", "BROKEN"}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name      string
		publish   bool
		wantNames []string
	}{
		{name: "table only", wantNames: []string{"APP_A", "APP_B"}},
		{name: "publish", publish: true, wantNames: []string{"APP_A", "APP_B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := nodeid.New(1)
			ec := unit.NewExecutionContext(context.Background(), unit.ExecutionOptions{
				Node:  id,
				Stack: flowstack.New(flowstack.NewArena(), id),
			})
			m := &Model{Prefix: "APP_", Publish: tt.publish, environ: fakeEnviron}

			out, err := m.Execute(ec, nil)
			require.NoError(t, err)
			var names []string
			for _, row := range out[0].RowSlice() {
				names = append(names, row.GetAttr("name").AsString())
			}
			assert.Equal(t, tt.wantNames, names)

			_, ok := ec.Variable("APP_A")
			assert.Equal(t, tt.publish, ok)
		})
	}
}

func TestSettings(t *testing.T) {
	tree := settings.New("model")
	(&Model{Prefix: "X_", Publish: true}).SaveSettings(tree)
	m := New()
	require.NoError(t, m.LoadSettings(tree))
	assert.Equal(t, "X_", m.Prefix)
	assert.True(t, m.Publish)
}
