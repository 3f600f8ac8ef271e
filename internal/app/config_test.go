package app

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      Config
		wantErr string
	}{
		{name: "missing workflow", in: Config{}, wantErr: "WorkflowPath"},
		{name: "dest with nosave", in: Config{WorkflowPath: "w", DestPath: "d", NoSave: true}, wantErr: "nosave"},
		{name: "negative workers", in: Config{WorkflowPath: "w", WorkerCount: -1}, wantErr: "worker count"},
		{name: "bad port", in: Config{WorkflowPath: "w", HealthcheckPort: 70000}, wantErr: "healthcheck port"},
		{name: "valid", in: Config{WorkflowPath: "w"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.Second, cfg.CancelPollInterval)
			assert.Equal(t, "info", cfg.LogLevel)
			assert.Equal(t, "text", cfg.LogFormat)
		})
	}
}

func TestParseVariableSpec(t *testing.T) {
	v, err := ParseVariableSpec("limit,5,int")
	require.NoError(t, err)
	assert.Equal(t, "limit", v.Name)
	assert.Equal(t, flowstack.TypeInt, v.Type)
	n, ok := v.Int()
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	_, err = ParseVariableSpec("limit,5")
	assert.Error(t, err)
	_, err = ParseVariableSpec("limit,five,int")
	assert.Error(t, err)
}

func TestParseOptionSpec(t *testing.T) {
	opt, err := ParseOptionSpec("0:3,model/threshold,0.5,double")
	require.NoError(t, err)
	want := NodeOption{Node: nodeid.MustParse("0:3"), Path: "model/threshold", Value: cty.NumberFloatVal(0.5)}
	if diff := cmp.Diff(want, opt, cmp.Comparer(func(a, b nodeid.ID) bool { return a == b }), cmp.Comparer(func(a, b cty.Value) bool { return a.RawEquals(b) })); diff != "" {
		t.Errorf("option mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"0:3,key,1", "x,key,1,int", "0:3,,1,int", "0:3,key,1,color"} {
		_, err := ParseOptionSpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseCredentialSpec(t *testing.T) {
	creds := unit.CredentialsMap{}
	require.NoError(t, ParseCredentialSpec(creds, "db;alice;secret"))
	require.NoError(t, ParseCredentialSpec(creds, "token"))
	require.NoError(t, ParseCredentialSpec(creds, "api;bob"))
	assert.Equal(t, unit.CredentialsMap{
		"db":    {"alice", "secret"},
		"token": {"", ""},
		"api":   {"bob", ""},
	}, creds)
	assert.Error(t, ParseCredentialSpec(creds, ";x"))
}
