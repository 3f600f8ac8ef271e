package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/unit"
	"github.com/zclconf/go-cty/cty"
)

// NodeOption overrides one model setting of a node before execution.
type NodeOption struct {
	Node  nodeid.ID
	Path  string // settings path, nested keys joined with "/"
	Value cty.Value
}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// WorkflowPath is the workflow directory or its definition file.
	WorkflowPath string
	// DestPath is where the workflow is saved after execution. Defaults to
	// the workflow directory.
	DestPath string

	NoSave          bool
	Reset           bool
	NoExecute       bool
	UpdateLinks     bool
	FailOnLoadError bool
	StopOnError     bool

	Variables   []flowstack.Variable
	Options     []NodeOption
	Credentials unit.CredentialsMap

	LogFormat          string
	LogLevel           string
	HealthcheckPort    int
	WorkerCount        int
	CancelPollInterval time.Duration
	// RemoteURL selects the socket.io remote job manager instead of local
	// worker threads.
	RemoteURL string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkflowPath == "" {
		return nil, errors.New("WorkflowPath is a required configuration field and cannot be empty")
	}
	if cfg.NoSave && cfg.DestPath != "" {
		return nil, errors.New("a destination cannot be combined with nosave")
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.WorkerCount)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if cfg.CancelPollInterval <= 0 {
		cfg.CancelPollInterval = time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	return &cfg, nil
}

// ParseVariableSpec parses "name,value,type" as given to --workflow-variable.
func ParseVariableSpec(spec string) (flowstack.Variable, error) {
	parts := strings.SplitN(spec, ",", 3)
	if len(parts) != 3 {
		return flowstack.Variable{}, fmt.Errorf("workflow variable %q: expected name,value,type", spec)
	}
	return flowstack.ParseVariable(parts[0], parts[1], parts[2])
}

// ParseOptionSpec parses "nodeID,path,value,type" as given to --option.
// The value may not contain commas.
func ParseOptionSpec(spec string) (NodeOption, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return NodeOption{}, fmt.Errorf("option %q: expected nodeID,key,value,type", spec)
	}
	id, err := nodeid.Parse(parts[0])
	if err != nil {
		return NodeOption{}, fmt.Errorf("option %q: %w", spec, err)
	}
	if parts[1] == "" {
		return NodeOption{}, fmt.Errorf("option %q: empty key", spec)
	}
	v, err := flowstack.ParseVariable(parts[1], parts[2], parts[3])
	if err != nil {
		return NodeOption{}, fmt.Errorf("option %q: %w", spec, err)
	}
	return NodeOption{Node: id, Path: parts[1], Value: v.Value}, nil
}

// ParseCredentialSpec parses "name[;login[;password]]" into creds.
func ParseCredentialSpec(creds unit.CredentialsMap, spec string) error {
	parts := strings.SplitN(spec, ";", 3)
	if parts[0] == "" {
		return fmt.Errorf("credential %q: empty name", spec)
	}
	var entry [2]string
	copy(entry[:], parts[1:])
	creds[parts[0]] = entry
	return nil
}
