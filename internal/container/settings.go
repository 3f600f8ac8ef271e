package container

import (
	"fmt"
	"strings"

	"github.com/vk/nodeflow/internal/settings"
)

// MemoryPolicy tells where a node keeps its output tables.
type MemoryPolicy int

const (
	CacheSmallInMemory MemoryPolicy = iota
	CacheInMemory
	CacheOnDisc
)

var memoryPolicyNames = map[MemoryPolicy]string{
	CacheSmallInMemory: "CacheSmallInMemory",
	CacheInMemory:      "CacheInMemory",
	CacheOnDisc:        "CacheOnDisc",
}

func (p MemoryPolicy) String() string { return memoryPolicyNames[p] }

func ParseMemoryPolicy(s string) (MemoryPolicy, error) {
	for p, name := range memoryPolicyNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown memory policy %q", s)
}

// Settings are the persisted settings of a container: its memory policy,
// the model settings and the flow variable settings.
type Settings struct {
	MemoryPolicy MemoryPolicy
	Model        *settings.Tree
	Variables    *settings.Tree
}

// NewSettings returns empty settings.
func NewSettings() Settings {
	return Settings{Model: settings.New(keyModel), Variables: settings.New(keyVariables)}
}

const (
	keyMemoryPolicy = "memory_policy"
	keyModel        = "model"
	keyVariables    = "variables"
	keyOverrides    = "overrides"
	keyExposed      = "exposed"
)

// Copy returns a deep copy.
func (s Settings) Copy() Settings {
	return Settings{MemoryPolicy: s.MemoryPolicy, Model: s.Model.Copy(), Variables: s.Variables.Copy()}
}

// Equal reports whether both settings hold the same values.
func (s Settings) Equal(o Settings) bool {
	return s.MemoryPolicy == o.MemoryPolicy && treeEqual(s.Model, o.Model) && treeEqual(s.Variables, o.Variables)
}

func treeEqual(a, b *settings.Tree) bool {
	empty := func(t *settings.Tree) bool { return t == nil || t.Len() == 0 }
	if empty(a) && empty(b) {
		return true
	}
	return a.Equal(b)
}

// Save writes the settings into t.
func (s Settings) Save(t *settings.Tree) {
	t.AddString(keyMemoryPolicy, s.MemoryPolicy.String())
	t.AddCopy(keyModel, s.Model)
	t.AddCopy(keyVariables, s.Variables)
}

// LoadSettings reads settings written by Save.
func LoadSettings(t *settings.Tree) (Settings, error) {
	out := NewSettings()
	if t.ContainsKey(keyMemoryPolicy) {
		name, err := t.GetString(keyMemoryPolicy)
		if err != nil {
			return Settings{}, err
		}
		if out.MemoryPolicy, err = ParseMemoryPolicy(name); err != nil {
			return Settings{}, err
		}
	}
	if t.ContainsKey(keyModel) {
		m, err := t.Child(keyModel)
		if err != nil {
			return Settings{}, err
		}
		out.Model = m.Copy()
	}
	if t.ContainsKey(keyVariables) {
		v, err := t.Child(keyVariables)
		if err != nil {
			return Settings{}, err
		}
		out.Variables = v.Copy()
	}
	return out, nil
}

// SetOverride binds the model setting at path to the flow variable name.
func (s Settings) SetOverride(path, variable string) {
	overrides := child(s.Variables, keyOverrides)
	overrides.AddString(path, variable)
}

// SetExposed publishes the model setting at path as flow variable name.
func (s Settings) SetExposed(variable, path string) {
	exposed := child(s.Variables, keyExposed)
	exposed.AddString(variable, path)
}

func child(t *settings.Tree, key string) *settings.Tree {
	if c, err := t.Child(key); err == nil {
		return c
	}
	return t.AddChild(key)
}
