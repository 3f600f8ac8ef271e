package container

import (
	"fmt"

	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/settings"
)

// applyOverrides returns a copy of the model settings with every overridden
// path replaced by the value of its flow variable.
func (s Settings) applyOverrides(stack *flowstack.Stack) (*settings.Tree, error) {
	model := s.Model.Copy()
	if model == nil {
		model = settings.New(keyModel)
	}
	if s.Variables == nil {
		return model, nil
	}
	overrides, err := s.Variables.Child(keyOverrides)
	if err != nil {
		return model, nil
	}
	for _, path := range overrides.Keys() {
		name, err := overrides.GetString(path)
		if err != nil {
			return nil, err
		}
		var v flowstack.Variable
		ok := false
		if stack != nil {
			v, ok = stack.PeekVariable(name)
		}
		if !ok {
			return nil, fmt.Errorf("flow variable %q for setting %q is not available", name, path)
		}
		if err := model.Replace(path, v.Value); err != nil {
			return nil, fmt.Errorf("flow variable %q: %w", name, err)
		}
	}
	return model, nil
}

// exposedVariables returns the variables the node publishes from its model
// settings, in declaration order.
func (s Settings) exposedVariables(model *settings.Tree) ([]flowstack.Variable, error) {
	if s.Variables == nil {
		return nil, nil
	}
	exposed, err := s.Variables.Child(keyExposed)
	if err != nil {
		return nil, nil
	}
	var out []flowstack.Variable
	for _, name := range exposed.Keys() {
		path, err := exposed.GetString(name)
		if err != nil {
			return nil, err
		}
		parent, leaf, err := model.Lookup(path)
		if err != nil {
			return nil, fmt.Errorf("exposing %q: %w", name, err)
		}
		kind, _ := parent.KindOf(leaf)
		var v flowstack.Variable
		switch kind {
		case settings.KindString:
			s, _ := parent.GetString(leaf)
			v = flowstack.StringVar(name, s)
		case settings.KindInt:
			i, _ := parent.GetInt(leaf)
			v = flowstack.IntVar(name, i)
		case settings.KindDouble:
			f, _ := parent.GetDouble(leaf)
			v = flowstack.DoubleVar(name, f)
		case settings.KindBool:
			b, _ := parent.GetBool(leaf)
			v = flowstack.BoolVar(name, b)
		default:
			return nil, fmt.Errorf("exposing %q: setting %q is a tree", name, path)
		}
		out = append(out, v)
	}
	return out, nil
}
