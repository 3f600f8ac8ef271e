package flowstack

import (
	"fmt"
	"strconv"

	"github.com/vk/nodeflow/internal/settings"
	"github.com/zclconf/go-cty/cty"
)

// SaveVariables writes vars into sink, one subtree per variable.
func SaveVariables(sink settings.Sink, vars []Variable) {
	for i, v := range vars {
		sub := sink.AddTree("var_" + strconv.Itoa(i))
		sub.AddString("name", v.Name)
		sub.AddString("type", v.Type.String())
		sub.AddString("scope", v.Scope.String())
		switch v.Type {
		case TypeString:
			sub.AddString("value", v.Value.AsString())
		case TypeInt:
			i, _ := v.Int()
			sub.AddInt("value", i)
		case TypeDouble:
			f, _ := v.Value.AsBigFloat().Float64()
			sub.AddDouble("value", f)
		case TypeBoolean:
			sub.AddBool("value", v.Value.True())
		case TypeCredentials:
			// Passwords are never persisted.
			sub.AddString("login", v.Value.GetAttr("login").AsString())
		}
	}
}

// LoadVariables reads variables written by SaveVariables.
func LoadVariables(src settings.Source) ([]Variable, error) {
	var out []Variable
	for _, key := range src.Keys() {
		sub, err := src.GetTree(key)
		if err != nil {
			return nil, err
		}
		v, err := loadVariable(sub)
		if err != nil {
			return nil, fmt.Errorf("flow variable %q: %w", key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func loadVariable(src settings.Source) (Variable, error) {
	name, err := src.GetString("name")
	if err != nil {
		return Variable{}, err
	}
	typeName, err := src.GetString("type")
	if err != nil {
		return Variable{}, err
	}
	t, err := ParseVarType(typeName)
	if err != nil {
		return Variable{}, err
	}
	scopeName, err := src.GetString("scope")
	if err != nil {
		return Variable{}, err
	}
	scope, err := parseScope(scopeName)
	if err != nil {
		return Variable{}, err
	}

	var v Variable
	switch t {
	case TypeString:
		s, err := src.GetString("value")
		if err != nil {
			return Variable{}, err
		}
		v = StringVar(name, s)
	case TypeInt:
		i, err := src.GetInt("value")
		if err != nil {
			return Variable{}, err
		}
		v = IntVar(name, i)
	case TypeDouble:
		f, err := src.GetDouble("value")
		if err != nil {
			return Variable{}, err
		}
		v = DoubleVar(name, f)
	case TypeBoolean:
		b, err := src.GetBool("value")
		if err != nil {
			return Variable{}, err
		}
		v = BoolVar(name, b)
	case TypeCredentials:
		login, err := src.GetString("login")
		if err != nil {
			return Variable{}, err
		}
		v = Variable{Name: name, Type: TypeCredentials, Value: cty.ObjectVal(map[string]cty.Value{
			"login":    cty.StringVal(login),
			"password": cty.StringVal(""),
		})}
	}
	v.Scope = scope
	return v, nil
}

// Save persists the variables pushed by the stack's own node.
func (s *Stack) Save(sink settings.Sink) {
	SaveVariables(sink, s.OwnVariables())
}

// Load pushes the variables stored in src onto the stack.
func (s *Stack) Load(src settings.Source) error {
	vars, err := LoadVariables(src)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if err := s.PushVariable(v); err != nil {
			return err
		}
	}
	return nil
}
