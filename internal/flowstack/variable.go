package flowstack

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// VarType is the declared type of a flow variable.
type VarType int

const (
	TypeString VarType = iota
	TypeInt
	TypeDouble
	TypeBoolean
	TypeCredentials
)

var varTypeNames = map[VarType]string{
	TypeString:      "string",
	TypeInt:         "int",
	TypeDouble:      "double",
	TypeBoolean:     "boolean",
	TypeCredentials: "credentials",
}

func (t VarType) String() string { return varTypeNames[t] }

// ParseVarType accepts the type names case-insensitively.
func ParseVarType(s string) (VarType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for t, name := range varTypeNames {
		if name == want {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown flow variable type %q", s)
}

// CredentialsType is the cty type of credentials variables.
var CredentialsType = cty.Object(map[string]cty.Type{
	"login":    cty.String,
	"password": cty.String,
})

// Scope decides how far a variable travels.
type Scope int

const (
	// ScopeFlow variables propagate to all successors.
	ScopeFlow Scope = iota
	// ScopeGlobal variables are seeded from the root stack.
	ScopeGlobal
	// ScopeLocal variables stay on the pushing node's stack; merges drop
	// them.
	ScopeLocal
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeLocal:
		return "local"
	}
	return "flow"
}

func parseScope(s string) (Scope, error) {
	switch s {
	case "flow":
		return ScopeFlow, nil
	case "global":
		return ScopeGlobal, nil
	case "local":
		return ScopeLocal, nil
	}
	return 0, fmt.Errorf("unknown flow variable scope %q", s)
}

// Variable is a named, typed value.
type Variable struct {
	Name  string
	Type  VarType
	Value cty.Value
	Scope Scope
}

func StringVar(name, v string) Variable {
	return Variable{Name: name, Type: TypeString, Value: cty.StringVal(v)}
}

func IntVar(name string, v int) Variable {
	return Variable{Name: name, Type: TypeInt, Value: cty.NumberIntVal(int64(v))}
}

func DoubleVar(name string, v float64) Variable {
	return Variable{Name: name, Type: TypeDouble, Value: cty.NumberFloatVal(v)}
}

func BoolVar(name string, v bool) Variable {
	return Variable{Name: name, Type: TypeBoolean, Value: cty.BoolVal(v)}
}

func CredentialsVar(name, login, password string) Variable {
	return Variable{Name: name, Type: TypeCredentials, Value: cty.ObjectVal(map[string]cty.Value{
		"login":    cty.StringVal(login),
		"password": cty.StringVal(password),
	})}
}

// WithScope returns a copy of v with the given scope.
func (v Variable) WithScope(s Scope) Variable {
	v.Scope = s
	return v
}

// ParseVariable builds a variable from the textual form used on the command
// line: name, value and type name.
func ParseVariable(name, value, typeName string) (Variable, error) {
	if name == "" {
		return Variable{}, fmt.Errorf("flow variable name cannot be empty")
	}
	t, err := ParseVarType(typeName)
	if err != nil {
		return Variable{}, err
	}
	switch t {
	case TypeString:
		return StringVar(name, value), nil
	case TypeInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return Variable{}, fmt.Errorf("flow variable %q: invalid int %q", name, value)
		}
		return IntVar(name, i), nil
	case TypeDouble:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Variable{}, fmt.Errorf("flow variable %q: invalid double %q", name, value)
		}
		return DoubleVar(name, f), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return Variable{}, fmt.Errorf("flow variable %q: invalid boolean %q", name, value)
		}
		return BoolVar(name, b), nil
	}
	return Variable{}, fmt.Errorf("flow variable %q: type %s cannot be given as text", name, t)
}

// Validate checks that Value matches Type.
func (v Variable) Validate() error {
	if v.Value.IsNull() || !v.Value.IsKnown() {
		return fmt.Errorf("flow variable %q has no value", v.Name)
	}
	var ok bool
	switch v.Type {
	case TypeString:
		ok = v.Value.Type() == cty.String
	case TypeInt:
		ok = v.Value.Type() == cty.Number && v.Value.AsBigFloat().IsInt()
	case TypeDouble:
		ok = v.Value.Type() == cty.Number
	case TypeBoolean:
		ok = v.Value.Type() == cty.Bool
	case TypeCredentials:
		ok = v.Value.Type().Equals(CredentialsType)
	}
	if !ok {
		return fmt.Errorf("flow variable %q: value of type %s does not match %s", v.Name, v.Value.Type().FriendlyName(), v.Type)
	}
	return nil
}

// Int returns the value of an int variable.
func (v Variable) Int() (int, bool) {
	if v.Type != TypeInt {
		return 0, false
	}
	i, acc := v.Value.AsBigFloat().Int64()
	return int(i), acc == big.Exact
}

// Text renders the value for logs and messages. Credentials hide the password.
func (v Variable) Text() string {
	switch v.Type {
	case TypeString:
		return v.Value.AsString()
	case TypeInt, TypeDouble:
		return v.Value.AsBigFloat().Text('g', -1)
	case TypeBoolean:
		return strconv.FormatBool(v.Value.True())
	case TypeCredentials:
		return v.Value.GetAttr("login").AsString() + ":***"
	}
	return v.Value.GoString()
}

func (v Variable) String() string {
	return fmt.Sprintf("%s(%s)=%s", v.Name, v.Type, v.Text())
}
