package settings

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// ErrKeyNotFound is returned when a key is absent from a tree.
var ErrKeyNotFound = errors.New("settings key not found")

// Kind is the type of a tree entry.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDouble
	KindBool
	KindTree
)

var kindNames = map[Kind]string{
	KindString: "string",
	KindInt:    "int",
	KindDouble: "double",
	KindBool:   "bool",
	KindTree:   "tree",
}

func (k Kind) String() string { return kindNames[k] }

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown settings kind %q", s)
}

// Sink is the write side of a settings tree.
type Sink interface {
	AddString(key, value string)
	AddInt(key string, value int)
	AddDouble(key string, value float64)
	AddBool(key string, value bool)
	AddTree(key string) Sink
}

// Source is the read side of a settings tree.
type Source interface {
	Keys() []string
	ContainsKey(key string) bool
	GetString(key string) (string, error)
	GetInt(key string) (int, error)
	GetDouble(key string) (float64, error)
	GetBool(key string) (bool, error)
	GetTree(key string) (Source, error)
}

type entry struct {
	key   string
	kind  Kind
	value cty.Value
	child *Tree
}

// Tree is an ordered settings tree. It implements both Sink and Source.
// A Tree is not safe for concurrent mutation.
type Tree struct {
	key     string
	entries []*entry
	index   map[string]int
}

// New creates an empty tree with the given key.
func New(key string) *Tree {
	return &Tree{key: key, index: make(map[string]int)}
}

// Key returns the tree's own key.
func (t *Tree) Key() string { return t.key }

// Len returns the number of direct entries.
func (t *Tree) Len() int { return len(t.entries) }

func (t *Tree) put(e *entry) {
	if i, ok := t.index[e.key]; ok {
		t.entries[i] = e
		return
	}
	t.index[e.key] = len(t.entries)
	t.entries = append(t.entries, e)
}

func (t *Tree) AddString(key, value string) {
	t.put(&entry{key: key, kind: KindString, value: cty.StringVal(value)})
}

func (t *Tree) AddInt(key string, value int) {
	t.put(&entry{key: key, kind: KindInt, value: cty.NumberIntVal(int64(value))})
}

func (t *Tree) AddDouble(key string, value float64) {
	t.put(&entry{key: key, kind: KindDouble, value: cty.NumberFloatVal(value)})
}

func (t *Tree) AddBool(key string, value bool) {
	t.put(&entry{key: key, kind: KindBool, value: cty.BoolVal(value)})
}

func (t *Tree) AddTree(key string) Sink {
	return t.AddChild(key)
}

// AddChild is AddTree returning the concrete type.
func (t *Tree) AddChild(key string) *Tree {
	child := New(key)
	t.put(&entry{key: key, kind: KindTree, child: child})
	return child
}

// AddValue stores a cty primitive. Numbers that are whole become ints.
func (t *Tree) AddValue(key string, v cty.Value) error {
	if v.IsNull() || !v.IsKnown() {
		return fmt.Errorf("settings key %q: null or unknown value", key)
	}
	switch v.Type() {
	case cty.String:
		t.AddString(key, v.AsString())
	case cty.Bool:
		t.AddBool(key, v.True())
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			i, acc := bf.Int64()
			if acc == big.Exact {
				t.AddInt(key, int(i))
				return nil
			}
		}
		f, _ := bf.Float64()
		t.AddDouble(key, f)
	default:
		return fmt.Errorf("settings key %q: unsupported value type %s", key, v.Type().FriendlyName())
	}
	return nil
}

func (t *Tree) Keys() []string {
	keys := make([]string, len(t.entries))
	for i, e := range t.entries {
		keys[i] = e.key
	}
	return keys
}

func (t *Tree) ContainsKey(key string) bool {
	_, ok := t.index[key]
	return ok
}

// KindOf returns the kind of the entry under key.
func (t *Tree) KindOf(key string) (Kind, error) {
	e, err := t.get(key)
	if err != nil {
		return 0, err
	}
	return e.kind, nil
}

func (t *Tree) get(key string) (*entry, error) {
	i, ok := t.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrKeyNotFound, key, t.key)
	}
	return t.entries[i], nil
}

func (t *Tree) getKind(key string, want Kind) (*entry, error) {
	e, err := t.get(key)
	if err != nil {
		return nil, err
	}
	if e.kind != want {
		return nil, fmt.Errorf("settings key %q in %q is %s, not %s", key, t.key, e.kind, want)
	}
	return e, nil
}

func (t *Tree) GetString(key string) (string, error) {
	e, err := t.getKind(key, KindString)
	if err != nil {
		return "", err
	}
	return e.value.AsString(), nil
}

func (t *Tree) GetInt(key string) (int, error) {
	e, err := t.getKind(key, KindInt)
	if err != nil {
		return 0, err
	}
	i, _ := e.value.AsBigFloat().Int64()
	return int(i), nil
}

func (t *Tree) GetDouble(key string) (float64, error) {
	e, err := t.get(key)
	if err != nil {
		return 0, err
	}
	if e.kind != KindDouble && e.kind != KindInt {
		return 0, fmt.Errorf("settings key %q in %q is %s, not double", key, t.key, e.kind)
	}
	f, _ := e.value.AsBigFloat().Float64()
	return f, nil
}

func (t *Tree) GetBool(key string) (bool, error) {
	e, err := t.getKind(key, KindBool)
	if err != nil {
		return false, err
	}
	return e.value.True(), nil
}

func (t *Tree) GetTree(key string) (Source, error) {
	child, err := t.Child(key)
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Child is GetTree returning the concrete type.
func (t *Tree) Child(key string) (*Tree, error) {
	e, err := t.getKind(key, KindTree)
	if err != nil {
		return nil, err
	}
	return e.child, nil
}

// Value returns the cty value of a leaf.
func (t *Tree) Value(key string) (cty.Value, error) {
	e, err := t.get(key)
	if err != nil {
		return cty.NilVal, err
	}
	if e.kind == KindTree {
		return cty.NilVal, fmt.Errorf("settings key %q in %q is a tree", key, t.key)
	}
	return e.value, nil
}

// Copy returns a deep copy.
func (t *Tree) Copy() *Tree {
	if t == nil {
		return nil
	}
	out := New(t.key)
	for _, e := range t.entries {
		ce := *e
		if e.child != nil {
			ce.child = e.child.Copy()
		}
		out.put(&ce)
	}
	return out
}

// AddCopy stores a deep copy of src under key. A nil src stores an empty
// tree.
func (t *Tree) AddCopy(key string, src *Tree) *Tree {
	child := New(key)
	if src != nil {
		for _, e := range src.Copy().entries {
			child.put(e)
		}
	}
	t.put(&entry{key: key, kind: KindTree, child: child})
	return child
}

// Equal reports whether both trees hold the same keys, kinds and values in
// the same order.
func (t *Tree) Equal(o *Tree) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.key != o.key || len(t.entries) != len(o.entries) {
		return false
	}
	for i, e := range t.entries {
		oe := o.entries[i]
		if e.key != oe.key || e.kind != oe.kind {
			return false
		}
		if e.kind == KindTree {
			if !e.child.Equal(oe.child) {
				return false
			}
			continue
		}
		if !e.value.RawEquals(oe.value) {
			return false
		}
	}
	return true
}
