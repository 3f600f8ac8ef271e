package settings

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// PathSeparator joins keys of nested trees into a single settings path.
const PathSeparator = "/"

// Lookup resolves a path like "model/threshold" to its parent tree and leaf key.
func (t *Tree) Lookup(path string) (*Tree, string, error) {
	parts := strings.Split(path, PathSeparator)
	cur := t
	for _, p := range parts[:len(parts)-1] {
		child, err := cur.Child(p)
		if err != nil {
			return nil, "", fmt.Errorf("resolving %q: %w", path, err)
		}
		cur = child
	}
	leaf := parts[len(parts)-1]
	if !cur.ContainsKey(leaf) {
		return nil, "", fmt.Errorf("resolving %q: %w: %q", path, ErrKeyNotFound, leaf)
	}
	return cur, leaf, nil
}

// Replace overwrites an existing leaf with a value of a compatible kind.
// An int leaf accepts whole numbers only; a double leaf accepts any number.
func (t *Tree) Replace(path string, v cty.Value) error {
	parent, leaf, err := t.Lookup(path)
	if err != nil {
		return err
	}
	kind, _ := parent.KindOf(leaf)
	switch kind {
	case KindTree:
		return fmt.Errorf("settings path %q addresses a tree", path)
	case KindString:
		if v.Type() != cty.String {
			return fmt.Errorf("settings path %q expects a string, got %s", path, v.Type().FriendlyName())
		}
		parent.AddString(leaf, v.AsString())
	case KindBool:
		if v.Type() != cty.Bool {
			return fmt.Errorf("settings path %q expects a bool, got %s", path, v.Type().FriendlyName())
		}
		parent.AddBool(leaf, v.True())
	case KindInt:
		if v.Type() != cty.Number || !v.AsBigFloat().IsInt() {
			return fmt.Errorf("settings path %q expects an int", path)
		}
		i, _ := v.AsBigFloat().Int64()
		parent.AddInt(leaf, int(i))
	case KindDouble:
		if v.Type() != cty.Number {
			return fmt.Errorf("settings path %q expects a double, got %s", path, v.Type().FriendlyName())
		}
		f, _ := v.AsBigFloat().Float64()
		parent.AddDouble(leaf, f)
	}
	return nil
}
