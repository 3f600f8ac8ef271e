package settings

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

const (
	rootBlock  = "settings"
	valueBlock = "value"
	treeBlock  = "tree"
)

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: rootBlock, LabelNames: []string{"key"}},
	},
}

var bodySchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: valueBlock, LabelNames: []string{"key"}},
		{Type: treeBlock, LabelNames: []string{"key"}},
	},
}

var leafSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "kind", Required: true},
		{Name: "value", Required: true},
	},
}

// Encode renders a tree as HCL. Every leaf becomes a `value "key"` block
// carrying its kind, every nested tree a `tree "key"` block.
func Encode(t *Tree) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body().AppendNewBlock(rootBlock, []string{t.key})
	writeBody(root.Body(), t)
	return f.Bytes()
}

func writeBody(body *hclwrite.Body, t *Tree) {
	for _, e := range t.entries {
		if e.kind == KindTree {
			blk := body.AppendNewBlock(treeBlock, []string{e.key})
			writeBody(blk.Body(), e.child)
			continue
		}
		blk := body.AppendNewBlock(valueBlock, []string{e.key})
		blk.Body().SetAttributeValue("kind", cty.StringVal(e.kind.String()))
		blk.Body().SetAttributeValue("value", e.value)
	}
}

// Decode parses HCL produced by Encode.
func Decode(src []byte, filename string) (*Tree, error) {
	file, diags := hclsyntax.ParseConfig(src, filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse settings %s: %w", filename, diags)
	}
	content, diags := file.Body.Content(rootSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode settings %s: %w", filename, diags)
	}
	if len(content.Blocks) != 1 {
		return nil, fmt.Errorf("settings %s: expected exactly one %q block, found %d", filename, rootBlock, len(content.Blocks))
	}
	root := content.Blocks[0]
	t := New(root.Labels[0])
	if err := readBody(root.Body, t); err != nil {
		return nil, fmt.Errorf("settings %s: %w", filename, err)
	}
	return t, nil
}

func readBody(body hcl.Body, t *Tree) error {
	content, diags := body.Content(bodySchema)
	if diags.HasErrors() {
		return diags
	}
	for _, blk := range content.Blocks {
		key := blk.Labels[0]
		if blk.Type == treeBlock {
			if err := readBody(blk.Body, t.AddChild(key)); err != nil {
				return err
			}
			continue
		}
		if err := readLeaf(blk.Body, key, t); err != nil {
			return err
		}
	}
	return nil
}

func readLeaf(body hcl.Body, key string, t *Tree) error {
	attrs, diags := body.Content(leafSchema)
	if diags.HasErrors() {
		return diags
	}
	kindVal, diags := attrs.Attributes["kind"].Expr.Value(nil)
	if diags.HasErrors() {
		return diags
	}
	if kindVal.Type() != cty.String {
		return fmt.Errorf("key %q: kind must be a string", key)
	}
	kind, err := parseKind(kindVal.AsString())
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	v, diags := attrs.Attributes["value"].Expr.Value(nil)
	if diags.HasErrors() {
		return diags
	}
	if v.IsNull() {
		return fmt.Errorf("key %q: null value", key)
	}

	switch kind {
	case KindString:
		if v.Type() != cty.String {
			return fmt.Errorf("key %q: expected string value", key)
		}
		t.AddString(key, v.AsString())
	case KindBool:
		if v.Type() != cty.Bool {
			return fmt.Errorf("key %q: expected bool value", key)
		}
		t.AddBool(key, v.True())
	case KindInt:
		if v.Type() != cty.Number || !v.AsBigFloat().IsInt() {
			return fmt.Errorf("key %q: expected int value", key)
		}
		i, _ := v.AsBigFloat().Int64()
		t.AddInt(key, int(i))
	case KindDouble:
		if v.Type() != cty.Number {
			return fmt.Errorf("key %q: expected double value", key)
		}
		f, _ := v.AsBigFloat().Float64()
		t.AddDouble(key, f)
	default:
		return fmt.Errorf("key %q: kind %s is not a leaf", key, kind)
	}
	return nil
}

// WriteFile encodes t into path.
func WriteFile(path string, t *Tree) error {
	if err := os.WriteFile(path, Encode(t), 0o644); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes the tree stored at path.
func ReadFile(path string) (*Tree, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	return Decode(src, path)
}
