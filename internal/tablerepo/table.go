package tablerepo

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Table is an immutable result table. Spec is the row type, an object type
// whose attributes are the columns. Rows is a list of Spec values.
type Table struct {
	ID   int
	Spec cty.Type
	Rows cty.Value
}

// NewTable builds a table from rows. All rows must conform to spec.
func NewTable(id int, spec cty.Type, rows []cty.Value) (*Table, error) {
	if !spec.IsObjectType() {
		return nil, fmt.Errorf("table spec must be an object type, got %s", spec.FriendlyName())
	}
	if len(rows) == 0 {
		return &Table{ID: id, Spec: spec, Rows: cty.ListValEmpty(spec)}, nil
	}
	for i, r := range rows {
		if !r.Type().Equals(spec) {
			return nil, fmt.Errorf("row %d has type %s, want %s", i, r.Type().FriendlyName(), spec.FriendlyName())
		}
	}
	return &Table{ID: id, Spec: spec, Rows: cty.ListVal(rows)}, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t.Rows.IsNull() {
		return 0
	}
	return t.Rows.LengthInt()
}

// Row returns row i.
func (t *Table) Row(i int) cty.Value {
	return t.Rows.Index(cty.NumberIntVal(int64(i)))
}

// RowSlice returns all rows.
func (t *Table) RowSlice() []cty.Value {
	if t.Len() == 0 {
		return nil
	}
	return t.Rows.AsValueSlice()
}

// Columns returns the column names in sorted order.
func (t *Table) Columns() []string {
	attrs := t.Spec.AttributeTypes()
	cols := make([]string, 0, len(attrs))
	for name := range attrs {
		cols = append(cols, name)
	}
	sortStrings(cols)
	return cols
}

// MarshalRows encodes the rows as JSON.
func (t *Table) MarshalRows() ([]byte, error) {
	return ctyjson.Marshal(t.Rows, cty.List(t.Spec))
}

// UnmarshalTable decodes rows written by MarshalRows.
func UnmarshalTable(id int, spec cty.Type, data []byte) (*Table, error) {
	rows, err := ctyjson.Unmarshal(data, cty.List(spec))
	if err != nil {
		return nil, fmt.Errorf("decoding table %d: %w", id, err)
	}
	return &Table{ID: id, Spec: spec, Rows: rows}, nil
}

// MarshalSpec encodes a table spec as JSON.
func MarshalSpec(spec cty.Type) ([]byte, error) {
	return ctyjson.MarshalType(spec)
}

// UnmarshalSpec decodes a spec written by MarshalSpec.
func UnmarshalSpec(data []byte) (cty.Type, error) {
	return ctyjson.UnmarshalType(data)
}
