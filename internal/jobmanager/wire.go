package jobmanager

import (
	"encoding/json"
	"fmt"

	"github.com/vk/nodeflow/internal/tablerepo"
)

// WireTable is a table as sent to and from a remote executor.
type WireTable struct {
	ID   int             `json:"id"`
	Spec json.RawMessage `json:"spec"`
	Rows json.RawMessage `json:"rows"`
}

// Request asks a remote executor to run one node.
type Request struct {
	JobID    string      `json:"job_id"`
	Node     string      `json:"node"`
	NodeType string      `json:"node_type"`
	Settings string      `json:"settings"`
	Inputs   []WireTable `json:"inputs"`
}

// Response is the answer of a remote executor.
type Response struct {
	JobID    string      `json:"job_id"`
	Success  bool        `json:"success"`
	Canceled bool        `json:"canceled,omitempty"`
	Message  string      `json:"message,omitempty"`
	Outputs  []WireTable `json:"outputs,omitempty"`
}

// EncodeTables converts tables for the wire. Nil tables are not allowed.
func EncodeTables(ts []*tablerepo.Table) ([]WireTable, error) {
	out := make([]WireTable, len(ts))
	for i, t := range ts {
		if t == nil {
			return nil, fmt.Errorf("table %d is missing", i)
		}
		spec, err := tablerepo.MarshalSpec(t.Spec)
		if err != nil {
			return nil, fmt.Errorf("encoding spec of table %d: %w", i, err)
		}
		rows, err := t.MarshalRows()
		if err != nil {
			return nil, fmt.Errorf("encoding rows of table %d: %w", i, err)
		}
		out[i] = WireTable{ID: t.ID, Spec: spec, Rows: rows}
	}
	return out, nil
}

// DecodeTables converts tables received from the wire.
func DecodeTables(ws []WireTable) ([]*tablerepo.Table, error) {
	out := make([]*tablerepo.Table, len(ws))
	for i, w := range ws {
		spec, err := tablerepo.UnmarshalSpec(w.Spec)
		if err != nil {
			return nil, fmt.Errorf("decoding spec of table %d: %w", i, err)
		}
		t, err := tablerepo.UnmarshalTable(w.ID, spec, w.Rows)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
