// internal/nodeid/types.go
package nodeid

// ID is the structured representation of a node container identifier.
// The zero value is the "no node" identifier.
type ID struct {
	// path holds the canonical string form; keeping it as a string keeps
	// ID comparable.
	path string
}

// New creates a root identifier with the given index.
func New(index int) ID {
	if index < 0 {
		panic("nodeid: negative index")
	}
	return ID{path: itoa(index)}
}

// IsZero reports whether the identifier is the zero value.
func (id ID) IsZero() bool {
	return id.path == ""
}
