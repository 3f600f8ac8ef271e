// internal/nodeid/id.go
package nodeid

import (
	"strconv"
	"strings"
)

const separator = ":"

func itoa(i int) string { return strconv.Itoa(i) }

// String returns the canonical representation of the identifier.
func (id ID) String() string {
	return id.path
}

// Child derives the identifier of a node contained in id.
func (id ID) Child(index int) ID {
	if index < 0 {
		panic("nodeid: negative index")
	}
	if id.IsZero() {
		return New(index)
	}
	return ID{path: id.path + separator + itoa(index)}
}

// Parent returns the identifier of the containing node. The second return
// value is false for root identifiers.
func (id ID) Parent() (ID, bool) {
	i := strings.LastIndex(id.path, separator)
	if i < 0 {
		return ID{}, false
	}
	return ID{path: id.path[:i]}, true
}

// Index returns the last segment, -1 for the zero identifier.
func (id ID) Index() int {
	if id.IsZero() {
		return -1
	}
	seg := id.path[strings.LastIndex(id.path, separator)+1:]
	n, _ := strconv.Atoi(seg)
	return n
}

// Depth is the number of segments.
func (id ID) Depth() int {
	if id.IsZero() {
		return 0
	}
	return strings.Count(id.path, separator) + 1
}

// HasPrefix reports whether id equals prefix or is contained in it.
func (id ID) HasPrefix(prefix ID) bool {
	if prefix.IsZero() {
		return true
	}
	return id.path == prefix.path || strings.HasPrefix(id.path, prefix.path+separator)
}
