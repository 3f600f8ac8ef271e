// internal/nodeid/doc.go

/*
Package nodeid provides the hierarchical identifier used for every node
container.

The canonical format is a colon-separated sequence of non-negative integers,
e.g. `0:3:7`. The last segment is the node's suffix inside its parent; the
preceding segments are the parent's identifier. Identifiers are immutable
values and can be used as map keys.
*/
package nodeid
