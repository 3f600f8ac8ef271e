// Package filestore manages the handlers that decide where a node writes its
// auxiliary file blobs.
//
// Handlers form a lineage tree: writable roots own a directory, reference
// handlers delegate to the root they point at. Which handler a node uses for
// an execution is decided by Resolve from an explicit Placement, so loop and
// virtual-scope nesting is never discovered by inspecting live objects.
package filestore
