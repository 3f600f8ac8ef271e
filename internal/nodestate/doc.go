// Package nodestate defines the internal state lattice of a node container,
// the table of legal transitions between its members and the live per-state
// instance counters used for health introspection.
package nodestate
