// Package dag keeps the dependency structure of a workflow: which node feeds
// which. It knows nothing about ports or node state; the workflow layer maps
// its connections onto edges here and asks for orderings, reachability and
// cycles.
package dag
