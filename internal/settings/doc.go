// Package settings provides the hierarchical key/value tree used to persist
// and restore node settings, job manager configuration and flow object
// stacks. Leaves are typed (string, int, double, boolean); inner nodes are
// nested trees. The tree keeps insertion order so that encoded output is
// stable.
//
// The HCL codec in this package is the on-disk form of a tree.
package settings
