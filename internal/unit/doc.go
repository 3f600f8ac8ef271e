// Package unit wraps the opaque computation of a node. A Node owns one
// Model and everything the model produces: output specs and tables, the
// outgoing flow object stack, the file store handler of the running
// execution and, for loop nodes, the loop context.
//
// Models never see the container that hosts them. Everything they may touch
// arrives through an explicit ConfigureContext or ExecutionContext.
package unit
