/*
Package flowstack implements the flow object stack: the scoped context that
travels along the edges of a workflow.

# Model

Flow objects (variables, loop contexts and virtual scope markers) live in a
shared Arena. A Stack is an ordered list of references into that arena plus
the identifier of the node owning the stack. An object gets its owner the
first time it is pushed; pushing it onto a stack of a different node fails.

# Merging

Merge builds the incoming stack of a node from the outgoing stacks of its
predecessors. It never mutates its inputs. Local variables are dropped, scope
markers of all predecessors must nest (one marker sequence must be a prefix of
the other) and the predecessor connected to port 0, the flow variable port, is
evaluated last so its variables win on name collisions.
*/
package flowstack
