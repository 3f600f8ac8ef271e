// Package workflow is the parent of a set of node containers. It keeps the
// connections between them, propagates configuration downstream, queues
// marked nodes once their predecessors executed, restarts loop bodies and
// saves and loads the whole arrangement.
//
// Scheduling decisions are serialised: every reaction to a finished job runs
// on a single trampoline, so two predecessors finishing at once never queue
// the same successor twice.
package workflow
