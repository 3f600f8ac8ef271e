// Package container implements the node container state machine.
//
// A Container moves one computation through the lifecycle
//
//	IDLE -> CONFIGURED -> MARKED -> QUEUED -> PREEXECUTE -> EXECUTING -> POSTEXECUTE -> EXECUTED
//
// and back, guarded by the transition table in package nodestate. Every
// transition happens under the container's private mutex; the computation
// itself runs outside it. Illegal transitions panic with an
// *IllegalStateError because they reveal a scheduling defect.
//
// Observers are notified after the mutex is released, in the order the
// events were raised. Listeners must not synchronously mutate the container
// that notified them.
package container
