package nodestate

import (
	"fmt"
)

// State is the internal state of a node container.
type State int

const (
	Idle State = iota
	Configured
	UnconfiguredMarkedForExec
	ConfiguredMarkedForExec
	ExecutedMarkedForExec
	ConfiguredQueued
	ExecutedQueued
	PreExecute
	Executing
	ExecutingRemotely
	PostExecute
	Executed

	numStates
)

var names = [numStates]string{
	Idle:                      "IDLE",
	Configured:                "CONFIGURED",
	UnconfiguredMarkedForExec: "UNCONFIGURED_MARKEDFOREXEC",
	ConfiguredMarkedForExec:   "CONFIGURED_MARKEDFOREXEC",
	ExecutedMarkedForExec:     "EXECUTED_MARKEDFOREXEC",
	ConfiguredQueued:          "CONFIGURED_QUEUED",
	ExecutedQueued:            "EXECUTED_QUEUED",
	PreExecute:                "PREEXECUTE",
	Executing:                 "EXECUTING",
	ExecutingRemotely:         "EXECUTINGREMOTELY",
	PostExecute:               "POSTEXECUTE",
	Executed:                  "EXECUTED",
}

// All returns every state in declaration order.
func All() []State {
	all := make([]State, 0, numStates)
	for s := Idle; s < numStates; s++ {
		all = append(all, s)
	}
	return all
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return names[s]
}

// Parse returns the state with the given canonical name.
func Parse(name string) (State, error) {
	for s := Idle; s < numStates; s++ {
		if names[s] == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown node container state %q", name)
}

// IsExecuted reports whether the node holds valid output.
func (s State) IsExecuted() bool {
	return s == Executed
}

// IsIdle reports whether the node is neither configured nor executed.
func (s State) IsIdle() bool {
	return s == Idle
}

// IsConfigured reports whether the node is configured and not part of an
// execution.
func (s State) IsConfigured() bool {
	return s == Configured
}

// IsMarked reports whether the node carries an execution mark but is not yet
// handed to a job manager.
func (s State) IsMarked() bool {
	switch s {
	case UnconfiguredMarkedForExec, ConfiguredMarkedForExec, ExecutedMarkedForExec:
		return true
	}
	return false
}

// IsQueued reports whether a job manager owns the node but has not started it.
func (s State) IsQueued() bool {
	return s == ConfiguredQueued || s == ExecutedQueued
}

// IsWaitingToBeExecuted reports whether the node is marked or queued.
func (s State) IsWaitingToBeExecuted() bool {
	return s.IsMarked() || s.IsQueued()
}

// IsExecutingRemotely reports whether a non-local job manager runs the node.
func (s State) IsExecutingRemotely() bool {
	return s == ExecutingRemotely
}

// IsExecutionInProgress is true from the moment a node is marked until it
// lands in EXECUTED or IDLE again.
func (s State) IsExecutionInProgress() bool {
	switch s {
	case PreExecute, Executing, ExecutingRemotely, PostExecute:
		return true
	}
	return s.IsWaitingToBeExecuted()
}

// IsHalted reports whether no execution is pending or running.
func (s State) IsHalted() bool {
	return !s.IsExecutionInProgress()
}

// IsResetable reports whether a raw reset is legal in this state.
func (s State) IsResetable() bool {
	switch s {
	case Executed, ExecutedMarkedForExec, ConfiguredMarkedForExec, UnconfiguredMarkedForExec, Configured:
		return true
	}
	return false
}
