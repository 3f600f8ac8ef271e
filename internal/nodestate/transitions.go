package nodestate

// transitions lists, per source state, every state a container may move to.
var transitions = map[State][]State{
	Idle: {
		Configured,
		UnconfiguredMarkedForExec,
	},
	Configured: {
		Idle,
		ConfiguredMarkedForExec,
	},
	UnconfiguredMarkedForExec: {
		Idle,
		ConfiguredMarkedForExec,
		PreExecute,
	},
	ConfiguredMarkedForExec: {
		Configured,
		UnconfiguredMarkedForExec,
		ConfiguredQueued,
		PreExecute,
	},
	ExecutedMarkedForExec: {
		Executed,
		Idle,
		ExecutedQueued,
		PreExecute,
	},
	ConfiguredQueued: {
		Configured,
		PreExecute,
	},
	ExecutedQueued: {
		Executed,
		PreExecute,
	},
	PreExecute: {
		Executing,
		ExecutingRemotely,
		PostExecute,
		Idle,
	},
	Executing: {
		PostExecute,
	},
	ExecutingRemotely: {
		PostExecute,
		Idle,
	},
	PostExecute: {
		Executed,
		Idle,
		ConfiguredMarkedForExec,
	},
	Executed: {
		Idle,
		ExecutedMarkedForExec,
	},
}

// CanTransition reports whether moving from one state to another is part of
// the legal transition graph. Staying in the same state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns a copy of the legal target states of from.
func Successors(from State) []State {
	out := make([]State, len(transitions[from]))
	copy(out, transitions[from])
	return out
}
