package container

import "github.com/vk/nodeflow/internal/nodestate"

// LoopStatus is the status of a loop end.
type LoopStatus int

const (
	LoopNone LoopStatus = iota
	LoopRunning
	LoopPaused
	LoopFinished
)

func (s LoopStatus) String() string {
	switch s {
	case LoopRunning:
		return "RUNNING"
	case LoopPaused:
		return "PAUSED"
	case LoopFinished:
		return "FINISHED"
	}
	return "NONE"
}

// LoopStatus is derived from the live loop context and the current state
// on every call.
func (c *Container) LoopStatus() LoopStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopStatusLocked()
}

func (c *Container) loopStatusLocked() LoopStatus {
	if !c.comp.IsLoopEnd() {
		return LoopNone
	}
	if c.comp.LoopContext() != nil || c.state.IsExecutionInProgress() {
		if c.comp.PauseLoopExecution() && c.state == nodestate.ConfiguredMarkedForExec {
			return LoopPaused
		}
		return LoopRunning
	}
	return LoopFinished
}

// PauseLoopExecution asks a running loop end to stop after the current
// iteration, or clears that request. It has no effect unless execution is in
// progress.
func (c *Container) PauseLoopExecution(pause bool) {
	c.mu.Lock()
	defer c.unlock()
	if !c.comp.IsLoopEnd() || !c.state.IsExecutionInProgress() {
		return
	}
	c.comp.SetPauseLoopExecution(pause)
	c.postProperty(PropertyLoopStatus, c.loopStatusLocked())
}

// IsLoopPaused reports whether the loop end is parked waiting for resume.
func (c *Container) IsLoopPaused() bool {
	return c.LoopStatus() == LoopPaused
}
