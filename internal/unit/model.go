package unit

import (
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/zclconf/go-cty/cty"
)

// Model is the computation a node performs.
type Model interface {
	// Ports returns the number of data input and output ports.
	Ports() (in, out int)
	// Configure derives the output specs from the input specs. An error
	// leaves the node unconfigured.
	Configure(cc *ConfigureContext, in []cty.Type) ([]cty.Type, error)
	// Execute computes the output tables. It must poll ec.CheckCanceled in
	// long loops.
	Execute(ec *ExecutionContext, in []*tablerepo.Table) ([]*tablerepo.Table, error)
	// Reset drops all internal state derived from a previous execution.
	Reset()
	SaveSettings(sink settings.Sink)
	// LoadSettings validates and applies settings.
	LoadSettings(src settings.Source) error
}

// LoopStart is implemented by models that open a loop.
type LoopStart interface {
	Model
	// LastIteration reports, after Execute, whether the iteration that just
	// ran is the final one.
	LastIteration() bool
}

// LoopEnd is implemented by models that close a loop. Execute runs once per
// iteration; outputs of all but the last iteration are discarded.
type LoopEnd interface {
	Model
	// StartLoop is called before the first iteration of a new loop run.
	StartLoop()
}

// InactivityReporter is implemented by models that can switch off the branch
// they feed.
type InactivityReporter interface {
	Inactive() bool
}

// Factory creates a fresh model.
type Factory func() Model
