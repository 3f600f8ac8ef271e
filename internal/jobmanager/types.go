package jobmanager

import (
	"context"
	"errors"

	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
)

// Status is the outcome of a job.
type Status int

const (
	Success Status = iota
	Failure
	Canceled
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Canceled:
		return "canceled"
	}
	return "failure"
}

// Kind tells where a manager runs its jobs.
type Kind int

const (
	Local Kind = iota
	Remote
)

var (
	// ErrShutdown is returned when submitting to a manager that was closed.
	ErrShutdown = errors.New("job manager is shut down")
	// ErrNotRemote is returned when a remote manager gets an executable it
	// cannot describe to the remote side.
	ErrNotRemote = errors.New("node cannot be executed remotely")
)

// Executable is what a job runs: a queued node container.
type Executable interface {
	ID() nodeid.ID
	// NotifyParentPreExecuteStart returns false if the node was canceled
	// meanwhile; the job then stops without further notifications.
	NotifyParentPreExecuteStart() bool
	// NotifyParentExecuteStart fails if the node cannot run, e.g. because
	// its flow object stack is inconsistent.
	NotifyParentExecuteStart() error
	PerformExecuteNode(ctx context.Context, inputs []*tablerepo.Table) Status
	NotifyParentPostExecuteStart(status Status)
	NotifyParentExecuteFinished(status Status)
}

// Result carries the outcome of an execution that happened elsewhere.
type Result struct {
	Success bool
	Message string
	Outputs []*tablerepo.Table
}

// RemoteExecutable can be described to and updated from a remote executor.
type RemoteExecutable interface {
	Executable
	// Describe returns the node type and its encoded settings.
	Describe() (nodeType string, settings []byte, err error)
	LoadExecutionResult(r Result) error
}

// Manager submits and controls jobs.
type Manager interface {
	ID() string
	Kind() Kind
	SubmitJob(ctx context.Context, exec Executable, inputs []*tablerepo.Table) (*Job, error)
	// CanDisconnect reports whether job may keep running while the
	// workflow is closed.
	CanDisconnect(job *Job) bool
	// Disconnect detaches from a running job without cancelling it.
	Disconnect(job *Job)
	SaveReconnectSettings(job *Job, sink settings.Sink)
	LoadFromReconnectSettings(ctx context.Context, src settings.Source, exec Executable) (*Job, error)
}
