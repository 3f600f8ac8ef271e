package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
)

// RemoteManagerID identifies the remote manager in saved workflows.
const RemoteManagerID = "remote"

// Transport carries requests to a remote executor.
type Transport interface {
	// Execute sends req and blocks until the matching response arrives.
	Execute(ctx context.Context, req Request) (Response, error)
	// Reattach waits for the response of a job submitted earlier.
	Reattach(ctx context.Context, jobID string) (Response, error)
	Cancel(jobID string) error
	Close() error
}

// RemoteManager runs jobs on a remote executor.
type RemoteManager struct {
	transport Transport

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewRemoteManager(t Transport) *RemoteManager {
	return &RemoteManager{transport: t}
}

func (m *RemoteManager) ID() string { return RemoteManagerID }

func (m *RemoteManager) Kind() Kind { return Remote }

func (m *RemoteManager) SubmitJob(ctx context.Context, exec Executable, inputs []*tablerepo.Table) (*Job, error) {
	rexec, ok := exec.(RemoteExecutable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRemote, exec.ID())
	}
	nodeType, body, err := rexec.Describe()
	if err != nil {
		return nil, err
	}
	wire, err := EncodeTables(inputs)
	if err != nil {
		return nil, fmt.Errorf("encoding inputs of %s: %w", exec.ID(), err)
	}
	job, err := m.newJob(ctx, "", exec)
	if err != nil {
		return nil, err
	}
	req := Request{JobID: job.id, Node: exec.ID().String(), NodeType: nodeType, Settings: string(body), Inputs: wire}
	go func() {
		defer m.wg.Done()
		status := run(job, exec, func(ctx context.Context) Status {
			resp, err := m.transport.Execute(ctx, req)
			return m.apply(ctx, job, rexec, resp, err)
		})
		job.finish(status)
	}()
	return job, nil
}

func (m *RemoteManager) newJob(ctx context.Context, id string, exec Executable) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShutdown
	}
	m.wg.Add(1)
	return newJob(ctx, id, exec.ID()), nil
}

// apply loads a remote response into the executable.
func (m *RemoteManager) apply(ctx context.Context, job *Job, exec RemoteExecutable, resp Response, err error) Status {
	logger := ctxlog.ForNode(ctx, exec.ID()).With("jobID", job.id)
	if err != nil {
		switch {
		case errors.Is(context.Cause(ctx), errDisconnected):
			logger.Info("Disconnected from remote job.")
			return Canceled
		case ctx.Err() != nil:
			if cerr := m.transport.Cancel(job.id); cerr != nil {
				logger.Warn("Failed to cancel remote job.", "error", cerr)
			}
			return Canceled
		}
		logger.Error("Remote execution failed.", "error", err)
		_ = exec.LoadExecutionResult(Result{Message: err.Error()})
		return Failure
	}
	if resp.Canceled {
		return Canceled
	}
	outputs, err := DecodeTables(resp.Outputs)
	if err != nil {
		_ = exec.LoadExecutionResult(Result{Message: err.Error()})
		return Failure
	}
	if err := exec.LoadExecutionResult(Result{Success: resp.Success, Message: resp.Message, Outputs: outputs}); err != nil {
		logger.Error("Failed to load remote result.", "error", err)
		return Failure
	}
	if !resp.Success {
		return Failure
	}
	return Success
}

func (m *RemoteManager) CanDisconnect(job *Job) bool {
	return job != nil && job.Started()
}

// Disconnect stops waiting for job without cancelling it remotely. The
// container keeps executing remotely until it reconnects.
func (m *RemoteManager) Disconnect(job *Job) {
	job.disconnected.Store(true)
	job.cancel(errDisconnected)
}

func (m *RemoteManager) SaveReconnectSettings(job *Job, sink settings.Sink) {
	sink.AddString("manager", RemoteManagerID)
	sink.AddString("job_id", job.id)
}

// LoadFromReconnectSettings reattaches to a job saved by
// SaveReconnectSettings. exec must already be executing remotely.
func (m *RemoteManager) LoadFromReconnectSettings(ctx context.Context, src settings.Source, exec Executable) (*Job, error) {
	rexec, ok := exec.(RemoteExecutable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRemote, exec.ID())
	}
	id, err := src.GetString("job_id")
	if err != nil {
		return nil, fmt.Errorf("reading reconnect settings of %s: %w", exec.ID(), err)
	}
	job, err := m.newJob(ctx, id, exec)
	if err != nil {
		return nil, err
	}
	job.started.Store(true)
	go func() {
		defer m.wg.Done()
		resp, err := m.transport.Reattach(job.ctx, id)
		status := m.apply(job.ctx, job, rexec, resp, err)
		if !job.disconnected.Load() {
			exec.NotifyParentPostExecuteStart(status)
			exec.NotifyParentExecuteFinished(status)
		}
		job.finish(status)
	}()
	return job, nil
}

// Shutdown rejects new jobs, waits for running ones and closes the
// transport.
func (m *RemoteManager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	return m.transport.Close()
}
