package jobmanager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/zclconf/go-cty/cty"
)

// recorder is an Executable that logs the notifications it receives.
type recorder struct {
	id        nodeid.ID
	preOK     bool
	startErr  error
	status    Status
	block     chan struct{}
	running   *atomic.Int32
	maxActive *atomic.Int32

	mu     sync.Mutex
	events []string
	result *Result
}

func newRecorder(idx int) *recorder {
	return &recorder{id: nodeid.New(idx), preOK: true}
}

func (r *recorder) log(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) ID() nodeid.ID { return r.id }

func (r *recorder) NotifyParentPreExecuteStart() bool {
	r.log("pre")
	return r.preOK
}

func (r *recorder) NotifyParentExecuteStart() error {
	r.log("execute")
	return r.startErr
}

func (r *recorder) PerformExecuteNode(ctx context.Context, _ []*tablerepo.Table) Status {
	r.log("perform")
	if r.running != nil {
		n := r.running.Add(1)
		defer r.running.Add(-1)
		for {
			m := r.maxActive.Load()
			if n <= m || r.maxActive.CompareAndSwap(m, n) {
				break
			}
		}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return Canceled
		}
	}
	return r.status
}

func (r *recorder) NotifyParentPostExecuteStart(s Status) { r.log("post:" + s.String()) }

func (r *recorder) NotifyParentExecuteFinished(s Status) { r.log("finished:" + s.String()) }

func (r *recorder) Describe() (string, []byte, error) { return "echo", []byte("settings {}"), nil }

func (r *recorder) LoadExecutionResult(res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = &res
	return nil
}

func TestThreadManager_RunsProtocolInOrder(t *testing.T) {
	m := NewThreadManager(2)
	rec := newRecorder(1)

	job, err := m.SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, Success, job.Wait())
	assert.Equal(t, []string{"pre", "execute", "perform", "post:success", "finished:success"}, rec.Events())
	assert.Equal(t, rec.ID(), job.Node())
	assert.NotEmpty(t, job.ID())
}

func TestThreadManager_ExecuteStartFailure(t *testing.T) {
	m := NewThreadManager(1)
	rec := newRecorder(1)
	rec.startErr = errors.New("stack not nested")

	job, err := m.SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, Failure, job.Wait())
	assert.Equal(t, []string{"pre", "execute", "post:failure", "finished:failure"}, rec.Events())
}

func TestThreadManager_PreExecuteRefused(t *testing.T) {
	m := NewThreadManager(1)
	rec := newRecorder(1)
	rec.preOK = false

	job, err := m.SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, Canceled, job.Wait())
	assert.Equal(t, []string{"pre"}, rec.Events())
}

func TestThreadManager_LimitsConcurrency(t *testing.T) {
	m := NewThreadManager(2)
	var running, maxActive atomic.Int32
	release := make(chan struct{})

	var jobs []*Job
	for i := 0; i < 6; i++ {
		rec := newRecorder(i + 1)
		rec.block = release
		rec.running, rec.maxActive = &running, &maxActive
		job, err := m.SubmitJob(context.Background(), rec, nil)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	m.Wait()
	for _, j := range jobs {
		assert.Equal(t, Success, j.Wait())
	}
	assert.Equal(t, int32(2), maxActive.Load())
}

func TestThreadManager_CancelQueuedJobSkipsIt(t *testing.T) {
	m := NewThreadManager(1)
	block := make(chan struct{})
	busy := newRecorder(1)
	busy.block = block
	first, err := m.SubmitJob(context.Background(), busy, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(busy.Events()) >= 3 }, time.Second, 5*time.Millisecond)

	queued := newRecorder(2)
	second, err := m.SubmitJob(context.Background(), queued, nil)
	require.NoError(t, err)
	second.Cancel()
	assert.Equal(t, Canceled, second.Wait())
	assert.False(t, second.Started())
	assert.Empty(t, queued.Events())

	close(block)
	assert.Equal(t, Success, first.Wait())
}

func TestThreadManager_CancelRunningJob(t *testing.T) {
	m := NewThreadManager(1)
	rec := newRecorder(1)
	rec.block = make(chan struct{})
	job, err := m.SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Events()) >= 3 }, time.Second, 5*time.Millisecond)

	job.Cancel()
	job.Cancel()
	assert.Equal(t, Canceled, job.Wait())
	assert.Equal(t, "finished:canceled", rec.Events()[4])
}

func TestThreadManager_Shutdown(t *testing.T) {
	m := NewThreadManager(0)
	assert.Positive(t, m.Workers())
	m.Shutdown()
	_, err := m.SubmitJob(context.Background(), newRecorder(1), nil)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.False(t, m.CanDisconnect(nil))
}

// fakeTransport executes requests in process.
type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	canceled []string
	hold     chan struct{}
	respond  func(Request) (Response, error)
	closed   bool
}

func (f *fakeTransport) Execute(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return f.respond(req)
}

func (f *fakeTransport) Reattach(ctx context.Context, jobID string) (Response, error) {
	return f.respond(Request{JobID: jobID})
}

func (f *fakeTransport) Cancel(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, jobID)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

var rowSpec = cty.Object(map[string]cty.Type{"v": cty.String})

func echoResponse(req Request) (Response, error) {
	return Response{JobID: req.JobID, Success: true, Message: "ok", Outputs: req.Inputs}, nil
}

func TestRemoteManager_Success(t *testing.T) {
	ft := &fakeTransport{respond: echoResponse}
	m := NewRemoteManager(ft)
	assert.Equal(t, Remote, m.Kind())

	in, err := tablerepo.NewTable(3, rowSpec, []cty.Value{cty.ObjectVal(map[string]cty.Value{"v": cty.StringVal("x")})})
	require.NoError(t, err)

	rec := newRecorder(4)
	job, err := m.SubmitJob(context.Background(), rec, []*tablerepo.Table{in})
	require.NoError(t, err)
	assert.Equal(t, Success, job.Wait())

	assert.Equal(t, []string{"pre", "execute", "post:success", "finished:success"}, rec.Events())
	require.NotNil(t, rec.result)
	assert.True(t, rec.result.Success)
	require.Len(t, rec.result.Outputs, 1)
	assert.Equal(t, "x", rec.result.Outputs[0].Row(0).GetAttr("v").AsString())

	require.Len(t, ft.requests, 1)
	assert.Equal(t, "echo", ft.requests[0].NodeType)
	assert.Equal(t, "4", ft.requests[0].Node)

	require.NoError(t, m.Shutdown())
	assert.True(t, ft.closed)
}

func TestRemoteManager_RemoteFailure(t *testing.T) {
	ft := &fakeTransport{respond: func(req Request) (Response, error) {
		return Response{JobID: req.JobID, Message: "boom"}, nil
	}}
	rec := newRecorder(1)
	job, err := NewRemoteManager(ft).SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	assert.Equal(t, Failure, job.Wait())
	assert.Equal(t, "boom", rec.result.Message)
	assert.Equal(t, "finished:failure", rec.Events()[3])
}

func TestRemoteManager_CancelForwardsToRemote(t *testing.T) {
	ft := &fakeTransport{respond: echoResponse, hold: make(chan struct{})}
	rec := newRecorder(1)
	job, err := NewRemoteManager(ft).SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return len(ft.requests) == 1
	}, time.Second, 5*time.Millisecond)

	job.Cancel()
	assert.Equal(t, Canceled, job.Wait())
	assert.Equal(t, []string{job.ID()}, ft.canceled)
	assert.Equal(t, "finished:canceled", rec.Events()[3])
}

func TestRemoteManager_DisconnectAndReattach(t *testing.T) {
	ft := &fakeTransport{respond: echoResponse, hold: make(chan struct{})}
	m := NewRemoteManager(ft)
	rec := newRecorder(1)
	job, err := m.SubmitJob(context.Background(), rec, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.CanDisconnect(job) }, time.Second, 5*time.Millisecond)

	sink := settings.New("job")
	m.SaveReconnectSettings(job, sink)
	m.Disconnect(job)
	job.Wait()
	assert.True(t, job.Disconnected())
	assert.Empty(t, ft.canceled, "a disconnected job keeps running remotely")
	assert.Equal(t, []string{"pre", "execute"}, rec.Events())

	again, err := m.LoadFromReconnectSettings(context.Background(), sink, rec)
	require.NoError(t, err)
	assert.Equal(t, job.ID(), again.ID())
	assert.Equal(t, Success, again.Wait())
	assert.Equal(t, []string{"pre", "execute", "post:success", "finished:success"}, rec.Events())
}

func TestRemoteManager_RejectsLocalOnlyExecutable(t *testing.T) {
	m := NewRemoteManager(&fakeTransport{respond: echoResponse})
	_, err := m.SubmitJob(context.Background(), plain{newRecorder(1)}, nil)
	assert.ErrorIs(t, err, ErrNotRemote)
}

// plain hides the remote methods of recorder.
type plain struct{ r *recorder }

func (p plain) ID() nodeid.ID                        { return p.r.ID() }
func (p plain) NotifyParentPreExecuteStart() bool    { return p.r.NotifyParentPreExecuteStart() }
func (p plain) NotifyParentExecuteStart() error      { return p.r.NotifyParentExecuteStart() }
func (p plain) NotifyParentPostExecuteStart(s Status) { p.r.NotifyParentPostExecuteStart(s) }
func (p plain) NotifyParentExecuteFinished(s Status)  { p.r.NotifyParentExecuteFinished(s) }
func (p plain) PerformExecuteNode(ctx context.Context, in []*tablerepo.Table) Status {
	return p.r.PerformExecuteNode(ctx, in)
}

func TestWireTables_RoundTrip(t *testing.T) {
	in, err := tablerepo.NewTable(8, rowSpec, []cty.Value{cty.ObjectVal(map[string]cty.Value{"v": cty.StringVal("a")})})
	require.NoError(t, err)
	wire, err := EncodeTables([]*tablerepo.Table{in})
	require.NoError(t, err)
	out, err := DecodeTables(wire)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 8, out[0].ID)
	assert.True(t, out[0].Rows.Equals(in.Rows).True())

	_, err = EncodeTables([]*tablerepo.Table{nil})
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := decodeResponse(`{"job_id":"j1","success":true}`)
	require.NoError(t, err)
	assert.Equal(t, "j1", resp.JobID)
	assert.True(t, resp.Success)

	resp, err = decodeResponse(map[string]any{"job_id": "j2", "message": "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Message)

	_, err = decodeResponse(`{"success":true}`)
	assert.Error(t, err)
}
