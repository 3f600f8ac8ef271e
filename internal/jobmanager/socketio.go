package jobmanager

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names of the remote executor protocol.
const (
	EventExecute  = "execute"
	EventExecuted = "executed"
	EventReattach = "reattach"
	EventCancel   = "cancel"
)

// SocketIOOptions configures DialSocketIO.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// SocketIOTransport talks to a remote executor over socket.io. Requests are
// emitted as JSON strings; responses arrive as "executed" events and are
// matched by job id.
type SocketIOTransport struct {
	io     *socket.Socket
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Response
	early   map[string]Response
}

// DialSocketIO connects to a remote executor.
func DialSocketIO(ctx context.Context, opts SocketIOOptions) (*SocketIOTransport, error) {
	logger := ctxlog.FromContext(ctx).With("transport", "socketio", "url", opts.URL)
	logger.Info("Connecting to remote executor...")

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	t := &SocketIOTransport{
		io:      io,
		logger:  logger,
		pending: make(map[string]chan Response),
		early:   make(map[string]Response),
	}
	io.On(types.EventName(EventExecuted), t.onExecuted)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to remote executor", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connectChan <- err
	})
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return t, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(opts.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", opts.ConnectTimeout)
	}
}

func (t *SocketIOTransport) onExecuted(data ...any) {
	if len(data) == 0 {
		t.logger.Warn("Received empty executed event")
		return
	}
	resp, err := decodeResponse(data[0])
	if err != nil {
		t.logger.Warn("Dropping malformed executed event", "error", err)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.pending[resp.JobID]; ok {
		delete(t.pending, resp.JobID)
		ch <- resp
		return
	}
	// The job may not be waited for yet, e.g. right after a reconnect.
	t.early[resp.JobID] = resp
}

func decodeResponse(v any) (Response, error) {
	var raw []byte
	switch d := v.(type) {
	case string:
		raw = []byte(d)
	case []byte:
		raw = d
	default:
		var err error
		if raw, err = json.Marshal(d); err != nil {
			return Response{}, err
		}
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	if resp.JobID == "" {
		return Response{}, fmt.Errorf("response without job id")
	}
	return resp, nil
}

func (t *SocketIOTransport) await(ctx context.Context, jobID string, emit func()) (Response, error) {
	ch := make(chan Response, 1)
	t.mu.Lock()
	if resp, ok := t.early[jobID]; ok {
		delete(t.early, jobID)
		t.mu.Unlock()
		return resp, nil
	}
	t.pending[jobID] = ch
	t.mu.Unlock()

	emit()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, jobID)
		t.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

func (t *SocketIOTransport) Execute(ctx context.Context, req Request) (Response, error) {
	if !t.io.Connected() {
		return Response{}, fmt.Errorf("socket.io client is not connected")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encoding request: %w", err)
	}
	t.logger.Debug("Emitting execute", "jobID", req.JobID, "node", req.Node)
	return t.await(ctx, req.JobID, func() {
		t.io.Emit(EventExecute, string(payload))
	})
}

func (t *SocketIOTransport) Reattach(ctx context.Context, jobID string) (Response, error) {
	payload, _ := json.Marshal(map[string]string{"job_id": jobID})
	return t.await(ctx, jobID, func() {
		t.io.Emit(EventReattach, string(payload))
	})
}

func (t *SocketIOTransport) Cancel(jobID string) error {
	payload, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return err
	}
	return t.io.Emit(EventCancel, string(payload))
}

func (t *SocketIOTransport) Close() error {
	t.logger.Info("Closing remote executor connection", "sid", t.io.Id())
	t.io.Disconnect()
	return nil
}
