package unit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/zclconf/go-cty/cty"
)

// Credentials resolves named credentials.
type Credentials interface {
	Credentials(name string) (login, password string, ok bool)
}

// CredentialsMap is a static Credentials source.
type CredentialsMap map[string][2]string

func (m CredentialsMap) Credentials(name string) (string, string, bool) {
	c, ok := m[name]
	return c[0], c[1], ok
}

// scope is what configure and execute contexts share.
type scope struct {
	ctx         context.Context
	node        nodeid.ID
	stack       *flowstack.Stack
	credentials Credentials
}

func (s *scope) Context() context.Context { return s.ctx }

func (s *scope) NodeID() nodeid.ID { return s.node }

func (s *scope) Logger() *slog.Logger { return ctxlog.ForNode(s.ctx, s.node) }

// Stack is the outgoing flow object stack being built. It starts as a copy of
// the node's incoming stack.
func (s *scope) Stack() *flowstack.Stack { return s.stack }

// Variable returns the topmost visible flow variable called name.
func (s *scope) Variable(name string) (flowstack.Variable, bool) {
	return s.stack.PeekVariable(name)
}

// PushVariable publishes a variable to downstream nodes.
func (s *scope) PushVariable(v flowstack.Variable) error {
	return s.stack.PushVariable(v)
}

// Credentials looks up named credentials.
func (s *scope) Credentials(name string) (login, password string, err error) {
	if s.credentials != nil {
		if l, p, ok := s.credentials.Credentials(name); ok {
			return l, p, nil
		}
	}
	return "", "", fmt.Errorf("credentials %q not available", name)
}

// ConfigureContext is handed to Model.Configure.
type ConfigureContext struct {
	scope
}

// NewConfigureContext creates the context for configuring node with the
// given outgoing stack.
func NewConfigureContext(ctx context.Context, node nodeid.ID, out *flowstack.Stack, creds Credentials) *ConfigureContext {
	return &ConfigureContext{scope{ctx: ctx, node: node, stack: out, credentials: creds}}
}

// ExecutionContext is handed to Model.Execute.
type ExecutionContext struct {
	scope
	progress  *Progress
	repo      *tablerepo.Repository
	fileStore *filestore.Handler
	loop      *flowstack.LoopContext

	mu      sync.Mutex
	created []*tablerepo.Table
}

// ExecutionOptions collects the collaborators of one execution.
type ExecutionOptions struct {
	Node        nodeid.ID
	Stack       *flowstack.Stack
	Credentials Credentials
	Progress    *Progress
	Tables      *tablerepo.Repository
	FileStore   *filestore.Handler
}

func NewExecutionContext(ctx context.Context, opts ExecutionOptions) *ExecutionContext {
	if opts.Progress == nil {
		opts.Progress = NewProgress()
	}
	if opts.Tables == nil {
		opts.Tables = tablerepo.New()
	}
	return &ExecutionContext{
		scope:     scope{ctx: ctx, node: opts.Node, stack: opts.Stack, credentials: opts.Credentials},
		progress:  opts.Progress,
		repo:      opts.Tables,
		fileStore: opts.FileStore,
	}
}

// CheckCanceled returns ErrCanceled if cancellation was requested or the
// context is done.
func (ec *ExecutionContext) CheckCanceled() error {
	if err := ec.progress.Check(); err != nil {
		return err
	}
	if ec.ctx != nil && ec.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCanceled, ec.ctx.Err())
	}
	return nil
}

// SetProgress reports progress of the computation.
func (ec *ExecutionContext) SetProgress(fraction float64, message string) {
	ec.progress.Set(fraction, message)
}

// FileStore is the handler output blobs go to.
func (ec *ExecutionContext) FileStore() *filestore.Handler { return ec.fileStore }

// Loop is the loop the node belongs to, nil outside loops.
func (ec *ExecutionContext) Loop() *flowstack.LoopContext { return ec.loop }

// CreateTable allocates a table. Tables that do not end up as outputs stay
// local to the node.
func (ec *ExecutionContext) CreateTable(spec cty.Type, rows []cty.Value) (*tablerepo.Table, error) {
	t, err := tablerepo.NewTable(ec.repo.NewID(), spec, rows)
	if err != nil {
		return nil, err
	}
	ec.mu.Lock()
	ec.created = append(ec.created, t)
	ec.mu.Unlock()
	return t, nil
}

// Created returns every table allocated through CreateTable.
func (ec *ExecutionContext) Created() []*tablerepo.Table {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]*tablerepo.Table(nil), ec.created...)
}

