package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrNotWritable is returned when writing through a closed or disposed handler.
var ErrNotWritable = errors.New("file store handler is not writable")

// Kind tags the variant of a handler.
type Kind int

const (
	// KindPlain is the per-node handler of a node outside any loop.
	KindPlain Kind = iota
	// KindLoopStart is the writable handler of an outermost loop start.
	KindLoopStart
	// KindLoopStartReference is the handler of a loop start nested in an
	// outer loop or in a virtual scope; it writes through its parent.
	KindLoopStartReference
	// KindReference is the handler of an ordinary node inside a loop body or
	// virtual scope.
	KindReference
	// KindLoopEnd is the handler of a loop end node.
	KindLoopEnd
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindLoopStart:
		return "loop-start"
	case KindLoopStartReference:
		return "loop-start-reference"
	case KindReference:
		return "reference"
	case KindLoopEnd:
		return "loop-end"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Handler is a single node in the lineage tree.
type Handler struct {
	id      uuid.UUID
	kind    Kind
	name    string
	parent  *Handler
	baseDir string

	mu       sync.Mutex
	open     bool
	disposed bool
	dir      string
	files    []string
}

func newHandler(kind Kind, name string, parent *Handler, baseDir string) *Handler {
	return &Handler{
		id:      uuid.New(),
		kind:    kind,
		name:    name,
		parent:  parent,
		baseDir: baseDir,
	}
}

// NewPlain creates a writable root for a node outside any loop.
func NewPlain(name, baseDir string) *Handler {
	return newHandler(KindPlain, name, nil, baseDir)
}

// NewLoopStart creates the writable root of an outermost loop.
func NewLoopStart(name, baseDir string) *Handler {
	return newHandler(KindLoopStart, name, nil, baseDir)
}

// NewLoopStartReference creates a loop start handler writing through outer.
func NewLoopStartReference(name string, outer *Handler) *Handler {
	return newHandler(KindLoopStartReference, name, outer, "")
}

// NewReference creates a handler for a node in the scope of target.
func NewReference(name string, target *Handler) *Handler {
	return newHandler(KindReference, name, target, "")
}

// NewLoopEnd creates the handler of a loop end closing the loop of loopStart.
func NewLoopEnd(name string, loopStart *Handler) *Handler {
	return newHandler(KindLoopEnd, name, loopStart, "")
}

func (h *Handler) ID() uuid.UUID { return h.id }

func (h *Handler) Kind() Kind { return h.kind }

func (h *Handler) Name() string { return h.name }

// Parent returns the handler this one references, nil for roots.
func (h *Handler) Parent() *Handler { return h.parent }

// Root follows references up to the handler owning a directory.
func (h *Handler) Root() *Handler {
	cur := h
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Lineage lists the kinds from h up to its root.
func (h *Handler) Lineage() []Kind {
	var out []Kind
	for cur := h; cur != nil; cur = cur.parent {
		out = append(out, cur.kind)
	}
	return out
}

// References reports whether target is on h's lineage.
func (h *Handler) References(target *Handler) bool {
	for cur := h.parent; cur != nil; cur = cur.parent {
		if cur == target {
			return true
		}
	}
	return false
}

// Open makes the handler writable for an execution. Handlers reused across
// loop iterations are reopened for every iteration.
func (h *Handler) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return fmt.Errorf("%w: %s was disposed", ErrNotWritable, h)
	}
	h.open = true
	return nil
}

// Close ends the current write phase.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
}

func (h *Handler) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *Handler) IsDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// CreateFile reserves a new file in the root's directory and returns its path.
func (h *Handler) CreateFile(name string) (string, error) {
	if !h.IsOpen() {
		return "", fmt.Errorf("%w: %s is not open", ErrNotWritable, h)
	}
	return h.Root().allocate(name)
}

func (h *Handler) allocate(name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return "", fmt.Errorf("%w: %s was disposed", ErrNotWritable, h)
	}
	if h.dir == "" {
		dir, err := os.MkdirTemp(h.baseDir, "fs-"+h.id.String()+"-")
		if err != nil {
			return "", fmt.Errorf("failed to create file store directory: %w", err)
		}
		h.dir = dir
	}
	path := filepath.Join(h.dir, fmt.Sprintf("%04d-%s", len(h.files), filepath.Base(name)))
	h.files = append(h.files, path)
	return path, nil
}

// Files returns the paths allocated in a root handler.
func (h *Handler) Files() []string {
	root := h.Root()
	root.mu.Lock()
	defer root.mu.Unlock()
	out := make([]string, len(root.files))
	copy(out, root.files)
	return out
}

// ClearAndDispose releases the handler. Only roots own a directory, so
// disposing a reference never touches the files of the handler it points at.
func (h *Handler) ClearAndDispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return nil
	}
	h.disposed = true
	h.open = false
	if h.dir == "" {
		return nil
	}
	dir := h.dir
	h.dir = ""
	h.files = nil
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove file store directory %s: %w", dir, err)
	}
	return nil
}

func (h *Handler) String() string {
	return fmt.Sprintf("%s handler of %q (%s)", h.kind, h.name, h.id)
}
