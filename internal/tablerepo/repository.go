package tablerepo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrDuplicateKey is returned when a different table is already stored under
// the key being written.
var ErrDuplicateKey = errors.New("table key already in use")

// Repository is the workflow-scoped table store. It is safe for concurrent
// use; callers guarantee a single writer per key.
type Repository struct {
	mu     sync.RWMutex
	tables map[int]*Table
	nextID atomic.Int64
}

func New() *Repository {
	return &Repository{tables: make(map[int]*Table)}
}

// NewID returns a fresh table id.
func (r *Repository) NewID() int {
	return int(r.nextID.Add(1))
}

// Put stores t under its id. Storing the same table twice is a no-op.
func (r *Repository) Put(t *Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tables[t.ID]; ok && old != t {
		return fmt.Errorf("%w: %d", ErrDuplicateKey, t.ID)
	}
	r.tables[t.ID] = t
	return nil
}

// Get returns the table stored under id.
func (r *Repository) Get(id int) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[id]
	return t, ok
}

// Remove deletes the table under id if it is t.
func (r *Repository) Remove(t *Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tables[t.ID]; ok && old == t {
		delete(r.tables, t.ID)
	}
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// IDs returns the stored ids in ascending order.
func (r *Repository) IDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortStrings(s []string) { sort.Strings(s) }
