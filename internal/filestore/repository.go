package filestore

import (
	"sync"

	"github.com/google/uuid"
)

// Repository indexes the live handlers of a workflow by id.
type Repository struct {
	mu       sync.RWMutex
	handlers map[uuid.UUID]*Handler
}

func NewRepository() *Repository {
	return &Repository{handlers: make(map[uuid.UUID]*Handler)}
}

func (r *Repository) Add(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ID()] = h
}

func (r *Repository) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

func (r *Repository) Get(id uuid.UUID) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
