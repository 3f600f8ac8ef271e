package unit

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCanceled is returned by computations that stopped on a cancel request.
var ErrCanceled = errors.New("execution canceled")

// ProgressEvent is delivered to progress listeners.
type ProgressEvent struct {
	Fraction float64
	Message  string
}

// Progress carries the cancel flag and progress of one node. The cancel flag
// is the only cancellation channel into a running computation.
type Progress struct {
	canceled atomic.Bool

	mu        sync.Mutex
	fraction  float64
	message   string
	listeners []func(ProgressEvent)
}

func NewProgress() *Progress {
	return &Progress{}
}

// Cancel requests cancellation. It may be called from any goroutine.
func (p *Progress) Cancel() { p.canceled.Store(true) }

func (p *Progress) Canceled() bool { return p.canceled.Load() }

// Check returns ErrCanceled once cancellation was requested.
func (p *Progress) Check() error {
	if p.canceled.Load() {
		return ErrCanceled
	}
	return nil
}

// Set reports progress. Fraction is clamped to [0, 1].
func (p *Progress) Set(fraction float64, message string) {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	p.mu.Lock()
	p.fraction, p.message = fraction, message
	listeners := append([]func(ProgressEvent){}, p.listeners...)
	p.mu.Unlock()

	ev := ProgressEvent{Fraction: fraction, Message: message}
	for _, l := range listeners {
		l(ev)
	}
}

// Snapshot returns the last reported progress.
func (p *Progress) Snapshot() ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProgressEvent{Fraction: p.fraction, Message: p.message}
}

// Reset clears the cancel flag and the progress. Listeners stay.
func (p *Progress) Reset() {
	p.canceled.Store(false)
	p.mu.Lock()
	p.fraction, p.message = 0, ""
	p.mu.Unlock()
}

func (p *Progress) AddListener(l func(ProgressEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// RemoveAllListeners drops every listener.
func (p *Progress) RemoveAllListeners() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = nil
}
