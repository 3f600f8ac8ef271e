package container

import (
	"github.com/vk/nodeflow/internal/settings"
)

// Lock names one of the node locks.
type Lock int

const (
	LockDelete Lock = iota
	LockReset
	LockConfigure
)

// NodeLocks is an immutable set of node locks.
type NodeLocks struct {
	delete    bool
	reset     bool
	configure bool
}

func NewNodeLocks(deleteLock, resetLock, configureLock bool) NodeLocks {
	return NodeLocks{delete: deleteLock, reset: resetLock, configure: configureLock}
}

func (l NodeLocks) HasDeleteLock() bool    { return l.delete }
func (l NodeLocks) HasResetLock() bool     { return l.reset }
func (l NodeLocks) HasConfigureLock() bool { return l.configure }

// with returns a copy with the given locks set to v.
func (l NodeLocks) with(v bool, locks ...Lock) NodeLocks {
	for _, k := range locks {
		switch k {
		case LockDelete:
			l.delete = v
		case LockReset:
			l.reset = v
		case LockConfigure:
			l.configure = v
		}
	}
	return l
}

// Save writes the locks into sink.
func (l NodeLocks) Save(sink settings.Sink) {
	sink.AddBool("delete", l.delete)
	sink.AddBool("reset", l.reset)
	sink.AddBool("configure", l.configure)
}

// LoadNodeLocks reads locks written by Save. Missing keys mean unlocked.
func LoadNodeLocks(src settings.Source) (NodeLocks, error) {
	var l NodeLocks
	for key, dst := range map[string]*bool{"delete": &l.delete, "reset": &l.reset, "configure": &l.configure} {
		if !src.ContainsKey(key) {
			continue
		}
		v, err := src.GetBool(key)
		if err != nil {
			return NodeLocks{}, err
		}
		*dst = v
	}
	return l, nil
}
