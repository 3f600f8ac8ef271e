package container

import (
	"fmt"

	"github.com/vk/nodeflow/internal/nodestate"
	"github.com/vk/nodeflow/internal/settings"
)

const (
	keyState       = "state"
	keySettings    = "settings"
	keyLocks       = "locks"
	keyMessage     = "message"
	keyAnnotation  = "annotation"
	keyDescription = "description"
	keyUIInfo      = "ui_info"
	keyBundle      = "bundle"
)

// savedState is the state written for s. Transient states collapse to the
// state the node returns to when the workflow is opened again.
func (c *Container) savedState() nodestate.State {
	switch c.state {
	case nodestate.Executed, nodestate.ExecutedMarkedForExec, nodestate.ExecutedQueued:
		return nodestate.Executed
	case nodestate.ExecutingRemotely:
		if c.jobSaved {
			return nodestate.ExecutingRemotely
		}
		return nodestate.Configured
	case nodestate.Idle, nodestate.UnconfiguredMarkedForExec:
		return nodestate.Idle
	}
	return nodestate.Configured
}

// Save writes the persistent part of the container into t.
func (c *Container) Save(t *settings.Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.AddString(keyState, c.savedState().String())
	c.settings.Save(t.AddChild(keySettings))
	c.locks.Save(t.AddTree(keyLocks))
	if c.message.Type != MessageNone {
		m := t.AddChild(keyMessage)
		m.AddString("type", c.message.Type.String())
		m.AddString("text", c.message.Text)
	}
	if c.annotation != "" {
		t.AddString(keyAnnotation, c.annotation)
	}
	if c.description != "" {
		t.AddString(keyDescription, c.description)
	}
	if c.uiInfo != nil {
		u := t.AddChild(keyUIInfo)
		u.AddInt("x", c.uiInfo.X)
		u.AddInt("y", c.uiInfo.Y)
		u.AddInt("width", c.uiInfo.Width)
		u.AddInt("height", c.uiInfo.Height)
	}
	if c.execBundle != nil {
		b := t.AddChild(keyBundle)
		b.AddString("name", c.execBundle.Name)
		b.AddString("version", c.execBundle.Version)
	}
}

// Persisted is the content of a saved container.
type Persisted struct {
	State       nodestate.State
	Settings    Settings
	Locks       NodeLocks
	Message     Message
	Annotation  string
	Description string
	UIInfo      *UIInfo
	Bundle      *BundleInfo
}

// ReadPersisted decodes a tree written by Save.
func ReadPersisted(t *settings.Tree) (Persisted, error) {
	var p Persisted
	name, err := t.GetString(keyState)
	if err != nil {
		return p, err
	}
	if p.State, err = nodestate.Parse(name); err != nil {
		return p, err
	}
	st, err := t.Child(keySettings)
	if err != nil {
		return p, err
	}
	if p.Settings, err = LoadSettings(st); err != nil {
		return p, fmt.Errorf("settings: %w", err)
	}
	if t.ContainsKey(keyLocks) {
		src, err := t.GetTree(keyLocks)
		if err != nil {
			return p, err
		}
		if p.Locks, err = LoadNodeLocks(src); err != nil {
			return p, fmt.Errorf("locks: %w", err)
		}
	}
	if t.ContainsKey(keyMessage) {
		m, err := t.Child(keyMessage)
		if err != nil {
			return p, err
		}
		typ, _ := m.GetString("type")
		text, _ := m.GetString("text")
		switch typ {
		case MessageWarning.String():
			p.Message = Message{Type: MessageWarning, Text: text}
		case MessageError.String():
			p.Message = Message{Type: MessageError, Text: text}
		}
	}
	p.Annotation, _ = optString(t, keyAnnotation)
	p.Description, _ = optString(t, keyDescription)
	if t.ContainsKey(keyUIInfo) {
		u, err := t.Child(keyUIInfo)
		if err != nil {
			return p, err
		}
		var info UIInfo
		for key, dst := range map[string]*int{"x": &info.X, "y": &info.Y, "width": &info.Width, "height": &info.Height} {
			if *dst, err = u.GetInt(key); err != nil {
				return p, fmt.Errorf("ui info: %w", err)
			}
		}
		p.UIInfo = &info
	}
	if t.ContainsKey(keyBundle) {
		b, err := t.Child(keyBundle)
		if err != nil {
			return p, err
		}
		var info BundleInfo
		info.Name, _ = b.GetString("name")
		info.Version, _ = b.GetString("version")
		p.Bundle = &info
	}
	return p, nil
}

func optString(t *settings.Tree, key string) (string, error) {
	if !t.ContainsKey(key) {
		return "", nil
	}
	return t.GetString(key)
}

// Restore applies everything but the state to a freshly created container.
// The model settings are validated by the computation.
func (c *Container) Restore(p Persisted) error {
	if err := c.comp.LoadModelSettings(p.Settings.Model); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.unlock()
	if c.state != nodestate.Idle {
		c.illegalState("Restore")
	}
	c.settings = p.Settings.Copy()
	c.locks = p.Locks
	c.message = p.Message
	c.annotation = p.Annotation
	c.description = p.Description
	if p.UIInfo != nil {
		info := *p.UIInfo
		c.uiInfo = &info
	}
	if p.Bundle != nil {
		b := *p.Bundle
		c.execBundle = &b
	}
	return nil
}

// RestoreState puts a configured container into the executed or remotely
// executing state it was saved in. Outputs must be installed first. Loading
// is the only path into these states that bypasses execution.
func (c *Container) RestoreState(s nodestate.State) {
	c.mu.Lock()
	defer c.unlock()
	if c.state != nodestate.Configured {
		c.illegalState("RestoreState")
	}
	switch s {
	case nodestate.Configured:
		return
	case nodestate.Executed, nodestate.ExecutingRemotely:
	default:
		c.invariant("cannot restore state %s", s)
	}
	nodestate.Move(c.state, s)
	c.state = s
	c.postState(StateEvent{Node: c.id, State: s})
}
