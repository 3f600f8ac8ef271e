package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/settings"
)

// Validate checks every registered node type: the factory must return a
// model, its port counts must not be negative and its default settings must
// load back into a fresh model, also after an encode/decode cycle.
func (r *Registry) Validate(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, name := range r.Names() {
		m, err := r.Create(name)
		if err != nil || m == nil {
			errs = append(errs, fmt.Sprintf("node type '%s': factory returned no model", name))
			continue
		}
		in, out := m.Ports()
		if in < 0 || out < 0 {
			errs = append(errs, fmt.Sprintf("node type '%s': negative port count (%d in, %d out)", name, in, out))
		}

		tree := settings.New("model")
		m.SaveSettings(tree)
		decoded, err := settings.Decode(settings.Encode(tree), name+".hcl")
		if err != nil {
			errs = append(errs, fmt.Sprintf("node type '%s': default settings do not encode: %v", name, err))
			continue
		}
		fresh, _ := r.Create(name)
		if err := fresh.LoadSettings(decoded); err != nil {
			errs = append(errs, fmt.Sprintf("node type '%s': default settings do not load back: %v", name, err))
			continue
		}
		if tree.Len() == 0 {
			logger.Debug("Node type has no settings.", "type", name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
