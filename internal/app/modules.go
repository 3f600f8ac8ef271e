package app

import (
	"io"

	"github.com/vk/nodeflow/internal/registry"
	"github.com/vk/nodeflow/modules/counting_loop_start"
	"github.com/vk/nodeflow/modules/env_vars"
	"github.com/vk/nodeflow/modules/loop_end"
	"github.com/vk/nodeflow/modules/math"
	"github.com/vk/nodeflow/modules/print"
	"github.com/vk/nodeflow/modules/table_creator"
	"github.com/vk/nodeflow/modules/variable_source"
)

// coreModules is the definitive list of all node modules compiled into the
// nodeflow binary. Sinks write to outW.
func coreModules(outW io.Writer) []registry.Module {
	return []registry.Module{
		&table_creator.Module{},
		&math.Module{},
		&variable_source.Module{},
		&env_vars.Module{},
		&counting_loop_start.Module{},
		&loop_end.Module{},
		&print.Module{Out: outW},
	}
}
