package container

import (
	"github.com/vk/nodeflow/internal/filestore"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/nodeid"
	"github.com/vk/nodeflow/internal/tablerepo"
	"github.com/vk/nodeflow/internal/unit"
)

// Parent is the workflow a container lives in. The parent is notified
// around each execution; the container performs its own transitions.
type Parent interface {
	ID() nodeid.ID
	// FindJobManager returns the manager of the parent chain. A root
	// parent always has one.
	FindJobManager() jobmanager.Manager
	SetDirty()
	TableRepository() *tablerepo.Repository
	FileStoreRepository() *filestore.Repository
	// FileStoreDir is where plain file store handlers create their
	// directories.
	FileStoreDir() string
	Credentials() unit.Credentials

	// DoBeforePreExecution returns false to stop a job before it starts.
	DoBeforePreExecution(c *Container) bool
	// DoBeforeExecution may reject the execution, failing the job.
	DoBeforeExecution(c *Container) error
	DoBeforePostExecution(c *Container, status jobmanager.Status)
	// DoAfterExecution runs after the container reached its final state.
	DoAfterExecution(c *Container, status jobmanager.Status)
}
