package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/nodeflow/internal/workflow"
)

// CancelFileName is the marker file that cancels a running batch execution
// when it appears in the workflow directory.
const CancelFileName = ".cancel"

// pollCancel checks for the cancel marker once per interval until ctx is
// done. With StopOnError it also cancels the workflow after the first
// failed node.
func (a *App) pollCancel(ctx context.Context, w *workflow.Workflow, dir string) {
	marker := filepath.Join(dir, CancelFileName)
	ticker := time.NewTicker(a.config.CancelPollInterval)
	defer ticker.Stop()
	stopped := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := os.Stat(marker); err == nil {
			a.logger.Info("Cancel marker found.", "file", marker)
			if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
				a.logger.Warn("Failed to delete cancel marker.", "error", err)
			}
			a.cancelRequested.Store(true)
			w.Cancel(ctx)
			return
		}
		if a.config.StopOnError && !stopped && len(w.Failures()) > 0 {
			a.logger.Warn("Node failed, stopping execution.")
			stopped = true
			w.Cancel(ctx)
		}
	}
}
