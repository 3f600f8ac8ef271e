package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/nodeflow/internal/container"
	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/jobmanager"
	"github.com/vk/nodeflow/internal/settings"
	"github.com/vk/nodeflow/internal/workflow"
	"golang.org/x/sync/errgroup"
)

// Version is stamped into the bundle info of executed nodes.
var Version = "dev"

// Run loads, executes and saves the configured workflow. Anything short of
// full success is returned as a *RunError carrying the exit code.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	dir, err := workflowDir(a.config.WorkflowPath)
	if err != nil {
		return &RunError{Code: ExitLoad, Err: err}
	}

	jm, err := a.jobManager(ctx)
	if err != nil {
		return &RunError{Code: ExitPreStart, Err: err}
	}
	defer shutdownJobManager(ctx, jm)

	w, warnings, err := a.load(ctx, dir, jm)
	if err != nil {
		return err
	}
	defer w.Shutdown()

	if a.config.Reset {
		a.logger.Info("Resetting workflow.")
		if err := w.Reset(ctx); err != nil {
			return runErrorf(ExitExecution, "failed to reset workflow: %w", err)
		}
		w.Configure(ctx)
	}

	if a.config.NoExecute {
		a.logger.Info("Execution skipped.")
	} else if err := a.execute(ctx, w, dir); err != nil {
		if !a.config.NoSave && errors.Is(err, errExecution) {
			// Partial results are still worth keeping.
			a.save(ctx, w, dir)
		}
		return err
	}

	if !a.config.NoSave {
		if err := a.save(ctx, w, dir); err != nil {
			return err
		}
	}

	if warnings > 0 {
		return runErrorf(ExitWarning, "workflow loaded with %d problem(s)", warnings)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// workflowDir accepts a workflow directory or the definition file inside it.
func workflowDir(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("workflow not found: %w", err)
	}
	if !fi.IsDir() {
		if filepath.Base(path) != workflow.FileName {
			return "", fmt.Errorf("workflow file must be named %s, got %s", workflow.FileName, filepath.Base(path))
		}
		return filepath.Dir(path), nil
	}
	return path, nil
}

func (a *App) jobManager(ctx context.Context) (jobmanager.Manager, error) {
	if a.config.RemoteURL == "" {
		return jobmanager.NewThreadManager(a.config.WorkerCount), nil
	}
	t, err := jobmanager.DialSocketIO(ctx, jobmanager.SocketIOOptions{URL: a.config.RemoteURL})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote executor: %w", err)
	}
	return jobmanager.NewRemoteManager(t), nil
}

func shutdownJobManager(ctx context.Context, jm jobmanager.Manager) {
	switch m := jm.(type) {
	case *jobmanager.ThreadManager:
		m.Shutdown()
	case *jobmanager.RemoteManager:
		if err := m.Shutdown(); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to close remote executor connection.", "error", err)
		}
	}
}

// load reads the workflow and applies the node options. It returns the
// number of tolerated problems.
func (a *App) load(ctx context.Context, dir string, jm jobmanager.Manager) (*workflow.Workflow, int, error) {
	a.logger.Info("Loading workflow.", "dir", dir)
	if a.config.UpdateLinks {
		a.logger.Info("Updating links is not supported, ignoring.")
	}
	w, problems, err := workflow.Load(ctx, dir, workflow.Options{
		JobManager:  jm,
		Registry:    a.registry,
		Dir:         filepath.Join(dir, ".filestores"),
		Credentials: a.config.Credentials,
		Globals:     a.config.Variables,
		Bundle:      container.BundleInfo{Name: "nodeflow", Version: Version},
	})
	if err != nil {
		return nil, 0, runErrorf(ExitLoad, "failed to load workflow: %w", err)
	}
	for _, p := range problems {
		a.logger.Warn("Problem while loading workflow.", "error", p)
	}
	if len(problems) > 0 && a.config.FailOnLoadError {
		w.Shutdown()
		return nil, 0, &RunError{Code: ExitLoad, Err: errors.Join(problems...)}
	}

	for _, opt := range a.config.Options {
		if err := applyOption(ctx, w, opt); err != nil {
			w.Shutdown()
			return nil, 0, runErrorf(ExitLoad, "option for node %s: %w", opt.Node, err)
		}
	}
	a.logger.Info("Workflow loaded.", "nodes", len(w.Nodes()), "problems", len(problems))
	return w, len(problems), nil
}

// applyOption replaces a model setting of a node. A missing top level key
// is added.
func applyOption(ctx context.Context, w *workflow.Workflow, opt NodeOption) error {
	c, err := w.Node(opt.Node)
	if err != nil {
		return err
	}
	s := c.Settings()
	err = s.Model.Replace(opt.Path, opt.Value)
	if errors.Is(err, settings.ErrKeyNotFound) && !strings.Contains(opt.Path, settings.PathSeparator) {
		err = s.Model.AddValue(opt.Path, opt.Value)
	}
	if err != nil {
		return err
	}
	ctxlog.ForNode(ctx, opt.Node).Debug("Applying option.", "path", opt.Path)
	return w.SetNodeSettings(ctx, opt.Node, s)
}

var errExecution = errors.New("execution failed")

// execute runs the workflow while the health server and the cancel poller
// run next to it.
func (a *App) execute(ctx context.Context, w *workflow.Workflow, dir string) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if a.config.HealthcheckPort > 0 {
		ln, err := a.listenHealth()
		if err != nil {
			a.logger.Error("Health check server not started.", "error", err)
		} else {
			g.Go(func() error { return a.serveHealth(gctx, ln) })
		}
	}
	g.Go(func() error {
		a.pollCancel(gctx, w, dir)
		return nil
	})
	g.Go(func() error {
		defer stop()
		return a.executeAndWait(gctx, w)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	switch failed := w.Failures(); {
	case a.cancelRequested.Load() || (w.Canceled() && len(failed) == 0):
		return &RunError{Code: ExitExecution, Err: errors.New("Workflow execution canceled")}
	case len(failed) > 0:
		ids := make([]string, len(failed))
		for i, id := range failed {
			ids[i] = id.String()
		}
		return &RunError{Code: ExitExecution, Err: fmt.Errorf("%w: nodes %s", errExecution, strings.Join(ids, ", "))}
	}
	return nil
}

func (a *App) executeAndWait(ctx context.Context, w *workflow.Workflow) error {
	a.runs.Inc()
	a.logger.Info("🚀 Starting workflow execution...", "workers", a.config.WorkerCount)
	start := time.Now()
	w.ExecuteAll(ctx)
	if err := w.Wait(ctx); err != nil {
		// The caller went away; stop what is still running.
		w.Cancel(context.WithoutCancel(ctx))
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := w.Wait(waitCtx); err != nil {
			return runErrorf(ExitExecution, "workflow did not stop after cancel: %w", err)
		}
		return &RunError{Code: ExitExecution, Err: errors.New("Workflow execution canceled")}
	}
	a.logger.Info("🏁 Workflow execution finished.", "duration", time.Since(start).String(), "failures", len(w.Failures()))
	return nil
}

func (a *App) save(ctx context.Context, w *workflow.Workflow, dir string) error {
	dest := dir
	if a.config.DestPath != "" {
		dest = a.config.DestPath
	}
	if err := w.Save(ctx, dest); err != nil {
		a.logger.Error("Failed to save workflow.", "dest", dest, "error", err)
		return runErrorf(ExitExecution, "failed to save workflow: %w", err)
	}
	a.logger.Info("Workflow saved.", "dest", dest)
	return nil
}
