package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/nodeflow/internal/app"
	"github.com/vk/nodeflow/internal/flowstack"
	"github.com/vk/nodeflow/internal/unit"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

type options struct {
	workflow        string
	dest            string
	noSave          bool
	reset           bool
	noExecute       bool
	updateLinks     bool
	failOnLoadError bool
	stopOnError     bool
	variables       []string
	nodeOptions     []string
	credentials     []string
	logFormat       string
	logLevel        string
	workers         int
	healthPort      int
	cancelPoll      time.Duration
	remoteURL       string
}

func newCommand(o *options, run func() error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodeflow [options] [WORKFLOW]",
		Short: "Execute a saved workflow in batch mode",
		Long: `nodeflow loads a saved workflow, executes all of its nodes and saves the
result.

WORKFLOW is a workflow directory or the workflow.hcl file inside it.

Creating a file named .cancel in the workflow directory cancels a running
execution.

EXIT CODES:
  0  success
  1  success with warnings
  2  invalid options
  3  the workflow could not be loaded
  4  execution failed or was canceled`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				if o.workflow != "" && o.workflow != args[0] {
					return fmt.Errorf("workflow given twice: %q and %q", o.workflow, args[0])
				}
				o.workflow = args[0]
			}
			if o.workflow == "" {
				return cmd.Help()
			}
			return run()
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.workflow, "workflow", "w", "", "Workflow directory or workflow.hcl file.")
	f.StringVar(&o.dest, "dest", "", "Save the executed workflow here instead of in place.")
	f.BoolVar(&o.noSave, "nosave", false, "Do not save the workflow after execution.")
	f.BoolVar(&o.reset, "reset", false, "Reset all nodes before execution.")
	f.BoolVar(&o.noExecute, "noexecute", false, "Load and save without executing.")
	f.BoolVar(&o.updateLinks, "update-links", false, "Update linked components before execution (ignored).")
	f.BoolVar(&o.failOnLoadError, "fail-on-load-error", false, "Stop if any node fails to load.")
	f.BoolVar(&o.stopOnError, "stop-on-error", false, "Cancel the remaining execution after the first failed node.")
	f.StringArrayVar(&o.variables, "workflow-variable", nil, "Workflow variable as name,value,type. Repeatable.")
	f.StringArrayVar(&o.nodeOptions, "option", nil, "Node setting as nodeID,key,value,type. Repeatable.")
	f.StringArrayVar(&o.credentials, "credential", nil, "Credentials as name[;login[;password]]. Repeatable.")
	f.StringVar(&o.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	f.StringVar(&o.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	f.IntVar(&o.workers, "workers", 0, "Number of concurrent node executions. 0 uses one per CPU.")
	f.IntVar(&o.healthPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	f.DurationVar(&o.cancelPoll, "cancel-poll-interval", time.Second, "How often to look for the .cancel file.")
	f.StringVar(&o.remoteURL, "remote-url", "", "Execute nodes on a remote executor at this socket.io URL.")
	return cmd
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	var o options
	var cfg *app.Config
	cmd := newCommand(&o, func() error {
		var err error
		cfg, err = o.config()
		return err
	})
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, &ExitError{Code: app.ExitPreStart, Message: err.Error()}
	}
	if cfg == nil {
		// Help was printed.
		return nil, true, nil
	}
	slog.Debug("CLI parser finished successfully.", "workflow", cfg.WorkflowPath)
	return cfg, false, nil
}

func (o *options) config() (*app.Config, error) {
	logFormat := strings.ToLower(o.logFormat)
	if logFormat != "text" && logFormat != "json" {
		return nil, &ExitError{Code: app.ExitPreStart, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(o.logLevel)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, &ExitError{Code: app.ExitPreStart, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	vars := make([]flowstack.Variable, 0, len(o.variables))
	for _, spec := range o.variables {
		v, err := app.ParseVariableSpec(spec)
		if err != nil {
			return nil, &ExitError{Code: app.ExitPreStart, Message: err.Error()}
		}
		vars = append(vars, v)
	}
	nodeOpts := make([]app.NodeOption, 0, len(o.nodeOptions))
	for _, spec := range o.nodeOptions {
		opt, err := app.ParseOptionSpec(spec)
		if err != nil {
			return nil, &ExitError{Code: app.ExitPreStart, Message: err.Error()}
		}
		nodeOpts = append(nodeOpts, opt)
	}
	creds := unit.CredentialsMap{}
	for _, spec := range o.credentials {
		if err := app.ParseCredentialSpec(creds, spec); err != nil {
			return nil, &ExitError{Code: app.ExitPreStart, Message: err.Error()}
		}
	}

	cfg, err := app.NewConfig(app.Config{
		WorkflowPath:       o.workflow,
		DestPath:           o.dest,
		NoSave:             o.noSave,
		Reset:              o.reset,
		NoExecute:          o.noExecute,
		UpdateLinks:        o.updateLinks,
		FailOnLoadError:    o.failOnLoadError,
		StopOnError:        o.stopOnError,
		Variables:          vars,
		Options:            nodeOpts,
		Credentials:        creds,
		LogFormat:          logFormat,
		LogLevel:           logLevel,
		HealthcheckPort:    o.healthPort,
		WorkerCount:        o.workers,
		CancelPollInterval: o.cancelPoll,
		RemoteURL:          o.remoteURL,
	})
	if err != nil {
		return nil, &ExitError{Code: app.ExitPreStart, Message: err.Error()}
	}
	return cfg, nil
}
