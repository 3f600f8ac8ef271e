package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/nodeflow/internal/app"
	"github.com/vk/nodeflow/internal/cli"
)

// main is the entrypoint for the nodeflow batch executor.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()
	if code := exitCode(err); code != app.ExitSuccess {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}

func exitCode(err error) int {
	if err == nil {
		return app.ExitSuccess
	}
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var runErr *app.RunError
	if errors.As(err, &runErr) {
		return runErr.Code
	}
	return app.ExitExecution
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW io.Writer, args []string) (err error) {
	cfg, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on programmer errors such as an invalid module; turn
	// that into a clean exit.
	defer func() {
		if r := recover(); r != nil {
			err = &cli.ExitError{Code: app.ExitPreStart, Message: fmt.Sprintf("application startup panicked: %v", r)}
		}
	}()

	return app.NewApp(outW, cfg).Run(ctx)
}
