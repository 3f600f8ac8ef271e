// Package app contains the batch application: it loads a saved workflow,
// applies command line overrides, executes it and saves the result. It is
// decoupled from any specific entrypoint like a CLI.
package app
