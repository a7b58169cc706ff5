// Package sandbox runs commands inside an isolated container: no network,
// capped memory and cpu, the workspace mounted read-only. When isolation is
// requested but unavailable the caller must fail, never fall back to running
// on the host.
package sandbox

import "context"

// Result is the outcome of one sandboxed run. Stdout and stderr are raw; the
// executor applies truncation and redaction.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes a single shell command in isolation.
type Runner interface {
	// Available reports whether the isolation backend is reachable.
	Available(ctx context.Context) error

	// Run executes the command with the workspace mounted read-only at
	// /workspace. The context deadline bounds the whole run.
	Run(ctx context.Context, workspace, commandLine string) (*Result, error)
}
