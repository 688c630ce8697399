// Package proc runs external commands with an explicit argument vector and
// environment override set. It is the single choke point through which the
// runner invokes build tools and launches the assembled runtime command.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/illixr/runner/internal/ctxlog"
)

// Runner executes commands relative to the invocation root.
type Runner struct {
	// Root is the default working directory for commands that do not set
	// their own. Empty means the process working directory.
	Root string
}

// Options control a single command invocation.
type Options struct {
	// Dir overrides the working directory for this invocation.
	Dir string
	// Env entries are appended on top of the inherited environment.
	Env map[string]string
	// Stdout redirects standard output when non-nil; stderr always passes
	// through to the parent so build diagnostics stay visible.
	Stdout io.Writer
	// Check turns a non-zero exit status into an *ExitError. When false the
	// exit status is logged and discarded, matching tools whose failures
	// are advisory.
	Check bool
}

// ExitError reports a checked command that returned a non-zero status.
type ExitError struct {
	Argv0 string
	Code  int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Argv0, e.Code)
}

// EnvSlice flattens an override map into sorted VAR=value entries. Sorting
// keeps invocations reproducible and log output stable.
func EnvSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Run executes argv and waits for it to finish. The child inherits the
// parent environment plus opts.Env.
func (r *Runner) Run(ctx context.Context, argv []string, opts Options) error {
	if len(argv) == 0 {
		return errors.New("proc: empty argument vector")
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Running command.", "argv", argv, "dir", r.dir(opts), "env_overrides", len(opts.Env))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.dir(opts)
	cmd.Env = append(os.Environ(), EnvSlice(opts.Env)...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = os.Stdout
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if !opts.Check {
			logger.Debug("Command failed, status ignored.", "argv0", argv[0], "code", exitErr.ExitCode())
			return nil
		}
		return &ExitError{Argv0: argv[0], Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("proc: starting %q: %w", argv[0], err)
}

func (r *Runner) dir(opts Options) string {
	if opts.Dir != "" {
		return opts.Dir
	}
	return r.Root
}
