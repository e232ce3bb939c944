// Package scripts implements the "execute named script with environment"
// external collaborator from spec §1/§6: hosts/<Name>-up/-down,
// subnet-up/-down, host-up/-down, tinc-up/-down.
package scripts

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// Runner executes a named script, if present, with the given
// environment. Implementations must not block the reactor goroutine for
// long; spec §5 accepts a brief synchronous stall here as the one
// documented exception to "every handler is non-blocking".
type Runner interface {
	Run(ctx context.Context, name string, env []string) error
}

// Exec runs scripts found under ConfBase, matching tinc's execute_script().
type Exec struct {
	ConfBase string
}

// Run executes <ConfBase>/<name> if it exists and is executable; a
// missing script is not an error (scripts are optional hooks).
func (e Exec) Run(ctx context.Context, name string, env []string) error {
	path := filepath.Join(e.ConfBase, name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&0111 == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = e.ConfBase
	return cmd.Run()
}

// Noop never runs anything; used by tests that assert no script hook was
// fired, or by daemons configured without a ConfBase.
type Noop struct{}

func (Noop) Run(context.Context, string, []string) error { return nil }

// Recording captures every invocation for test assertions, replacing the
// need for a real ConfBase in scenario tests (SPEC_FULL.md §10).
type Recording struct {
	Calls []Call
}

type Call struct {
	Name string
	Env  []string
}

func (r *Recording) Run(_ context.Context, name string, env []string) error {
	r.Calls = append(r.Calls, Call{Name: name, Env: append([]string(nil), env...)})
	return nil
}
