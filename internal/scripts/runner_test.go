package scripts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestExecRunMissingScriptIsNotAnError covers spec §6's "scripts are
// optional hooks" — a missing hosts/<name>-up is a silent no-op.
func TestExecRunMissingScriptIsNotAnError(t *testing.T) {
	e := Exec{ConfBase: t.TempDir()}
	if err := e.Run(context.Background(), "hosts/peer-up", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestExecRunSkipsNonExecutableScript mirrors execute_script()'s check
// before fork+exec: a present-but-non-executable file is also a no-op,
// not an error.
func TestExecRunSkipsNonExecutableScript(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "host-up"), []byte("#!/bin/sh\nexit 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e := Exec{ConfBase: dir}
	if err := e.Run(context.Background(), "host-up", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestExecRunExecutesPresentScript runs a trivial executable script and
// checks its exit status propagates.
func TestExecRunExecutesPresentScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host-up")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e := Exec{ConfBase: dir}
	if err := e.Run(context.Background(), "host-up", []string{"NETNAME=test"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestExecRunPropagatesScriptFailure checks a nonzero exit is surfaced
// as an error.
func TestExecRunPropagatesScriptFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host-down")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e := Exec{ConfBase: dir}
	if err := e.Run(context.Background(), "host-down", nil); err == nil {
		t.Fatalf("expected a nonzero exit to surface as an error")
	}
}

func TestRecordingCapturesCalls(t *testing.T) {
	var r Recording
	if err := r.Run(context.Background(), "subnet-up", []string{"A=1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.Calls) != 1 || r.Calls[0].Name != "subnet-up" {
		t.Fatalf("expected 1 recorded call named subnet-up, got %+v", r.Calls)
	}
}
