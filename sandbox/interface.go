// Package sandbox provides isolated execution of untrusted code.
//
// The sandbox package implements the isolation backends for running
// untrusted JavaScript snippets. It supports a Firecracker microVM
// backend, a container backend, and an in-process fallback.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Mode identifies the isolation mechanism that ran a piece of code.
type Mode string

// Isolation modes in descending isolation strength.
const (
	ModeMicroVM   Mode = "microvm"
	ModeContainer Mode = "container"
	ModeSandbox   Mode = "sandbox"
)

// OutcomeKind classifies how an execution ended.
type OutcomeKind int

const (
	// OutcomeOK means the code ran to completion with a zero exit status.
	OutcomeOK OutcomeKind = iota
	// OutcomeFailure means the code or the isolation mechanism reported an error.
	OutcomeFailure
	// OutcomeTimeout means the wall-clock execution budget was exceeded.
	OutcomeTimeout
)

// Request carries a single execution's inputs into a backend.
type Request struct {
	// ID uniquely identifies this execution. It names the per-execution
	// artifacts and the process-registry entry.
	ID string
	// Source is the submitted source text, unmodified.
	Source string
}

// Outcome is the raw result a backend reports before the engine
// normalizes it into the caller-facing shape.
type Outcome struct {
	Kind     OutcomeKind
	Stdout   string
	Stderr   string
	ExitCode int
}

// Backend is the uniform execute contract implemented by every isolation
// mechanism. Probe is a bounded-time capability check run once at startup;
// Execute provisions a fresh, single-use isolation instance, runs the code
// under the context's deadline, and tears down every per-execution artifact
// before returning, on every exit path.
type Backend interface {
	Mode() Mode
	Probe(ctx context.Context) bool
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// Config holds configuration shared by the sandbox backends
type Config struct {
	TimeoutSec        int
	MemoryMB          int
	ScratchDir        string
	FirecrackerBinary string
	KernelImage       string
	RootFSImage       string
	BootGraceSec      int
	GuestCID          uint32
	GuestPort         uint32
	ContainerRuntime  string
	ContainerImage    string
	ContainerCPUs     string
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Remove(path string) error
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0600
)
