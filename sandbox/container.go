// Package sandbox provides isolated execution of untrusted code.
//
// The ContainerBackend runs code in ephemeral containers with security
// constraints including resource limits, network isolation, a read-only
// root filesystem, and dropped privileges.
package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// timeoutExitCode is what timeout(1) reports when the budget expires.
const timeoutExitCode = 124

// containerGrace pads the outer command deadline so the in-container
// timeout fires first under normal operation.
const containerGrace = 5 * time.Second

// ContainerBackend implements Backend using an OCI container runtime CLI
type ContainerBackend struct {
	logger    *zap.Logger
	config    *Config
	cmdRunner CommandRunner
	fs        FileSystem
}

// ContainerBackendOption defines a functional option for ContainerBackend
type ContainerBackendOption func(*ContainerBackend)

// WithContainerCommandRunner sets the CommandRunner for ContainerBackend
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerBackendOption {
	return func(c *ContainerBackend) {
		c.cmdRunner = cmdRunner
	}
}

// WithContainerFileSystem sets the FileSystem for ContainerBackend
func WithContainerFileSystem(fs FileSystem) ContainerBackendOption {
	return func(c *ContainerBackend) {
		c.fs = fs
	}
}

// NewContainerBackend creates a new ContainerBackend with default implementations and optional interfaces
func NewContainerBackend(logger *zap.Logger, config *Config, opts ...ContainerBackendOption) *ContainerBackend {
	backend := &ContainerBackend{
		logger:    logger,
		config:    config,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(backend)
	}

	return backend
}

// Mode reports the isolation mode of this backend
func (c *ContainerBackend) Mode() Mode { return ModeContainer }

// Probe checks that the container runtime binary exists and its daemon is
// reachable. A stopped daemon clears the capability bit without error.
func (c *ContainerBackend) Probe(ctx context.Context) bool {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.config.ContainerRuntime, "info"})
	if err != nil || exitCode != 0 {
		c.logger.Info("container runtime unavailable",
			zap.String("runtime", c.config.ContainerRuntime),
			zap.String("stderr", stderr),
			zap.Error(err))
		return false
	}
	return true
}

// prefetchImage pulls the base image in the background. Best effort only.
func (c *ContainerBackend) prefetchImage(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.config.ContainerRuntime, "pull", c.config.ContainerImage})
	if err != nil || exitCode != 0 {
		logger.Warn("base image prefetch failed",
			zap.String("image", c.config.ContainerImage),
			zap.String("stderr", stderr),
			zap.Error(err))
		return
	}
	logger.Info("base image prefetched", zap.String("image", c.config.ContainerImage))
}

// Execute runs the code in a fresh container. The wall-clock budget is
// enforced at the environment boundary: timeout(1) inside the container
// kills the workload on expiry, and the runtime reports the distinctive
// exit code back to us.
func (c *ContainerBackend) Execute(ctx context.Context, req Request) (Outcome, error) {
	codePath := filepath.Join(c.config.ScratchDir, req.ID+".js")
	if err := c.fs.WriteFile(codePath, []byte(req.Source), FilePermission); err != nil {
		return Outcome{}, fmt.Errorf("failed to write code artifact: %w", err)
	}

	containerName := "execbox-" + req.ID
	defer c.teardown(req.ID, containerName, codePath)

	cmdArgs := []string{
		c.config.ContainerRuntime, "run",
		"--name", containerName,
		"-v", fmt.Sprintf("%s:/workdir/main.js:ro", codePath),
		"--workdir", "/workdir",
		"--read-only",
		"--memory", fmt.Sprintf("%dm", c.config.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", c.config.MemoryMB), // equal to memory: no overcommit
		"--cpus", c.config.ContainerCPUs,
		"--network", "none",
		"--security-opt", "no-new-privileges:true",
		"--user", "nobody",
		"--cap-drop", "ALL",
		c.config.ContainerImage,
		"timeout", strconv.Itoa(c.config.TimeoutSec), "node", "/workdir/main.js",
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.TimeoutSec)*time.Second+containerGrace)
	defer cancel()

	started := time.Now()
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(runCtx, cmdArgs)
	elapsed := time.Since(started)

	// The context expiring means the runtime itself hung past the padded
	// budget; the container is removed in teardown either way.
	if runCtx.Err() == context.DeadlineExceeded {
		return Outcome{Kind: OutcomeTimeout, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
	}

	if err != nil {
		return Outcome{}, fmt.Errorf("failed to run container: %w", err)
	}

	switch {
	case exitCode == 0:
		return Outcome{Kind: OutcomeOK, Stdout: stdout, Stderr: stderr}, nil
	case c.isTimeoutExit(exitCode, elapsed):
		return Outcome{Kind: OutcomeTimeout, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
	default:
		return Outcome{Kind: OutcomeFailure, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
	}
}

// isTimeoutExit distinguishes the budget-expiry kill from a generic
// failure. 124 is unambiguous; signal exits (KILL/TERM) only count when
// the wall clock actually reached the budget, so an OOM kill stays a
// failure.
func (c *ContainerBackend) isTimeoutExit(exitCode int, elapsed time.Duration) bool {
	if exitCode == timeoutExitCode {
		return true
	}
	budget := time.Duration(c.config.TimeoutSec) * time.Second
	return (exitCode == 137 || exitCode == 143) && elapsed >= budget
}

// teardown forcibly removes the ephemeral container and the code artifact.
// Every sub-step is attempted regardless of earlier failures; failures are
// logged and swallowed.
func (c *ContainerBackend) teardown(id, containerName, codePath string) {
	rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(rmCtx, []string{c.config.ContainerRuntime, "rm", "-f", containerName})
	if err != nil || exitCode != 0 {
		c.logger.Warn("failed to remove container",
			zap.String("execution_id", id),
			zap.String("container", containerName),
			zap.String("stderr", stderr),
			zap.Error(err))
	}

	if err := c.fs.Remove(codePath); err != nil {
		c.logger.Warn("failed to remove code artifact",
			zap.String("execution_id", id),
			zap.String("path", codePath),
			zap.Error(err))
	}
}
