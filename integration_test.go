package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/execbox/config"
	"github.com/isdmx/execbox/engine"
	"github.com/isdmx/execbox/logger"
	"github.com/isdmx/execbox/mcpserver"
	"github.com/isdmx/execbox/sandbox"
)

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Engine: config.EngineConfig{
			MaxSlots:      2,
			TimeoutSec:    2, // Short timeout for tests
			MemoryMB:      128,
			CacheCapacity: 16,
			ScratchDir:    t.TempDir(),
		},
		MicroVM: config.MicroVMConfig{
			FirecrackerBinary: "firecracker",
			KernelImage:       "/nonexistent/vmlinux.bin",
			RootFSImage:       "/nonexistent/rootfs.ext4",
			BootGraceSec:      1,
			GuestCID:          3,
			GuestPort:         5005,
		},
		Container: config.ContainerConfig{
			Runtime: "docker",
			Image:   "node:20-alpine",
			CPUs:    "0.5",
		},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "info",
		},
	}
}

// newTestEngine wires config, logger, and the in-process backend together
// the same way the server entry point does, minus host capability probing.
func newTestEngine(t *testing.T, cfg *config.Config) *engine.Engine {
	t.Helper()
	testLogger := zaptest.NewLogger(t)
	backend := sandbox.NewInProcessBackend(testLogger, &sandbox.Config{
		TimeoutSec: cfg.Engine.TimeoutSec,
		MemoryMB:   cfg.Engine.MemoryMB,
		ScratchDir: cfg.Engine.ScratchDir,
	})
	return engine.New(testLogger, cfg, backend, sandbox.NewProcessRegistry())
}

// TestIntegrationConfigLoggerEngine tests the integration between the config,
// logger, and engine packages
func TestIntegrationConfigLoggerEngine(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		// Test that config validation works properly with logger initialization
		cfg := integrationConfig(t)

		testLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)
		require.NotNil(t, testLogger)

		testLogger.Info("Integration test started")
		_ = testLogger.Sync()
	})

	t.Run("FullMCPIntegration", func(t *testing.T) {
		cfg := integrationConfig(t)

		mcpLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)

		backend := sandbox.NewInProcessBackend(mcpLogger, &sandbox.Config{
			TimeoutSec: cfg.Engine.TimeoutSec,
			MemoryMB:   cfg.Engine.MemoryMB,
			ScratchDir: cfg.Engine.ScratchDir,
		})
		eng := engine.New(mcpLogger, cfg, backend, sandbox.NewProcessRegistry())

		server, err := mcpserver.New(cfg, mcpLogger, eng)
		require.NoError(t, err)
		require.NotNil(t, server)
		require.NotNil(t, server.GetMCPServer())
	})
}

// TestIntegrationExecution runs real code end to end through the engine on
// the in-process backend
func TestIntegrationExecution(t *testing.T) {
	t.Run("SuccessfulExecution", func(t *testing.T) {
		eng := newTestEngine(t, integrationConfig(t))

		result := eng.Execute(context.Background(), `console.log("Hello, World!")`)
		assert.True(t, result.Success)
		assert.Equal(t, "Hello, World!", result.Output)
		assert.Empty(t, result.Error)
		assert.Equal(t, sandbox.ModeSandbox, result.Mode)
		assert.False(t, result.FromCache)
		assert.NotEmpty(t, result.ExecutionID)
	})

	t.Run("SecondExecutionIsServedFromCache", func(t *testing.T) {
		eng := newTestEngine(t, integrationConfig(t))
		source := `console.log(6 * 7)`

		first := eng.Execute(context.Background(), source)
		require.True(t, first.Success)
		require.False(t, first.FromCache)

		second := eng.Execute(context.Background(), source)
		assert.True(t, second.FromCache)
		assert.Equal(t, first.Output, second.Output)
		assert.Equal(t, first.ExecutionID, second.ExecutionID)
	})

	t.Run("FailedExecutionIsNeverCached", func(t *testing.T) {
		eng := newTestEngine(t, integrationConfig(t))
		source := `throw new Error("boom")`

		first := eng.Execute(context.Background(), source)
		require.False(t, first.Success)
		assert.Contains(t, first.Error, "boom")

		second := eng.Execute(context.Background(), source)
		assert.False(t, second.Success)
		assert.False(t, second.FromCache)
		assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
	})

	t.Run("RunawayLoopIsStopped", func(t *testing.T) {
		eng := newTestEngine(t, integrationConfig(t))

		result := eng.Execute(context.Background(), `while (true) {}`)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "timed out")
	})

	t.Run("TimersAreRejected", func(t *testing.T) {
		eng := newTestEngine(t, integrationConfig(t))

		result := eng.Execute(context.Background(), `setTimeout(function () {}, 100)`)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "setTimeout is disabled")
	})
}

// TestIntegrationShutdown verifies that engine shutdown cleans the scratch
// directory and can be invoked more than once
func TestIntegrationShutdown(t *testing.T) {
	cfg := integrationConfig(t)
	eng := newTestEngine(t, cfg)

	result := eng.Execute(context.Background(), `console.log("before shutdown")`)
	require.True(t, result.Success)

	stale := filepath.Join(cfg.Engine.ScratchDir, "stale.js")
	require.NoError(t, os.WriteFile(stale, []byte("console.log(1)"), 0o600))

	eng.Shutdown()
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	// Shutdown is idempotent
	eng.Shutdown()
}
