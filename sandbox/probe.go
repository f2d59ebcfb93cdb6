package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/execbox/config"
)

// probeBudget bounds each capability check so a wedged daemon cannot
// stall startup.
const probeBudget = 5 * time.Second

// CapabilitySet records which isolation mechanisms the host supports.
// It is populated exactly once at startup and read-only afterwards.
type CapabilitySet struct {
	MicroVM   bool
	Container bool
	Sandbox   bool
}

// DetectCapabilities runs every backend's capability check once, each under
// a bounded budget. A failed check never raises an error; it only clears
// that backend's bit and logs.
func DetectCapabilities(ctx context.Context, logger *zap.Logger, microvm, container, inprocess Backend) CapabilitySet {
	caps := CapabilitySet{
		MicroVM:   runProbe(ctx, microvm),
		Container: runProbe(ctx, container),
		Sandbox:   runProbe(ctx, inprocess),
	}

	logger.Info("host capabilities detected",
		zap.Bool("microvm", caps.MicroVM),
		zap.Bool("container", caps.Container),
		zap.Bool("sandbox", caps.Sandbox))

	return caps
}

func runProbe(ctx context.Context, b Backend) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeBudget)
	defer cancel()
	return b.Probe(probeCtx)
}

// Select returns the strongest capable backend. The in-process sandbox is
// always capable and serves as the guaranteed fallback.
func Select(caps CapabilitySet, microvm, container, inprocess Backend) Backend {
	switch {
	case caps.MicroVM:
		return microvm
	case caps.Container:
		return container
	default:
		return inprocess
	}
}

// New builds the isolation backends from the application configuration,
// probes the host once, and returns the backend that will serve all
// requests for this process's lifetime.
func New(logger *zap.Logger, cfg *config.Config, registry *ProcessRegistry) (Backend, error) {
	sandboxConfig := Config{
		TimeoutSec:        cfg.Engine.TimeoutSec,
		MemoryMB:          cfg.Engine.MemoryMB,
		ScratchDir:        cfg.Engine.ScratchDir,
		FirecrackerBinary: cfg.MicroVM.FirecrackerBinary,
		KernelImage:       cfg.MicroVM.KernelImage,
		RootFSImage:       cfg.MicroVM.RootFSImage,
		BootGraceSec:      cfg.MicroVM.BootGraceSec,
		GuestCID:          cfg.MicroVM.GuestCID,
		GuestPort:         cfg.MicroVM.GuestPort,
		ContainerRuntime:  cfg.Container.Runtime,
		ContainerImage:    cfg.Container.Image,
		ContainerCPUs:     cfg.Container.CPUs,
	}

	fs := RealFileSystem{}
	if err := fs.MkdirAll(sandboxConfig.ScratchDir, DirPermission); err != nil {
		return nil, err
	}

	microvm := NewMicroVMBackend(logger, &sandboxConfig, registry)
	container := NewContainerBackend(logger, &sandboxConfig)
	inprocess := NewInProcessBackend(logger, &sandboxConfig)

	caps := DetectCapabilities(context.Background(), logger, microvm, container, inprocess)
	selected := Select(caps, microvm, container, inprocess)

	logger.Info("isolation backend selected", zap.String("mode", string(selected.Mode())))

	// Warm the base image so the first container execution does not pay
	// the pull latency. Failure only degrades latency, never correctness.
	if caps.Container && selected.Mode() == ModeContainer {
		go container.prefetchImage(logger)
	}

	return selected, nil
}
