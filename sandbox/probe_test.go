package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/execbox/config"
)

// testConfigWithoutRuntimes yields an application configuration whose
// firecracker binary and container runtime cannot exist on any host.
func testConfigWithoutRuntimes(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Engine: config.EngineConfig{
			MaxSlots:      2,
			TimeoutSec:    5,
			MemoryMB:      128,
			CacheCapacity: 8,
			ScratchDir:    t.TempDir(),
		},
		MicroVM: config.MicroVMConfig{
			FirecrackerBinary: "execbox-test-no-such-firecracker",
			KernelImage:       "/nonexistent/vmlinux.bin",
			RootFSImage:       "/nonexistent/rootfs.ext4",
			BootGraceSec:      1,
			GuestCID:          3,
			GuestPort:         5005,
		},
		Container: config.ContainerConfig{
			Runtime: "execbox-test-no-such-runtime",
			Image:   "node:20-alpine",
			CPUs:    "0.5",
		},
	}
}

// stubBackend answers Probe with a fixed capability bit.
type stubBackend struct {
	mode    Mode
	capable bool
}

func (s *stubBackend) Mode() Mode                 { return s.mode }
func (s *stubBackend) Probe(context.Context) bool { return s.capable }
func (s *stubBackend) Execute(context.Context, Request) (Outcome, error) {
	return Outcome{Kind: OutcomeOK}, nil
}

func TestDetectCapabilities(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name      string
		microvm   bool
		container bool
		want      CapabilitySet
	}{
		{
			name: "NothingAvailable",
			want: CapabilitySet{Sandbox: true},
		},
		{
			name:      "ContainerOnly",
			container: true,
			want:      CapabilitySet{Container: true, Sandbox: true},
		},
		{
			name:    "MicroVMOnly",
			microvm: true,
			want:    CapabilitySet{MicroVM: true, Sandbox: true},
		},
		{
			name:      "Everything",
			microvm:   true,
			container: true,
			want:      CapabilitySet{MicroVM: true, Container: true, Sandbox: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := DetectCapabilities(context.Background(), logger,
				&stubBackend{mode: ModeMicroVM, capable: tt.microvm},
				&stubBackend{mode: ModeContainer, capable: tt.container},
				&stubBackend{mode: ModeSandbox, capable: true})
			assert.Equal(t, tt.want, caps)
		})
	}
}

func TestSelectPrefersStrongestBackend(t *testing.T) {
	microvm := &stubBackend{mode: ModeMicroVM}
	container := &stubBackend{mode: ModeContainer}
	inprocess := &stubBackend{mode: ModeSandbox}

	tests := []struct {
		name string
		caps CapabilitySet
		want Mode
	}{
		{
			name: "MicroVMBeatsEverything",
			caps: CapabilitySet{MicroVM: true, Container: true, Sandbox: true},
			want: ModeMicroVM,
		},
		{
			name: "ContainerBeatsSandbox",
			caps: CapabilitySet{Container: true, Sandbox: true},
			want: ModeContainer,
		},
		{
			name: "SandboxIsTheFallback",
			caps: CapabilitySet{Sandbox: true},
			want: ModeSandbox,
		},
		{
			name: "FallbackEvenWithEmptySet",
			caps: CapabilitySet{},
			want: ModeSandbox,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := Select(tt.caps, microvm, container, inprocess)
			assert.Equal(t, tt.want, selected.Mode())
		})
	}
}

func TestNewSelectsInProcessWhenHostHasNothing(t *testing.T) {
	logger := zaptest.NewLogger(t)

	cfg := testConfigWithoutRuntimes(t)
	backend, err := New(logger, cfg, NewProcessRegistry())
	assert.NoError(t, err)
	assert.Equal(t, ModeSandbox, backend.Mode())
}
