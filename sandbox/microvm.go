// Package sandbox provides isolated execution of untrusted code.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	fcvsock "github.com/firecracker-microvm/firecracker-go-sdk/vsock"
	"go.uber.org/zap"
)

// vsockDialInterval paces the boot-await dial loop.
const vsockDialInterval = 200 * time.Millisecond

// MicroVMBackend implements Backend using Firecracker microVMs
type MicroVMBackend struct {
	logger   *zap.Logger
	config   *Config
	registry *ProcessRegistry
	fs       FileSystem
}

// MicroVMBackendOption defines a functional option for MicroVMBackend
type MicroVMBackendOption func(*MicroVMBackend)

// WithMicroVMFileSystem sets the FileSystem for MicroVMBackend
func WithMicroVMFileSystem(fs FileSystem) MicroVMBackendOption {
	return func(m *MicroVMBackend) {
		m.fs = fs
	}
}

// NewMicroVMBackend creates a new MicroVMBackend with default implementations and optional interfaces
func NewMicroVMBackend(logger *zap.Logger, config *Config, registry *ProcessRegistry, opts ...MicroVMBackendOption) *MicroVMBackend {
	backend := &MicroVMBackend{
		logger:   logger,
		config:   config,
		registry: registry,
		fs:       &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(backend)
	}

	return backend
}

// Mode reports the isolation mode of this backend
func (m *MicroVMBackend) Mode() Mode { return ModeMicroVM }

// Probe checks that the firecracker binary and the guest images exist
func (m *MicroVMBackend) Probe(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		return false
	}

	if _, err := exec.LookPath(m.config.FirecrackerBinary); err != nil {
		m.logger.Info("firecracker binary not found",
			zap.String("binary", m.config.FirecrackerBinary),
			zap.Error(err))
		return false
	}

	for _, path := range []string{m.config.KernelImage, m.config.RootFSImage} {
		ok, err := m.fs.FileExists(path)
		if err != nil || !ok {
			m.logger.Info("microvm guest image missing",
				zap.String("path", path),
				zap.Error(err))
			return false
		}
	}

	return true
}

// vmConfig is the Firecracker --config-file document
type vmConfig struct {
	BootSource    bootSource    `json:"boot-source"`
	Drives        []drive       `json:"drives"`
	MachineConfig machineConfig `json:"machine-config"`
	Vsock         vsockDevice   `json:"vsock"`
}

type bootSource struct {
	KernelImagePath string `json:"kernel_image_path"`
	BootArgs        string `json:"boot_args"`
}

type drive struct {
	DriveID      string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

type machineConfig struct {
	VCPUCount  int64 `json:"vcpu_count"`
	MemSizeMiB int64 `json:"mem_size_mib"`
	SMT        bool  `json:"smt"`
}

type vsockDevice struct {
	VsockID  string `json:"vsock_id"`
	GuestCID uint32 `json:"guest_cid"`
	UDSPath  string `json:"uds_path"`
}

// vmArtifacts names everything a single VM execution creates on disk
type vmArtifacts struct {
	codePath  string
	cfgPath   string
	apiSock   string
	vsockPath string
}

// Execute provisions and boots a fresh microVM, runs the code inside the
// guest over vsock, and tears the instance down. The subprocess handle is
// registered before any awaiting so a crash mid-boot is still reachable by
// forced shutdown. Teardown is unconditional and best-effort per sub-step.
func (m *MicroVMBackend) Execute(ctx context.Context, req Request) (Outcome, error) {
	art := vmArtifacts{
		codePath:  filepath.Join(m.config.ScratchDir, req.ID+".js"),
		cfgPath:   filepath.Join(m.config.ScratchDir, req.ID+".json"),
		apiSock:   filepath.Join(m.config.ScratchDir, req.ID+".sock"),
		vsockPath: filepath.Join(m.config.ScratchDir, req.ID+".vsock"),
	}
	defer m.teardown(req.ID, art)

	if err := m.fs.WriteFile(art.codePath, []byte(req.Source), FilePermission); err != nil {
		return Outcome{}, fmt.Errorf("failed to write code artifact: %w", err)
	}

	if err := m.writeVMConfig(art); err != nil {
		return Outcome{}, fmt.Errorf("failed to write vm config: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.config.FirecrackerBinary, //nolint:gosec // Binary path comes from operator configuration
		"--api-sock", art.apiSock,
		"--config-file", art.cfgPath)
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("failed to launch firecracker: %w", err)
	}
	m.registry.Register(req.ID, cmd.Process)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	conn, err := m.awaitBoot(ctx, art.vsockPath, waitCh)
	if err != nil {
		return Outcome{}, err
	}
	defer conn.Close()

	resp, err := m.runInGuest(ctx, conn, req.Source)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Kind: OutcomeTimeout}, nil
		}
		return Outcome{}, err
	}

	switch {
	case resp.TimedOut:
		return Outcome{Kind: OutcomeTimeout, Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
	case resp.Error != "":
		return Outcome{Kind: OutcomeFailure, Stdout: resp.Stdout, Stderr: joinDiagnostics(resp.Stderr, resp.Error), ExitCode: resp.ExitCode}, nil
	case resp.ExitCode != 0:
		return Outcome{Kind: OutcomeFailure, Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
	default:
		return Outcome{Kind: OutcomeOK, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
	}
}

// writeVMConfig pins the instance to 1 vCPU and the configured memory
// ceiling; no network interfaces are configured.
func (m *MicroVMBackend) writeVMConfig(art vmArtifacts) error {
	cfg := vmConfig{
		BootSource: bootSource{
			KernelImagePath: m.config.KernelImage,
			BootArgs:        "console=ttyS0 reboot=k panic=1 pci=off",
		},
		Drives: []drive{
			{
				DriveID:      "rootfs",
				PathOnHost:   m.config.RootFSImage,
				IsRootDevice: true,
				IsReadOnly:   true,
			},
		},
		MachineConfig: machineConfig{
			VCPUCount:  1,
			MemSizeMiB: int64(m.config.MemoryMB),
			SMT:        false,
		},
		Vsock: vsockDevice{
			VsockID:  "execbox-vsock",
			GuestCID: m.config.GuestCID,
			UDSPath:  art.vsockPath,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return m.fs.WriteFile(art.cfgPath, data, FilePermission)
}

// awaitBoot dials the guest agent until it answers, the VM process dies,
// or the fixed boot grace period expires.
func (m *MicroVMBackend) awaitBoot(ctx context.Context, vsockPath string, waitCh <-chan error) (guestConn, error) {
	bootCtx, cancel := context.WithTimeout(ctx, time.Duration(m.config.BootGraceSec)*time.Second)
	defer cancel()

	ticker := time.NewTicker(vsockDialInterval)
	defer ticker.Stop()

	for {
		conn, err := fcvsock.DialContext(bootCtx, vsockPath, m.config.GuestPort)
		if err == nil {
			return conn, nil
		}

		select {
		case waitErr := <-waitCh:
			if waitErr == nil {
				return nil, fmt.Errorf("firecracker exited before the guest agent became ready")
			}
			return nil, fmt.Errorf("firecracker exited before the guest agent became ready: %w", waitErr)
		case <-bootCtx.Done():
			return nil, fmt.Errorf("timed out waiting for guest agent (%s): %w", vsockPath, bootCtx.Err())
		case <-ticker.C:
		}
	}
}

// teardown terminates the tracked VM process and deletes every artifact.
// Each sub-step failure is logged and swallowed; no failure prevents the
// other deletions from being attempted.
func (m *MicroVMBackend) teardown(id string, art vmArtifacts) {
	if err := m.registry.Terminate(id); err != nil {
		m.logger.Warn("failed to terminate vm process",
			zap.String("execution_id", id),
			zap.Error(err))
	}

	for _, path := range []string{art.codePath, art.cfgPath, art.apiSock, art.vsockPath} {
		if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove vm artifact",
				zap.String("execution_id", id),
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

func joinDiagnostics(stderr, detail string) string {
	if stderr == "" {
		return detail
	}
	if detail == "" {
		return stderr
	}
	return stderr + "\n" + detail
}
