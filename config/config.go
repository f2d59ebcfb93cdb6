package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	MicroVM   MicroVMConfig   `mapstructure:"microvm"`
	Container ContainerConfig `mapstructure:"container"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// EngineConfig holds the execution engine configuration
type EngineConfig struct {
	MaxSlots      int    `mapstructure:"max_slots"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	MemoryMB      int    `mapstructure:"memory_mb"`
	CacheCapacity int    `mapstructure:"cache_capacity"`
	ScratchDir    string `mapstructure:"scratch_dir"`
}

// MicroVMConfig holds the Firecracker backend configuration
type MicroVMConfig struct {
	FirecrackerBinary string `mapstructure:"firecracker_binary"`
	KernelImage       string `mapstructure:"kernel_image"`
	RootFSImage       string `mapstructure:"rootfs_image"`
	BootGraceSec      int    `mapstructure:"boot_grace_sec"`
	GuestCID          uint32 `mapstructure:"guest_cid"`
	GuestPort         uint32 `mapstructure:"guest_port"`
}

// ContainerConfig holds the container backend configuration
type ContainerConfig struct {
	Runtime string `mapstructure:"runtime"`
	Image   string `mapstructure:"image"`
	CPUs    string `mapstructure:"cpus"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("engine.max_slots", 3)
	viper.SetDefault("engine.timeout_sec", 10)
	viper.SetDefault("engine.memory_mb", 256)
	viper.SetDefault("engine.cache_capacity", 128)
	viper.SetDefault("engine.scratch_dir", filepath.Join(os.TempDir(), "execbox"))

	viper.SetDefault("microvm.firecracker_binary", "firecracker")
	viper.SetDefault("microvm.kernel_image", "/var/lib/execbox/vmlinux.bin")
	viper.SetDefault("microvm.rootfs_image", "/var/lib/execbox/rootfs.ext4")
	viper.SetDefault("microvm.boot_grace_sec", 3)
	viper.SetDefault("microvm.guest_cid", 3)
	viper.SetDefault("microvm.guest_port", 5005)

	viper.SetDefault("container.runtime", "docker")
	viper.SetDefault("container.image", "node:20-alpine")
	viper.SetDefault("container.cpus", "0.5")

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Engine.MaxSlots <= 0 {
		return fmt.Errorf("engine.max_slots must be positive, got: %d", c.Engine.MaxSlots)
	}

	if c.Engine.TimeoutSec <= 0 {
		return fmt.Errorf("engine.timeout_sec must be positive, got: %d", c.Engine.TimeoutSec)
	}

	if c.Engine.MemoryMB <= 0 {
		return fmt.Errorf("engine.memory_mb must be positive, got: %d", c.Engine.MemoryMB)
	}

	if c.Engine.CacheCapacity <= 0 {
		return fmt.Errorf("engine.cache_capacity must be positive, got: %d", c.Engine.CacheCapacity)
	}

	if c.Engine.ScratchDir == "" {
		return fmt.Errorf("engine.scratch_dir must not be empty")
	}

	if c.MicroVM.BootGraceSec <= 0 {
		return fmt.Errorf("microvm.boot_grace_sec must be positive, got: %d", c.MicroVM.BootGraceSec)
	}

	supportedRuntimes := map[string]bool{
		"docker": true,
		"podman": true,
	}
	if !supportedRuntimes[c.Container.Runtime] {
		return fmt.Errorf("unsupported container.runtime: %s", c.Container.Runtime)
	}

	if c.Container.Image == "" {
		return fmt.Errorf("container.image must not be empty")
	}

	if c.Logging.Mode != "development" && c.Logging.Mode != "production" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'development' or 'production'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s, must be one of 'debug', 'info', 'warn', 'error'", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSec) * time.Second
}

// GetBootGrace returns the microVM boot grace period as a duration
func (c *Config) GetBootGrace() time.Duration {
	return time.Duration(c.MicroVM.BootGraceSec) * time.Second
}
