// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It supports configuration for server
// settings, execution engine parameters (concurrency slots, timeout,
// memory ceiling, cache capacity, scratch directory), and the isolation
// backends (paths to the microVM kernel and root filesystem images, the
// container runtime and base image).
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Max slots: %d\n", cfg.Engine.MaxSlots)
package config
