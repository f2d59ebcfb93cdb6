// Package sandbox provides isolated execution of untrusted code.
//
// The sandbox package implements the isolation backends for running
// untrusted JavaScript snippets. It supports three backends in descending
// isolation strength: a Firecracker microVM backend, a container backend,
// and an in-process fallback built on an embedded JavaScript runtime.
//
// Each backend implements the Backend interface and handles the full
// lifecycle of an execution: provisioning a fresh, single-use isolation
// instance, running the code under a wall-clock budget, and tearing down
// every per-execution artifact on every exit path. The CapabilitySet is
// detected once at process startup; Select picks the strongest available
// backend for the process's lifetime, with the in-process sandbox as the
// guaranteed fallback.
//
// Usage:
//
//	registry := sandbox.NewProcessRegistry()
//	backend, err := sandbox.New(logger, cfg, registry)
//	outcome, err := backend.Execute(ctx, sandbox.Request{
//	    ID:     "b1946ac9",
//	    Source: "console.log('Hello, World!')",
//	})
package sandbox
