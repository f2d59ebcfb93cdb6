// Package engine provides the execution orchestration core.
//
// The engine package coordinates everything between the serving surface
// and the isolation backends: it computes a content digest for incoming
// source text, answers repeat submissions from a FIFO-evicting result
// cache, bounds the number of simultaneous isolated executions with a
// non-blocking concurrency gate, delegates to the selected backend, and
// normalizes every raw outcome into a single Result shape. Shutdown
// force-terminates outstanding subprocesses and clears scratch artifacts.
//
// Usage:
//
//	eng := engine.New(logger, cfg, backend, registry)
//	result := eng.Execute(ctx, "console.log('Hello, World!')")
//	defer eng.Shutdown()
package engine
