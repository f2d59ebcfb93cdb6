// Package main is the entry point for the execbox server.
//
// The execbox server executes untrusted, caller-submitted JavaScript
// snippets on behalf of an API layer, using the strongest available
// isolation mechanism on the host: Firecracker microVMs when present,
// ephemeral containers otherwise, and an in-process sandbox as the
// guaranteed fallback. Results are cached by content digest, concurrency
// is bounded, and every per-execution artifact is removed on every exit
// path.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
