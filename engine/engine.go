package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/execbox/config"
	"github.com/isdmx/execbox/sandbox"
)

// backstopGrace pads the backend deadline beyond the configured timeout
// so the backend's own enforcement (in-guest or in-container kill, runtime
// interrupt) fires first. The caller is never blocked past
// timeout + backstopGrace.
const backstopGrace = 10 * time.Second

// Result is the uniform record returned for every execution, regardless
// of which isolation mechanism ran the code. Immutable after creation
// and safe to serialize and cache.
type Result struct {
	Success     bool         `json:"success"`
	Output      string       `json:"output"`
	Error       string       `json:"error"`
	Mode        sandbox.Mode `json:"mode"`
	FromCache   bool         `json:"from_cache"`
	ExecutionID string       `json:"execution_id"`
}

// Engine is the execution orchestrator: it hashes incoming source,
// consults the result cache, gates concurrency, delegates to the selected
// isolation backend, and normalizes the raw outcome into a Result. All
// shared mutable state lives inside the instance so tests can construct
// isolated engines concurrently.
type Engine struct {
	logger     *zap.Logger
	backend    sandbox.Backend
	registry   *sandbox.ProcessRegistry
	cache      *Cache
	gate       *Gate
	timeout    time.Duration
	scratchDir string
}

// New creates an engine serving requests with the given backend
func New(logger *zap.Logger, cfg *config.Config, backend sandbox.Backend, registry *sandbox.ProcessRegistry) *Engine {
	return &Engine{
		logger:     logger,
		backend:    backend,
		registry:   registry,
		cache:      NewCache(cfg.Engine.CacheCapacity),
		gate:       NewGate(cfg.Engine.MaxSlots),
		timeout:    cfg.GetTimeout(),
		scratchDir: cfg.Engine.ScratchDir,
	}
}

// Execute runs the submitted source text and returns its Result. Every
// internal fault is converted into a structured Result; no error or panic
// propagates to the caller.
func (e *Engine) Execute(ctx context.Context, source string) Result {
	digest := Digest(source)

	if cached, ok := e.cache.Lookup(digest); ok {
		cached.FromCache = true
		e.logger.Debug("cache hit", zap.String("digest", digest))
		return cached
	}

	slot, ok := e.gate.Acquire()
	if !ok {
		e.logger.Warn("execution rejected: all slots busy", zap.String("digest", digest))
		return Result{
			Success: false,
			Error:   "capacity exceeded: too many concurrent executions",
		}
	}
	defer slot.Release()

	id := uuid.NewString()
	e.logger.Info("executing code",
		zap.String("execution_id", id),
		zap.String("digest", digest),
		zap.String("mode", string(e.backend.Mode())))

	outcome, err := e.runBackend(ctx, sandbox.Request{ID: id, Source: source})
	result := e.normalize(id, outcome, err)

	e.cache.Store(digest, result)

	e.logger.Info("execution finished",
		zap.String("execution_id", id),
		zap.Bool("success", result.Success))

	return result
}

// runBackend invokes the backend under the padded deadline and converts
// a panicking backend into an ordinary error so the slot release and
// normalization still run.
func (e *Engine) runBackend(ctx context.Context, req sandbox.Request) (outcome sandbox.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("backend panicked",
				zap.String("execution_id", req.ID),
				zap.Any("panic", r))
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout+backstopGrace)
	defer cancel()

	return e.backend.Execute(execCtx, req)
}

// normalize maps a backend's raw outcome into the uniform Result shape,
// tagged with the backend's mode. Raw diagnostics are preserved verbatim.
func (e *Engine) normalize(id string, outcome sandbox.Outcome, err error) Result {
	result := Result{
		Mode:        e.backend.Mode(),
		ExecutionID: id,
	}

	switch {
	case err != nil:
		result.Output = outcome.Stdout
		result.Error = err.Error()
	case outcome.Kind == sandbox.OutcomeTimeout:
		result.Output = outcome.Stdout
		result.Error = fmt.Sprintf("execution timed out after %s", e.timeout)
	case outcome.Kind == sandbox.OutcomeFailure:
		result.Output = outcome.Stdout
		if outcome.Stderr != "" {
			result.Error = outcome.Stderr
		} else {
			result.Error = fmt.Sprintf("exit status %d", outcome.ExitCode)
		}
	default:
		result.Success = true
		result.Output = outcome.Stdout
		if outcome.Stderr != "" {
			// Warning lines from a clean run stay part of the output so
			// the result remains cacheable.
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += outcome.Stderr
		}
	}

	return result
}

// Shutdown force-terminates every outstanding tracked subprocess and
// empties the scratch directory. Idempotent: a second invocation finds an
// empty registry and directory and does nothing further.
func (e *Engine) Shutdown() {
	e.logger.Info("shutting down execution engine",
		zap.Int("outstanding_processes", e.registry.Len()))

	e.registry.TerminateAll(e.logger)

	entries, err := os.ReadDir(e.scratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("failed to read scratch directory", zap.String("path", e.scratchDir), zap.Error(err))
		}
		return
	}
	for _, entry := range entries {
		path := filepath.Join(e.scratchDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("failed to remove scratch artifact", zap.String("path", path), zap.Error(err))
		}
	}
}

// Digest returns the content digest used as the cache key for a piece of
// source text.
func Digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
