package sandbox

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// ProcessRegistry tracks the live subprocess of every in-flight execution
// so that shutdown can forcibly terminate stragglers. Entries are added
// immediately on spawn, before any awaiting, and removed during teardown;
// an entry surviving its execution is a bug.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs map[string]*os.Process
}

// NewProcessRegistry creates an empty process registry
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{procs: make(map[string]*os.Process)}
}

// Register records the subprocess handle for an execution id
func (r *ProcessRegistry) Register(id string, p *os.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[id] = p
}

// Deregister removes the entry for an execution id, if present
func (r *ProcessRegistry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, id)
}

// Terminate force-kills the tracked process for an execution id and
// removes its entry. It is a no-op when the id is not tracked.
func (r *ProcessRegistry) Terminate(id string) error {
	r.mu.Lock()
	p, ok := r.procs[id]
	delete(r.procs, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Kill()
}

// TerminateAll force-kills every tracked process and clears the registry.
// Individual kill failures are logged and do not stop the sweep.
func (r *ProcessRegistry) TerminateAll(logger *zap.Logger) {
	r.mu.Lock()
	procs := r.procs
	r.procs = make(map[string]*os.Process)
	r.mu.Unlock()

	for id, p := range procs {
		if err := p.Kill(); err != nil {
			logger.Warn("failed to terminate tracked process",
				zap.String("execution_id", id),
				zap.Int("pid", p.Pid),
				zap.Error(err))
		}
	}
}

// Len returns the number of tracked processes
func (r *ProcessRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}
