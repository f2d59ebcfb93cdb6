// Package sandbox provides isolated execution of untrusted code.
//
// The InProcessBackend evaluates code in a restricted goja JavaScript
// runtime inside the host process. It offers materially weaker isolation
// than the external backends and exists as the zero-dependency fallback
// that is always available.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// LineKind distinguishes the two console streams captured by a sink.
type LineKind int

const (
	// LineStdout carries console.log/info/debug output.
	LineStdout LineKind = iota
	// LineStderr carries console.warn/error output.
	LineStderr
)

// OutputSink receives console output emitted by sandboxed code. The sink
// is independent of any particular scripting runtime's global shape.
type OutputSink interface {
	RecordLine(kind LineKind, text string)
}

// bufferSink is the default OutputSink, buffering each stream's lines.
type bufferSink struct {
	stdout []string
	stderr []string
}

func (s *bufferSink) RecordLine(kind LineKind, text string) {
	if kind == LineStderr {
		s.stderr = append(s.stderr, text)
		return
	}
	s.stdout = append(s.stdout, text)
}

func (s *bufferSink) stdoutText() string { return strings.Join(s.stdout, "\n") }
func (s *bufferSink) stderrText() string { return strings.Join(s.stderr, "\n") }

// errBudgetExceeded is the interrupt value installed when the wall-clock
// budget expires. The resulting message is sink-agnostic by construction.
var errBudgetExceeded = errors.New("execution budget exceeded")

// InProcessBackend implements Backend using an embedded JavaScript runtime
type InProcessBackend struct {
	logger *zap.Logger
	config *Config
}

// NewInProcessBackend creates a new InProcessBackend
func NewInProcessBackend(logger *zap.Logger, config *Config) *InProcessBackend {
	return &InProcessBackend{
		logger: logger,
		config: config,
	}
}

// Mode reports the isolation mode of this backend
func (b *InProcessBackend) Mode() Mode { return ModeSandbox }

// Probe always succeeds; the in-process sandbox needs no external mechanism
func (b *InProcessBackend) Probe(_ context.Context) bool { return true }

// Execute evaluates the code in a fresh runtime with a curated global
// surface: a capturing console, disabled timer scheduling, and an empty
// environment view. The budget is enforced by interrupting the runtime.
func (b *InProcessBackend) Execute(ctx context.Context, req Request) (Outcome, error) {
	sink := &bufferSink{}
	runErr := b.run(ctx, req.Source, sink)

	if runErr == nil {
		return Outcome{Kind: OutcomeOK, Stdout: sink.stdoutText(), Stderr: sink.stderrText()}, nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		return Outcome{Kind: OutcomeTimeout, Stdout: sink.stdoutText(), Stderr: sink.stderrText()}, nil
	}

	return Outcome{
		Kind:     OutcomeFailure,
		Stdout:   sink.stdoutText(),
		Stderr:   joinDiagnostics(sink.stderrText(), runErr.Error()),
		ExitCode: 1,
	}, nil
}

// RunWithSink evaluates source against a caller-supplied sink. The engine
// uses Execute; this entry point exists for embedders that capture output
// themselves.
func (b *InProcessBackend) RunWithSink(ctx context.Context, source string, sink OutputSink) error {
	return b.run(ctx, source, sink)
}

func (b *InProcessBackend) run(ctx context.Context, source string, sink OutputSink) (err error) {
	vm := goja.New()

	if err := b.installGlobals(vm, sink); err != nil {
		return fmt.Errorf("failed to prepare runtime: %w", err)
	}

	budget := time.Duration(b.config.TimeoutSec) * time.Second
	timer := time.AfterFunc(budget, func() {
		vm.Interrupt(errBudgetExceeded)
	})
	defer timer.Stop()

	// The engine's context deadline is the backstop; an expiry there also
	// interrupts the runtime so the caller is never blocked indefinitely.
	evalDone := make(chan struct{})
	defer close(evalDone)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(errBudgetExceeded)
		case <-evalDone:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime panic: %v", r)
		}
	}()

	_, err = vm.RunString(source)
	return err
}

// installGlobals injects the curated capability set and nothing else.
func (b *InProcessBackend) installGlobals(vm *goja.Runtime, sink OutputSink) error {
	console := vm.NewObject()
	stdoutLine := func(call goja.FunctionCall) goja.Value {
		sink.RecordLine(LineStdout, formatArgs(call.Arguments))
		return goja.Undefined()
	}
	stderrLine := func(call goja.FunctionCall) goja.Value {
		sink.RecordLine(LineStderr, formatArgs(call.Arguments))
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "debug"} {
		if err := console.Set(name, stdoutLine); err != nil {
			return err
		}
	}
	for _, name := range []string{"warn", "error"} {
		if err := console.Set(name, stderrLine); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	// Timer scheduling is disabled: there is no event loop here, and a
	// pending callback would outlive the execution.
	for _, name := range []string{"setTimeout", "setInterval", "setImmediate"} {
		name := name
		disabled := func(goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("%s is disabled in this sandbox", name))
		}
		if err := vm.Set(name, disabled); err != nil {
			return err
		}
	}

	// Empty environment view; nothing from the host process leaks in.
	process := vm.NewObject()
	if err := process.Set("env", vm.NewObject()); err != nil {
		return err
	}
	return vm.Set("process", process)
}

// formatArgs serializes console arguments deterministically: strings are
// taken verbatim, everything else is rendered as canonical JSON.
func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatValue(arg))
	}
	return strings.Join(parts, " ")
}

func formatValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	exported := v.Export()
	if s, ok := exported.(string); ok {
		return s
	}
	if data, err := json.Marshal(exported); err == nil {
		return string(data)
	}
	return v.String()
}
