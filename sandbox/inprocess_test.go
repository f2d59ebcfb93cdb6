package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestInProcessBackend(t *testing.T, timeoutSec int) *InProcessBackend {
	t.Helper()
	return NewInProcessBackend(zaptest.NewLogger(t), &Config{
		TimeoutSec: timeoutSec,
		MemoryMB:   128,
		ScratchDir: t.TempDir(),
	})
}

func TestInProcessBackendMode(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)
	assert.Equal(t, ModeSandbox, backend.Mode())
	assert.True(t, backend.Probe(context.Background()), "the in-process sandbox is always capable")
}

func TestInProcessExecuteSuccess(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t1",
		Source: "console.log('hello'); console.log('world')",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome.Kind)
	assert.Equal(t, "hello\nworld", outcome.Stdout)
	assert.Empty(t, outcome.Stderr)
}

func TestInProcessConsoleStreams(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t2",
		Source: "console.info('a'); console.debug('b'); console.warn('careful'); console.error('bad')",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome.Kind)
	assert.Equal(t, "a\nb", outcome.Stdout)
	assert.Equal(t, "careful\nbad", outcome.Stderr)
}

func TestInProcessSerializesNonTextValues(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t3",
		Source: "console.log('n:', 42); console.log([1,2,3]); console.log({b: 2, a: 1})",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome.Kind)
	lines := outcome.Stdout
	assert.Contains(t, lines, "n: 42")
	assert.Contains(t, lines, "[1,2,3]")
	assert.Contains(t, lines, `{"a":1,"b":2}`, "object keys must serialize deterministically")
}

func TestInProcessSyntaxErrorIsFailure(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t4",
		Source: "this is not javascript",
	})

	require.NoError(t, err, "content failures are outcomes, not errors")
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.NotEmpty(t, outcome.Stderr)
	assert.Equal(t, 1, outcome.ExitCode)
}

func TestInProcessThrownErrorIsFailure(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t5",
		Source: "console.log('before'); throw new Error('deliberate')",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, outcome.Kind)
	assert.Equal(t, "before", outcome.Stdout, "output before the throw is preserved")
	assert.Contains(t, outcome.Stderr, "deliberate")
}

func TestInProcessTimeout(t *testing.T) {
	backend := newTestInProcessBackend(t, 1)

	start := time.Now()
	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t6",
		Source: "while(true){}",
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, outcome.Kind)
	assert.Less(t, elapsed, 5*time.Second, "an unbounded loop must not hang the caller")
}

func TestInProcessTimersDisabled(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	for _, primitive := range []string{"setTimeout", "setInterval", "setImmediate"} {
		outcome, err := backend.Execute(context.Background(), Request{
			ID:     "t7-" + primitive,
			Source: primitive + "(function(){}, 10)",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailure, outcome.Kind, "%s must be disabled", primitive)
		assert.Contains(t, outcome.Stderr, primitive)
		assert.Contains(t, outcome.Stderr, "disabled")
	}
}

func TestInProcessEmptyEnvironmentView(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	outcome, err := backend.Execute(context.Background(), Request{
		ID:     "t8",
		Source: "console.log(Object.keys(process.env).length)",
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome.Kind)
	assert.Equal(t, "0", outcome.Stdout, "nothing from the host environment may leak in")
}

func TestInProcessRunWithSink(t *testing.T) {
	backend := newTestInProcessBackend(t, 5)

	var recorded []string
	sink := sinkFunc(func(kind LineKind, text string) {
		if kind == LineStdout {
			recorded = append(recorded, text)
		}
	})

	err := backend.RunWithSink(context.Background(), "console.log('custom sink')", sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom sink"}, recorded)
}

// sinkFunc adapts a function to the OutputSink interface
type sinkFunc func(kind LineKind, text string)

func (f sinkFunc) RecordLine(kind LineKind, text string) { f(kind, text) }
