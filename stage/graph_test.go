package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runGraphWithTimeout runs g.Run in a goroutine and fails the test instead of
// hanging forever if end-of-stream propagation is broken, since a regressed
// Finish() fan-out deadlocks every stage's Get() permanently.
func runGraphWithTimeout(t *testing.T, g *Graph, root Stage) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background(), root) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Graph.Run did not terminate; end-of-stream propagation is broken")
		return nil
	}
}

// TestGraphTerminatesWithExplicitSink is a regression test for the runtime's
// end-of-stream fan-out: a two-stage chain (filter -> capture) must
// terminate once the root's input is closed, not hang waiting for a
// Finish() that nobody calls.
func TestGraphTerminatesWithExplicitSink(t *testing.T) {
	header := testHeader()
	chr1 := header.Refs()[0]

	filter := NewFilter(nil, 0, false, 0, false)
	capture := newCaptureStage()
	filter.AddSink(capture)

	filter.Put(newTestRecord("r1", chr1, 0, 0))
	filter.Put(newTestRecord("r2", chr1, 1, 0))
	filter.Close()

	g := NewGraph()
	require.NoError(t, runGraphWithTimeout(t, g, filter))
	assert.Len(t, capture.Records(), 2)
}

// TestGraphAttachesDrainToTerminalLeaf verifies a stage with no configured
// sink still has its output drained (via the synthetic drainStage) and that
// Run terminates once its input is closed.
func TestGraphAttachesDrainToTerminalLeaf(t *testing.T) {
	header := testHeader()
	chr1 := header.Refs()[0]

	split := NewSplitByReference() // zero sinks configured: a leaf
	split.Put(newTestRecord("r1", chr1, 0, 0))
	split.Close()

	g := NewGraph()
	require.NoError(t, runGraphWithTimeout(t, g, split))
}

// TestGraphFanOutToMultipleSinks verifies that when one stage feeds two
// sinks, both sinks independently observe every record and both terminate,
// exercising the producer-count-aware EOS latch on a shared fan-out.
func TestGraphFanOutToMultipleSinks(t *testing.T) {
	header := testHeader()
	chr1 := header.Refs()[0]

	filter := NewFilter(nil, 0, false, 0, false)
	captureA := newCaptureStage()
	captureB := newCaptureStage()
	filter.AddSink(captureA)
	filter.AddSink(captureB)

	filter.Put(newTestRecord("r1", chr1, 0, 0))
	filter.Close()

	g := NewGraph()
	require.NoError(t, runGraphWithTimeout(t, g, filter))
	assert.Len(t, captureA.Records(), 1)
	assert.Len(t, captureB.Records(), 1)
}
