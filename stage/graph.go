package stage

import (
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Graph executes a stage DAG reachable from a single root stage.
type Graph struct{}

// NewGraph constructs an empty Graph. Stages are wired with AddSink before
// either Run or RunSequential is called.
func NewGraph() *Graph { return &Graph{} }

// Run depth-first traverses the graph reachable from root, attaches a
// drainStage ("sink of last resort") to every leaf with no configured
// writer, spawns one goroutine per stage in traversal order, and waits for
// all of them, returning the first non-nil error (spec.md §4.1).
func (g *Graph) Run(ctx context.Context, root Stage) error {
	order, _ := planRunOrder(root)

	var wg sync.WaitGroup
	errOnce := &errors.Once{}
	for _, s := range order {
		wg.Add(1)
		go func(s Stage) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil {
				log.Error.Printf("stage failed: %v", err)
				errOnce.Set(err)
			}
			// This stage has finished producing: tell every sink so its
			// queue's end-of-stream latch can advance once all of its
			// producers have done the same (spec.md §4.1's drain-then-finish
			// rule).
			for _, sink := range s.Sinks() {
				sink.Finish()
			}
		}(s)
	}
	wg.Wait()
	return errOnce.Err()
}

// RunSequential collapses the same graph into single-threaded execution
// (spec.md §5's --single-threaded flag): every stage's goroutine still
// exists (Go's channel-based Queue requires concurrent senders/receivers to
// make progress at all), but GOMAXPROCS is pinned to 1 for the duration, so
// only one stage runs at a time and the driver thread alone makes progress.
func (g *Graph) RunSequential(ctx context.Context, root Stage) error {
	prev := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(prev)
	return g.Run(ctx, root)
}

// planRunOrder computes the preorder stage traversal from root, attaching a
// shared drainStage to every leaf that has no configured sink, and returns
// the stages to spawn in spawn/join order.
func planRunOrder(root Stage) (order []Stage, drain *drainStage) {
	visited := map[Stage]bool{}
	var visit func(s Stage)
	visit = func(s Stage) {
		if visited[s] {
			return
		}
		visited[s] = true
		order = append(order, s)
		for _, sink := range s.Sinks() {
			visit(sink)
		}
	}
	visit(root)

	drain = newDrainStage()
	used := false
	for _, s := range order {
		if len(s.Sinks()) == 0 {
			s.AddSink(drain)
			used = true
		}
	}
	if used {
		order = append(order, drain)
	}
	return order, drain
}

// drainStage is the runtime's "sink of last resort": it consumes and
// releases every record it receives, so ownership is always released even
// when a chain's final stage has no explicit writer.
type drainStage struct {
	*Base
}

func newDrainStage() *drainStage {
	return &drainStage{Base: NewBase()}
}

func (d *drainStage) Run(ctx context.Context) error {
	for {
		_, ok := d.Get()
		if !ok {
			return nil
		}
	}
}

var _ Stage = (*drainStage)(nil)
