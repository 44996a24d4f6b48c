package stage

import (
	"context"
	"sync"

	"github.com/biogo/hts/sam"
)

// captureStage is a test-only sink that records every record it sees, in
// arrival order, until end-of-stream.
type captureStage struct {
	*Base
	mu      sync.Mutex
	records []*sam.Record
}

func newCaptureStage() *captureStage {
	return &captureStage{Base: NewBase()}
}

func (c *captureStage) Run(ctx context.Context) error {
	for {
		r, ok := c.Get()
		if !ok {
			return nil
		}
		c.mu.Lock()
		c.records = append(c.records, r)
		c.mu.Unlock()
	}
}

func (c *captureStage) Records() []*sam.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sam.Record(nil), c.records...)
}

var _ Stage = (*captureStage)(nil)

// runStages spawns Run for every given stage and waits for all of them,
// for tests that wire a small graph by hand rather than via Graph. Mirrors
// Graph.Run's own Finish fan-out so hand-wired test chains see
// the same end-of-stream behavior production graphs do.
func runStages(stages ...Stage) {
	var wg sync.WaitGroup
	for _, s := range stages {
		wg.Add(1)
		go func(s Stage) {
			defer wg.Done()
			s.Run(context.Background())
			for _, sink := range s.Sinks() {
				sink.Finish()
			}
		}(s)
	}
	wg.Wait()
}

func testHeader() *sam.Header {
	chr1, _ := sam.NewReference("chr1", "", "", 100000, nil, nil)
	chr2, _ := sam.NewReference("chr2", "", "", 100000, nil, nil)
	header, _ := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	return header
}

func newTestRecord(name string, ref *sam.Reference, pos int, mapq byte) *sam.Record {
	return &sam.Record{Name: name, Ref: ref, Pos: pos, MapQ: mapq}
}
