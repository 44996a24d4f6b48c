package markdup

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/adaptivegenome/openge-sub001/stage"
)

// captureStage is a test-only sink that records every record it sees,
// mirroring stage.captureStage (unexported there, so reimplemented here).
type captureStage struct {
	*pipeline.Base
	mu      sync.Mutex
	records []*sam.Record
}

func newCaptureStage() *captureStage { return &captureStage{Base: pipeline.NewBase()} }

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

var _ pipeline.Stage = (*captureStage)(nil)

func testHeader(t *testing.T) (*sam.Header, *sam.Reference) {
	chr1, err := sam.NewReference("chr1", "", "", 100000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1})
	require.NoError(t, err)
	return header, chr1
}

func qual(n int, value byte) []byte {
	q := make([]byte, n)
	for i := range q {
		q[i] = value
	}
	return q
}

func pairedRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, mateRef *sam.Reference, matePos int, qualSum int) *sam.Record {
	n := 5
	r := &sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		Flags:   flags,
		MateRef: mateRef,
		MatePos: matePos,
		Seq:     sam.NewSeq([]byte("AAAAA"[:n])),
		Qual:    qual(n, byte(qualSum/n)),
	}
	return r
}

// runMarkDup wires a mark-duplicates Stage between a feeder and a capture
// stage, feeds records, and returns the re-emitted records in input order.
func runMarkDup(t *testing.T, header *sam.Header, removeDuplicates bool, records []*sam.Record) []*sam.Record {
	t.Helper()
	dir := t.TempDir()
	s := NewStage(header, dir, removeDuplicates)
	capture := newCaptureStage()
	s.AddSink(capture)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, s.Run(context.Background()))
		capture.Finish()
	}()
	go func() {
		defer wg.Done()
		require.NoError(t, capture.Run(context.Background()))
	}()
	for _, r := range records {
		s.Put(r)
	}
	s.Close()
	wg.Wait()
	return capture.Records()
}

func TestMarkDupEmptyInput(t *testing.T) {
	header, _ := testHeader(t)
	out := runMarkDup(t, header, false, nil)
	assert.Empty(t, out)
}

func TestMarkDupPairDuplicates(t *testing.T) {
	header, chr1 := testHeader(t)

	recA1 := pairedRecord("readA", chr1, 100, sam.Paired, chr1, 300, 200)
	recA2 := pairedRecord("readA", chr1, 300, sam.Paired|sam.Reverse, chr1, 100, 150)
	recB1 := pairedRecord("readB", chr1, 100, sam.Paired, chr1, 300, 100)
	recB2 := pairedRecord("readB", chr1, 300, sam.Paired|sam.Reverse, chr1, 100, 100)

	out := runMarkDup(t, header, false, []*sam.Record{recA1, recA2, recB1, recB2})
	require.Len(t, out, 4)

	byName := map[string][]*sam.Record{}
	for _, r := range out {
		byName[r.Name] = append(byName[r.Name], r)
	}
	for _, r := range byName["readA"] {
		assert.False(t, r.Flags&sam.Duplicate != 0, "higher-scoring pair must not be flagged")
	}
	for _, r := range byName["readB"] {
		assert.True(t, r.Flags&sam.Duplicate != 0, "lower-scoring pair must be flagged")
	}
}

func TestMarkDupUnpairedInPresenceOfPair(t *testing.T) {
	header, chr1 := testHeader(t)

	recF := pairedRecord("fragF", chr1, 100, 0, nil, 0, 100) // unpaired
	recC1 := pairedRecord("pairC", chr1, 100, sam.Paired, chr1, 500, 100)
	recC2 := pairedRecord("pairC", chr1, 500, sam.Paired|sam.Reverse, chr1, 100, 100)

	out := runMarkDup(t, header, false, []*sam.Record{recF, recC1, recC2})
	require.Len(t, out, 3)

	byName := map[string]*sam.Record{}
	for _, r := range out {
		if _, ok := byName[r.Name]; !ok {
			byName[r.Name] = r
		}
	}
	assert.True(t, byName["fragF"].Flags&sam.Duplicate != 0, "solitary fragment must be flagged duplicate")
	for _, r := range out {
		if r.Name == "pairC" {
			assert.False(t, r.Flags&sam.Duplicate != 0, "paired record must not be flagged")
		}
	}
}

func TestMarkDupOrderPreserved(t *testing.T) {
	header, chr1 := testHeader(t)
	recs := []*sam.Record{
		pairedRecord("r1", chr1, 50, 0, nil, 0, 60),
		pairedRecord("r2", chr1, 150, 0, nil, 0, 60),
		pairedRecord("r3", chr1, 250, 0, nil, 0, 60),
	}
	out := runMarkDup(t, header, false, recs)
	require.Len(t, out, 3)
	assert.Equal(t, "r1", out[0].Name)
	assert.Equal(t, "r2", out[1].Name)
	assert.Equal(t, "r3", out[2].Name)
}

func TestMarkDupRemoveDuplicates(t *testing.T) {
	header, chr1 := testHeader(t)
	recA1 := pairedRecord("readA", chr1, 100, sam.Paired, chr1, 300, 200)
	recA2 := pairedRecord("readA", chr1, 300, sam.Paired|sam.Reverse, chr1, 100, 150)
	recB1 := pairedRecord("readB", chr1, 100, sam.Paired, chr1, 300, 100)
	recB2 := pairedRecord("readB", chr1, 300, sam.Paired|sam.Reverse, chr1, 100, 100)

	out := runMarkDup(t, header, true, []*sam.Record{recA1, recA2, recB1, recB2})
	require.Len(t, out, 2)
	for _, r := range out {
		assert.Equal(t, "readA", r.Name)
	}
}

func TestMarkDupUnmappedUntouched(t *testing.T) {
	header, _ := testHeader(t)
	unmappedRec := &sam.Record{Name: "u", Ref: nil, Pos: -1, Flags: sam.Unmapped, Seq: sam.NewSeq([]byte("AAAAA")), Qual: qual(5, 40)}
	out := runMarkDup(t, header, false, []*sam.Record{unmappedRec})
	require.Len(t, out, 1)
	assert.False(t, out[0].Flags&sam.Duplicate != 0)
}

func TestMarkDupSecondarySupplementaryUntouched(t *testing.T) {
	header, chr1 := testHeader(t)
	sec := pairedRecord("sec", chr1, 100, sam.Secondary, nil, 0, 60)
	out := runMarkDup(t, header, false, []*sam.Record{sec})
	require.Len(t, out, 1)
	assert.False(t, out[0].Flags&sam.Duplicate != 0)
}

func TestMarkDupSpillFileRemoved(t *testing.T) {
	header, chr1 := testHeader(t)
	dir := t.TempDir()
	s := NewStage(header, dir, false)
	capture := newCaptureStage()
	s.AddSink(capture)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		require.NoError(t, s.Run(context.Background()))
		capture.Finish()
	}()
	go func() {
		defer wg.Done()
		capture.Run(context.Background())
	}()
	s.Put(pairedRecord("r1", chr1, 10, 0, nil, 0, 60))
	s.Close()
	wg.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spill file must be deleted on completion")
	assert.Equal(t, StateDone, s.State())
}
