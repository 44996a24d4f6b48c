package stage

import (
	"container/heap"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/biogo/hts/sam"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	gbam "github.com/adaptivegenome/openge-sub001/encoding/bam"
)

// DefaultSortBatchSize is the number of records kept in memory before a
// batch is sorted and spilled, matching the teacher's external-sort
// batching strategy (cmd/bio-bam-sort/sorter/sort.go's SortBatchSize).
const DefaultSortBatchSize = 1 << 20

// SorterStage performs an external merge sort: records are accumulated in
// memory up to BatchSize, sorted, and spilled to an uncompressed BAM temp
// file; once the input is exhausted, every spilled run is read back and
// N-way merged, reusing the sorted-merge stage's comparator and heap.
type SorterStage struct {
	*Base
	Order     SortOrder
	Header    *sam.Header
	TmpDir    string
	BatchSize int

	batch  []*sam.Record
	shards []string
}

// NewSorter constructs a SorterStage. header must describe every reference
// used by records this stage will see.
func NewSorter(order SortOrder, header *sam.Header, tmpDir string) *SorterStage {
	return &SorterStage{Base: NewBase(), Order: order, Header: header, TmpDir: tmpDir, BatchSize: DefaultSortBatchSize}
}

func (s *SorterStage) spillPath() string {
	dir := s.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "openge-sort-"+uuid.New().String()+".bam")
}

// spill sorts the current in-memory batch and writes it to a fresh,
// uncompressed temp BAM file, recording its path for the merge phase.
func (s *SorterStage) spill() error {
	if len(s.batch) == 0 {
		return nil
	}
	batch := s.batch
	sort.SliceStable(batch, func(i, j int) bool {
		return Less(s.Order, batch[i], batch[j], 0, 0)
	})
	path := s.spillPath()
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "stage: create sort spill file %v", path)
	}
	w, err := gbam.NewWriter(f, s.Header, 0)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "stage: open spill writer %v", path)
	}
	for _, r := range batch {
		if err := w.Write(r); err != nil {
			w.Close()
			return errors.Wrapf(err, "stage: write spill record %v", path)
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "stage: close spill file %v", path)
	}
	s.shards = append(s.shards, path)
	s.batch = nil
	return nil
}

// readShard loads every record of a spilled, already-sorted run back into
// memory. Each spill file holds one whole batch, and Run loads every run
// this way before merging, so the merge phase holds the entire input in
// memory at once.
func readShard(path string) ([]*sam.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stage: reopen sort spill %v", path)
	}
	defer f.Close()
	br, err := gbam.NewReader(f, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "stage: read sort spill header %v", path)
	}
	defer br.Close()
	var records []*sam.Record
	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "stage: read sort spill %v", path)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Run accumulates records into batches of BatchSize, spilling each sorted
// batch to disk, then merges every spilled run and forwards the merged
// output to this stage's own sinks. Spill files are removed once the merge
// completes.
func (s *SorterStage) Run(ctx context.Context) error {
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultSortBatchSize
	}
	for {
		r, ok := s.Get()
		if !ok {
			break
		}
		s.batch = append(s.batch, r)
		if len(s.batch) >= s.BatchSize {
			if err := s.spill(); err != nil {
				return err
			}
		}
	}
	if err := s.spill(); err != nil {
		return err
	}
	defer func() {
		for _, path := range s.shards {
			os.Remove(path)
		}
	}()

	lanes := make([]mergeSource, len(s.shards))
	for i, path := range s.shards {
		records, err := readShard(path)
		if err != nil {
			return err
		}
		lanes[i] = &sliceSource{records: records}
	}

	h := &mergeHeap{order: s.Order}
	heap.Init(h)
	for i, lane := range lanes {
		if r, ok := lane.next(); ok {
			heap.Push(h, mergeHeapItem{rec: r, src: i})
		}
	}
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeHeapItem)
		s.PutOutput(item.rec)
		if r, ok := lanes[item.src].next(); ok {
			heap.Push(h, mergeHeapItem{rec: r, src: item.src})
		}
	}
	return nil
}

var _ Stage = (*SorterStage)(nil)
