package stage

import (
	"container/heap"
	"context"

	"github.com/biogo/hts/sam"
)

// SortOrder selects the comparator a SortedMergeStage (and the external
// Sorter) orders records by.
type SortOrder int

const (
	// Coordinate orders by (ref_id, position), unmapped (ref_id = -1)
	// sorting last.
	Coordinate SortOrder = iota
	// Queryname orders lexicographically by query name.
	Queryname
)

// Less reports whether a sorts before b under order, breaking ties
// deterministically by srcA/srcB (typically each record's input index),
// per spec.md §4.6.
func Less(order SortOrder, a, b *sam.Record, srcA, srcB int) bool {
	switch order {
	case Queryname:
		if a.Name != b.Name {
			return a.Name < b.Name
		}
	default:
		ra, rb := refOrLast(a), refOrLast(b)
		if ra != rb {
			return ra < rb
		}
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
	}
	return srcA < srcB
}

// refOrLast maps an unmapped record's ref_id (-1) to the maximum int so it
// sorts after every mapped reference id, per the coordinate comparator's
// "unmapped sorts last" rule.
func refOrLast(r *sam.Record) int {
	if r.Ref == nil {
		return int(^uint(0) >> 1)
	}
	id := r.Ref.ID()
	if id < 0 {
		return int(^uint(0) >> 1)
	}
	return id
}

// mergeSource is one input lane of a merge: a LaneStage (fed by an upstream
// Stage's goroutine) or a static slice, each addressable by a stable input
// index for tie-breaks.
type mergeSource interface {
	next() (*sam.Record, bool)
}

// LaneStage is an adapter (with an ordinary default-capacity input queue) an
// upstream Stage is wired to with AddSink, so its output becomes
// independently addressable as one merge lane. Its own Run is a no-op: the merge stage drains it directly via Get,
// not via a consuming goroutine of its own.
type LaneStage struct{ *Base }

// NewLane constructs a LaneStage. Wire an upstream producer to it with
// AddSink, then pass it to SortedMergeStage.AddLane.
func NewLane() *LaneStage { return &LaneStage{Base: NewBase()} }

func (l *LaneStage) Run(ctx context.Context) error { return nil }

var _ Stage = (*LaneStage)(nil)

func (l *LaneStage) next() (*sam.Record, bool) { return l.Get() }

// sliceSource pulls from a pre-sorted in-memory slice, used by the external
// Sorter's final N-way merge of already-sorted runs.
type sliceSource struct {
	records []*sam.Record
	pos     int
}

func (s *sliceSource) next() (*sam.Record, bool) {
	if s.pos >= len(s.records) {
		return nil, false
	}
	r := s.records[s.pos]
	s.pos++
	return r, true
}

// mergeHeapItem is one occupied slot of the merge's keyed ordered multiset:
// the head-of-queue record for one input lane.
type mergeHeapItem struct {
	rec *sam.Record
	src int
}

type mergeHeap struct {
	order SortOrder
	items []mergeHeapItem
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return Less(h.order, h.items[i].rec, h.items[j].rec, h.items[i].src, h.items[j].src)
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() interface{} {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}

// SortedMergeStage merges N inputs, each already in the configured order,
// into one output in the same order (spec.md §4.6). Inputs are wired as
// distinct LaneStage adapters (see AddLane) rather than through this
// stage's own input queue, since a single shared queue would destroy the
// per-lane ordering information the merge needs.
type SortedMergeStage struct {
	*Base
	Order SortOrder
	lanes []mergeSource
}

// NewSortedMerge constructs an empty SortedMergeStage; lanes are added with
// AddLane or AddSliceLane before Run.
func NewSortedMerge(order SortOrder) *SortedMergeStage {
	return &SortedMergeStage{Base: NewBase(), Order: order}
}

// AddLane registers a LaneStage (see NewLane) as one merge input.
func (m *SortedMergeStage) AddLane(lane *LaneStage) {
	m.lanes = append(m.lanes, lane)
}

// AddSliceLane registers a pre-sorted in-memory run as one merge input, used
// by the external Sorter to merge spilled, already-sorted batches.
func (m *SortedMergeStage) AddSliceLane(records []*sam.Record) {
	m.lanes = append(m.lanes, &sliceSource{records: records})
}

// Run performs the N-way merge: seed the heap with each lane's first
// record, repeatedly pop the minimum, emit it, and refill from the same
// lane, until every lane is exhausted.
func (m *SortedMergeStage) Run(ctx context.Context) error {
	h := &mergeHeap{order: m.Order}
	heap.Init(h)
	for i, lane := range m.lanes {
		if r, ok := lane.next(); ok {
			heap.Push(h, mergeHeapItem{rec: r, src: i})
		}
	}
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeHeapItem)
		m.inCount++
		m.PutOutput(item.rec)
		if r, ok := m.lanes[item.src].next(); ok {
			heap.Push(h, mergeHeapItem{rec: r, src: item.src})
		}
	}
	return nil
}

var _ Stage = (*SortedMergeStage)(nil)
