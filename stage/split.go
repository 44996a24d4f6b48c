package stage

import (
	"context"
)

// SplitByReferenceStage deterministically routes each record to exactly one
// sink, chosen by reference id modulo the sink count; unmapped records
// (ref_id < 0) always go to sink 0. Unlike ordinary fan-out this never
// clones a record, since each record visits exactly one downstream chain
// (spec.md §4.5).
type SplitByReferenceStage struct {
	*Base
}

// NewSplitByReference constructs a SplitByReferenceStage. Sinks are wired
// with AddSink as usual; N is taken from len(Sinks()) at Run time, so every
// sink must be added before Run is called.
func NewSplitByReference() *SplitByReferenceStage {
	return &SplitByReferenceStage{Base: NewBase()}
}

func (s *SplitByReferenceStage) Run(ctx context.Context) error {
	n := len(s.sinks)
	for {
		r, ok := s.Get()
		if !ok {
			return nil
		}
		if n == 0 {
			continue
		}
		idx := 0
		if r.Ref != nil {
			refID := r.Ref.ID()
			if refID >= 0 {
				idx = refID % n
			}
		}
		s.outCount++
		s.sinks[idx].Put(r)
	}
}

var _ Stage = (*SplitByReferenceStage)(nil)
