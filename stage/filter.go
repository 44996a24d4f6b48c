package stage

import (
	"context"

	"github.com/biogo/hts/sam"

	"github.com/adaptivegenome/openge-sub001/internal/recordutil"
	"github.com/adaptivegenome/openge-sub001/region"
)

// FilterStage passes a record iff it overlaps the configured region (if
// any) and its MAPQ meets the configured floor (if any). Emission stops
// once Limit records have passed, but the stage keeps draining (and
// releasing) its input so the upstream producer never blocks on a filter
// that has already reached its limit (spec.md §4.4).
type FilterStage struct {
	*Base
	Region   *region.Resolved
	MinMAPQ  int
	HasMAPQ  bool
	Limit    int
	HasLimit bool

	emitted int
}

// NewFilter constructs a FilterStage. A nil region disables the region
// constraint; hasMAPQ/hasLimit select whether the corresponding bound is
// enforced.
func NewFilter(reg *region.Resolved, minMAPQ int, hasMAPQ bool, limit int, hasLimit bool) *FilterStage {
	return &FilterStage{Base: NewBase(), Region: reg, MinMAPQ: minMAPQ, HasMAPQ: hasMAPQ, Limit: limit, HasLimit: hasLimit}
}

func (f *FilterStage) passes(r *sam.Record) bool {
	if f.Region != nil {
		refID := -1
		if r.Ref != nil {
			refID = r.Ref.ID()
		}
		length := recordutil.AlignmentEnd(r) - r.Pos
		if length <= 0 {
			length = 1
		}
		if !f.Region.Overlaps(refID, r.Pos, length) {
			return false
		}
	}
	if f.HasMAPQ && int(r.MapQ) < f.MinMAPQ {
		return false
	}
	return true
}

func (f *FilterStage) Run(ctx context.Context) error {
	for {
		r, ok := f.Get()
		if !ok {
			return nil
		}
		if f.HasLimit && f.emitted >= f.Limit {
			continue
		}
		if !f.passes(r) {
			continue
		}
		f.emitted++
		f.PutOutput(r)
	}
}
