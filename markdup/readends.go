package markdup

// readEnds is one ReadEnds fingerprint (spec.md §3): a compact summary of
// one read, or a resolved pair of reads, used to group duplicate
// candidates. read2Ref is -1 for a read without a mapped mate, a marker
// (the mate's reference id) for a fragment end whose read has one, and the
// second end's reference once a pair is resolved; isPaired reports whether
// it is anything but -1.
type readEnds struct {
	libraryID   int
	score       int
	orientation Orientation

	read1Ref   int
	read1Coord int
	read1Index int64

	read2Ref   int
	read2Coord int
	read2Index int64
}

// newFragmentEnd builds a fingerprint for a single primary, mapped
// alignment, per the reference implementation's buildReadEnds: read1-* from
// the record's own (unclipped, strand-adjusted) position, read2Ref set to
// -1 (the "not paired" sentinel). For a record paired with a mapped mate,
// the caller then sets read2Ref to the mate's reference id as a marker only
// (its coordinate is unset until pass 1 resolves the pair).
func newFragmentEnd(libraryID, score int, reverse bool, ref, coord int, index int64) *readEnds {
	return &readEnds{
		libraryID:   libraryID,
		score:       score,
		orientation: orientationSingle(reverse),
		read1Ref:    ref,
		read1Coord:  coord,
		read1Index:  index,
		read2Ref:    -1,
	}
}

// isPaired reports whether e's underlying read has (or had) a mapped mate:
// read2Ref is set to a marker (or a resolved mate ref) as soon as a
// fragment end is built for a paired-with-mapped-mate read, even before
// the pair itself resolves (spec.md §4.7's "a fingerprint is paired iff
// read2-ref != -1"). This is independent of orientation, which stays a
// single F/R value for every fragment-list entry regardless of pairing.
func (e *readEnds) isPaired() bool {
	return e.read2Ref != -1
}

// resolvePair finalizes a pair fingerprint from a partner fingerprint seen
// earlier in the scan (partner, a fragment end) and the current record's
// own position (ref, coord, reverse, score, index), ordering the two ends
// so read1-* is the lexicographically-earlier one, per spec.md §3's
// post-resolution invariant. Mirrors the reference implementation's
// in-place pairedEnds mutation in buildSortedReadEndLists.
func resolvePair(partner *readEnds, ref, coord int, reverse bool, score int, index int64) *readEnds {
	pair := &readEnds{libraryID: partner.libraryID, score: partner.score + score}
	partnerReverse := partner.orientation == OrientR
	if ref > partner.read1Ref || (ref == partner.read1Ref && coord >= partner.read1Coord) {
		pair.read1Ref, pair.read1Coord, pair.read1Index = partner.read1Ref, partner.read1Coord, partner.read1Index
		pair.read2Ref, pair.read2Coord, pair.read2Index = ref, coord, index
		pair.orientation = orientationPair(partnerReverse, reverse)
	} else {
		pair.read1Ref, pair.read1Coord, pair.read1Index = ref, coord, index
		pair.read2Ref, pair.read2Coord, pair.read2Index = partner.read1Ref, partner.read1Coord, partner.read1Index
		pair.orientation = orientationPair(reverse, partnerReverse)
	}
	mustPairOrientation(pair.orientation)
	return pair
}

// less implements the canonical ReadEnds comparator (spec.md §4.7):
// (library_id, read1_ref, read1_coord, orientation, read2_ref, read2_coord,
// read1_index, read2_index) ascending, every tie-break exact.
func less(a, b *readEnds) bool {
	if a.libraryID != b.libraryID {
		return a.libraryID < b.libraryID
	}
	if a.read1Ref != b.read1Ref {
		return a.read1Ref < b.read1Ref
	}
	if a.read1Coord != b.read1Coord {
		return a.read1Coord < b.read1Coord
	}
	if a.orientation != b.orientation {
		return a.orientation < b.orientation
	}
	if a.read2Ref != b.read2Ref {
		return a.read2Ref < b.read2Ref
	}
	if a.read2Coord != b.read2Coord {
		return a.read2Coord < b.read2Coord
	}
	if a.read1Index != b.read1Index {
		return a.read1Index < b.read1Index
	}
	return a.read2Index < b.read2Index
}

// comparablePair reports whether a and b are duplicate-comparable as pairs:
// equal on (library_id, read1_ref, read1_coord, orientation, read2_ref,
// read2_coord).
func comparablePair(a, b *readEnds) bool {
	return a.libraryID == b.libraryID &&
		a.read1Ref == b.read1Ref &&
		a.read1Coord == b.read1Coord &&
		a.orientation == b.orientation &&
		a.read2Ref == b.read2Ref &&
		a.read2Coord == b.read2Coord
}

// comparableFragment reports whether a and b are duplicate-comparable as
// fragments: equal on (library_id, read1_ref, read1_coord, orientation)
// only, per spec.md §4.7 (read2 is excluded from the fragment comparison).
func comparableFragment(a, b *readEnds) bool {
	return a.libraryID == b.libraryID &&
		a.read1Ref == b.read1Ref &&
		a.read1Coord == b.read1Coord &&
		a.orientation == b.orientation
}
