package markdup

import "github.com/grailbio/base/log"

// Orientation encodes the strand(s) of a ReadEnds fingerprint: F/R for a
// lone fragment, FF/FR/RF/RR for a pair, ordered the way the canonical
// comparator expects (spec.md §3, §4.7).
type Orientation uint8

const (
	OrientF Orientation = iota
	OrientR
	OrientFF
	OrientFR
	OrientRF
	OrientRR
)

// single reports whether o describes a lone fragment rather than a pair.
func (o Orientation) single() bool { return o == OrientF || o == OrientR }

// orientationSingle classifies one unpaired end by its strand.
func orientationSingle(reverse bool) Orientation {
	if reverse {
		return OrientR
	}
	return OrientF
}

// orientationPair combines the two strands of a resolved pair (read1 is the
// lexicographically-earlier end) into one of FF/FR/RF/RR, mirroring the
// reference implementation's getOrientationByte.
func orientationPair(read1Reverse, read2Reverse bool) Orientation {
	switch {
	case read1Reverse && read2Reverse:
		return OrientRR
	case read1Reverse:
		return OrientRF
	case read2Reverse:
		return OrientFR
	default:
		return OrientFF
	}
}

// mustPairOrientation asserts o is one of FF/FR/RF/RR; an orientation that
// reduces to neither F/R nor a pair combination is a logic error (spec.md
// §4.7's "not reducible to F/R/FF/FR/RF/RR is a logic error (assertion)").
func mustPairOrientation(o Orientation) {
	switch o {
	case OrientFF, OrientFR, OrientRF, OrientRR:
		return
	default:
		log.Fatalf("markdup: orientation %d is not a valid pair orientation", o)
	}
}
