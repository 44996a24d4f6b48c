// Package recordutil adds the derived notions the spec's alignment-record
// model requires (unclipped coordinates, base-quality score, library
// resolution) on top of github.com/biogo/hts/sam, which does not carry them
// natively.
package recordutil

import "github.com/biogo/hts/sam"

// referenceLength returns the number of reference bases consumed by cigar:
// the sum of the lengths of its M, D, N, =, and X operations.
func referenceLength(cigar sam.Cigar) int {
	length := 0
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarDeletion, sam.CigarSkipped, sam.CigarEqual, sam.CigarMismatch:
			length += op.Len()
		}
	}
	return length
}

// AlignmentEnd returns the 0-based, exclusive end of r's reference span, or
// r.Pos if r has no CIGAR.
func AlignmentEnd(r *sam.Record) int {
	return r.Pos + referenceLength(r.Cigar)
}

// UnclippedStart returns r.Pos adjusted outward by any leading soft/hard
// clip, per the spec's invariant: position - sum(leading S/H lengths).
func UnclippedStart(r *sam.Record) int {
	pos := r.Pos
	for _, op := range r.Cigar {
		switch op.Type() {
		case sam.CigarSoftClipped, sam.CigarHardClipped:
			pos -= op.Len()
		default:
			return pos
		}
	}
	return pos
}

// UnclippedEnd returns the alignment end adjusted outward by any trailing
// soft/hard clip: position + sum(M/D/N/=/X lengths) - 1 + sum(trailing
// S/H lengths).
func UnclippedEnd(r *sam.Record) int {
	pos := AlignmentEnd(r) - 1
	for i := len(r.Cigar) - 1; i >= 0; i-- {
		op := r.Cigar[i]
		switch op.Type() {
		case sam.CigarSoftClipped, sam.CigarHardClipped:
			pos += op.Len()
		default:
			return pos
		}
	}
	return pos
}

// Score sums the base qualities of r that are at least 15 (Phred scale,
// qualities are stored raw, not ASCII-offset). It is used to elect a
// representative within a set of duplicate records.
func Score(r *sam.Record) int {
	score := 0
	for _, q := range r.Qual {
		if int(q) >= 15 {
			score += int(q)
		}
	}
	return score
}

// IsPrimary reports whether r is neither a secondary nor a supplementary
// alignment.
func IsPrimary(r *sam.Record) bool {
	return r.Flags&(sam.Secondary|sam.Supplementary) == 0
}

// HasMappedMate reports whether r is paired and its mate is mapped.
func HasMappedMate(r *sam.Record) bool {
	return r.Flags&sam.Paired != 0 && r.Flags&sam.MateUnmapped == 0
}

// UnknownLibrary is the reserved library name used when a record's read
// group carries no library, or the record has no read group at all.
const UnknownLibrary = "Unknown Library"

// ReadGroup returns the value of r's RG tag, or "" if absent.
func ReadGroup(r *sam.Record) string {
	aux, ok := r.Tag([]byte("RG"))
	if !ok {
		return ""
	}
	s, ok := aux.Value().(string)
	if !ok {
		return ""
	}
	return s
}

// Library resolves a record's library name from the header's read-group
// table, falling back to UnknownLibrary when the record has no read group,
// the read group is absent from the header, or the read group has no
// library set.
func Library(header *sam.Header, r *sam.Record) string {
	rg := ReadGroup(r)
	if rg == "" {
		return UnknownLibrary
	}
	for _, g := range header.RGs() {
		if g.Name() == rg {
			if lib := g.Library(); lib != "" {
				return lib
			}
			return UnknownLibrary
		}
	}
	return UnknownLibrary
}
