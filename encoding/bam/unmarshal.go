// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/biogo/hts/sam"
)

const bamFixedBytes = 32

// doubletAlphabet is the BAM nibble encoding for packed sequence bases, in
// the order the wire format assigns nibble values 0 through 15.
const doubletAlphabet = "=ACMGRSVTWYHKDBN"

// parseAux examines the data of a SAM record's OPT fields, returning a slice
// of sam.Aux backed by the input slice. No copy is made of b; the returned
// Aux values alias it.
func parseAux(b []byte) ([]sam.Aux, error) {
	aa := make([]sam.Aux, 0, countAuxFieldsGuess(len(b)))
	for i := 0; i+2 < len(b); {
		t := b[i+2]
		switch j := jumps[t]; {
		case j > 0:
			j += 3
			if i+j > len(b) {
				return nil, errCorruptAuxField
			}
			aa = append(aa, sam.Aux(b[i:i+j:i+j]))
			i += j
		case j < 0:
			switch t {
			case 'Z', 'H':
				end := i
				for end < len(b) && b[end] != 0 {
					end++
				}
				if end >= len(b) {
					return nil, errCorruptAuxField
				}
				aa = append(aa, sam.Aux(b[i:end:end]))
				i = end + 1
			case 'B':
				if len(b) < i+8 {
					return nil, errCorruptAuxField
				}
				length := binary.LittleEndian.Uint32(b[i+4 : i+8])
				elemSize := jumps[b[i+3]]
				if elemSize <= 0 {
					return nil, errCorruptAuxField
				}
				j = int(length)*elemSize + 8
				if i+j > len(b) {
					return nil, errCorruptAuxField
				}
				aa = append(aa, sam.Aux(b[i:i+j:i+j]))
				i += j
			default:
				return nil, errCorruptAuxField
			}
		default:
			return nil, fmt.Errorf("bam: unrecognised optional field type: %q", t)
		}
	}
	return aa, nil
}

// countAuxFieldsGuess returns a conservative capacity hint (one field per 4
// bytes, the size of the smallest encoded tag) so append rarely reallocates.
func countAuxFieldsGuess(n int) int {
	if n <= 0 {
		return 0
	}
	return n/4 + 1
}

var jumps = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

var (
	errCorruptAuxField     = errors.New("bam: corrupt aux field")
	errRecordTooShort      = errors.New("bam: record too short")
	errUnsupportedCigar    = errors.New("bam: unsupported cigar op")
	errReferenceOutOfRange = errors.New("bam: reference id out of range")
)

// unpackSeq wraps already nibble-packed sequence bytes into a sam.Seq of
// length n. A sam.Doublet holds two 4-bit-packed bases per element (one byte
// per two bases, per biogo/hts/sam's own convention, confirmed by the
// teacher's own unmarshal.go: rec.Seq.Seq is the packed byte run reinterpreted
// in place, length ceil(n/2)), so this is a byte-for-byte copy, not an
// expansion to one element per base.
func unpackSeq(packed []byte, n int) sam.Seq {
	seq := make([]sam.Doublet, len(packed))
	for i, b := range packed {
		seq[i] = sam.Doublet(b)
	}
	return sam.Seq{Length: n, Seq: seq}
}

// Unmarshal decodes a single BAM record, as produced by Marshal but without
// Marshal's leading 4-byte block-size field, against header's reference
// dictionary.
func Unmarshal(b []byte, header *sam.Header) (*sam.Record, error) {
	if len(b) < bamFixedBytes {
		return nil, errRecordTooShort
	}
	rec := &sam.Record{}

	refID := int(int32(binary.LittleEndian.Uint32(b)))
	rec.Pos = int(int32(binary.LittleEndian.Uint32(b[4:])))
	nLen := int(b[8])
	rec.MapQ = b[9]
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	rec.Flags = sam.Flags(binary.LittleEndian.Uint16(b[14:]))
	lSeq := int(binary.LittleEndian.Uint32(b[16:]))
	nextRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	rec.MatePos = int(int32(binary.LittleEndian.Uint32(b[24:])))
	rec.TempLen = int(int32(binary.LittleEndian.Uint32(b[28:])))

	off := bamFixedBytes
	if len(b) < off+nLen {
		return nil, errRecordTooShort
	}
	if nLen < 1 {
		return nil, errRecordTooShort
	}
	rec.Name = string(b[off : off+nLen-1]) // drop trailing NUL
	off += nLen

	if len(b) < off+nCigar*4 {
		return nil, errRecordTooShort
	}
	if nCigar > 0 {
		cigar := make(sam.Cigar, nCigar)
		for i := 0; i < nCigar; i++ {
			raw := binary.LittleEndian.Uint32(b[off+i*4:])
			if raw&0xf > 8 {
				return nil, errUnsupportedCigar
			}
			cigar[i] = sam.CigarOp(raw)
		}
		rec.Cigar = cigar
	}
	off += nCigar * 4

	nDoubletBytes := (lSeq + 1) >> 1
	if len(b) < off+nDoubletBytes {
		return nil, errRecordTooShort
	}
	rec.Seq = unpackSeq(b[off:off+nDoubletBytes], lSeq)
	off += nDoubletBytes

	if len(b) < off+lSeq {
		return nil, errRecordTooShort
	}
	qual := make([]byte, lSeq)
	copy(qual, b[off:off+lSeq])
	rec.Qual = qual
	off += lSeq

	if off < len(b) {
		aux, err := parseAux(b[off:])
		if err != nil {
			return nil, err
		}
		rec.AuxFields = aux
	}

	refs := header.Refs()
	if refID != -1 {
		if refID < -1 || refID >= len(refs) {
			return nil, errReferenceOutOfRange
		}
		rec.Ref = refs[refID]
	}
	if nextRefID != -1 {
		if nextRefID == refID {
			rec.MateRef = rec.Ref
		} else {
			if nextRefID < -1 || nextRefID >= len(refs) {
				return nil, errReferenceOutOfRange
			}
			rec.MateRef = refs[nextRefID]
		}
	}
	return rec, nil
}

// UnmarshalHeader parses a sam.Header encoded in BAM binary format.
func UnmarshalHeader(buf []byte) (*sam.Header, error) {
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, err
	}
	hr := bytes.NewReader(buf)
	if err := header.DecodeBinary(hr); err != nil {
		return nil, err
	}
	if hr.Len() > 0 {
		return nil, fmt.Errorf("bam: %d byte junk at the end of header", hr.Len())
	}
	return header, nil
}
