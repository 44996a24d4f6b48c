// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/biogo/hts/sam"
)

var (
	errNameAbsentOrTooLong           = errors.New("bam: name absent or too long")
	errSequenceQualityLengthMismatch = errors.New("bam: sequence/quality length mismatch")
)

// The 4-bit BAM CIGAR operation codes, in the same order as the letters
// M I D N S H P = X.
const (
	cigarM = iota
	cigarI
	cigarD
	cigarN
	cigarS
	cigarH
	cigarP
	cigarEq
	cigarX
)

// Bin returns the UCSC bin number of the smallest standard bin enclosing the
// half-open interval [begin, end). It is the BAM index's hierarchical binning
// scheme, independent of any particular record.
func Bin(begin, end int) uint16 {
	end--
	switch {
	case begin>>14 == end>>14:
		return uint16(4681 + (begin >> 14))
	case begin>>17 == end>>17:
		return uint16(585 + (begin >> 17))
	case begin>>20 == end>>20:
		return uint16(73 + (begin >> 20))
	case begin>>23 == end>>23:
		return uint16(9 + (begin >> 23))
	case begin>>26 == end>>26:
		return uint16(1 + (begin >> 26))
	default:
		return 0
	}
}

// buildAux appends the wire encoding of aa to *buf, which should be empty on
// entry.
func buildAux(aa []sam.Aux, buf *[]byte) {
	for _, a := range aa {
		*buf = append(*buf, []byte(a)...)
		switch a.Type() {
		case 'Z', 'H':
			*buf = append(*buf, 0)
		}
	}
}

type binaryWriter struct {
	w   *bytes.Buffer
	buf [4]byte
}

func (w *binaryWriter) writeUint8(v uint8) {
	w.buf[0] = v
	w.w.Write(w.buf[:1])
}

func (w *binaryWriter) writeUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.w.Write(w.buf[:2])
}

func (w *binaryWriter) writeInt32(v int32) {
	binary.LittleEndian.PutUint32(w.buf[:4], uint32(v))
	w.w.Write(w.buf[:4])
}

func (w *binaryWriter) writeUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.w.Write(w.buf[:4])
}

func refID(r *sam.Reference) int32 {
	if r == nil {
		return -1
	}
	return int32(r.ID())
}

// appendDoublets appends seq's already nibble-packed bytes to buf. A
// sam.Doublet already holds two 4-bit-packed bases per element (one byte per
// two bases, per biogo/hts/sam's own convention), so this is a plain
// byte-for-byte copy, not a repacking.
func appendDoublets(seq []sam.Doublet, buf []byte) []byte {
	for _, d := range seq {
		buf = append(buf, byte(d))
	}
	return buf
}

// Marshal serializes r in BAM record format, appending to buf.
func Marshal(r *sam.Record, buf *bytes.Buffer) error {
	if len(r.Name) == 0 || len(r.Name) > 254 {
		return errNameAbsentOrTooLong
	}
	if r.Qual != nil && len(r.Qual) != r.Seq.Length {
		return errSequenceQualityLengthMismatch
	}
	var tags []byte
	buildAux(r.AuxFields, &tags)

	recLen := bamFixedBytes +
		len(r.Name) + 1 + // NUL terminated.
		len(r.Cigar)<<2 +
		((r.Seq.Length + 1) >> 1) +
		r.Seq.Length +
		len(tags)

	bin := binaryWriter{w: buf}
	start := r.Pos
	end := start + r.Seq.Length
	if len(r.Cigar) > 0 {
		refLen := 0
		for _, op := range r.Cigar {
			switch byte(op) & 0xf {
			case cigarM, cigarD, cigarN, cigarEq, cigarX:
				refLen += op.Len()
			}
		}
		end = start + refLen
	}

	bin.writeInt32(int32(recLen))
	bin.writeInt32(refID(r.Ref))
	bin.writeInt32(int32(r.Pos))
	bin.writeUint8(byte(len(r.Name) + 1))
	bin.writeUint8(r.MapQ)
	bin.writeUint16(Bin(start, end))
	bin.writeUint16(uint16(len(r.Cigar)))
	bin.writeUint16(uint16(r.Flags))
	bin.writeInt32(int32(r.Seq.Length))
	bin.writeInt32(refID(r.MateRef))
	bin.writeInt32(int32(r.MatePos))
	bin.writeInt32(int32(r.TempLen))

	buf.WriteString(r.Name)
	buf.WriteByte(0)
	for _, o := range r.Cigar {
		bin.writeUint32(uint32(o))
	}
	buf.Write(appendDoublets(r.Seq.Seq, nil))
	if r.Qual != nil {
		buf.Write(r.Qual)
	} else {
		for i := 0; i < r.Seq.Length; i++ {
			buf.WriteByte(0xff)
		}
	}
	buf.Write(tags)
	return nil
}

// MarshalHeader encodes header in BAM binary format.
func MarshalHeader(header *sam.Header) ([]byte, error) {
	bb := bytes.Buffer{}
	if err := header.EncodeBinary(&bb); err != nil {
		return nil, err
	}
	return bb.Bytes(), nil
}
