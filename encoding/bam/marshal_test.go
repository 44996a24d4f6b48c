package bam

import (
	"bytes"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRefs(t *testing.T) []*sam.Reference {
	chr1, err := sam.NewReference("chr1", "", "", 100000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 50000, nil, nil)
	require.NoError(t, err)
	return []*sam.Reference{chr1, chr2}
}

func testHeader(t *testing.T, refs []*sam.Reference) *sam.Header {
	h, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	return h
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	refs := testRefs(t)
	header := testHeader(t, refs)

	cigar := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 3), sam.NewCigarOp(sam.CigarInsertion, 2)}
	rec := &sam.Record{
		Name:    "read1",
		Ref:     refs[0],
		Pos:     100,
		MapQ:    60,
		Cigar:   cigar,
		Flags:   sam.Paired | sam.ProperPair,
		Seq:     sam.NewSeq([]byte("ACGTA")),
		Qual:    []byte{30, 31, 32, 33, 34},
		MateRef: refs[1],
		MatePos: 250,
		TempLen: 150,
	}
	tag, err := sam.NewAux(sam.NewTag("RG"), "group1")
	require.NoError(t, err)
	rec.AuxFields = []sam.Aux{tag}

	var buf bytes.Buffer
	require.NoError(t, Marshal(rec, &buf))

	// Marshal writes the 4-byte block-size (recLen) field first, as
	// Reader.Read reads and discards before calling Unmarshal; strip it here
	// too.
	got, err := Unmarshal(buf.Bytes()[4:], header)
	require.NoError(t, err)

	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Pos, got.Pos)
	assert.Equal(t, rec.MapQ, got.MapQ)
	assert.Equal(t, rec.Flags, got.Flags)
	assert.Equal(t, rec.Cigar, got.Cigar)
	assert.Equal(t, rec.Seq.Length, got.Seq.Length)
	assert.Equal(t, rec.Seq.Seq, got.Seq.Seq)
	assert.Equal(t, rec.Qual, got.Qual)
	assert.Same(t, refs[0], got.Ref)
	assert.Same(t, refs[1], got.MateRef)
	assert.Equal(t, rec.MatePos, got.MatePos)
	assert.Equal(t, rec.TempLen, got.TempLen)
	require.Len(t, got.AuxFields, 1)
	assert.Equal(t, "group1", got.AuxFields[0].Value())
}

func TestMarshalUnmappedRecord(t *testing.T) {
	refs := testRefs(t)
	header := testHeader(t, refs)

	rec := &sam.Record{
		Name:  "unmapped1",
		Ref:   nil,
		Pos:   -1,
		Flags: sam.Unmapped,
		Seq:   sam.NewSeq([]byte("ACGT")),
		Qual:  []byte{10, 10, 10, 10},
	}

	var buf bytes.Buffer
	require.NoError(t, Marshal(rec, &buf))

	got, err := Unmarshal(buf.Bytes()[4:], header)
	require.NoError(t, err)
	assert.Nil(t, got.Ref)
	assert.Nil(t, got.MateRef)
}

func TestMarshalRejectsEmptyName(t *testing.T) {
	rec := &sam.Record{Seq: sam.NewSeq([]byte("A")), Qual: []byte{1}}
	var buf bytes.Buffer
	assert.Equal(t, errNameAbsentOrTooLong, Marshal(rec, &buf))
}

func TestMarshalRejectsQualLengthMismatch(t *testing.T) {
	rec := &sam.Record{Name: "r", Seq: sam.NewSeq([]byte("AC")), Qual: []byte{1}}
	var buf bytes.Buffer
	assert.Equal(t, errSequenceQualityLengthMismatch, Marshal(rec, &buf))
}

func TestUnmarshalTooShort(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3}, testHeader(t, testRefs(t)))
	assert.Equal(t, errRecordTooShort, err)
}

func TestUnmarshalReferenceOutOfRange(t *testing.T) {
	refs := testRefs(t)
	testHeader(t, refs)
	rec := &sam.Record{
		Name: "r1",
		Ref:  refs[0],
		Pos:  10,
		Seq:  sam.NewSeq([]byte("AC")),
		Qual: []byte{1, 1},
	}
	var buf bytes.Buffer
	require.NoError(t, Marshal(rec, &buf))

	// header with no references: refID 0 is now out of range.
	emptyHeader, err := sam.NewHeader(nil, nil)
	require.NoError(t, err)
	_, err = Unmarshal(buf.Bytes()[4:], emptyHeader)
	assert.Equal(t, errReferenceOutOfRange, err)
}

func TestBin(t *testing.T) {
	// A small interval near the start of a chromosome stays in the
	// finest-grained bin tier.
	assert.Equal(t, uint16(4681), Bin(0, 100))
	// A zero-length-adjacent interval spanning a whole top-level tier
	// collapses to bin 0.
	assert.Equal(t, uint16(0), Bin(0, 1<<29))
}

func TestHeaderRoundTrip(t *testing.T) {
	refs := testRefs(t)
	header := testHeader(t, refs)

	encoded, err := MarshalHeader(header)
	require.NoError(t, err)

	decoded, err := UnmarshalHeader(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Refs(), 2)
	assert.Equal(t, "chr1", decoded.Refs()[0].Name())
	assert.Equal(t, "chr2", decoded.Refs()[1].Name())
}
