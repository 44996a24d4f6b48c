package bam

import (
	"encoding/binary"
	"io"

	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/sam"
)

// Reader reads BAM records from a BGZF-compressed stream. Block framing and
// decompression are delegated to github.com/biogo/hts/bgzf; record decoding
// is this package's own Unmarshal.
type Reader struct {
	r       *bgzf.Reader
	header  *sam.Header
	sizeBuf [4]byte
}

// NewReader opens r as a BAM stream, reading and decoding the header. rd
// controls bgzf decompression concurrency; 0 selects GOMAXPROCS.
func NewReader(r io.Reader, rd int) (*Reader, error) {
	bg, err := bgzf.NewReader(r, rd)
	if err != nil {
		return nil, err
	}
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, err
	}
	// The BAM header is self-delimiting (embedded text length, reference
	// count and per-reference name lengths), so DecodeBinary can consume it
	// directly from the live bgzf stream without a separate length prefix.
	if err := header.DecodeBinary(bg); err != nil {
		return nil, err
	}
	return &Reader{r: bg, header: header}, nil
}

// Header returns the BAM header.
func (r *Reader) Header() *sam.Header {
	return r.header
}

// Read returns the next record in the stream, or io.EOF when exhausted.
func (r *Reader) Read() (*sam.Record, error) {
	if _, err := io.ReadFull(r.r, r.sizeBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	blockSize := int32(binary.LittleEndian.Uint32(r.sizeBuf[:]))
	if blockSize < 0 {
		return nil, errRecordTooShort
	}
	body := make([]byte, blockSize)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, err
	}
	return Unmarshal(body, r.header)
}

// Close releases resources held by the underlying bgzf reader.
func (r *Reader) Close() error {
	return r.r.Close()
}
