package bam

import (
	"bytes"
	"io"

	"github.com/biogo/hts/bgzf"
	"github.com/biogo/hts/sam"
)

// Writer writes BAM records to a BGZF-compressed stream. Block framing and
// compression are delegated to github.com/biogo/hts/bgzf; record encoding is
// this package's own Marshal.
type Writer struct {
	w   *bgzf.Writer
	buf bytes.Buffer
}

// NewWriter creates a Writer over w, writing header immediately. level is
// the bgzf/gzip compression level, 0-9 (spec.md §4.3's "compression level
// (BAM only, 0-9, default 6)"); 0 worker-count selects GOMAXPROCS for bgzf's
// own block-compression concurrency.
func NewWriter(w io.Writer, header *sam.Header, level int) (*Writer, error) {
	gz, err := bgzf.NewWriterLevel(w, level, 0)
	if err != nil {
		return nil, err
	}
	bw := &Writer{w: gz}
	if err := header.EncodeBinary(gz); err != nil {
		return nil, err
	}
	return bw, nil
}

// Write encodes and writes a single record. Marshal embeds the leading
// block-size field itself, so the encoded buffer is the complete on-wire
// record.
func (w *Writer) Write(r *sam.Record) error {
	w.buf.Reset()
	if err := Marshal(r, &w.buf); err != nil {
		return err
	}
	_, err := w.w.Write(w.buf.Bytes())
	return err
}

// Close flushes and closes the underlying bgzf writer.
func (w *Writer) Close() error {
	return w.w.Close()
}
