// Package fastq writes alignment records in FASTQ text format.
package fastq

import (
	"io"

	"github.com/biogo/hts/sam"
)

var newline = []byte{'\n'}

// Writer is a FASTQ file writer.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter constructs a new FASTQ writer that writes records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes r in FASTQ format: an "@name" header line, the sequence, a
// "+" separator, and the quality string re-encoded as ASCII Phred+33 (BAM
// stores qualities raw).
func (w *Writer) Write(r *sam.Record) error {
	w.writeln("@" + r.Name)
	w.writeln(seqString(r.Seq))
	w.writeln("+")
	w.writeln(qualString(r.Qual))
	return w.err
}

// doubletAlphabet is the BAM nibble encoding for packed sequence bases, in
// the order the wire format (and biogo/hts/sam.Doublet) assigns nibble
// values 0 through 15; mirrors encoding/bam's own copy of this alphabet.
const doubletAlphabet = "=ACMGRSVTWYHKDBN"

// seqString expands seq's nibble-packed bytes (one sam.Doublet per two
// bases: high nibble first, low nibble second) back into one ASCII base
// letter per position.
func seqString(seq sam.Seq) string {
	b := make([]byte, seq.Length)
	for i := 0; i < seq.Length; i++ {
		packed := byte(seq.Seq[i>>1])
		var nib byte
		if i&1 == 0 {
			nib = packed >> 4
		} else {
			nib = packed & 0x0f
		}
		b[i] = doubletAlphabet[nib]
	}
	return string(b)
}

func qualString(qual []byte) string {
	b := make([]byte, len(qual))
	for i, q := range qual {
		b[i] = q + 33
	}
	return string(b)
}

func (w *Writer) writeln(line string) {
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, line)
	if w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}
