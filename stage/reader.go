package stage

import (
	"context"
	"io"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	gbam "github.com/adaptivegenome/openge-sub001/encoding/bam"
)

// recordSource is implemented by both gbam.Reader and biogo/hts/sam.Reader,
// matching the teacher's cmd/bio-bam-sort/main.go recordReader interface.
type recordSource interface {
	Header() *sam.Header
	Read() (*sam.Record, error)
	Close() error
}

type samSource struct{ *sam.Reader }

func (s samSource) Close() error { return nil }

// ReaderStage publishes every record from one or more BAM/SAM files, in
// file order, concatenated. Format is sniffed from the first two bytes of
// each file (spec.md §4.2): 0x1F 0x8B -> BAM, '@' -> SAM, else a fatal
// input-format error. A forced format skips sniffing.
type ReaderStage struct {
	*Base
	paths  []string
	format Format
	open   func(path string) (io.ReadCloser, error)
	header *sam.Header
}

// Format names an on-disk alignment record encoding.
type Format int

const (
	// FormatAuto requests detection from content or file extension.
	FormatAuto Format = iota
	FormatBAM
	FormatSAM
	FormatFASTQ
)

// OpenFunc opens a path for reading, matching the teacher's ctx-based
// file.Open indirection so callers can substitute any grailbio/base/file
// implementation (local disk, object storage) without this package
// depending on it directly.
type OpenFunc func(path string) (io.ReadCloser, error)

// NewReader constructs a ReaderStage over paths. open is typically a thin
// wrapper around github.com/grailbio/base/file.Open.
func NewReader(paths []string, format Format, open OpenFunc) (*ReaderStage, error) {
	if len(paths) == 0 {
		return nil, errors.New("stage: reader requires at least one input path")
	}
	return &ReaderStage{Base: NewBase(), paths: paths, format: format, open: open}, nil
}

func sniff(r io.Reader) (Format, []byte, error) {
	magic := make([]byte, 2)
	n, err := io.ReadFull(r, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatAuto, nil, err
	}
	magic = magic[:n]
	switch {
	case len(magic) >= 1 && magic[0] == '@':
		return FormatSAM, magic, nil
	case len(magic) >= 2 && magic[0] == 0x1F && magic[1] == 0x8B:
		return FormatBAM, magic, nil
	default:
		return FormatAuto, magic, errors.Errorf("stage: unrecognized input format, magic=%v", magic)
	}
}

// prefixReader replays bytes already consumed during sniffing ahead of the
// remainder of the underlying reader.
type prefixReader struct {
	prefix []byte
	r      io.Reader
}

func (p *prefixReader) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.r.Read(b)
}

func (r *ReaderStage) openOne(path string) (recordSource, Format, error) {
	f, err := r.open(path)
	if err != nil {
		return nil, FormatAuto, errors.Wrapf(err, "stage: open %v", path)
	}
	format := r.format
	var src io.Reader = f
	if format == FormatAuto {
		var magic []byte
		format, magic, err = sniff(f)
		if err != nil {
			return nil, FormatAuto, errors.Wrapf(err, "stage: %v", path)
		}
		src = &prefixReader{prefix: magic, r: f}
	}
	switch format {
	case FormatBAM:
		br, err := gbam.NewReader(src, 0)
		if err != nil {
			return nil, format, errors.Wrapf(err, "stage: open BAM %v", path)
		}
		return bamSource{br}, format, nil
	case FormatSAM:
		sr, err := sam.NewReader(src)
		if err != nil {
			return nil, format, errors.Wrapf(err, "stage: open SAM %v", path)
		}
		return samSource{sr}, format, nil
	default:
		return nil, format, errors.Errorf("stage: unsupported input format for %v", path)
	}
}

type bamSource struct{ *gbam.Reader }

// Run reads every configured path in order and publishes records to sinks.
// All files must agree on detected format (a fatal error if not); header
// mismatches across multiple SAM files are logged as warnings, non-fatal
// (spec.md §4.2).
func (r *ReaderStage) Run(ctx context.Context) error {
	defer r.Close()
	var commonFormat Format = FormatAuto
	for i, path := range r.paths {
		src, format, err := r.openOne(path)
		if err != nil {
			return err
		}
		if i == 0 {
			commonFormat = format
			r.header = src.Header()
		} else if format != commonFormat {
			return errors.Errorf("stage: mixed input formats: %v is not %v", path, commonFormat)
		} else if !headersEqualEnough(r.header, src.Header()) {
			log.Error.Printf("stage: header mismatch between %v and earlier input files", path)
		}
		for {
			rec, err := src.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				src.Close()
				return errors.Wrapf(err, "stage: read %v", path)
			}
			r.PutOutput(rec)
		}
		src.Close()
	}
	return nil
}

// Header returns the authoritative header (the first file's), available
// after Run has started reading.
func (r *ReaderStage) Header() *sam.Header { return r.header }

func headersEqualEnough(a, b *sam.Header) bool {
	if len(a.Refs()) != len(b.Refs()) {
		return false
	}
	for i, ref := range a.Refs() {
		if ref.Name() != b.Refs()[i].Name() {
			return false
		}
	}
	return true
}

// Put is unused on a ReaderStage (it has no upstream producer) but must
// exist to satisfy Stage; terminates the process via log.Fatalf if called,
// since nothing should ever feed a reader.
func (r *ReaderStage) Put(*sam.Record) {
	log.Fatalf("stage: ReaderStage.Put called; readers have no upstream")
}
