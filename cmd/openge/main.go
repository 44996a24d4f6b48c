// Command openge is a small driver for the stage pipeline: it wires a
// stage.Graph from flags for two demonstration operations, "mergesort" and
// "dedup", the way cmd/bio-bam-sort/main.go wires a sorter from flags.
//
// Usage:
//
//	openge -op mergesort -order coordinate -o out.bam in1.bam in2.bam ...
//	openge -op dedup [-remove] [-region chr1:1000..2000] [-mapq 20] -o out.bam in.bam
package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/pkg/errors"

	gbam "github.com/adaptivegenome/openge-sub001/encoding/bam"
	"github.com/adaptivegenome/openge-sub001/markdup"
	"github.com/adaptivegenome/openge-sub001/region"
	"github.com/adaptivegenome/openge-sub001/stage"
)

var (
	opFlag     = flag.String("op", "", "operation to run: mergesort or dedup")
	outputFlag = flag.String("o", "", "output path")
	orderFlag  = flag.String("order", "coordinate", "sort order for mergesort: coordinate or queryname")
	formatFlag = flag.String("format", "", "force input/output format: bam, sam or fastq (default: sniff/extension)")
	regionFlag = flag.String("region", "", "dedup: restrict to this region (CHR, CHR:POS, CHR:POS..POS)")
	mapqFlag   = flag.Int("mapq", -1, "dedup: minimum MAPQ to keep (-1: no floor)")
	removeFlag = flag.Bool("remove", false, "dedup: drop duplicate records instead of flagging them")
	tmpDirFlag = flag.String("tmp", "", "scratch directory for spill files (default: system temp dir)")
	singleFlag = flag.Bool("single-threaded", false, "run the stage graph on a single goroutine at a time")
	levelFlag  = flag.Int("level", 6, "BAM compression level for the final writer")
)

// fileOpener opens local (or grailbio/base/file-backed) paths for the
// stage package's OpenFunc/CreateFunc indirection, matching the teacher's
// own ctx-based openInput in cmd/bio-bam-sort/main.go.
type fileOpener struct{ ctx context.Context }

func (o fileOpener) open(path string) (io.ReadCloser, error) {
	f, err := file.Open(o.ctx, path)
	if err != nil {
		return nil, err
	}
	return readCloser{f: f, ctx: o.ctx, r: f.Reader(o.ctx)}, nil
}

func (o fileOpener) create(path string) (io.WriteCloser, error) {
	f, err := file.Create(o.ctx, path)
	if err != nil {
		return nil, err
	}
	return writeCloser{f: f, ctx: o.ctx, w: f.Writer(o.ctx)}, nil
}

type readCloser struct {
	f   file.File
	ctx context.Context
	r   io.Reader
}

func (r readCloser) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r readCloser) Close() error               { return r.f.Close(r.ctx) }

type writeCloser struct {
	f   file.File
	ctx context.Context
	w   io.Writer
}

func (w writeCloser) Write(p []byte) (int, error) { return w.w.Write(p) }
func (w writeCloser) Close() error                { return w.f.Close(w.ctx) }

// commandLine reconstructs the invocation for the writer stage's program
// record, matching the reference file_writer.cpp's recorded "CL" field.
func commandLine() string {
	return strings.Join(os.Args, " ")
}

func parseFormat(s string) stage.Format {
	switch s {
	case "bam":
		return stage.FormatBAM
	case "sam":
		return stage.FormatSAM
	case "fastq":
		return stage.FormatFASTQ
	default:
		return stage.FormatAuto
	}
}

func parseOrder(s string) (stage.SortOrder, error) {
	switch s {
	case "coordinate", "":
		return stage.Coordinate, nil
	case "queryname":
		return stage.Queryname, nil
	default:
		return stage.Coordinate, errors.Errorf("openge: unknown -order %q", s)
	}
}

// peekHeader opens the first input just long enough to read its header, so
// the rest of the graph (sorter, mark-duplicates) can be constructed before
// the reader stage's own goroutine starts. It only supports BAM/SAM, which
// is all the two built-in operations read from.
func peekHeader(opener fileOpener, path string) (*sam.Header, error) {
	f, err := opener.open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "openge: open %v", path)
	}
	defer f.Close()

	magic := make([]byte, 2)
	n, _ := io.ReadFull(f, magic)
	magic = magic[:n]
	switch {
	case len(magic) >= 1 && magic[0] == '@':
		r, err := sam.NewReader(io.MultiReader(bytes.NewReader(magic), f))
		if err != nil {
			return nil, errors.Wrapf(err, "openge: read SAM header %v", path)
		}
		return r.Header(), nil
	case len(magic) >= 2 && magic[0] == 0x1F && magic[1] == 0x8B:
		r, err := gbam.NewReader(io.MultiReader(bytes.NewReader(magic), f), 0)
		if err != nil {
			return nil, errors.Wrapf(err, "openge: read BAM header %v", path)
		}
		return r.Header(), nil
	default:
		return nil, errors.Errorf("openge: unrecognized input format for %v", path)
	}
}

// runMergesort assembles reader -> sorter -> writer: the sorter spills and
// re-merges internally (stage.SorterStage), so a single chain is enough.
func runMergesort(ctx context.Context, paths []string) error {
	order, err := parseOrder(*orderFlag)
	if err != nil {
		return err
	}
	opener := fileOpener{ctx: ctx}
	header, err := peekHeader(opener, paths[0])
	if err != nil {
		return err
	}

	reader, err := stage.NewReader(paths, parseFormat(*formatFlag), opener.open)
	if err != nil {
		return err
	}
	sorter := stage.NewSorter(order, header, *tmpDirFlag)
	reader.AddSink(sorter)

	writer, err := stage.NewWriter(*outputFlag, parseFormat(*formatFlag), header, *levelFlag, opener.create)
	if err != nil {
		return err
	}
	writer.CommandLine = commandLine()
	sorter.AddSink(writer)

	graph := stage.NewGraph()
	if *singleFlag {
		return graph.RunSequential(ctx, reader)
	}
	return graph.Run(ctx, reader)
}

// runDedup assembles reader -> [filter] -> markdup -> writer.
func runDedup(ctx context.Context, paths []string) error {
	opener := fileOpener{ctx: ctx}
	header, err := peekHeader(opener, paths[0])
	if err != nil {
		return err
	}

	reader, err := stage.NewReader(paths, parseFormat(*formatFlag), opener.open)
	if err != nil {
		return err
	}

	var head stage.Stage = reader
	if *regionFlag != "" || *mapqFlag >= 0 {
		var resolved *region.Resolved
		if *regionFlag != "" {
			parsed, err := region.Parse(*regionFlag)
			if err != nil {
				return err
			}
			resolved, err = parsed.Resolve(header)
			if err != nil {
				return err
			}
		}
		filter := stage.NewFilter(resolved, *mapqFlag, *mapqFlag >= 0, 0, false)
		head.AddSink(filter)
		head = filter
	}

	dedup := markdup.NewStage(header, *tmpDirFlag, *removeFlag)
	head.AddSink(dedup)

	writer, err := stage.NewWriter(*outputFlag, parseFormat(*formatFlag), header, *levelFlag, opener.create)
	if err != nil {
		return err
	}
	writer.CommandLine = commandLine()
	dedup.AddSink(writer)

	graph := stage.NewGraph()
	if *singleFlag {
		return graph.RunSequential(ctx, reader)
	}
	return graph.Run(ctx, reader)
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage:
  openge -op mergesort -order coordinate -o out.bam in1.bam in2.bam ...
  openge -op dedup [-remove] [-region chr1:1000..2000] [-mapq 20] -o out.bam in.bam
`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 || *outputFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	ctx := vcontext.Background()
	var err error
	switch *opFlag {
	case "mergesort":
		err = runMergesort(ctx, paths)
	case "dedup":
		err = runDedup(ctx, paths)
	default:
		log.Error.Printf("openge: unknown -op %q", *opFlag)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("openge: %v", err)
	}
}
