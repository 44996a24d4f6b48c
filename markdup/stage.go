package markdup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/biogo/hts/sam"
	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	gbam "github.com/adaptivegenome/openge-sub001/encoding/bam"
	"github.com/adaptivegenome/openge-sub001/internal/recordutil"
	pipeline "github.com/adaptivegenome/openge-sub001/stage"
)

// State names one step of the mark-duplicates state machine (spec.md
// §4.7): INIT -> PASS1 -> SORT_PAIRS -> SORT_FRAGS -> CLASSIFY -> PASS3 ->
// DONE, linear and non-branching once PASS1 begins.
type State int

const (
	StateInit State = iota
	StatePass1
	StateSortPairs
	StateSortFrags
	StateClassify
	StatePass3
	StateDone
)

// Stage marks (or, with RemoveDuplicates, drops) PCR/optical duplicate
// alignments, re-emitting every record in input order (spec.md §4.7). It
// satisfies pipeline.Stage via the embedded *pipeline.Base.
type Stage struct {
	*pipeline.Base

	// Header describes the references and read groups of the records this
	// stage will see; required to open the spill file and resolve
	// libraries.
	Header *sam.Header
	// TmpDir is the directory the spill file is created in; the
	// system-default temp directory if empty (spec.md §6).
	TmpDir string
	// RemoveDuplicates drops records flagged duplicate instead of merely
	// flagging them (spec.md §4.7 pass 3).
	RemoveDuplicates bool
	// Metrics, if non-nil, accumulates per-library duplicate counts
	// (ambient observability; spec.md does not require it).
	Metrics *MetricsCollection

	state State

	libs *libraryTable
}

// NewStage constructs a mark-duplicates Stage. header must describe every
// reference and read group records will carry.
func NewStage(header *sam.Header, tmpDir string, removeDuplicates bool) *Stage {
	return &Stage{
		Base:             pipeline.NewBase(),
		Header:           header,
		TmpDir:           tmpDir,
		RemoveDuplicates: removeDuplicates,
		libs:             newLibraryTable(),
	}
}

// State reports the stage's current position in its state machine, mainly
// for tests.
func (s *Stage) State() State { return s.state }

func (s *Stage) spillPath() string {
	dir := s.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "openge-markdup-"+uuid.New().String()+".bam")
}

// scratchKey is the scratch-map key for an unresolved mate: read-group +
// ":" + query name, per spec.md §4.7 pass 1.
func scratchKey(r *sam.Record) string {
	return recordutil.ReadGroup(r) + ":" + r.Name
}

func refID(r *sam.Reference) int {
	if r == nil {
		return -1
	}
	return r.ID()
}

// unmapped reports whether r is the spec's "unmapped or ref_id = -1" case,
// which is written to the spill file but never fingerprinted.
func unmapped(r *sam.Record) bool {
	return r.Flags&sam.Unmapped != 0 || refID(r.Ref) < 0
}

// Run executes the three-pass algorithm: pass 1 spills every record and
// builds the fragment/pair fingerprint lists; pass 2 sorts and classifies
// them into a duplicate-index set; pass 3 re-reads the spill file, stamps
// the duplicate flag (and optionally drops duplicates), and deletes the
// spill file.
func (s *Stage) Run(ctx context.Context) error {
	s.state = StatePass1
	path := s.spillPath()
	dupSet, err := s.pass1AndClassify(path)
	if err != nil {
		os.Remove(path)
		return err
	}
	s.state = StatePass3
	if err := s.pass3(path, dupSet); err != nil {
		os.Remove(path)
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "markdup: remove spill file %v", path)
	}
	s.state = StateDone
	return nil
}

// pass1AndClassify runs pass 1 (spill + fingerprint build) and pass 2
// (sort + classify), returning the set of spill-file indices to flag as
// duplicates.
func (s *Stage) pass1AndClassify(path string) (map[int64]struct{}, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "markdup: create spill file %v", path)
	}
	w, err := gbam.NewWriter(f, s.Header, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "markdup: open spill writer %v", path)
	}

	var fragList, pairList []*readEnds
	scratch := make(map[string]*readEnds)

	var index int64
	for {
		r, ok := s.Get()
		if !ok {
			break
		}
		if err := w.Write(r); err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "markdup: write spill record %v", path)
		}

		if !unmapped(r) && recordutil.IsPrimary(r) {
			reverse := r.Flags&sam.Reverse != 0
			var coord int
			if reverse {
				coord = recordutil.UnclippedEnd(r)
			} else {
				coord = recordutil.UnclippedStart(r)
			}
			score := recordutil.Score(r)
			libID := s.libs.libraryID(s.Header, r)
			frag := newFragmentEnd(libID, score, reverse, refID(r.Ref), coord, index)
			hasMappedMate := recordutil.HasMappedMate(r)
			if hasMappedMate {
				frag.read2Ref = refID(r.MateRef)
			}
			fragList = append(fragList, frag)

			if hasMappedMate {
				key := scratchKey(r)
				if partner, found := scratch[key]; found {
					delete(scratch, key)
					pairList = append(pairList, resolvePair(partner, refID(r.Ref), coord, reverse, score, index))
				} else {
					cp := *frag
					scratch[key] = &cp
				}
			}
		} else if !unmapped(r) {
			log.Debug.Printf("markdup: secondary/supplementary record %v not fingerprinted", r.Name)
		}
		index++
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrapf(err, "markdup: close spill file %v", path)
	}
	// Orphaned scratch entries (mate never arrived) are discarded here,
	// per spec.md §4.7: their records remain un-flagged in pass 3.
	scratch = nil

	s.state = StateSortPairs
	sort.Slice(pairList, func(i, j int) bool { return less(pairList[i], pairList[j]) })
	s.state = StateSortFrags
	sort.Slice(fragList, func(i, j int) bool { return less(fragList[i], fragList[j]) })

	s.state = StateClassify
	dupSet := make(map[int64]struct{})
	s.classifyPairs(pairList, dupSet)
	s.classifyFragments(fragList, dupSet)
	return dupSet, nil
}

// classifyPairs walks the sorted pair list, grouping consecutive runs of
// pair-comparable fingerprints and marking every index but the
// highest-scoring survivor as a duplicate (spec.md §4.7 pass 2).
func (s *Stage) classifyPairs(list []*readEnds, dupSet map[int64]struct{}) {
	flush := func(run []*readEnds) {
		if len(run) <= 1 {
			return
		}
		best := run[0]
		for _, e := range run[1:] {
			if e.score > best.score {
				best = e
			}
		}
		for _, e := range run {
			if e == best {
				continue
			}
			dupSet[e.read1Index] = struct{}{}
			dupSet[e.read2Index] = struct{}{}
		}
		if s.Metrics != nil {
			s.Metrics.addPairDups(best.libraryID, len(run)-1)
		}
	}
	var run []*readEnds
	for _, e := range list {
		if len(run) == 0 || comparablePair(run[0], e) {
			run = append(run, e)
			continue
		}
		flush(run)
		run = []*readEnds{e}
	}
	flush(run)
}

// classifyFragments walks the sorted fragment list, grouping consecutive
// runs of fragment-comparable fingerprints. A run containing any paired
// member only demotes its unpaired members (the paired ones were already
// resolved by classifyPairs); a run of only unpaired members keeps the
// highest scorer (spec.md §4.7 pass 2).
func (s *Stage) classifyFragments(list []*readEnds, dupSet map[int64]struct{}) {
	flush := func(run []*readEnds, containsPaired bool) {
		if len(run) <= 1 {
			return
		}
		if containsPaired {
			for _, e := range run {
				if !e.isPaired() {
					dupSet[e.read1Index] = struct{}{}
					if s.Metrics != nil {
						s.Metrics.addUnpairedDup(e.libraryID, 1)
					}
				}
			}
			return
		}
		best := run[0]
		for _, e := range run[1:] {
			if e.score > best.score {
				best = e
			}
		}
		for _, e := range run {
			if e == best {
				continue
			}
			dupSet[e.read1Index] = struct{}{}
			if s.Metrics != nil {
				s.Metrics.addUnpairedDup(e.libraryID, 1)
			}
		}
	}
	var run []*readEnds
	containsPaired := false
	for _, e := range list {
		if len(run) == 0 || comparableFragment(run[0], e) {
			run = append(run, e)
			containsPaired = containsPaired || e.isPaired()
			continue
		}
		flush(run, containsPaired)
		run = []*readEnds{e}
		containsPaired = e.isPaired()
	}
	flush(run, containsPaired)
}

// pass3 re-reads the spill file sequentially, stamping the duplicate flag
// on every primary alignment whose index is in dupSet, forwarding every
// record (or, with RemoveDuplicates, every non-duplicate record) to sinks.
func (s *Stage) pass3(path string, dupSet map[int64]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "markdup: reopen spill file %v", path)
	}
	r, err := gbam.NewReader(f, 0)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "markdup: read spill header %v", path)
	}
	var index int64
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.Close()
			return errors.Wrapf(err, "markdup: read spill record %v", path)
		}
		if recordutil.IsPrimary(rec) {
			if _, dup := dupSet[index]; dup {
				rec.Flags |= sam.Duplicate
			} else {
				rec.Flags &^= sam.Duplicate
			}
		}
		index++
		if s.RemoveDuplicates && rec.Flags&sam.Duplicate != 0 {
			continue
		}
		s.PutOutput(rec)
	}
	return r.Close()
}

var _ pipeline.Stage = (*Stage)(nil)
