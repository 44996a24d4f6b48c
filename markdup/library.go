package markdup

import (
	"github.com/biogo/hts/sam"

	"github.com/adaptivegenome/openge-sub001/internal/recordutil"
)

// libraryTable maps library names to dense ids assigned on first sight,
// per spec.md §3 ("mapping library-name -> dense short id, created on
// demand"). It is owned by a single Stage instance and never shared.
type libraryTable struct {
	ids  map[string]int
	next int
}

func newLibraryTable() *libraryTable {
	return &libraryTable{ids: make(map[string]int), next: 1}
}

// idFor returns the dense id for name, assigning a fresh one if name has
// not been seen before.
func (t *libraryTable) idFor(name string) int {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := t.next
	t.next++
	t.ids[name] = id
	return id
}

// libraryID resolves r's library via the header's read-group table
// (recordutil.Library, falling back to recordutil.UnknownLibrary) and maps
// it through t.
func (t *libraryTable) libraryID(header *sam.Header, r *sam.Record) int {
	return t.idFor(recordutil.Library(header, r))
}
