package markdup

import "sync"

// Metrics accumulates duplicate counts for one library, in the shape of
// the teacher's own markduplicates/metrics.go Metrics type, trimmed to
// what this single-pass stage actually produces: spec.md does not require
// a metrics file, so this is ambient observability only and never changes
// the duplicate-flag semantics.
type Metrics struct {
	// ReadPairDups is the number of read pairs marked duplicate.
	ReadPairDups int
	// UnpairedDups is the number of fragments (or unpaired members of a
	// mixed run) marked duplicate.
	UnpairedDups int
}

// MetricsCollection holds per-library-id Metrics, accumulated across a
// single Stage run. A Stage with a nil Metrics field skips all accounting.
// Keyed by the stage's own dense library id rather than library name,
// since that is what classifyPairs/classifyFragments have in hand; resolve
// names via the Stage's library table when reporting.
type MetricsCollection struct {
	mu      sync.Mutex
	Library map[int]*Metrics
}

// NewMetricsCollection constructs an empty MetricsCollection.
func NewMetricsCollection() *MetricsCollection {
	return &MetricsCollection{Library: make(map[int]*Metrics)}
}

func (mc *MetricsCollection) get(libraryID int) *Metrics {
	m, ok := mc.Library[libraryID]
	if !ok {
		m = &Metrics{}
		mc.Library[libraryID] = m
	}
	return m
}

func (mc *MetricsCollection) addPairDups(libraryID, n int) {
	if n <= 0 {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.get(libraryID).ReadPairDups += n
}

func (mc *MetricsCollection) addUnpairedDup(libraryID, n int) {
	if n <= 0 {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.get(libraryID).UnpairedDups += n
}
