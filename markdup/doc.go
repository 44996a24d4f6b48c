// Package markdup implements the mark-duplicates stage: a three-pass,
// single-spill-file PCR/optical duplicate detector that reproduces the
// reference implementation's ReadEnds algorithm (spec.md §4.7).
//
// Pass 1 scans the input once, writing every record verbatim to a private
// spill file while building two in-memory fingerprint lists (fragment ends
// and pair ends). Pass 2 sorts both lists under the canonical ReadEnds
// comparator and walks each for duplicate-comparable runs, electing one
// survivor per run by score. Pass 3 re-reads the spill file, stamps the
// duplicate flag, optionally drops duplicates, and deletes the spill file.
//
// The algorithm is ported directly from
// original_source/openge/src/algorithms/mark_duplicates.cpp
// (buildSortedReadEndLists / generateDuplicateIndexes / markDuplicatePairs /
// markDuplicateFragments), using the Go vocabulary the teacher's own
// markduplicates package established for orientation, library resolution,
// and tag handling.
package markdup
