// Package region parses the filter stage's region grammar (CHR, CHR:POS,
// CHR:POS..POS, CHR:POS..CHR2:POS) and resolves it against a header's
// reference dictionary for the overlap test. Grounded in the teacher's
// interval.ParseRegionString, adapted to the ".." range separator and the
// two-chromosome form this spec's grammar adds.
package region

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/biogo/hts/sam"
)

// Region is a parsed, unresolved region constraint: chromosome names have not
// yet been looked up against a reference dictionary.
type Region struct {
	leftName, rightName string
	leftPos, rightPos    int // 0-based, inclusive.
}

// Parse parses s under the grammar CHR | CHR:POS | CHR:POS..POS |
// CHR:POS..CHR2:POS. Positions are 1-based inclusive on input and are stored
// 0-based inclusive.
func Parse(s string) (*Region, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("region: empty region string")
	}
	colon := strings.IndexByte(s, ':')
	if colon == -1 {
		return &Region{leftName: s, rightName: s, leftPos: 0, rightPos: math.MaxInt32}, nil
	}
	if colon == 0 {
		return nil, fmt.Errorf("region: empty chromosome name in %q", s)
	}
	chr := s[:colon]
	rest := s[colon+1:]

	dotdot := strings.Index(rest, "..")
	if dotdot == -1 {
		pos, err := parsePos(rest)
		if err != nil {
			return nil, fmt.Errorf("region: %q: %v", s, err)
		}
		return &Region{leftName: chr, rightName: chr, leftPos: pos, rightPos: pos}, nil
	}

	leftPos, err := parsePos(rest[:dotdot])
	if err != nil {
		return nil, fmt.Errorf("region: %q: %v", s, err)
	}
	right := rest[dotdot+2:]
	rightName := chr
	rightStr := right
	if c := strings.IndexByte(right, ':'); c != -1 {
		rightName = right[:c]
		rightStr = right[c+1:]
	}
	rightPos, err := parsePos(rightStr)
	if err != nil {
		return nil, fmt.Errorf("region: %q: %v", s, err)
	}
	return &Region{leftName: chr, rightName: rightName, leftPos: leftPos, rightPos: rightPos}, nil
}

func parsePos(s string) (int, error) {
	pos1, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if pos1 <= 0 {
		return 0, fmt.Errorf("position %v out of range", s)
	}
	return int(pos1 - 1), nil
}

// Resolved is a Region whose chromosome names have been looked up against a
// reference dictionary, giving reference ids usable in the overlap test.
type Resolved struct {
	LeftRef, RightRef int
	LeftPos, RightPos int
}

// Resolve looks up r's chromosome names in header's reference dictionary. An
// unresolvable name is a fatal config error, per spec.
func (r *Region) Resolve(header *sam.Header) (*Resolved, error) {
	left, err := findRef(header, r.leftName)
	if err != nil {
		return nil, err
	}
	right, err := findRef(header, r.rightName)
	if err != nil {
		return nil, err
	}
	return &Resolved{LeftRef: left, RightRef: right, LeftPos: r.leftPos, RightPos: r.rightPos}, nil
}

func findRef(header *sam.Header, name string) (int, error) {
	for _, ref := range header.Refs() {
		if ref.Name() == name {
			return ref.ID(), nil
		}
	}
	return 0, fmt.Errorf("region: unknown chromosome %q", name)
}

// Overlaps reports whether an alignment spanning [pos, pos+length) on
// reference refID overlaps the resolved region, per spec.md's exact test:
// ref_id in [left_ref, right_ref] and (pos+length) >= left_pos and pos <=
// right_pos.
func (res *Resolved) Overlaps(refID, pos, length int) bool {
	return refID >= res.LeftRef && refID <= res.RightRef &&
		pos+length >= res.LeftPos && pos <= res.RightPos
}
