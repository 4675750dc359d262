// Package ranges implements a disjoint set of half-open [Start, End)
// intervals that merges overlapping or touching intervals on insert.
//
// It is used to track which spans of target-process address space must be
// captured into the core: one entry per "interesting" byte range (an
// instruction pointer's neighborhood, a thread's live stack), coalesced so
// that overlapping or adjacent interest windows turn into a single segment
// payload instead of many small, possibly-overlapping ones.
package ranges

import "sort"

// Interval is a half-open address range [Start, End).
type Interval struct {
	Start uint64
	End   uint64
}

func (iv Interval) touches(other Interval) bool {
	return iv.Start <= other.End && other.Start <= iv.End
}

// Set is a sorted, non-overlapping, non-touching collection of Intervals.
// The zero value is an empty, ready-to-use Set.
type Set struct {
	entries []Interval
}

// Insert adds [start, end) to the set, merging with any existing interval
// it overlaps or touches. A malformed interval (end <= start) is ignored.
func (s *Set) Insert(start, end uint64) {
	if end <= start {
		return
	}
	iv := Interval{Start: start, End: end}

	// Find the first entry whose Start is > iv.Start, mirroring the
	// original's std::map::upper_bound(start) lookup, then walk left and
	// right from there merging every touching neighbor into iv.
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Start > iv.Start
	})

	lo, hi := idx, idx
	for lo > 0 && s.entries[lo-1].touches(iv) {
		lo--
	}
	for hi < len(s.entries) && s.entries[hi].touches(iv) {
		hi++
	}
	for _, e := range s.entries[lo:hi] {
		if e.Start < iv.Start {
			iv.Start = e.Start
		}
		if e.End > iv.End {
			iv.End = e.End
		}
	}

	merged := make([]Interval, 0, len(s.entries)-(hi-lo)+1)
	merged = append(merged, s.entries[:lo]...)
	merged = append(merged, iv)
	merged = append(merged, s.entries[hi:]...)
	s.entries = merged
}

// ForEach calls fn for every interval in the set, in ascending Start order.
func (s *Set) ForEach(fn func(Interval)) {
	for _, e := range s.entries {
		fn(e)
	}
}

// Len reports the number of disjoint intervals currently in the set.
func (s *Set) Len() int {
	return len(s.entries)
}
