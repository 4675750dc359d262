package ranges

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestInsertMergesOverlap(t *testing.T) {
	var s Set
	s.Insert(100, 200)
	s.Insert(150, 250)

	var got []Interval
	s.ForEach(func(iv Interval) { got = append(got, iv) })

	want := []Interval{{Start: 100, End: 250}}
	if diff := cmp.Diff(want, got, cmpopts.EquateComparable()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertMergesTouching(t *testing.T) {
	var s Set
	s.Insert(0, 100)
	s.Insert(100, 200)

	if s.Len() != 1 {
		t.Fatalf("expected touching intervals to merge into 1, got %d", s.Len())
	}
}

func TestInsertKeepsDisjoint(t *testing.T) {
	var s Set
	s.Insert(0, 10)
	s.Insert(20, 30)

	if s.Len() != 2 {
		t.Fatalf("expected 2 disjoint intervals, got %d", s.Len())
	}
}

func TestInsertBridgesGap(t *testing.T) {
	var s Set
	s.Insert(0, 10)
	s.Insert(20, 30)
	s.Insert(10, 20)

	if s.Len() != 1 {
		t.Fatalf("expected bridging insert to merge all 3 into 1, got %d", s.Len())
	}
}

func TestInsertIgnoresMalformed(t *testing.T) {
	var s Set
	s.Insert(10, 10)
	s.Insert(10, 5)

	if s.Len() != 0 {
		t.Fatalf("expected malformed intervals to be ignored, got %d entries", s.Len())
	}
}
