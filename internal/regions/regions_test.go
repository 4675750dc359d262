//go:build darwin

package regions

import "testing"

func TestLookupFindsContainingRegion(t *testing.T) {
	m := &Map{regions: []Region{
		{Base: 0x1000, Size: 0x1000, Prot: ProtRead},
		{Base: 0x3000, Size: 0x2000, Prot: ProtRead | ProtWrite},
	}}

	r, ok := m.Lookup(0x3500)
	if !ok {
		t.Fatal("expected a region to be found")
	}
	if r.Base != 0x3000 {
		t.Fatalf("expected region base 0x3000, got 0x%x", r.Base)
	}
}

func TestLookupMissBetweenRegions(t *testing.T) {
	m := &Map{regions: []Region{
		{Base: 0x1000, Size: 0x1000, Prot: ProtRead},
		{Base: 0x3000, Size: 0x1000, Prot: ProtRead},
	}}

	if _, ok := m.Lookup(0x2500); ok {
		t.Fatal("expected no region to contain an address in the gap")
	}
}

func TestClassifyStackAndHeap(t *testing.T) {
	if got := classify(vmMemoryStack, ProtRead|ProtWrite); got != KindStack {
		t.Fatalf("expected KindStack, got %v", got)
	}
	if got := classify(vmMemoryMallocTiny, ProtRead|ProtWrite); got != KindHeap {
		t.Fatalf("expected KindHeap, got %v", got)
	}
	if got := classify(999, ProtRead); got != KindUnknown {
		t.Fatalf("expected KindUnknown, got %v", got)
	}
}
