//go:build darwin

// Package regions enumerates a task's virtual memory regions via
// mach_vm_region_recurse and exposes an address-ordered lookup, used to
// classify stack/heap memory and to bound how far a C-string read may
// safely run.
package regions

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <mach/vm_statistics.h>

static kern_return_t mmd_region_recurse(mach_port_t task, mach_vm_address_t *addr,
                                         mach_vm_size_t *size, uint32_t *depth,
                                         vm_region_submap_info_64_t *info, mach_msg_type_number_t *count) {
	return mach_vm_region_recurse(task, addr, size, (natural_t *)depth,
	                               (vm_region_recurse_info_t)info, count);
}
*/
import "C"

import (
	"sort"

	"github.com/pkg/errors"
)

// Protection is a bitmask of VM_PROT_* permission bits.
type Protection uint8

const (
	ProtRead    Protection = 1 << 0
	ProtWrite   Protection = 1 << 1
	ProtExecute Protection = 1 << 2
)

// Kind classifies the likely purpose of a region, by Mach's user_tag.
type Kind int

const (
	KindUnknown Kind = iota
	KindStack
	KindHeap
)

// Region describes one mapped virtual memory region.
type Region struct {
	Base uint64
	Size uint64
	Prot Protection
	Kind Kind
}

// Map is an address-ordered, queryable snapshot of a task's regions.
type Map struct {
	regions []Region
}

const (
	vmMemoryStack       = 30
	vmMemoryMallocNano  = 11
	vmMemoryMallocTiny  = 7
	vmMemoryMallocSmall = 2
	vmMemoryMallocLarge = 3
	vmMemoryMallocLarge_reusable = 8
	vmMemoryMallocLarge_reused   = 9
	vmMemoryMallocHuge           = 4
	vmMemoryRealloc               = 6
	vmMemorySbrk                  = 5
)

func classify(userTag uint32, prot Protection) Kind {
	switch userTag {
	case vmMemoryStack:
		if prot != 0 {
			return KindStack
		}
		return KindUnknown
	case vmMemoryMallocNano, vmMemoryMallocTiny, vmMemoryMallocSmall,
		vmMemoryMallocLarge, vmMemoryMallocLarge_reusable, vmMemoryMallocLarge_reused,
		vmMemoryMallocHuge, vmMemoryRealloc, vmMemorySbrk:
		return KindHeap
	default:
		return KindUnknown
	}
}

// Build enumerates every region in task's address space, starting from
// the lowest mappable address and advancing past each region in turn
// until mach_vm_region_recurse stops succeeding.
func Build(task uint32) (*Map, error) {
	m := &Map{}
	var address C.mach_vm_address_t = 1
	for {
		var size C.mach_vm_size_t
		var depth C.uint32_t = 32
		var info C.vm_region_submap_info_64_t
		var count C.mach_msg_type_number_t = C.VM_REGION_SUBMAP_INFO_COUNT_64

		kr := C.mmd_region_recurse(C.mach_port_t(task), &address, &size, &depth, &info, &count)
		if kr != C.KERN_SUCCESS {
			break
		}

		prot := protFromMachProt(int32(info.protection))
		region := Region{
			Base: uint64(address),
			Size: uint64(size),
			Prot: prot,
			Kind: classify(uint32(info.user_tag), prot),
		}
		m.regions = append(m.regions, region)
		address += C.mach_vm_address_t(size)
	}
	if len(m.regions) == 0 {
		return nil, errors.New("regions: no mappable regions found for task")
	}
	return m, nil
}

func protFromMachProt(p int32) Protection {
	var out Protection
	if p&0x1 != 0 {
		out |= ProtRead
	}
	if p&0x2 != 0 {
		out |= ProtWrite
	}
	if p&0x4 != 0 {
		out |= ProtExecute
	}
	return out
}

// Lookup finds the region containing addr via a binary search for the
// first region starting after addr, then checks the preceding entry,
// with an inclusive upper bound (addr == base+size matches).
func (m *Map) Lookup(addr uint64) (Region, bool) {
	idx := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].Base > addr
	})
	if idx == 0 {
		return Region{}, false
	}
	r := m.regions[idx-1]
	if addr >= r.Base && addr <= r.Base+r.Size {
		return r, true
	}
	return Region{}, false
}
