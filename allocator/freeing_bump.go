package allocator

import (
	"fmt"
	"math/bits"

	wasmexecutor "github.com/runelabs/wasm-executor"
	"github.com/runelabs/wasm-executor/errors"
)

const (
	// HeaderSize is the byte size of the per-allocation header.
	HeaderSize = 8

	// MinAllocation is the smallest size class, in bytes.
	MinAllocation = 8

	// MaxAllocation is the largest size class, in bytes.
	MaxAllocation = 32 * 1024 * 1024

	// Alignment of the pointers returned by Allocate.
	alignment = 8

	numOrders = 23

	// nilLink terminates a free list.
	nilLink uint32 = 0xffffffff

	// occupiedMask distinguishes in-use headers from free-list headers.
	occupiedMask uint64 = 1 << 32
)

// order is an allocation size class. Order o covers MinAllocation << o bytes.
type order uint32

func orderFromSize(size uint32) (order, error) {
	if size > MaxAllocation {
		return 0, errors.ErrOutOfMemory
	}
	if size < MinAllocation {
		size = MinAllocation
	}
	po2 := size
	if bits.OnesCount32(size) != 1 {
		po2 = 1 << bits.Len32(size)
	}
	return order(bits.TrailingZeros32(po2) - bits.TrailingZeros32(MinAllocation)), nil
}

func (o order) size() uint32 {
	return MinAllocation << o
}

// Stats tracks allocator activity over its lifetime. All byte counts include
// the per-allocation headers.
type Stats struct {
	// BytesAllocated is the amount currently allocated.
	BytesAllocated uint32

	// BytesAllocatedPeak is the maximum of BytesAllocated over the
	// allocator's lifetime.
	BytesAllocatedPeak uint32

	// BytesAllocatedSum is the total of all allocation sizes ever requested.
	BytesAllocatedSum uint64

	// AddressSpaceUsed is how far past the heap base the bump pointer has
	// advanced.
	AddressSpaceUsed uint32
}

// FreeingBump is a bump allocator with per-order free lists.
//
// A poisoned allocator refuses all further operations: any error leaves the
// internal structures in an unknown state, and continuing could hand out
// overlapping regions.
type FreeingBump struct {
	freeLists [numOrders]uint32
	bump      uint32
	stats     Stats

	// lastObservedSize detects the guest shrinking its memory under us,
	// which wasm does not permit.
	lastObservedSize uint32

	poisoned bool
}

var _ wasmexecutor.Allocator = (*FreeingBump)(nil)

// NewFreeingBump returns an allocator that bumps upward from heapBase.
// heapBase is rounded up to the allocator's alignment.
func NewFreeingBump(heapBase uint32) *FreeingBump {
	a := &FreeingBump{
		bump: (heapBase + alignment - 1) &^ (alignment - 1),
	}
	for i := range a.freeLists {
		a.freeLists[i] = nilLink
	}
	return a
}

// Stats returns a snapshot of the allocator's counters.
func (a *FreeingBump) Stats() Stats {
	return a.stats
}

// Allocate reserves size bytes of guest memory and returns a pointer to the
// first usable byte.
func (a *FreeingBump) Allocate(mem wasmexecutor.Memory, size uint32) (uint32, error) {
	if a.poisoned {
		return 0, fmt.Errorf("allocator: %w", errPoisoned)
	}
	if err := a.observeMemorySize(mem); err != nil {
		return 0, err
	}

	o, err := orderFromSize(size)
	if err != nil {
		return 0, err
	}

	var headerPtr uint32
	if head := a.freeLists[o]; head != nilLink {
		header, err := mem.ReadU64(head)
		if err != nil {
			a.poisoned = true
			return 0, err
		}
		if header&occupiedMask != 0 {
			a.poisoned = true
			return 0, fmt.Errorf("allocator: free list for order %d contains an occupied header", o)
		}
		a.freeLists[o] = uint32(header)
		headerPtr = head
	} else {
		headerPtr, err = a.bumpAlloc(mem, HeaderSize+o.size())
		if err != nil {
			return 0, err
		}
	}

	if err := mem.WriteU64(headerPtr, occupiedMask|uint64(o)); err != nil {
		a.poisoned = true
		return 0, err
	}

	allocated := HeaderSize + o.size()
	a.stats.BytesAllocated += allocated
	if a.stats.BytesAllocated > a.stats.BytesAllocatedPeak {
		a.stats.BytesAllocatedPeak = a.stats.BytesAllocated
	}
	a.stats.BytesAllocatedSum += uint64(allocated)

	return headerPtr + HeaderSize, nil
}

// Deallocate hands ptr back to the allocator. ptr must have come from a
// previous Allocate on the same allocator.
func (a *FreeingBump) Deallocate(mem wasmexecutor.Memory, ptr uint32) error {
	if a.poisoned {
		return fmt.Errorf("allocator: %w", errPoisoned)
	}
	if err := a.observeMemorySize(mem); err != nil {
		return err
	}
	if ptr < HeaderSize {
		a.poisoned = true
		return fmt.Errorf("allocator: pointer %#x too low for a header", ptr)
	}

	headerPtr := ptr - HeaderSize
	header, err := mem.ReadU64(headerPtr)
	if err != nil {
		a.poisoned = true
		return err
	}
	if header&occupiedMask == 0 {
		a.poisoned = true
		return fmt.Errorf("allocator: double free at %#x", ptr)
	}
	o := order(header &^ occupiedMask)
	if o >= numOrders {
		a.poisoned = true
		return fmt.Errorf("allocator: corrupt header at %#x", headerPtr)
	}

	if err := mem.WriteU64(headerPtr, uint64(a.freeLists[o])); err != nil {
		a.poisoned = true
		return err
	}
	a.freeLists[o] = headerPtr

	a.stats.BytesAllocated -= HeaderSize + o.size()
	return nil
}

func (a *FreeingBump) bumpAlloc(mem wasmexecutor.Memory, size uint32) (uint32, error) {
	ptr := a.bump
	next := uint64(ptr) + uint64(size)
	if next > uint64(mem.Size()) {
		return 0, errors.ErrOutOfMemory
	}
	a.bump = uint32(next)
	a.stats.AddressSpaceUsed = a.bump
	return ptr, nil
}

func (a *FreeingBump) observeMemorySize(mem wasmexecutor.Memory) error {
	size := mem.Size()
	if size < a.lastObservedSize {
		a.poisoned = true
		return fmt.Errorf("allocator: memory shrank from %d to %d bytes", a.lastObservedSize, size)
	}
	a.lastObservedSize = size
	return nil
}

var errPoisoned = fmt.Errorf("allocator is poisoned by an earlier failure")
