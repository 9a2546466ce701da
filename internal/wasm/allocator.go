package wasm

import (
	"fmt"
	"sync"
)

// Allocator hands out guest memory to the host and pins it so that the garbage collector
// cannot reclaim it while the host still holds its address. Unlike a bare malloc it records
// the size of every block, so a deallocation can be checked against its allocation.
type Allocator struct {
	mu    sync.Mutex
	live  map[Ptr][]byte
	bytes uint64
	limit uint64
}

// Default backs the module's alloc and dealloc exports.
var Default = NewAllocator()

func NewAllocator() *Allocator {
	return &Allocator{live: map[Ptr][]byte{}}
}

// SetLimit bounds the total number of live bytes. Zero means unbounded.
func (allocator *Allocator) SetLimit(limit uint64) {
	allocator.mu.Lock()
	defer allocator.mu.Unlock()
	allocator.limit = limit
}

// Allocate reserves length bytes and returns their address. A zero length reserves nothing
// and returns the null pointer.
func (allocator *Allocator) Allocate(length uint32) (Ptr, error) {
	if length == 0 {
		return 0, nil
	}
	return allocator.Pin(make([]byte, length))
}

// Pin takes ownership of an existing slice, making it addressable by the host until it is
// deallocated. It is how encoded outputs are handed over without copying.
// Memory that is already pinned cannot be pinned again until it is deallocated.
func (allocator *Allocator) Pin(memory []byte) (Ptr, error) {
	if len(memory) == 0 {
		return 0, nil
	}

	allocator.mu.Lock()
	defer allocator.mu.Unlock()

	ptr := addressOf(memory)
	if pinned, ok := allocator.live[ptr]; ok {
		return 0, fmt.Errorf("pin(%#x, %d): %w with length %d", ptr, len(memory), ErrAlreadyPinned, len(pinned))
	}

	if allocator.limit > 0 && allocator.bytes+uint64(len(memory)) > allocator.limit {
		return 0, fmt.Errorf("%w: %d live bytes, requested %d, limit %d", ErrLimitExceeded, allocator.bytes, len(memory), allocator.limit)
	}

	allocator.live[ptr] = memory
	allocator.bytes += uint64(len(memory))

	return ptr, nil
}

// Deallocate releases a block. The length must be the one it was allocated with.
func (allocator *Allocator) Deallocate(ptr Ptr, length uint32) error {
	if ptr == 0 && length == 0 {
		return nil
	}

	allocator.mu.Lock()
	defer allocator.mu.Unlock()

	memory, ok := allocator.live[ptr]
	if !ok {
		return fmt.Errorf("dealloc(%#x, %d): %w", ptr, length, ErrUnknownPointer)
	}
	if uint32(len(memory)) != length {
		return fmt.Errorf("dealloc(%#x, %d): %w: allocated with %d", ptr, length, ErrSizeMismatch, len(memory))
	}

	delete(allocator.live, ptr)
	allocator.bytes -= uint64(len(memory))
	forget(ptr)

	return nil
}

// Alloc is the owning form of Allocate. The returned handle remembers its size so that
// guest code can never free a block with the wrong length.
func (allocator *Allocator) Alloc(length uint32) (*Allocation, error) {
	ptr, err := allocator.Allocate(length)
	if err != nil {
		return nil, err
	}
	return &Allocation{allocator: allocator, ptr: ptr, length: length}, nil
}

// Contains reports whether ptr is the start of a live block.
func (allocator *Allocator) Contains(ptr Ptr) bool {
	allocator.mu.Lock()
	defer allocator.mu.Unlock()
	_, ok := allocator.live[ptr]
	return ok
}

type Stats struct {
	Blocks int
	Bytes  uint64
}

func (allocator *Allocator) Stats() Stats {
	allocator.mu.Lock()
	defer allocator.mu.Unlock()
	return Stats{Blocks: len(allocator.live), Bytes: allocator.bytes}
}

type Allocation struct {
	allocator *Allocator
	ptr       Ptr
	length    uint32
	freed     bool
}

func (allocation *Allocation) Ptr() Ptr { return allocation.ptr }

func (allocation *Allocation) Len() uint32 { return allocation.length }

func (allocation *Allocation) Buffer() Buffer { return MakeBuffer(allocation.ptr, allocation.length) }

// Bytes returns the allocated memory itself, not a copy.
func (allocation *Allocation) Bytes() []byte {
	if allocation.length == 0 {
		return nil
	}
	return view(allocation.ptr, allocation.length)
}

// Free releases the block. Freeing twice is an error.
func (allocation *Allocation) Free() error {
	if allocation.freed {
		return fmt.Errorf("free(%#x): %w", allocation.ptr, ErrUnknownPointer)
	}
	allocation.freed = true
	return allocation.allocator.Deallocate(allocation.ptr, allocation.length)
}
