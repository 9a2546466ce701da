// Package wasm holds the guest side view of linear memory: packed pointer/length values,
// the size tracking allocator backing the alloc/dealloc exports, and owned buffer handles.
package wasm

import (
	"encoding/binary"
	"errors"
)

// Ptr is an address in the guest's linear memory. Wasm32 addresses are 32 bits wide.
type Ptr uint32

// Buffer packs a pointer and a length into a single uint64: the address occupies the high 32 bits
// and the length the low 32 bits.
type Buffer uint64

func MakeBuffer(ptr Ptr, length uint32) Buffer {
	return Buffer(uint64(ptr)<<32 | uint64(length))
}

func (buffer Buffer) Address() Ptr {
	return Ptr(buffer >> 32)
}

func (buffer Buffer) Length() uint32 {
	return uint32(buffer)
}

// Slice returns a copy of the data referenced by the buffer.
// Once read, the underlying memory is safe to be freed.
func (buffer Buffer) Slice() []byte {
	if buffer.Length() == 0 {
		return []byte{}
	}
	return append([]byte{}, view(buffer.Address(), buffer.Length())...)
}

func (buffer Buffer) String() string {
	return string(buffer.Slice())
}

// FromSlice returns the buffer describing value without copying it.
// The caller must keep value reachable for as long as the buffer is used.
func FromSlice(value []byte) Buffer {
	if len(value) == 0 {
		return 0
	}
	return MakeBuffer(addressOf(value), uint32(len(value)))
}

// FromString is FromSlice for strings.
func FromString(value string) Buffer {
	if len(value) == 0 {
		return 0
	}
	return MakeBuffer(addressOfString(value), uint32(len(value)))
}

// ResultSlot is the 8 byte area the host fills with the (ptr, len) of a value it allocated
// through the guest's alloc export. Both words are little endian.
type ResultSlot [8]byte

func (slot *ResultSlot) Ptr() Ptr {
	return addressOf(slot[:])
}

func (slot *ResultSlot) Buffer() Buffer {
	return MakeBuffer(Ptr(binary.LittleEndian.Uint32(slot[0:4])), binary.LittleEndian.Uint32(slot[4:8]))
}

var (
	ErrUnknownPointer = errors.New("pointer was not allocated by this allocator")
	ErrSizeMismatch   = errors.New("deallocation size does not match allocation size")
	ErrLimitExceeded  = errors.New("allocation limit exceeded")
	ErrConsumed       = errors.New("buffer already consumed")
	ErrAlreadyPinned  = errors.New("memory is already pinned")
)
