//go:build !wasip1

package wasm

import (
	"fmt"
	"sync"
	"unsafe"
)

// Outside of wasm the Go heap has 64 bit addresses that do not fit in a Ptr.
// Regions are instead given synthetic, 8 byte aligned addresses so that the allocator
// and buffer handles behave the same way natively as they do inside the guest.
var regions = struct {
	sync.Mutex
	next   Ptr
	byAddr map[Ptr][]byte
	byData map[unsafe.Pointer]Ptr
}{
	next:   1 << 16,
	byAddr: map[Ptr][]byte{},
	byData: map[unsafe.Pointer]Ptr{},
}

func addressOf(value []byte) Ptr {
	regions.Lock()
	defer regions.Unlock()

	data := unsafe.Pointer(unsafe.SliceData(value))
	if ptr, ok := regions.byData[data]; ok {
		if len(regions.byAddr[ptr]) < len(value) {
			regions.byAddr[ptr] = value
		}
		return ptr
	}

	ptr := regions.next
	regions.next += Ptr((len(value) + 7) &^ 7)
	if len(value) == 0 {
		regions.next += 8
	}
	regions.byAddr[ptr] = value
	regions.byData[data] = ptr
	return ptr
}

func addressOfString(value string) Ptr {
	return addressOf(unsafe.Slice(unsafe.StringData(value), len(value)))
}

func view(ptr Ptr, length uint32) []byte {
	regions.Lock()
	defer regions.Unlock()

	if region, ok := regions.byAddr[ptr]; ok && uint32(len(region)) >= length {
		return region[:length]
	}
	for base, region := range regions.byAddr {
		if ptr > base && uint64(ptr-base)+uint64(length) <= uint64(len(region)) {
			return region[ptr-base : uint32(ptr-base)+length]
		}
	}
	panic(fmt.Sprintf("wasm: no memory region of %d bytes at address %#x", length, ptr))
}

func forget(ptr Ptr) {
	regions.Lock()
	defer regions.Unlock()

	region, ok := regions.byAddr[ptr]
	if !ok {
		return
	}
	delete(regions.byAddr, ptr)
	delete(regions.byData, unsafe.Pointer(unsafe.SliceData(region)))
}
