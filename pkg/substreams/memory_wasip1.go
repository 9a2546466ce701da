//go:build wasip1

package substreams

import "github.com/yokecd/substreams/internal/wasm"

//go:wasmexport alloc
func alloc(size uint32) uint32 {
	ptr, err := wasm.Default.Allocate(size)
	if err != nil {
		Fatal(err)
	}
	return uint32(ptr)
}

//go:wasmexport dealloc
func dealloc(ptr, size uint32) {
	if err := wasm.Default.Deallocate(wasm.Ptr(ptr), size); err != nil {
		Fatal(err)
	}
}
