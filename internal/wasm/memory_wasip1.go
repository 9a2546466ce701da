//go:build wasip1

package wasm

import "unsafe"

func addressOf(value []byte) Ptr {
	return Ptr(uintptr(unsafe.Pointer(unsafe.SliceData(value))))
}

func addressOfString(value string) Ptr {
	return Ptr(uintptr(unsafe.Pointer(unsafe.StringData(value))))
}

func view(ptr Ptr, length uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func forget(Ptr) {}
