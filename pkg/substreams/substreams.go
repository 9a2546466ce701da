// Package substreams is the module side runtime: it owns the alloc and dealloc exports,
// decodes the buffers the host passes to entry points, hands outputs back to the host,
// and reports fatal failures through the panic bridge.
//
// A typical entry point looks like:
//
//	//go:wasmexport map_transfers
//	func mapTransfers(blockPtr, blockLen uint32) {
//		defer substreams.Guard()
//		block := substreams.Decode[pb.Block](substreams.Input(blockPtr, blockLen))
//		...
//		substreams.Output(result)
//	}
package substreams

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/proto"

	"github.com/yokecd/substreams/internal/abi"
	"github.com/yokecd/substreams/internal/wasm"
)

// Input wraps an argument the host placed in module memory. The host keeps ownership of the
// memory and reclaims it after the call; the handle can be consumed once.
func Input(ptr, length uint32) *wasm.Owned {
	return wasm.Adopt(wasm.MakeBuffer(wasm.Ptr(ptr), length))
}

// Decode consumes owned and unmarshals it into a new M. Malformed bytes are fatal.
func Decode[T any, M interface {
	*T
	proto.Message
}](owned *wasm.Owned) M {
	data := Consume(owned)
	msg := M(new(T))
	if err := proto.Unmarshal(data, msg); err != nil {
		Fatalf("failed to decode %s: %v", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return msg
}

// DecodeString consumes owned as raw text, as used for module params.
func DecodeString(owned *wasm.Owned) string {
	return string(Consume(owned))
}

// Consume returns the bytes behind owned. Consuming a handle twice is fatal.
func Consume(owned *wasm.Owned) []byte {
	data, err := owned.Consume()
	if err != nil {
		Fatal(err)
	}
	return data
}

// Encode marshals msg into module memory and returns its location. The memory stays pinned
// until the host deallocates it, so the host can read it after the call returns.
func Encode(msg proto.Message) wasm.Buffer {
	data, err := proto.Marshal(msg)
	if err != nil {
		Fatalf("failed to encode %s: %v", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	return pin(data)
}

func pin(data []byte) wasm.Buffer {
	ptr, err := wasm.Default.Pin(data)
	if err != nil {
		Fatal(err)
	}
	return wasm.MakeBuffer(ptr, uint32(len(data)))
}

// Output encodes msg and hands it to the host as the result of the call.
func Output(msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		Fatalf("failed to encode output %s: %v", msg.ProtoReflect().Descriptor().FullName(), err)
	}
	output(data)
}

// OutputBytes hands a copy of data to the host as the result of the call, so the caller keeps
// ownership of data and may output it again.
func OutputBytes(data []byte) {
	output(slices.Clone(data))
}

func output(data []byte) {
	pin(data)
	abi.Current().Output(data)
}

// Logf writes a line to the host's log for this call.
func Logf(format string, args ...any) {
	abi.Current().Println(fmt.Sprintf(format, args...))
}
