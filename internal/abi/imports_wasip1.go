//go:build wasip1

package abi

import (
	"fmt"
	"runtime"

	"github.com/yokecd/substreams/internal/wasm"
)

//go:wasmimport env output
func output(ptr, length uint32)

//go:wasmimport env register_panic
func registerPanic(msgPtr, msgLen, filePtr, fileLen, line, column uint32)

//go:wasmimport logger println
func hostPrintln(ptr, length uint32)

//go:wasmimport state set
func set(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state set_if_not_exists
func setIfNotExists(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state append
func appendValue(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state delete_prefix
func deletePrefix(ordinal int64, prefixPtr, prefixLen uint32)

//go:wasmimport state add_int64
func addInt64(ordinal int64, keyPtr, keyLen uint32, value int64)

//go:wasmimport state add_float64
func addFloat64(ordinal int64, keyPtr, keyLen uint32, value float64)

//go:wasmimport state add_bigint
func addBigInt(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state add_bigdecimal
func addBigDecimal(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state set_min_int64
func setMinInt64(ordinal int64, keyPtr, keyLen uint32, value int64)

//go:wasmimport state set_min_float64
func setMinFloat64(ordinal int64, keyPtr, keyLen uint32, value float64)

//go:wasmimport state set_min_bigint
func setMinBigInt(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state set_min_bigdecimal
func setMinBigDecimal(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state set_max_int64
func setMaxInt64(ordinal int64, keyPtr, keyLen uint32, value int64)

//go:wasmimport state set_max_float64
func setMaxFloat64(ordinal int64, keyPtr, keyLen uint32, value float64)

//go:wasmimport state set_max_bigint
func setMaxBigInt(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state set_max_bigdecimal
func setMaxBigDecimal(ordinal int64, keyPtr, keyLen, valuePtr, valueLen uint32)

//go:wasmimport state get_at
func getAt(store uint32, ordinal int64, keyPtr, keyLen, outPtr uint32) uint32

//go:wasmimport state get_first
func getFirst(store, keyPtr, keyLen, outPtr uint32) uint32

//go:wasmimport state get_last
func getLast(store, keyPtr, keyLen, outPtr uint32) uint32

//go:wasmimport state has_at
func hasAt(store uint32, ordinal int64, keyPtr, keyLen uint32) uint32

//go:wasmimport state has_first
func hasFirst(store, keyPtr, keyLen uint32) uint32

//go:wasmimport state has_last
func hasLast(store, keyPtr, keyLen uint32) uint32

type importHost struct{}

func imported() Host { return importHost{} }

func split(buffer wasm.Buffer) (uint32, uint32) {
	return uint32(buffer.Address()), buffer.Length()
}

func (importHost) Output(data []byte) {
	ptr, length := split(wasm.FromSlice(data))
	output(ptr, length)
	runtime.KeepAlive(data)
}

func (importHost) RegisterPanic(report Panic) {
	msgPtr, msgLen := split(wasm.FromString(report.Message))
	filePtr, fileLen := split(wasm.FromString(report.File))
	registerPanic(msgPtr, msgLen, filePtr, fileLen, report.Line, report.Column)
	runtime.KeepAlive(report)
}

func (importHost) Println(message string) {
	ptr, length := split(wasm.FromString(message))
	hostPrintln(ptr, length)
	runtime.KeepAlive(message)
}

func (importHost) Write(op WriteOp, ordinal uint64, key string, value []byte) {
	keyPtr, keyLen := split(wasm.FromString(key))
	valuePtr, valueLen := split(wasm.FromSlice(value))

	switch op {
	case WriteSet:
		set(int64(ordinal), keyPtr, keyLen, valuePtr, valueLen)
	case WriteSetIfNotExists:
		setIfNotExists(int64(ordinal), keyPtr, keyLen, valuePtr, valueLen)
	case WriteAppend:
		appendValue(int64(ordinal), keyPtr, keyLen, valuePtr, valueLen)
	default:
		panic(fmt.Sprintf("abi: unknown write operation %s", op))
	}

	runtime.KeepAlive(key)
	runtime.KeepAlive(value)
}

func (importHost) DeletePrefix(ordinal uint64, prefix string) {
	ptr, length := split(wasm.FromString(prefix))
	deletePrefix(int64(ordinal), ptr, length)
	runtime.KeepAlive(prefix)
}

type (
	scalarInt   func(int64, uint32, uint32, int64)
	scalarFloat func(int64, uint32, uint32, float64)
	decimalText func(int64, uint32, uint32, uint32, uint32)
)

var mergeImports = [3]struct {
	ints        scalarInt
	floats      scalarFloat
	bigInts     decimalText
	bigDecimals decimalText
}{
	MergeAdd: {addInt64, addFloat64, addBigInt, addBigDecimal},
	MergeMin: {setMinInt64, setMinFloat64, setMinBigInt, setMinBigDecimal},
	MergeMax: {setMaxInt64, setMaxFloat64, setMaxBigInt, setMaxBigDecimal},
}

func (importHost) Merge(op MergeOp, ordinal uint64, key string, operand Operand) {
	if int(op) >= len(mergeImports) {
		panic(fmt.Sprintf("abi: unknown merge operation %s", op))
	}
	imports := mergeImports[op]
	keyPtr, keyLen := split(wasm.FromString(key))

	switch operand.Representation {
	case Int64:
		imports.ints(int64(ordinal), keyPtr, keyLen, operand.Int)
	case Float64:
		imports.floats(int64(ordinal), keyPtr, keyLen, operand.Float)
	case BigInt, BigDecimal:
		call := imports.bigInts
		if operand.Representation == BigDecimal {
			call = imports.bigDecimals
		}
		valuePtr, valueLen := split(wasm.FromString(operand.Text))
		call(int64(ordinal), keyPtr, keyLen, valuePtr, valueLen)
		runtime.KeepAlive(operand.Text)
	default:
		panic(fmt.Sprintf("abi: unknown representation %s", operand.Representation))
	}

	runtime.KeepAlive(key)
}

func (importHost) Get(store uint32, query Query, key string) ([]byte, bool) {
	keyPtr, keyLen := split(wasm.FromString(key))
	slot := new(wasm.ResultSlot)
	out := uint32(slot.Ptr())

	var found uint32
	switch query.Kind {
	case QueryAt:
		found = getAt(store, int64(query.Ordinal), keyPtr, keyLen, out)
	case QueryFirst:
		found = getFirst(store, keyPtr, keyLen, out)
	case QueryLast:
		found = getLast(store, keyPtr, keyLen, out)
	default:
		panic(fmt.Sprintf("abi: unknown query %s", query))
	}
	runtime.KeepAlive(key)

	if found == 0 {
		return nil, false
	}

	// The host allocated the value through the alloc export; the module owns it from here.
	value, err := wasm.Take(wasm.Default, slot.Buffer()).Consume()
	if err != nil {
		panic(fmt.Sprintf("abi: reading %s value for key %q: %v", query, key, err))
	}
	return value, true
}

func (importHost) Has(store uint32, query Query, key string) bool {
	keyPtr, keyLen := split(wasm.FromString(key))

	var found uint32
	switch query.Kind {
	case QueryAt:
		found = hasAt(store, int64(query.Ordinal), keyPtr, keyLen)
	case QueryFirst:
		found = hasFirst(store, keyPtr, keyLen)
	case QueryLast:
		found = hasLast(store, keyPtr, keyLen)
	default:
		panic(fmt.Sprintf("abi: unknown query %s", query))
	}
	runtime.KeepAlive(key)

	return found != 0
}
