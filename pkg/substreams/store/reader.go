package store

import (
	"github.com/yokecd/substreams/internal/abi"
	"github.com/yokecd/substreams/pkg/substreams"
)

// Reader reads one of the call's input stores, identified by the index the host passed
// to the entry point. A missing key is reported by the boolean result; a value that does
// not decode is fatal.
type Reader[T any] struct {
	store uint32
	codec Codec[T]
}

func NewReader[T any](store uint32, codec Codec[T]) *Reader[T] {
	return &Reader[T]{store: store, codec: codec}
}

// GetAt returns the value of key once every write with an ordinal up to and including ordinal is applied.
func (reader *Reader[T]) GetAt(ordinal uint64, key string) (T, bool) {
	return reader.get(abi.At(ordinal), key)
}

// GetFirst returns the value of key as set by its earliest write in the block,
// or the value carried into the block when it was not written.
func (reader *Reader[T]) GetFirst(key string) (T, bool) {
	return reader.get(abi.First, key)
}

// GetLast returns the latest known value of key.
func (reader *Reader[T]) GetLast(key string) (T, bool) {
	return reader.get(abi.Last, key)
}

func (reader *Reader[T]) HasAt(ordinal uint64, key string) bool {
	return abi.Current().Has(reader.store, abi.At(ordinal), key)
}

func (reader *Reader[T]) HasFirst(key string) bool {
	return abi.Current().Has(reader.store, abi.First, key)
}

func (reader *Reader[T]) HasLast(key string) bool {
	return abi.Current().Has(reader.store, abi.Last, key)
}

func (reader *Reader[T]) get(query abi.Query, key string) (T, bool) {
	var zero T

	data, ok := abi.Current().Get(reader.store, query, key)
	if !ok {
		return zero, false
	}

	value, err := reader.codec.Decode(data)
	if err != nil {
		substreams.Fatalf("store %d: decoding value of key %q read %s: %v", reader.store, key, query, err)
	}
	return value, true
}

// ArrayReader reads a store written through ArrayStore, splitting each value into its items.
type ArrayReader[T any] struct {
	raw   *Reader[[]byte]
	codec Codec[T]
}

func NewArrayReader[T any](store uint32, codec Codec[T]) *ArrayReader[T] {
	return &ArrayReader[T]{raw: NewReader(store, Bytes), codec: codec}
}

func (reader *ArrayReader[T]) GetAt(ordinal uint64, key string) ([]T, bool) {
	return reader.items(reader.raw.GetAt(ordinal, key))
}

func (reader *ArrayReader[T]) GetFirst(key string) ([]T, bool) {
	return reader.items(reader.raw.GetFirst(key))
}

func (reader *ArrayReader[T]) GetLast(key string) ([]T, bool) {
	return reader.items(reader.raw.GetLast(key))
}

func (reader *ArrayReader[T]) items(data []byte, ok bool) ([]T, bool) {
	if !ok {
		return nil, false
	}
	items, err := DecodeItems(reader.codec, data)
	if err != nil {
		substreams.Fatalf("store %d: decoding appended items: %v", reader.raw.store, err)
	}
	return items, true
}
