package store

import (
	"github.com/yokecd/substreams/internal/abi"
	"github.com/yokecd/substreams/pkg/substreams"
)

// writer is shared by every policy. It tracks the last ordinal written so that
// out of order writes fail in the module rather than corrupting the host's ordering.
type writer struct {
	ordinal uint64
}

func (w *writer) bump(ordinal uint64) {
	if ordinal < w.ordinal {
		substreams.Fatalf("store write at ordinal %d after a write at ordinal %d: ordinals must be non-decreasing", ordinal, w.ordinal)
	}
	w.ordinal = ordinal
}

// DeletePrefix removes every key starting with prefix as of ordinal.
func (w *writer) DeletePrefix(ordinal uint64, prefix string) {
	w.bump(ordinal)
	abi.Current().DeletePrefix(ordinal, prefix)
}

// SetStore is the writer for stores with the set policy: the last write wins.
type SetStore[T any] struct {
	writer
	codec Codec[T]
}

func NewSet[T any](codec Codec[T]) *SetStore[T] {
	return &SetStore[T]{codec: codec}
}

func (store *SetStore[T]) Set(ordinal uint64, key string, value T) {
	store.bump(ordinal)
	abi.Current().Write(abi.WriteSet, ordinal, key, store.codec.Encode(value))
}

func (store *SetStore[T]) SetMany(ordinal uint64, keys []string, value T) {
	store.bump(ordinal)
	data := store.codec.Encode(value)
	for _, key := range keys {
		abi.Current().Write(abi.WriteSet, ordinal, key, data)
	}
}

// SetIfNotExistsStore is the writer for stores with the set_if_not_exists policy:
// the first write to a key wins and later ones are ignored by the host.
type SetIfNotExistsStore[T any] struct {
	writer
	codec Codec[T]
}

func NewSetIfNotExists[T any](codec Codec[T]) *SetIfNotExistsStore[T] {
	return &SetIfNotExistsStore[T]{codec: codec}
}

func (store *SetIfNotExistsStore[T]) SetIfNotExists(ordinal uint64, key string, value T) {
	store.bump(ordinal)
	abi.Current().Write(abi.WriteSetIfNotExists, ordinal, key, store.codec.Encode(value))
}

func (store *SetIfNotExistsStore[T]) SetIfNotExistsMany(ordinal uint64, keys []string, value T) {
	store.bump(ordinal)
	data := store.codec.Encode(value)
	for _, key := range keys {
		abi.Current().Write(abi.WriteSetIfNotExists, ordinal, key, data)
	}
}

// AppendStore is the writer for stores with the append policy. The host concatenates the
// encoded values of every write to a key as they are, with no framing.
type AppendStore[T any] struct {
	writer
	codec Codec[T]
}

func NewAppend[T any](codec Codec[T]) *AppendStore[T] {
	return &AppendStore[T]{codec: codec}
}

func (store *AppendStore[T]) Append(ordinal uint64, key string, value T) {
	store.bump(ordinal)
	abi.Current().Write(abi.WriteAppend, ordinal, key, store.codec.Encode(value))
}

// AppendAll appends the encoded values back to back in a single host call.
func (store *AppendStore[T]) AppendAll(ordinal uint64, key string, values []T) {
	if len(values) == 0 {
		return
	}
	store.bump(ordinal)

	var data []byte
	for _, value := range values {
		data = append(data, store.codec.Encode(value)...)
	}
	abi.Current().Write(abi.WriteAppend, ordinal, key, data)
}

// ArrayStore writes to an append policy store one item at a time, each item prefixed with its
// length so that ArrayReader can split the value back into items.
type ArrayStore[T any] struct {
	writer
	codec Codec[T]
}

func NewArray[T any](codec Codec[T]) *ArrayStore[T] {
	return &ArrayStore[T]{codec: codec}
}

func (store *ArrayStore[T]) Append(ordinal uint64, key string, item T) {
	store.bump(ordinal)
	abi.Current().Write(abi.WriteAppend, ordinal, key, encodeItem(store.codec, item))
}

// AppendAll appends items in a single host call.
func (store *ArrayStore[T]) AppendAll(ordinal uint64, key string, items []T) {
	if len(items) == 0 {
		return
	}
	store.bump(ordinal)

	var data []byte
	for _, item := range items {
		data = append(data, encodeItem(store.codec, item)...)
	}
	abi.Current().Write(abi.WriteAppend, ordinal, key, data)
}

// AddStore is the writer for stores with the add policy: the host sums every write to a key.
type AddStore[T any] struct {
	writer
	numeric Numeric[T]
}

func NewAdd[T any](numeric Numeric[T]) *AddStore[T] {
	return &AddStore[T]{numeric: numeric}
}

func (store *AddStore[T]) Add(ordinal uint64, key string, value T) {
	store.bump(ordinal)
	abi.Current().Merge(abi.MergeAdd, ordinal, key, store.numeric.operand(value))
}

func (store *AddStore[T]) AddMany(ordinal uint64, keys []string, value T) {
	store.bump(ordinal)
	operand := store.numeric.operand(value)
	for _, key := range keys {
		abi.Current().Merge(abi.MergeAdd, ordinal, key, operand)
	}
}

// MinStore is the writer for stores with the min policy: the host keeps the lowest value written.
type MinStore[T any] struct {
	writer
	numeric Numeric[T]
}

func NewMin[T any](numeric Numeric[T]) *MinStore[T] {
	return &MinStore[T]{numeric: numeric}
}

func (store *MinStore[T]) Min(ordinal uint64, key string, value T) {
	store.bump(ordinal)
	abi.Current().Merge(abi.MergeMin, ordinal, key, store.numeric.operand(value))
}

// MaxStore is the writer for stores with the max policy: the host keeps the highest value written.
type MaxStore[T any] struct {
	writer
	numeric Numeric[T]
}

func NewMax[T any](numeric Numeric[T]) *MaxStore[T] {
	return &MaxStore[T]{numeric: numeric}
}

func (store *MaxStore[T]) Max(ordinal uint64, key string, value T) {
	store.bump(ordinal)
	abi.Current().Merge(abi.MergeMax, ordinal, key, store.numeric.operand(value))
}
