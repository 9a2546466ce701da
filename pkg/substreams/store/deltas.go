package store

import (
	"fmt"
	"iter"
	"strings"

	"github.com/yokecd/substreams/internal/wasm"
	"github.com/yokecd/substreams/pkg/substreams"
	"github.com/yokecd/substreams/pkg/substreams/pb"
)

// Delta is one change applied to a store during the block. OldValue is the zero value for
// CREATE and NewValue is the zero value for DELETE.
type Delta[T any] struct {
	Operation pb.StoreDelta_Operation
	Ordinal   uint64
	Key       string
	OldValue  T
	NewValue  T
}

// Segment returns the i-th segment of the delta's key split on ':'.
func (delta Delta[T]) Segment(i int) (string, bool) {
	return Segment(delta.Key, i)
}

// Deltas is the read-only sequence of changes a dependency store went through in the block,
// in the order the host applied them.
type Deltas[T any] struct {
	deltas []Delta[T]
}

// NewDeltas decodes the delta list the host passed to an entry point.
// A malformed list, an undecodable value, or a list that is not sorted by ordinal is fatal.
func NewDeltas[T any](codec Codec[T], owned *wasm.Owned) *Deltas[T] {
	var raw pb.StoreDeltas
	if err := raw.Unmarshal(substreams.Consume(owned)); err != nil {
		substreams.Fatalf("failed to decode store deltas: %v", err)
	}

	deltas, err := FromRaw(codec, raw.Deltas)
	if err != nil {
		substreams.Fatal(err)
	}
	return deltas
}

// FromRaw builds a typed sequence out of decoded delta records.
func FromRaw[T any](codec Codec[T], raw []*pb.StoreDelta) (*Deltas[T], error) {
	deltas := make([]Delta[T], 0, len(raw))

	for i, delta := range raw {
		if i > 0 && delta.Ordinal < raw[i-1].Ordinal {
			return nil, fmt.Errorf("delta %d for key %q has ordinal %d lower than previous ordinal %d", i, delta.Key, delta.Ordinal, raw[i-1].Ordinal)
		}

		typed := Delta[T]{
			Operation: delta.Operation,
			Ordinal:   delta.Ordinal,
			Key:       delta.Key,
		}

		var err error
		switch delta.Operation {
		case pb.StoreDelta_CREATE:
			typed.NewValue, err = codec.Decode(delta.NewValue)
		case pb.StoreDelta_UPDATE:
			if typed.OldValue, err = codec.Decode(delta.OldValue); err == nil {
				typed.NewValue, err = codec.Decode(delta.NewValue)
			}
		case pb.StoreDelta_DELETE:
			typed.OldValue, err = codec.Decode(delta.OldValue)
		default:
			return nil, fmt.Errorf("delta %d for key %q has invalid operation %s", i, delta.Key, delta.Operation)
		}
		if err != nil {
			return nil, fmt.Errorf("delta %d for key %q: decoding value: %w", i, delta.Key, err)
		}

		deltas = append(deltas, typed)
	}

	return &Deltas[T]{deltas: deltas}, nil
}

func (deltas *Deltas[T]) Len() int {
	return len(deltas.deltas)
}

func (deltas *Deltas[T]) At(i int) Delta[T] {
	return deltas.deltas[i]
}

// All yields the deltas in ordinal order.
func (deltas *Deltas[T]) All() iter.Seq2[int, Delta[T]] {
	return func(yield func(int, Delta[T]) bool) {
		for i, delta := range deltas.deltas {
			if !yield(i, delta) {
				return
			}
		}
	}
}

func (deltas *Deltas[T]) ForKey(key string) iter.Seq[Delta[T]] {
	return deltas.filter(func(delta Delta[T]) bool { return delta.Key == key })
}

func (deltas *Deltas[T]) WithPrefix(prefix string) iter.Seq[Delta[T]] {
	return deltas.filter(func(delta Delta[T]) bool { return strings.HasPrefix(delta.Key, prefix) })
}

func (deltas *Deltas[T]) filter(match func(Delta[T]) bool) iter.Seq[Delta[T]] {
	return func(yield func(Delta[T]) bool) {
		for _, delta := range deltas.deltas {
			if match(delta) && !yield(delta) {
				return
			}
		}
	}
}
