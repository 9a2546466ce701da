package host

import (
	"fmt"

	"github.com/yokecd/substreams/pkg/substreams/pb"
)

// GetFirst returns the value written by the earliest write to key in the block.
// When key was not written in the block it is the value carried into the block.
func (store *Store) GetFirst(key string) ([]byte, bool) {
	for _, delta := range store.deltas {
		if delta.Key != key {
			continue
		}
		return store.after(delta)
	}
	value, found := store.kv[key]
	return value, found
}

func (store *Store) HasFirst(key string) bool {
	_, found := store.GetFirst(key)
	return found
}

// GetLast returns the latest known value of key.
func (store *Store) GetLast(key string) ([]byte, bool) {
	for i := len(store.deltas) - 1; i >= 0; i-- {
		if delta := store.deltas[i]; delta.Key == key {
			return store.after(delta)
		}
	}
	value, found := store.kv[key]
	return value, found
}

func (store *Store) HasLast(key string) bool {
	_, found := store.GetLast(key)
	return found
}

// GetAt returns the value of key once every delta with an ordinal up to and including ordinal
// has been applied. It starts from the latest value and rewinds the later deltas.
func (store *Store) GetAt(ordinal uint64, key string) ([]byte, bool) {
	value, found := store.GetLast(key)

	for i := len(store.deltas) - 1; i >= 0; i-- {
		delta := store.deltas[i]
		if delta.Ordinal <= ordinal {
			break
		}
		if delta.Key != key {
			continue
		}
		value, found = store.before(delta)
	}

	return value, found
}

func (store *Store) HasAt(ordinal uint64, key string) bool {
	_, found := store.GetAt(ordinal, key)
	return found
}

func (store *Store) after(delta *pb.StoreDelta) ([]byte, bool) {
	switch delta.Operation {
	case pb.StoreDelta_CREATE, pb.StoreDelta_UPDATE:
		return delta.NewValue, true
	case pb.StoreDelta_DELETE:
		return nil, false
	default:
		panic(fmt.Sprintf("store %q: invalid delta operation %s for key %q", store.config.Name, delta.Operation, delta.Key))
	}
}

func (store *Store) before(delta *pb.StoreDelta) ([]byte, bool) {
	switch delta.Operation {
	case pb.StoreDelta_UPDATE, pb.StoreDelta_DELETE:
		return delta.OldValue, true
	case pb.StoreDelta_CREATE:
		return nil, false
	default:
		panic(fmt.Sprintf("store %q: invalid delta operation %s for key %q", store.config.Name, delta.Operation, delta.Key))
	}
}
