// Package host is an in-process implementation of the host side of the module ABI.
// It keeps stores with their per block delta history, answers ordinal queries,
// and records everything a single call emits.
package host

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/yokecd/substreams/pkg/substreams/pb"
)

type Policy int

const (
	PolicySet Policy = iota
	PolicySetIfNotExists
	PolicyAppend
	PolicyAdd
	PolicyMin
	PolicyMax
)

var policyNames = map[Policy]string{
	PolicySet:            "set",
	PolicySetIfNotExists: "set_if_not_exists",
	PolicyAppend:         "append",
	PolicyAdd:            "add",
	PolicyMin:            "min",
	PolicyMax:            "max",
}

func (policy Policy) String() string {
	if name, ok := policyNames[policy]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(policy))
}

func ParsePolicy(value string) (Policy, error) {
	for policy, name := range policyNames {
		if name == value {
			return policy, nil
		}
	}
	return 0, fmt.Errorf("unknown update policy %q", value)
}

func (policy *Policy) UnmarshalText(text []byte) (err error) {
	*policy, err = ParsePolicy(string(text))
	return
}

const (
	DefaultItemSizeLimit  = 10 * 1024 * 1024
	DefaultTotalSizeLimit = 1024 * 1024 * 1024

	reservedPrefix = "__!__"
)

type StoreConfig struct {
	Name      string
	Policy    Policy
	ValueType string

	ItemSizeLimit  uint64
	TotalSizeLimit uint64
}

// Store is the host's view of one store: its current key/value state and the deltas
// produced in the current block. The state always has every delta applied to it.
type Store struct {
	config      StoreConfig
	kv          map[string][]byte
	deltas      []*pb.StoreDelta
	lastOrdinal uint64
	totalSize   uint64
}

func NewStore(config StoreConfig) *Store {
	config.ItemSizeLimit = cmp.Or(config.ItemSizeLimit, DefaultItemSizeLimit)
	config.TotalSizeLimit = cmp.Or(config.TotalSizeLimit, DefaultTotalSizeLimit)
	return &Store{config: config, kv: map[string][]byte{}}
}

func (store *Store) Name() string { return store.config.Name }

func (store *Store) Policy() Policy { return store.config.Policy }

func (store *Store) ValueType() string { return store.config.ValueType }

func (store *Store) String() string {
	return fmt.Sprintf("%q (%s %s)", store.config.Name, store.config.Policy, store.config.ValueType)
}

func (store *Store) bumpOrdinal(ordinal uint64) {
	if ordinal < store.lastOrdinal {
		panic(fmt.Sprintf("store %q: ordinal %d is lower than the last applied ordinal %d", store.config.Name, ordinal, store.lastOrdinal))
	}
	store.lastOrdinal = ordinal
}

func (store *Store) checkKey(key string) {
	if len(key) == 0 {
		panic(fmt.Sprintf("store %q: key must be at least one character", store.config.Name))
	}
	if key[0] == 0xFF {
		panic(fmt.Sprintf("store %q: key %q must not start with 0xFF", store.config.Name, key))
	}
	if strings.HasPrefix(key, reservedPrefix) {
		panic(fmt.Sprintf("store %q: key prefix %s is reserved", store.config.Name, reservedPrefix))
	}
}

func (store *Store) Set(ordinal uint64, key string, value []byte) {
	store.checkKey(key)
	if uint64(len(value)) > store.config.ItemSizeLimit {
		panic(fmt.Sprintf("store %q: key %q attempted to write %d bytes (capped at %d)", store.config.Name, key, len(value), store.config.ItemSizeLimit))
	}

	store.bumpOrdinal(ordinal)

	delta := &pb.StoreDelta{
		Operation: pb.StoreDelta_CREATE,
		Ordinal:   ordinal,
		Key:       key,
		NewValue:  slices.Clone(value),
	}
	if previous, found := store.GetLast(key); found {
		delta.Operation = pb.StoreDelta_UPDATE
		delta.OldValue = previous
	}

	store.apply(delta)
}

// SetIfNotExists writes value only when key has no value yet. A skipped write produces no delta.
func (store *Store) SetIfNotExists(ordinal uint64, key string, value []byte) {
	if _, found := store.GetLast(key); found {
		return
	}
	store.Set(ordinal, key, value)
}

// Append concatenates value onto the current value of key.
func (store *Store) Append(ordinal uint64, key string, value []byte) {
	previous, _ := store.GetLast(key)
	store.Set(ordinal, key, append(slices.Clip(previous), value...))
}

// DeletePrefix deletes every key starting with prefix, visiting keys in lexicographic order.
func (store *Store) DeletePrefix(ordinal uint64, prefix string) {
	store.bumpOrdinal(ordinal)

	for _, key := range slices.Sorted(maps.Keys(store.kv)) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		store.apply(&pb.StoreDelta{
			Operation: pb.StoreDelta_DELETE,
			Ordinal:   ordinal,
			Key:       key,
			OldValue:  store.kv[key],
		})
	}
}

func (store *Store) apply(delta *pb.StoreDelta) {
	store.applyDelta(delta)
	store.deltas = append(store.deltas, delta)
}

func (store *Store) applyDelta(delta *pb.StoreDelta) {
	size := store.totalSize

	switch delta.Operation {
	case pb.StoreDelta_CREATE:
		size += uint64(len(delta.Key) + len(delta.NewValue))
	case pb.StoreDelta_UPDATE:
		size = size + uint64(len(delta.NewValue)) - uint64(len(delta.OldValue))
	case pb.StoreDelta_DELETE:
		size -= uint64(len(delta.Key) + len(delta.OldValue))
	default:
		panic(fmt.Sprintf("store %q: invalid delta operation %s for key %q", store.config.Name, delta.Operation, delta.Key))
	}

	if delta.Operation != pb.StoreDelta_DELETE && size > store.config.TotalSizeLimit {
		panic(fmt.Sprintf("store %q became too big at %d bytes, maximum size: %d", store.config.Name, size, store.config.TotalSizeLimit))
	}

	store.totalSize = size
	if delta.Operation == pb.StoreDelta_DELETE {
		delete(store.kv, delta.Key)
	} else {
		store.kv[delta.Key] = delta.NewValue
	}
}

// Checkpoint marks a point in the block that Rollback can return to.
type Checkpoint struct {
	deltas      int
	lastOrdinal uint64
}

func (store *Store) Checkpoint() Checkpoint {
	return Checkpoint{deltas: len(store.deltas), lastOrdinal: store.lastOrdinal}
}

// Rollback undoes every delta applied since checkpoint, newest first, and restores the ordinal.
func (store *Store) Rollback(checkpoint Checkpoint) {
	for i := len(store.deltas) - 1; i >= checkpoint.deltas; i-- {
		delta := store.deltas[i]
		switch delta.Operation {
		case pb.StoreDelta_CREATE:
			delete(store.kv, delta.Key)
			store.totalSize -= uint64(len(delta.Key) + len(delta.NewValue))
		case pb.StoreDelta_UPDATE:
			store.kv[delta.Key] = delta.OldValue
			store.totalSize = store.totalSize + uint64(len(delta.OldValue)) - uint64(len(delta.NewValue))
		case pb.StoreDelta_DELETE:
			store.kv[delta.Key] = delta.OldValue
			store.totalSize += uint64(len(delta.Key) + len(delta.OldValue))
		}
	}
	store.deltas = store.deltas[:min(checkpoint.deltas, len(store.deltas))]
	store.lastOrdinal = checkpoint.lastOrdinal
}

// SetDeltas replays the deltas another instance of this store produced in the block.
func (store *Store) SetDeltas(deltas []*pb.StoreDelta) {
	for _, delta := range deltas {
		store.checkKey(delta.Key)
		store.bumpOrdinal(delta.Ordinal)
		store.apply(delta)
	}
}

// Deltas returns the deltas produced in the current block, in the order they were applied.
func (store *Store) Deltas() []*pb.StoreDelta {
	return slices.Clone(store.deltas)
}

// Flush ends the block: the state is kept, the delta history and ordinal are reset.
func (store *Store) Flush() {
	store.deltas = nil
	store.lastOrdinal = 0
}

func (store *Store) Length() int {
	return len(store.kv)
}

func (store *Store) SizeBytes() uint64 {
	return store.totalSize
}

// Keys returns the keys of the current state in lexicographic order.
func (store *Store) Keys() []string {
	return slices.Sorted(maps.Keys(store.kv))
}
