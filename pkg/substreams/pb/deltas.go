// Package pb holds the store delta messages exchanged with the host. They are encoded by hand
// with protowire and are wire compatible with sf.substreams.v1.StoreDelta and StoreDeltas.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type StoreDelta_Operation int32

const (
	StoreDelta_UNSET  StoreDelta_Operation = 0
	StoreDelta_CREATE StoreDelta_Operation = 1
	StoreDelta_UPDATE StoreDelta_Operation = 2
	StoreDelta_DELETE StoreDelta_Operation = 3
)

func (op StoreDelta_Operation) String() string {
	switch op {
	case StoreDelta_UNSET:
		return "UNSET"
	case StoreDelta_CREATE:
		return "CREATE"
	case StoreDelta_UPDATE:
		return "UPDATE"
	case StoreDelta_DELETE:
		return "DELETE"
	default:
		return fmt.Sprintf("StoreDelta_Operation(%d)", int32(op))
	}
}

const (
	deltaOperationField protowire.Number = 1
	deltaOrdinalField   protowire.Number = 2
	deltaKeyField       protowire.Number = 3
	deltaOldValueField  protowire.Number = 4
	deltaNewValueField  protowire.Number = 5

	deltasField protowire.Number = 1
)

type StoreDelta struct {
	Operation StoreDelta_Operation
	Ordinal   uint64
	Key       string
	OldValue  []byte
	NewValue  []byte
}

type StoreDeltas struct {
	Deltas []*StoreDelta
}

// Proto3 semantics: fields holding their zero value are not written.
func (delta *StoreDelta) AppendTo(b []byte) []byte {
	if delta.Operation != StoreDelta_UNSET {
		b = protowire.AppendTag(b, deltaOperationField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(delta.Operation))
	}
	if delta.Ordinal != 0 {
		b = protowire.AppendTag(b, deltaOrdinalField, protowire.VarintType)
		b = protowire.AppendVarint(b, delta.Ordinal)
	}
	if delta.Key != "" {
		b = protowire.AppendTag(b, deltaKeyField, protowire.BytesType)
		b = protowire.AppendString(b, delta.Key)
	}
	if len(delta.OldValue) > 0 {
		b = protowire.AppendTag(b, deltaOldValueField, protowire.BytesType)
		b = protowire.AppendBytes(b, delta.OldValue)
	}
	if len(delta.NewValue) > 0 {
		b = protowire.AppendTag(b, deltaNewValueField, protowire.BytesType)
		b = protowire.AppendBytes(b, delta.NewValue)
	}
	return b
}

func (delta *StoreDelta) Marshal() []byte {
	return delta.AppendTo(nil)
}

func (delta *StoreDelta) Unmarshal(b []byte) error {
	*delta = StoreDelta{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("store delta: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == deltaOperationField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("store delta: operation: %w", protowire.ParseError(n))
			}
			delta.Operation, b = StoreDelta_Operation(int32(v)), b[n:]
		case num == deltaOrdinalField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("store delta: ordinal: %w", protowire.ParseError(n))
			}
			delta.Ordinal, b = v, b[n:]
		case num == deltaKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("store delta: key: %w", protowire.ParseError(n))
			}
			delta.Key, b = v, b[n:]
		case num == deltaOldValueField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("store delta: old value: %w", protowire.ParseError(n))
			}
			delta.OldValue, b = append([]byte{}, v...), b[n:]
		case num == deltaNewValueField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("store delta: new value: %w", protowire.ParseError(n))
			}
			delta.NewValue, b = append([]byte{}, v...), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("store delta: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (deltas *StoreDeltas) Marshal() []byte {
	var b []byte
	for _, delta := range deltas.Deltas {
		b = protowire.AppendTag(b, deltasField, protowire.BytesType)
		b = protowire.AppendBytes(b, delta.Marshal())
	}
	return b
}

func (deltas *StoreDeltas) Unmarshal(b []byte) error {
	*deltas = StoreDeltas{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("store deltas: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num != deltasField || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("store deltas: field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("store deltas: delta %d: %w", len(deltas.Deltas), protowire.ParseError(n))
		}
		b = b[n:]

		delta := new(StoreDelta)
		if err := delta.Unmarshal(raw); err != nil {
			return fmt.Errorf("delta %d: %w", len(deltas.Deltas), err)
		}
		deltas.Deltas = append(deltas.Deltas, delta)
	}
	return nil
}
