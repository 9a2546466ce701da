// Package store provides typed access to the stores a module writes and reads.
//
// Writers come in one type per update policy and only expose the operations that policy allows.
// Readers and delta sequences decode the raw values the host returns through a Codec.
package store

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/yokecd/substreams/internal/abi"
	"github.com/yokecd/substreams/pkg/substreams"
)

// Codec converts between a typed value and the bytes kept by the host.
type Codec[T any] interface {
	Encode(T) []byte
	Decode([]byte) (T, error)
}

// Numeric is a Codec for one of the representations the host can merge: sums, minimums and maximums.
// It cannot be implemented outside of this package.
type Numeric[T any] interface {
	Codec[T]
	operand(T) abi.Operand
}

var (
	Bytes      Codec[[]byte]            = bytesCodec{}
	String     Codec[string]            = stringCodec{}
	Bool       Codec[bool]              = boolCodec{}
	Int64      Numeric[int64]           = int64Codec{}
	Float64    Numeric[float64]         = float64Codec{}
	BigInt     Numeric[*big.Int]        = bigIntCodec{}
	BigDecimal Numeric[decimal.Decimal] = bigDecimalCodec{}
)

type bytesCodec struct{}

func (bytesCodec) Encode(value []byte) []byte { return value }

func (bytesCodec) Decode(data []byte) ([]byte, error) { return data, nil }

type stringCodec struct{}

func (stringCodec) Encode(value string) []byte { return []byte(value) }

func (stringCodec) Decode(data []byte) (string, error) { return string(data), nil }

type boolCodec struct{}

func (boolCodec) Encode(value bool) []byte {
	if value {
		return []byte("1")
	}
	return []byte("0")
}

// Decode treats a value made only of zero bytes or '0' characters as false.
func (boolCodec) Decode(data []byte) (bool, error) {
	return len(bytes.Trim(data, "0\x00")) > 0, nil
}

type int64Codec struct{}

func (int64Codec) Encode(value int64) []byte { return strconv.AppendInt(nil, value, 10) }

func (int64Codec) Decode(data []byte) (int64, error) {
	return strconv.ParseInt(string(data), 10, 64)
}

func (int64Codec) operand(value int64) abi.Operand {
	return abi.Operand{Representation: abi.Int64, Int: value}
}

type float64Codec struct{}

func (float64Codec) Encode(value float64) []byte {
	return strconv.AppendFloat(nil, value, 'g', -1, 64)
}

func (float64Codec) Decode(data []byte) (float64, error) {
	return strconv.ParseFloat(string(data), 64)
}

func (float64Codec) operand(value float64) abi.Operand {
	return abi.Operand{Representation: abi.Float64, Float: value}
}

type bigIntCodec struct{}

func (bigIntCodec) Encode(value *big.Int) []byte {
	if value == nil {
		return []byte("0")
	}
	return []byte(value.String())
}

func (bigIntCodec) Decode(data []byte) (*big.Int, error) {
	value, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer %q", data)
	}
	return value, nil
}

func (codec bigIntCodec) operand(value *big.Int) abi.Operand {
	return abi.Operand{Representation: abi.BigInt, Text: string(codec.Encode(value))}
}

type bigDecimalCodec struct{}

func (bigDecimalCodec) Encode(value decimal.Decimal) []byte { return []byte(value.String()) }

func (bigDecimalCodec) Decode(data []byte) (decimal.Decimal, error) {
	return decimal.NewFromString(string(data))
}

func (bigDecimalCodec) operand(value decimal.Decimal) abi.Operand {
	return abi.Operand{Representation: abi.BigDecimal, Text: value.String()}
}

// Proto returns a Codec storing values as encoded protobuf messages of type M.
func Proto[T any, M interface {
	*T
	proto.Message
}]() Codec[M] {
	return protoCodec[T, M]{}
}

type protoCodec[T any, M interface {
	*T
	proto.Message
}] struct{}

func (protoCodec[T, M]) Encode(value M) []byte {
	data, err := proto.Marshal(value)
	if err != nil {
		substreams.Fatalf("failed to encode %s: %v", value.ProtoReflect().Descriptor().FullName(), err)
	}
	return data
}

func (protoCodec[T, M]) Decode(data []byte) (M, error) {
	msg := M(new(T))
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// encodeItem frames one item of an array store: the encoded value prefixed with its varint length,
// so that any byte sequence can be an item.
func encodeItem[T any](codec Codec[T], item T) []byte {
	return protowire.AppendBytes(nil, codec.Encode(item))
}

// DecodeItems splits an array store value into the items appended to it.
func DecodeItems[T any](codec Codec[T], data []byte) ([]T, error) {
	var items []T
	for len(data) > 0 {
		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("item %d: malformed length prefix: %w", len(items), protowire.ParseError(n))
		}
		data = data[n:]

		item, err := codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", len(items), err)
		}
		items = append(items, item)
	}
	return items, nil
}
