package store_test

import (
	"math/big"
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yokecd/substreams/internal/abi"
	"github.com/yokecd/substreams/internal/host"
	"github.com/yokecd/substreams/internal/wasm"
	"github.com/yokecd/substreams/pkg/substreams"
	"github.com/yokecd/substreams/pkg/substreams/pb"
	"github.com/yokecd/substreams/pkg/substreams/store"
)

// bindStore makes a single host store both the output of the call and its first input,
// so that tests can read back what they write.
func bindStore(t *testing.T, policy host.Policy, valueType string) *host.Store {
	t.Helper()
	substreams.RegisterPanicHook()

	hostStore := host.NewStore(host.StoreConfig{Name: t.Name(), Policy: policy, ValueType: valueType})
	t.Cleanup(abi.Use(host.NewCall(t.Name(), hostStore, hostStore)))

	return hostStore
}

func recoverFailure(fn func()) (failure *substreams.Failure) {
	defer func() {
		failure, _ = recover().(*substreams.Failure)
	}()
	defer substreams.Guard()
	fn()
	return nil
}

func TestGetAtFollowsOrdinals(t *testing.T) {
	bindStore(t, host.PolicySet, "string")

	writer := store.NewSet(store.String)
	reader := store.NewReader(0, store.String)

	ordinals := []uint64{10, 20, 20, 35}
	for i, ordinal := range ordinals {
		writer.Set(ordinal, "x", string(rune('a'+i)))
	}

	cases := []struct {
		Ordinal  uint64
		Expected string
		Found    bool
	}{
		{Ordinal: 0, Found: false},
		{Ordinal: 10, Expected: "a", Found: true},
		{Ordinal: 19, Expected: "a", Found: true},
		{Ordinal: 20, Expected: "c", Found: true},
		{Ordinal: 34, Expected: "c", Found: true},
		{Ordinal: 35, Expected: "d", Found: true},
		{Ordinal: 1000, Expected: "d", Found: true},
	}

	for _, tc := range cases {
		value, found := reader.GetAt(tc.Ordinal, "x")
		require.Equal(t, tc.Found, found, "ordinal %d", tc.Ordinal)
		require.Equal(t, tc.Expected, value, "ordinal %d", tc.Ordinal)
		require.Equal(t, tc.Found, reader.HasAt(tc.Ordinal, "x"), "ordinal %d", tc.Ordinal)
	}

	first, _ := reader.GetFirst("x")
	require.Equal(t, "a", first)

	last, _ := reader.GetLast("x")
	require.Equal(t, "d", last)

	_, found := reader.GetLast("missing")
	require.False(t, found)
	require.False(t, reader.HasFirst("missing"))
	require.True(t, reader.HasLast("x"))
}

func TestSetIfNotExistsIsIdempotent(t *testing.T) {
	bindStore(t, host.PolicySetIfNotExists, "string")

	writer := store.NewSetIfNotExists(store.String)
	writer.SetIfNotExists(1, "k", "v1")
	writer.SetIfNotExists(2, "k", "v2")
	writer.SetIfNotExistsMany(3, []string{"k", "other"}, "v3")

	reader := store.NewReader(0, store.String)

	value, _ := reader.GetLast("k")
	require.Equal(t, "v1", value)

	value, _ = reader.GetLast("other")
	require.Equal(t, "v3", value)
}

func TestAddIsCommutative(t *testing.T) {
	bindStore(t, host.PolicyAdd, "int64")

	writer := store.NewAdd(store.Int64)
	reader := store.NewReader(0, store.Int64)

	writer.Add(1, "k", 5)
	_, _ = reader.GetLast("k")
	writer.Add(2, "k", 3)

	sum, found := reader.GetLast("k")
	require.True(t, found)
	require.Equal(t, int64(8), sum)

	writer.AddMany(3, []string{"k", "j"}, -1)

	sum, _ = reader.GetLast("k")
	require.Equal(t, int64(7), sum)
	sum, _ = reader.GetLast("j")
	require.Equal(t, int64(-1), sum)
}

func TestAddBigInt(t *testing.T) {
	bindStore(t, host.PolicyAdd, "bigint")

	writer := store.NewAdd(store.BigInt)
	reader := store.NewReader(0, store.BigInt)

	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	writer.Add(1, "supply", huge)
	writer.Add(2, "supply", big.NewInt(-456))

	value, found := reader.GetLast("supply")
	require.True(t, found)
	require.Equal(t, "340282366920938463463374607431768211000", value.String())
}

func TestAddBigDecimal(t *testing.T) {
	bindStore(t, host.PolicyAdd, "bigdecimal")

	writer := store.NewAdd(store.BigDecimal)
	reader := store.NewReader(0, store.BigDecimal)

	writer.Add(1, "volume", decimal.RequireFromString("0.1"))
	writer.Add(2, "volume", decimal.RequireFromString("0.2"))

	value, _ := reader.GetLast("volume")
	require.True(t, value.Equal(decimal.RequireFromString("0.3")), value.String())
}

func TestMinMaxConverge(t *testing.T) {
	t.Run("max", func(t *testing.T) {
		bindStore(t, host.PolicyMax, "int64")

		writer := store.NewMax(store.Int64)
		writer.Max(1, "k", 10)
		writer.Max(2, "k", 3)
		writer.Max(3, "k", 17)

		value, _ := store.NewReader(0, store.Int64).GetLast("k")
		require.Equal(t, int64(17), value)
	})

	t.Run("min", func(t *testing.T) {
		bindStore(t, host.PolicyMin, "float64")

		writer := store.NewMin(store.Float64)
		writer.Min(1, "k", 10)
		writer.Min(2, "k", 3.5)
		writer.Min(3, "k", 17)

		reader := store.NewReader(0, store.Float64)

		value, _ := reader.GetLast("k")
		require.Equal(t, 3.5, value)

		value, _ = reader.GetAt(1, "k")
		require.Equal(t, float64(10), value)
	})
}

func TestDecreasingOrdinalIsFatal(t *testing.T) {
	bindStore(t, host.PolicySet, "string")

	writer := store.NewSet(store.String)
	writer.Set(10, "k", "v")

	failure := recoverFailure(func() { writer.Set(9, "k", "v") })
	require.NotNil(t, failure)
	require.Equal(t, "store write at ordinal 9 after a write at ordinal 10: ordinals must be non-decreasing", failure.Message)
}

func TestUndecodableValueIsFatal(t *testing.T) {
	bindStore(t, host.PolicySet, "string")

	store.NewSet(store.String).Set(1, "k", "not a number")

	failure := recoverFailure(func() { store.NewReader(0, store.Int64).GetLast("k") })
	require.NotNil(t, failure)
	require.Contains(t, failure.Message, `decoding value of key "k" read last`)
}

func TestDeletePrefix(t *testing.T) {
	bindStore(t, host.PolicySet, "int64")

	writer := store.NewSet(store.Int64)
	writer.SetMany(1, []string{"pool:a", "pool:b", "token:a"}, 1)
	writer.DeletePrefix(2, "pool:")

	reader := store.NewReader(0, store.Int64)
	require.False(t, reader.HasLast("pool:a"))
	require.True(t, reader.HasAt(1, "pool:b"))
	require.True(t, reader.HasLast("token:a"))
}

func TestAppendConcatenatesRawValues(t *testing.T) {
	hostStore := bindStore(t, host.PolicyAppend, "bytes")

	writer := store.NewAppend(store.Bytes)
	writer.Append(1, "k", []byte("a;b"))
	writer.AppendAll(2, "k", [][]byte{[]byte(";"), []byte("c")})
	writer.AppendAll(3, "k", nil)

	value, found := store.NewReader(0, store.Bytes).GetLast("k")
	require.True(t, found)
	require.Equal(t, "a;b;c", string(value))
	require.Len(t, hostStore.Deltas(), 2)

	// The encoding of 59 is "\b;".
	protos := store.NewAppend(store.Proto[wrapperspb.Int64Value]())
	protos.Append(4, "p", wrapperspb.Int64(59))

	raw, found := store.NewReader(0, store.Bytes).GetLast("p")
	require.True(t, found)
	require.Equal(t, []byte("\b;"), raw)
}

func TestArrayStoreAndReader(t *testing.T) {
	bindStore(t, host.PolicyAppend, "bytes")

	writer := store.NewArray(store.Int64)
	writer.Append(1, "k", 1)
	writer.AppendAll(2, "k", []int64{2, 3})
	writer.AppendAll(3, "k", nil)

	reader := store.NewArrayReader(0, store.Int64)

	items, found := reader.GetLast("k")
	require.True(t, found)
	require.Equal(t, []int64{1, 2, 3}, items)

	items, _ = reader.GetAt(1, "k")
	require.Equal(t, []int64{1}, items)

	items, _ = reader.GetFirst("k")
	require.Equal(t, []int64{1}, items)

	// Items may contain any byte, including ones that used to be separators.
	textWriter := store.NewArray(store.String)
	textWriter.Append(4, "s", "a;b")
	textWriter.Append(5, "s", "")
	textWriter.Append(6, "s", ";")

	texts, found := store.NewArrayReader(0, store.String).GetLast("s")
	require.True(t, found)
	require.Equal(t, []string{"a;b", "", ";"}, texts)

	protos := store.NewArray(store.Proto[wrapperspb.Int64Value]())
	protos.AppendAll(7, "p", []*wrapperspb.Int64Value{wrapperspb.Int64(59), wrapperspb.Int64(1)})

	values, found := store.NewArrayReader(0, store.Proto[wrapperspb.Int64Value]()).GetLast("p")
	require.True(t, found)
	require.Len(t, values, 2)
	require.Equal(t, int64(59), values[0].GetValue())
	require.Equal(t, int64(1), values[1].GetValue())
}

func TestDecodeItemsRejectsTruncatedValues(t *testing.T) {
	_, err := store.DecodeItems(store.String, []byte{0x05, 'a'})
	require.ErrorContains(t, err, "item 0: malformed length prefix")
}

func TestProtoValues(t *testing.T) {
	bindStore(t, host.PolicySet, "proto:google.protobuf.StringValue")

	codec := store.Proto[wrapperspb.StringValue]()

	store.NewSet(codec).Set(1, "k", wrapperspb.String("hello"))

	value, found := store.NewReader(0, codec).GetLast("k")
	require.True(t, found)
	require.True(t, proto.Equal(wrapperspb.String("hello"), value))
}

func TestBoolCodec(t *testing.T) {
	for _, tc := range []struct {
		Data     string
		Expected bool
	}{
		{Data: "1", Expected: true},
		{Data: "0", Expected: false},
		{Data: "", Expected: false},
		{Data: "\x00\x00", Expected: false},
		{Data: "true", Expected: true},
	} {
		value, err := store.Bool.Decode([]byte(tc.Data))
		require.NoError(t, err)
		require.Equal(t, tc.Expected, value, "%q", tc.Data)
	}

	require.Equal(t, []byte("1"), store.Bool.Encode(true))
}

func TestDeltas(t *testing.T) {
	hostStore := bindStore(t, host.PolicySet, "int64")

	writer := store.NewSet(store.Int64)
	writer.Set(10, "pool:a:count", 1)
	writer.Set(10, "pool:b:count", 5)
	writer.Set(20, "pool:a:count", 2)
	writer.DeletePrefix(30, "pool:b")

	encoded := (&pb.StoreDeltas{Deltas: hostStore.Deltas()}).Marshal()

	deltas := store.NewDeltas(store.Int64, wasm.OwnedBytes(encoded))
	require.Equal(t, 4, deltas.Len())

	var ordinals []uint64
	for _, delta := range deltas.All() {
		ordinals = append(ordinals, delta.Ordinal)
	}
	require.True(t, slices.IsSorted(ordinals))

	require.Equal(t, store.Delta[int64]{
		Operation: pb.StoreDelta_UPDATE,
		Ordinal:   20,
		Key:       "pool:a:count",
		OldValue:  1,
		NewValue:  2,
	}, deltas.At(2))

	require.Equal(t, store.Delta[int64]{
		Operation: pb.StoreDelta_DELETE,
		Ordinal:   30,
		Key:       "pool:b:count",
		OldValue:  5,
	}, deltas.At(3))

	require.Len(t, slices.Collect(deltas.ForKey("pool:a:count")), 2)
	require.Len(t, slices.Collect(deltas.WithPrefix("pool:b")), 2)

	pool, ok := deltas.At(0).Segment(1)
	require.True(t, ok)
	require.Equal(t, "a", pool)

	field, ok := deltas.At(0).Segment(-1)
	require.True(t, ok)
	require.Equal(t, "count", field)

	_, ok = deltas.At(0).Segment(3)
	require.False(t, ok)
}

func TestDeltasMustBeSorted(t *testing.T) {
	substreams.RegisterPanicHook()
	t.Cleanup(abi.Use(host.NewCall(t.Name(), nil)))

	encoded := (&pb.StoreDeltas{Deltas: []*pb.StoreDelta{
		{Operation: pb.StoreDelta_CREATE, Ordinal: 20, Key: "a", NewValue: []byte("1")},
		{Operation: pb.StoreDelta_CREATE, Ordinal: 10, Key: "b", NewValue: []byte("1")},
	}}).Marshal()

	failure := recoverFailure(func() { store.NewDeltas(store.Int64, wasm.OwnedBytes(encoded)) })
	require.NotNil(t, failure)
	require.Equal(t, `delta 1 for key "b" has ordinal 10 lower than previous ordinal 20`, failure.Message)
}

func TestFromRawRejectsUnsetOperations(t *testing.T) {
	_, err := store.FromRaw(store.String, []*pb.StoreDelta{{Ordinal: 1, Key: "k"}})
	require.EqualError(t, err, `delta 0 for key "k" has invalid operation UNSET`)
}

func TestKey(t *testing.T) {
	require.Equal(t, "pool:0xabc:volume", store.Key("pool", "0xabc", "volume"))
}
