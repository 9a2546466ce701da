package pb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestStoreDeltasWireFormat(t *testing.T) {
	deltas := StoreDeltas{
		Deltas: []*StoreDelta{
			{Operation: StoreDelta_CREATE, Ordinal: 10, Key: "x", NewValue: []byte("1")},
			{Operation: StoreDelta_UPDATE, Ordinal: 20, Key: "x", OldValue: []byte("1"), NewValue: []byte("2")},
			{Operation: StoreDelta_DELETE, Ordinal: 30, Key: "x", OldValue: []byte("2")},
		},
	}

	encoded := deltas.Marshal()

	// First delta: field 1, length prefixed, then operation=1 ordinal=10 key="x" new_value="1".
	expected := []byte{0x0a, 0x0a, 0x08, 0x01, 0x10, 0x0a, 0x1a, 0x01, 'x', 0x2a, 0x01, '1'}
	require.Equal(t, expected, encoded[:len(expected)])

	var decoded StoreDeltas
	require.NoError(t, decoded.Unmarshal(encoded))
	require.Equal(t, deltas, decoded)
}

func TestStoreDeltaSkipsUnknownFields(t *testing.T) {
	b := (&StoreDelta{Operation: StoreDelta_CREATE, Ordinal: 1, Key: "k", NewValue: []byte("v")}).Marshal()
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	var delta StoreDelta
	require.NoError(t, delta.Unmarshal(b))
	require.Equal(t, StoreDelta{Operation: StoreDelta_CREATE, Ordinal: 1, Key: "k", NewValue: []byte("v")}, delta)
}

func TestStoreDeltasMalformed(t *testing.T) {
	var deltas StoreDeltas
	require.Error(t, deltas.Unmarshal([]byte{0x0a, 0x05, 0x08}))
}

func TestOperationString(t *testing.T) {
	require.Equal(t, "CREATE", StoreDelta_CREATE.String())
	require.Equal(t, "StoreDelta_Operation(9)", StoreDelta_Operation(9).String())
}
