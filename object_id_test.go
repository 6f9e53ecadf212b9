package pgtx

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestObjectID_Compare(t *testing.T) {
	ids := []ObjectID{
		TempID(2, "a"),
		HeadID(2, "a"),
		{Pool: 2, Namespace: "ns", Name: "a", Snap: 3},
		HeadID(1, "z"),
		HeadID(2, "a").WithSnap(7),
		HeadID(-1, "a"),
	}
	slices.SortFunc(ids, ObjectID.Compare)

	assert.Equal(t, []ObjectID{
		HeadID(-1, "a"),
		HeadID(1, "z"),
		HeadID(2, "a").WithSnap(7),
		HeadID(2, "a"),
		TempID(2, "a"),
		{Pool: 2, Namespace: "ns", Name: "a", Snap: 3},
	}, ids)
	assert.Equal(t, 0, objA.Compare(objA))
}

func TestObjectID_String(t *testing.T) {
	assert.Equal(t, "1:a@head", objA.String())
	assert.Equal(t, "1:temp_x@head", tmpX.String())
	assert.Equal(t, "4:ns/obj@1f", ObjectID{Pool: 4, Namespace: "ns", Name: "obj", Snap: 0x1f}.String())
}

func TestObjectID_Temp(t *testing.T) {
	assert.True(t, tmpX.IsTemp())
	assert.False(t, objA.IsTemp())
	assert.NotEqual(t, HeadID(1, "x"), tmpX)
}

func TestObjectID_BinaryRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := ObjectID{
			Pool:      rapid.Int64().Draw(t, "pool"),
			Namespace: rapid.String().Draw(t, "ns"),
			Name:      rapid.String().Draw(t, "name"),
			Snap:      SnapID(rapid.Uint64().Draw(t, "snap")),
			Temp:      rapid.Bool().Draw(t, "temp"),
		}
		got, err := ParseObjectID(id.AppendBinary(nil))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if got != id {
			t.Fatalf("round trip: got %v want %v", got, id)
		}
	})
}

func TestParseObjectID_Malformed(t *testing.T) {
	b := HeadID(1, "abc").AppendBinary(nil)
	_, err := ParseObjectID(b[:len(b)-3])
	require.Error(t, err)
}
