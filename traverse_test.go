package pgtx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func visitOrder(t *testing.T, tx *Transaction) []ObjectID {
	t.Helper()
	var order []ObjectID
	tx.SafeCreateTraverse(func(id ObjectID, op *ObjectOperation) {
		got, ok := tx.Op(id)
		require.True(t, ok)
		require.Same(t, got, op)
		order = append(order, id)
	})
	return order
}

func indexOf(ids []ObjectID, id ObjectID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTraverse_Empty(t *testing.T) {
	order, err := New().Plan()
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestTraverse_CloneChain(t *testing.T) {
	tx := New()
	tx.Write(objA, 0, 1, []byte("a"), 0)
	tx.Clone(objB, objA)
	tx.Clone(objC, objB)

	assert.Equal(t, []ObjectID{objC, objB, objA}, visitOrder(t, tx))
}

func TestTraverse_SourceOutsideTransaction(t *testing.T) {
	tx := New()
	tx.Clone(objB, objA)
	tx.Clone(objC, objA)

	order := visitOrder(t, tx)
	assert.ElementsMatch(t, []ObjectID{objB, objC}, order)
	assert.Equal(t, -1, indexOf(order, objA), "sources without operations are not visited")
}

func TestTraverse_SnapshotBeforeHeadWrite(t *testing.T) {
	head := HeadID(3, "obj")
	snap := head.WithSnap(4)

	tx := New()
	tx.Write(head, 0, 5, []byte("hello"), 0)
	tx.Clone(snap, head)
	tx.UpdateSnaps(snap, []SnapID{4})

	order := visitOrder(t, tx)
	require.Len(t, order, 2)
	assert.Less(t, indexOf(order, snap), indexOf(order, head))
}

func TestTraverse_RenameAfterTempWrites(t *testing.T) {
	tx := New()
	tx.Create(tmpX)
	tx.Write(tmpX, 0, 3, []byte("new"), 0)
	tx.Rename(objA, tmpX)
	tx.Clone(objB, objA)

	order := visitOrder(t, tx)
	assert.Equal(t, []ObjectID{objB, objA}, order)
}

func TestTraverse_IndependentObjectsSorted(t *testing.T) {
	tx := New()
	tx.Nop(objC)
	tx.Nop(objA)
	tx.Nop(objB)
	assert.Equal(t, []ObjectID{objA, objB, objC}, visitOrder(t, tx))
}

func TestTraverse_Cycle(t *testing.T) {
	tx := New()
	tx.Clone(objA, objB)
	tx.Clone(objB, objA)
	tx.Nop(objC)

	_, err := tx.Plan()
	require.ErrorIs(t, err, ErrSourceCycle)
	assert.Contains(t, err.Error(), objA.String())
	assert.Contains(t, err.Error(), objB.String())
	assert.NotContains(t, err.Error(), objC.String())

	requireViolation(t, ErrSourceCycle, func() {
		tx.SafeCreateTraverse(func(ObjectID, *ObjectOperation) {
			t.Fatal("callback must not run on a cyclic transaction")
		})
	})
}

func TestTraverse_SelfClone(t *testing.T) {
	tx := New()
	tx.Clone(objA, objA)
	_, err := tx.Plan()
	require.ErrorIs(t, err, ErrSourceCycle)
}

func TestTraverse_LongChain(t *testing.T) {
	const n = 10000
	ids := make([]ObjectID, n)
	for i := range ids {
		ids[i] = HeadID(1, fmt.Sprintf("o%05d", i))
	}
	tx := New()
	tx.Nop(ids[0])
	for i := 1; i < n; i++ {
		tx.Clone(ids[i], ids[i-1])
	}

	order, err := tx.Plan()
	require.NoError(t, err)
	require.Len(t, order, n)
	for i, id := range order {
		require.Equal(t, ids[n-1-i], id)
	}
}

// Random forests: every object is visited once and after all of its sinks.
func TestTraverse_ForestProperty(t *testing.T) {
	check := func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "objects")
		ids := make([]ObjectID, n)
		for i := range ids {
			ids[i] = HeadID(1, fmt.Sprintf("o%02d", i))
		}
		tx := New()
		parent := make(map[ObjectID]ObjectID)
		for i, id := range ids {
			// sources always have a lower index, so no cycles
			if i > 0 && rapid.Bool().Draw(t, fmt.Sprintf("cloned%d", i)) {
				src := ids[rapid.IntRange(0, i-1).Draw(t, fmt.Sprintf("src%d", i))]
				tx.Clone(id, src)
				parent[id] = src
				continue
			}
			if rapid.Bool().Draw(t, fmt.Sprintf("queued%d", i)) {
				tx.Write(id, 0, 1, []byte{byte(i)}, 0)
			}
		}

		order, err := tx.Plan()
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if len(order) != tx.Len() {
			t.Fatalf("visited %d of %d operations", len(order), tx.Len())
		}
		pos := make(map[ObjectID]int, len(order))
		for i, id := range order {
			if _, dup := pos[id]; dup {
				t.Fatalf("%s visited twice", id)
			}
			if _, ok := tx.Op(id); !ok {
				t.Fatalf("%s has no operation", id)
			}
			pos[id] = i
		}
		for sink, src := range parent {
			srcPos, queued := pos[src]
			if queued && srcPos < pos[sink] {
				t.Fatalf("source %s visited before sink %s", src, sink)
			}
		}
	}

	rapid.Check(t, check)
}
