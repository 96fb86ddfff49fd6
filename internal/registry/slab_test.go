package registry

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlab(t *testing.T) {
	t.Run("insert and get", func(t *testing.T) {
		slab := New[string](2)
		a, b := slab.Insert("a"), slab.Insert("b")
		require.NotEqual(t, a, b)
		require.NotZero(t, a)

		value, found := slab.Get(a)
		require.True(t, found)
		require.Equal(t, "a", value)
		value, found = slab.Get(b)
		require.True(t, found)
		require.Equal(t, "b", value)
		require.Equal(t, 2, slab.Len())
	})

	t.Run("stale identifiers", func(t *testing.T) {
		slab := New[int](0)
		first := slab.Insert(1)
		_, removed := slab.Remove(first)
		require.True(t, removed)

		second := slab.Insert(2)
		require.Equal(t, first.Index(), second.Index(), "the slot must be reused")
		require.NotEqual(t, first, second)

		_, found := slab.Get(first)
		require.False(t, found)
		_, removed = slab.Remove(first)
		require.False(t, removed)

		value, found := slab.Get(second)
		require.True(t, found)
		require.Equal(t, 2, value)
	})

	t.Run("unknown identifiers", func(t *testing.T) {
		slab := New[int](0)
		_, found := slab.Get(0)
		require.False(t, found)
		_, found = slab.Get(makeID(100, 1))
		require.False(t, found)
	})

	t.Run("iterate live", func(t *testing.T) {
		slab := New[int](0)
		ids := make([]ID, 5)
		for i := range ids {
			ids[i] = slab.Insert(i)
		}

		slab.Remove(ids[1])
		slab.Remove(ids[3])

		live := maps.Collect(slab.All())
		require.Equal(t, map[ID]int{ids[0]: 0, ids[2]: 2, ids[4]: 4}, live)
		require.Equal(t, 3, slab.Len())
	})
}
