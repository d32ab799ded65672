package vclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissingIsZero(t *testing.T) {
	v := New()
	assert.Equal(t, uint64(0), v.Get("A"))
}

func TestClockIncrementOnlyRaisesSelf(t *testing.T) {
	c := NewClock(Vector{"A": 1, "B": 4})
	got := c.Increment("A")
	assert.Equal(t, uint64(2), got["A"])
	assert.Equal(t, uint64(4), got["B"])
}

func TestMergeTakesPointwiseMax(t *testing.T) {
	a := Vector{"A": 2, "B": 1}
	b := Vector{"A": 1, "B": 3, "C": 5}
	m := Merge(a, b)
	assert.Equal(t, Vector{"A": 2, "B": 3, "C": 5}, m)
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Vector
		expected Order
	}{
		{"equal empty", Vector{}, Vector{}, Equal},
		{"equal values", Vector{"A": 2}, Vector{"A": 2}, Equal},
		{"strictly before", Vector{"A": 1}, Vector{"A": 2}, Before},
		{"strictly after", Vector{"A": 2, "B": 1}, Vector{"A": 2}, After},
		{"concurrent", Vector{"A": 2, "B": 1}, Vector{"A": 1, "B": 2}, Concurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Compare(tc.a, tc.b))
		})
	}
}

func TestLessEqual(t *testing.T) {
	assert.True(t, LessEqual(Vector{"A": 1}, Vector{"A": 2}))
	assert.True(t, LessEqual(Vector{"A": 1}, Vector{"A": 1}))
	assert.False(t, LessEqual(Vector{"A": 2}, Vector{"A": 1}))
}

func TestMin(t *testing.T) {
	a := Vector{"A": 5, "B": 1}
	b := Vector{"A": 2, "B": 9, "C": 3}
	got := Min(a, b)
	assert.Equal(t, Vector{"A": 2, "B": 1, "C": 0}, got)
}

func TestCloneIsIndependent(t *testing.T) {
	v := Vector{"A": 1}
	cl := v.Clone()
	cl["A"] = 9
	assert.Equal(t, uint64(1), v["A"])
}

func TestSortedReplicas(t *testing.T) {
	v := Vector{"B": 1, "A": 2, "C": 3}
	require.Equal(t, []ReplicaId{"A", "B", "C"}, v.SortedReplicas())
}

func TestClockOverflowPanics(t *testing.T) {
	c := NewClock(Vector{"A": ^uint64(0)})
	assert.Panics(t, func() { c.Increment("A") })
}

func TestClockSeedOverwrites(t *testing.T) {
	c := NewClock(nil)
	c.Increment("A")
	c.Seed(Vector{"B": 10})
	snap := c.Snapshot()
	assert.Equal(t, Vector{"B": 10}, snap)
}
