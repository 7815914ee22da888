package s4vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareLexicographic(t *testing.T) {
	cases := []struct {
		name string
		a, b S4Vector
		want Ordering
	}{
		{"ssn dominates", S4Vector{SSN: 2}, S4Vector{SSN: 1, Sum: 99, SID: 99, Seq: 99}, Greater},
		{"sum dominates after ssn tie", S4Vector{SSN: 1, Sum: 2}, S4Vector{SSN: 1, Sum: 1, SID: 99, Seq: 99}, Greater},
		{"sid dominates after sum tie", S4Vector{SSN: 1, Sum: 1, SID: 2}, S4Vector{SSN: 1, Sum: 1, SID: 1, Seq: 99}, Greater},
		{"seq dominates after sid tie", S4Vector{SSN: 1, Sum: 1, SID: 1, Seq: 2}, S4Vector{SSN: 1, Sum: 1, SID: 1, Seq: 1}, Greater},
		{"equal", S4Vector{1, 1, 1, 1}, S4Vector{1, 1, 1, 1}, Equal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Compare(c.a, c.b))
		})
	}
}

func TestMergeOnReceive(t *testing.T) {
	assert.Equal(t, uint64(6), MergeOnReceive(5, 3))
	assert.Equal(t, uint64(6), MergeOnReceive(3, 5))
	assert.Equal(t, uint64(6), MergeOnReceive(5, 5))
}

func TestClockAdvanceLocalStrictlyIncreasing(t *testing.T) {
	c := &Clock{SSN: 1, SID: 7}
	first := c.AdvanceLocal()
	second := c.AdvanceLocal()

	require.Equal(t, Greater, Compare(second, first))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(7), second.SID)
}

func TestClockMergeRemoteNeverRegresses(t *testing.T) {
	c := &Clock{SSN: 1, SID: 7, Sum: 10}
	c.MergeRemote(3)
	assert.Equal(t, uint64(11), c.Sum)

	c.MergeRemote(50)
	assert.Equal(t, uint64(51), c.Sum)
}
