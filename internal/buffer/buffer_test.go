package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/replica/internal/rga"
	"github.com/collabtext/replica/internal/s4vector"
)

func newClock(sid uint64) *s4vector.Clock {
	return &s4vector.Clock{SSN: 1, SID: sid}
}

func makeOps(t *testing.T) (a, b, c rga.Operation) {
	origin := rga.New("doc", 1, newClock(1))
	var err error
	a, err = origin.LocalInsert(0, "a")
	require.NoError(t, err)
	b, err = origin.LocalInsert(1, "b")
	require.NoError(t, err)
	c, err = origin.LocalInsert(2, "c")
	require.NoError(t, err)
	return a, b, c
}

func TestOfferAppliesWhenDependenciesPresent(t *testing.T) {
	a, _, _ := makeOps(t)
	r := rga.New("doc", 2, newClock(2))
	buf := New(r)

	assert.Equal(t, rga.Applied, buf.Offer(a))
	assert.Equal(t, 0, buf.Depth())
	assert.Equal(t, uint64(1), buf.AppliedCount())
}

func TestOfferParksOnMissingAnchorAndWakesOnArrival(t *testing.T) {
	a, b, c := makeOps(t)
	r := rga.New("doc", 2, newClock(2))
	buf := New(r)

	assert.Equal(t, rga.Deferred, buf.Offer(c))
	assert.Equal(t, rga.Deferred, buf.Offer(b))
	assert.Equal(t, 2, buf.Depth())

	assert.Equal(t, rga.Applied, buf.Offer(a))
	// a's arrival should have cascaded: b depended on a, c depended on b.
	assert.Equal(t, 0, buf.Depth())
	assert.Equal(t, "abc", r.Materialise())
}

func TestOfferDuplicateIsCounted(t *testing.T) {
	a, _, _ := makeOps(t)
	r := rga.New("doc", 2, newClock(2))
	buf := New(r)

	require.Equal(t, rga.Applied, buf.Offer(a))
	assert.Equal(t, rga.Duplicate, buf.Offer(a))
	assert.Equal(t, uint64(1), buf.DuplicateCount())
}

func TestDrainBootstrapsUnsortedOperationList(t *testing.T) {
	a, b, c := makeOps(t)
	r := rga.New("doc", 2, newClock(2))
	buf := New(r)

	// Offer in reverse arrival order, as bootstrap replay might.
	buf.Offer(c)
	buf.Offer(b)
	buf.Offer(a)
	buf.Drain()

	assert.Equal(t, 0, buf.Depth())
	assert.Equal(t, "abc", r.Materialise())
}

func TestPendingReportsArrivalOrder(t *testing.T) {
	a, b, c := makeOps(t)
	r := rga.New("doc", 2, newClock(2))
	buf := New(r)

	buf.Offer(c)
	buf.Offer(b)

	pending := buf.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, c.S4, pending[0].S4)
	assert.Equal(t, b.S4, pending[1].S4)

	buf.Offer(a)
	assert.Empty(t, buf.Pending())
}

func TestStalePendingHonoursGraceAndLeavesOperationsParked(t *testing.T) {
	_, b, c := makeOps(t)
	r := rga.New("doc", 2, newClock(2))
	buf := New(r)

	buf.Offer(c)
	buf.Offer(b)

	assert.Empty(t, buf.StalePending(time.Hour), "nothing should be stale immediately after parking")

	stale := buf.StalePending(0)
	require.Len(t, stale, 2)
	assert.Equal(t, c.S4, stale[0].S4)
	assert.Equal(t, b.S4, stale[1].S4)

	// StalePending must not itself remove anything from the buffer.
	assert.Equal(t, 2, buf.Depth())
}
