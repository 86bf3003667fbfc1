package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFiresOnDeadline(t *testing.T) {
	q := NewQueue("coarse")
	e := &Entry{Type: DevCtl}
	q.Insert(e, 3)

	assert.Empty(t, q.Advance(1))
	assert.Empty(t, q.Advance(1))
	due := q.Advance(1)
	require.Len(t, due, 1)
	assert.Same(t, e, due[0])
	assert.False(t, q.Linked(e))
	assert.Nil(t, e.Queue())
	assert.True(t, q.Empty())
	assert.Empty(t, q.Advance(1))
}

func TestQueueFiresExactlyOnce(t *testing.T) {
	for d := 1; d <= 12; d++ {
		q := NewQueue("coarse")
		e := &Entry{}
		filler := &Entry{}
		q.Insert(filler, d/2+1)
		q.Insert(e, d)

		fired := 0
		for i := 0; i < d; i++ {
			for _, x := range q.Advance(1) {
				if x == e {
					fired++
					assert.Equal(t, d-1, i, "delay %d fired early", d)
				}
			}
		}
		assert.Equal(t, 1, fired, "delay %d", d)
		assert.False(t, q.Linked(e))
	}
}

func TestQueueOrder(t *testing.T) {
	q := NewQueue("coarse")
	a, b, c, d := &Entry{Param: "a"}, &Entry{Param: "b"}, &Entry{Param: "c"}, &Entry{Param: "d"}
	q.Insert(c, 5)
	q.Insert(a, 2)
	q.Insert(b, 2)
	q.Insert(d, 7)

	assert.Equal(t, []*Entry{a, b, c, d}, q.Entries())
	assert.Equal(t, 2, q.Remaining(a))
	assert.Equal(t, 2, q.Remaining(b))
	assert.Equal(t, 5, q.Remaining(c))
	assert.Equal(t, 7, q.Remaining(d))

	due := q.Advance(2)
	assert.Equal(t, []*Entry{a, b}, due)
	assert.Equal(t, 3, q.Remaining(c))

	// overshoot carries past c into d
	due = q.Advance(6)
	assert.Equal(t, []*Entry{c, d}, due)
	assert.Equal(t, 0, q.Len())
}

func TestQueueRemoveKeepsDeadlines(t *testing.T) {
	q := NewQueue("coarse")
	a, b, c := &Entry{}, &Entry{}, &Entry{}
	q.Insert(a, 2)
	q.Insert(b, 4)
	q.Insert(c, 9)

	q.Remove(b)
	assert.False(t, q.Linked(b))
	assert.Equal(t, 2, q.Remaining(a))
	assert.Equal(t, 9, q.Remaining(c))

	// removing twice, or removing an entry never armed, is a no-op
	q.Remove(b)
	q.Remove(&Entry{})
	q.Remove(nil)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, -1, q.Remaining(b))
}

func TestQueueRearmMovesEntry(t *testing.T) {
	coarse := NewQueue("coarse")
	fine := NewQueue("fine")
	e := &Entry{}

	coarse.Insert(e, 3)
	coarse.Insert(e, 6)
	assert.Equal(t, 1, coarse.Len())
	assert.Equal(t, 6, coarse.Remaining(e))
	assert.Equal(t, 6, e.Initial())

	fine.Insert(e, 1)
	assert.False(t, coarse.Linked(e))
	assert.True(t, fine.Linked(e))
	assert.Same(t, fine, e.Queue())
	assert.True(t, coarse.Empty())

	// removal from the wrong queue leaves the linkage alone
	coarse.Remove(e)
	assert.True(t, fine.Linked(e))
}

func TestQueueSingleLinkage(t *testing.T) {
	queues := []*Queue{NewQueue("a"), NewQueue("b")}
	e := &Entry{}
	ops := []struct {
		q      int
		insert bool
		delay  int
	}{
		{0, true, 4}, {1, true, 2}, {1, false, 0}, {1, false, 0},
		{0, true, 1}, {0, true, 3}, {1, true, 5}, {0, false, 0},
	}

	for i, op := range ops {
		if op.insert {
			queues[op.q].Insert(e, op.delay)
		} else {
			queues[op.q].Remove(e)
		}

		linked := 0
		for _, q := range queues {
			if q.Linked(e) {
				linked++
			}
			assert.LessOrEqual(t, q.Len(), 1, "step %d", i)
		}
		assert.LessOrEqual(t, linked, 1, "step %d", i)
	}
}

func TestQueueZeroDelay(t *testing.T) {
	q := NewQueue("coarse")
	e := &Entry{}
	q.Insert(e, 0)
	q.Insert(&Entry{}, -1)
	assert.Equal(t, 1, q.Len())

	due := q.Advance(0)
	require.Len(t, due, 1)
	assert.Same(t, e, due[0])
}

func TestTypeRoutes(t *testing.T) {
	assert.True(t, DevCtl.Builtin())
	assert.True(t, UserFunc.Builtin())
	assert.False(t, FCRAck.Builtin())
	assert.True(t, FCRRetransmit.Quick())
	assert.False(t, (Registered + 1).Builtin())
	assert.Equal(t, "ble random addr", BLERandomAddr.String())
	assert.Equal(t, "type(300)", Type(300).String())
}
