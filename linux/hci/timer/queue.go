// Package timer implements the ordered timer lists the dispatcher counts
// down, one per clock domain.
//
// A Queue never owns its entries. Callers keep an Entry alive until it
// fires or is removed; the queue only links and unlinks it.
package timer

import "fmt"

// Entry is a caller owned timer. The zero value is ready to use.
type Entry struct {
	Type  Type
	Param interface{}

	// ticks is relative to the preceding entry in the queue.
	ticks   int
	initial int
	next    *Entry
	queue   *Queue
}

// Queue returns the queue the entry is linked in, or nil.
func (e *Entry) Queue() *Queue {
	return e.queue
}

// Initial returns the delay the entry was last armed with.
func (e *Entry) Initial() int {
	return e.initial
}

func (e *Entry) String() string {
	return fmt.Sprintf("timer{%v, %d}", e.Type, e.initial)
}

// Queue is a time ordered singly-linked delta list.
type Queue struct {
	name  string
	first *Entry
	n     int
}

// NewQueue returns an empty queue. The name is only used for logging.
func NewQueue(name string) *Queue {
	return &Queue{name: name}
}

func (q *Queue) String() string {
	return fmt.Sprintf("%s(%d)", q.name, q.n)
}

// Len returns the number of linked entries.
func (q *Queue) Len() int {
	return q.n
}

// Empty reports whether no entry is linked.
func (q *Queue) Empty() bool {
	return q.first == nil
}

// Linked reports whether e is linked in q.
func (q *Queue) Linked(e *Entry) bool {
	return e != nil && e.queue == q
}

// Insert arms e to expire after delay ticks. An entry linked in any queue
// is unlinked first. Entries with equal deadlines keep insertion order.
// Negative delays are ignored.
func (q *Queue) Insert(e *Entry, delay int) {
	if e == nil || delay < 0 {
		return
	}

	if e.queue != nil {
		e.queue.Remove(e)
	}

	e.initial = delay
	remaining := delay

	var prev *Entry
	cur := q.first
	for cur != nil && cur.ticks <= remaining {
		remaining -= cur.ticks
		prev = cur
		cur = cur.next
	}

	e.ticks = remaining
	e.next = cur
	if prev == nil {
		q.first = e
	} else {
		prev.next = e
	}
	if cur != nil {
		cur.ticks -= remaining
	}

	e.queue = q
	q.n++
}

// Remove unlinks e. It is a no-op if e is not linked in q.
func (q *Queue) Remove(e *Entry) {
	if e == nil || e.queue != q {
		return
	}

	var prev *Entry
	for cur := q.first; cur != nil; prev, cur = cur, cur.next {
		if cur != e {
			continue
		}

		if e.next != nil {
			e.next.ticks += e.ticks
		}
		if prev == nil {
			q.first = e.next
		} else {
			prev.next = e.next
		}
		q.unlink(e)
		return
	}
}

// Advance counts ticks down from the head and returns, in order, every
// entry that expired. Entries armed with a zero delay are returned by the
// next call, including Advance(0).
func (q *Queue) Advance(ticks int) []*Entry {
	var due []*Entry

	for q.first != nil && q.first.ticks <= 0 {
		due = append(due, q.pop())
	}

	left := ticks
	for q.first != nil && left > 0 {
		h := q.first
		if h.ticks > left {
			h.ticks -= left
			break
		}

		// the overshoot carries into the following entries
		left -= h.ticks
		due = append(due, q.pop())
		for q.first != nil && q.first.ticks == 0 {
			due = append(due, q.pop())
		}
	}

	return due
}

// Remaining returns the ticks left before e expires, or -1 if e is not
// linked in q.
func (q *Queue) Remaining(e *Entry) int {
	if !q.Linked(e) {
		return -1
	}

	sum := 0
	for cur := q.first; cur != nil; cur = cur.next {
		sum += cur.ticks
		if cur == e {
			break
		}
	}
	return sum
}

// Entries returns the linked entries in expiry order.
func (q *Queue) Entries() []*Entry {
	out := make([]*Entry, 0, q.n)
	for cur := q.first; cur != nil; cur = cur.next {
		out = append(out, cur)
	}
	return out
}

func (q *Queue) pop() *Entry {
	e := q.first
	q.first = e.next
	q.unlink(e)
	return e
}

func (q *Queue) unlink(e *Entry) {
	e.next = nil
	e.queue = nil
	e.ticks = 0
	q.n--
}
