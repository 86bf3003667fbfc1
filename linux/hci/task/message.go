package task

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rigado/blehost"
)

// Message is a tagged buffer handed to the dispatcher. The sender gives up
// ownership when it posts the message; whoever ends up owning it frees it
// exactly once.
type Message struct {
	Tag   Tag
	Data  []byte
	Param interface{}

	pool  *Pool
	buf   *[]byte
	freed atomic.Bool
}

// Free returns the payload to its pool and clears Data. Only the buffer is
// recycled, so freeing twice is logged and ignored even after the pool
// handed the buffer to another message.
func (m *Message) Free() {
	if m == nil {
		return
	}
	if !m.freed.CompareAndSwap(false, true) {
		if m.pool != nil {
			m.pool.log.Warnf("double free of %v", m.Tag)
		}
		return
	}
	if m.pool != nil {
		m.pool.put(m)
	}
}

// Freed reports whether the message was already freed.
func (m *Message) Freed() bool {
	return m.freed.Load()
}

// Pool hands out message buffers and keeps track of the ones not yet freed.
type Pool struct {
	p           sync.Pool
	outstanding *xsync.Counter
	log         blehost.Logger
}

// NewPool returns an empty pool.
func NewPool(l blehost.Logger) *Pool {
	if l == nil {
		l = blehost.GetLogger()
	}
	return &Pool{
		p:           sync.Pool{New: func() interface{} { return new([]byte) }},
		outstanding: xsync.NewCounter(),
		log:         l,
	}
}

// Get returns a message with a zeroed payload of size bytes.
func (p *Pool) Get(tag Tag, size int) *Message {
	buf := p.p.Get().(*[]byte)
	b := *buf
	if cap(b) < size {
		b = make([]byte, size)
	} else {
		b = b[:size]
		for i := range b {
			b[i] = 0
		}
	}
	p.outstanding.Inc()
	return &Message{Tag: tag, Data: b, pool: p, buf: buf}
}

// New returns a message carrying a copy of data.
func (p *Pool) New(tag Tag, data []byte) *Message {
	m := p.Get(tag, len(data))
	copy(m.Data, data)
	return m
}

// Outstanding returns the number of messages handed out and not yet freed.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Value()
}

func (p *Pool) put(m *Message) {
	p.outstanding.Dec()
	buf := m.buf
	*buf = m.Data[:0]
	m.Param = nil
	m.Data = nil
	m.buf = nil
	p.p.Put(buf)
}
