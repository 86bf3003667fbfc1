// Package bond keeps the device records the stack knows about: identity,
// keys and address types of bonded peers.
package bond

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rigado/blehost"
)

// DefaultCapacity is the table size used when none is given.
const DefaultCapacity = 100

// ErrTableFull is returned by Save when every slot holds a record.
var ErrTableFull = errors.New("device record table full")

// DeviceType is a bit set of the transports a peer was seen on.
type DeviceType uint8

const (
	DeviceBREDR DeviceType = 1 << iota
	DeviceLE
	DeviceDual = DeviceBREDR | DeviceLE
)

// LE reports whether the peer supports low energy.
func (t DeviceType) LE() bool {
	return t&DeviceLE != 0
}

func (t DeviceType) String() string {
	switch t {
	case DeviceBREDR:
		return "br/edr"
	case DeviceLE:
		return "le"
	case DeviceDual:
		return "dual"
	}
	return "unknown"
}

// Record describes one peer.
type Record struct {
	Addr       blehost.Addr
	DeviceType DeviceType
	// AddrType and StaticAddr are the peer's identity address.
	AddrType   blehost.AddrType
	StaticAddr blehost.Addr

	IRK    [16]byte
	HasIRK bool

	LTK    []byte
	EDiv   uint16
	Rand   uint64
	Legacy bool
}

// Empty reports whether r is the zero record of an unused slot.
func (r Record) Empty() bool {
	return r.Addr.IsZero() && r.DeviceType == 0
}

type slot struct {
	used bool
	rec  Record
}

// Table is a fixed size record table. Slot order is stable so callers can
// walk it by index across asynchronous steps.
type Table struct {
	mu    sync.RWMutex
	slots []slot
	n     int
	index *xsync.MapOf[blehost.Addr, int]
}

// NewTable returns an empty table of the given capacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		slots: make([]slot, capacity),
		index: xsync.NewMapOf[blehost.Addr, int](),
	}
}

// Lookup returns the record of addr.
func (t *Table) Lookup(addr blehost.Addr) (Record, bool) {
	i, ok := t.index.Load(addr)
	if !ok {
		return Record{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.slots[i]
	if !s.used || s.rec.Addr != addr {
		return Record{}, false
	}
	return cloneRecord(s.rec), true
}

// Get returns the record at slot i. Unused slots yield an empty record;
// ok is false past the end of the table.
func (t *Table) Get(i int) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.slots) {
		return Record{}, false
	}
	return cloneRecord(t.slots[i].rec), true
}

// Len returns the number of stored records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.n
}

// Cap returns the number of slots.
func (t *Table) Cap() int {
	return len(t.slots)
}

// Save replaces the record of rec.Addr or stores it in the first free slot.
func (t *Table) Save(rec Record) error {
	if rec.Addr.IsZero() {
		return errors.New("record without address")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index.Load(rec.Addr); ok {
		t.slots[i].rec = cloneRecord(rec)
		return nil
	}

	for i := range t.slots {
		if t.slots[i].used {
			continue
		}
		t.slots[i] = slot{used: true, rec: cloneRecord(rec)}
		t.index.Store(rec.Addr, i)
		t.n++
		return nil
	}
	return errors.Wrapf(ErrTableFull, "saving %v", rec.Addr)
}

// Delete removes the record of addr and reports whether there was one.
func (t *Table) Delete(addr blehost.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index.LoadAndDelete(addr)
	if !ok {
		return false
	}
	t.slots[i] = slot{}
	t.n--
	return true
}

// Records returns a copy of every stored record in slot order.
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, t.n)
	for _, s := range t.slots {
		if s.used {
			out = append(out, cloneRecord(s.rec))
		}
	}
	return out
}

func cloneRecord(r Record) Record {
	if r.LTK != nil {
		r.LTK = append([]byte(nil), r.LTK...)
	}
	return r
}
