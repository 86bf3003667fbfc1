package privacy

import (
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
)

// Resolve looks for the bonded peer whose identity key generated addr.
// Records are tried one at a time in table order and cb gets the first
// match or nil. While a resolution is running, cb gets nil right away.
func (m *Manager) Resolve(addr blehost.Addr, cb ResolveFunc, ctx interface{}) {
	if cb == nil {
		return
	}
	if m.busy {
		cb(nil, ctx)
		return
	}

	m.busy = true
	m.target = addr
	m.resolveCb, m.resolveCx = cb, ctx
	m.match(0)
}

// Resolving reports whether a resolution is in progress.
func (m *Manager) Resolving() bool {
	return m.busy
}

// match tries records from index i on.
func (m *Manager) match(i int) {
	for m.records != nil {
		rec, ok := m.records.Get(i)
		if !ok {
			break
		}
		if !rec.DeviceType.LE() || !rec.HasIRK {
			i++
			continue
		}

		m.cursor = i
		a := m.target
		prand := []byte{a[2], a[1], a[0]}
		m.cipher.Encrypt(rec.IRK[:], prand, func(out [16]byte, err error) {
			m.compare(rec, out, err)
		})
		return
	}
	m.finish(nil)
}

func (m *Manager) compare(rec bond.Record, out [16]byte, err error) {
	a := m.target
	if err == nil && out[0] == a[5] && out[1] == a[4] && out[2] == a[3] {
		m.finish(&rec)
		return
	}
	if err != nil {
		m.log.Warnf("resolve %v: encrypt failed: %v", a, err)
	}
	m.match(m.cursor + 1)
}

func (m *Manager) finish(rec *bond.Record) {
	cb, ctx := m.resolveCb, m.resolveCx
	m.busy = false
	m.resolveCb, m.resolveCx = nil, nil
	m.cursor = 0
	cb(rec, ctx)
}
