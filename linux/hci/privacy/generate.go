package privacy

import (
	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/smp"
)

// GenerateResolvable makes a new resolvable private address from the local
// identity key, programs it and rearms the rotation timer. Failures leave
// the previous address in place and the timer unarmed.
func (m *Manager) GenerateResolvable() {
	m.rng.Rand(3, func(r []byte, err error) {
		if err != nil || len(r) < 3 {
			m.log.Errorf("rpa: random failed: %v", err)
			return
		}

		prand := resolvablePrand(r)
		m.cipher.Encrypt(m.irk[:], prand, func(out [16]byte, err error) {
			if err != nil {
				m.log.Errorf("rpa: encrypt failed: %v", err)
				return
			}
			m.setResolvable(rpa(prand, out))
		})
	})
}

// resolvablePrand marks r, prand in wire order, as resolvable. Its top
// byte carries the sub-type.
func resolvablePrand(r []byte) []byte {
	return []byte{r[0], r[1], r[2]&^blehost.RandomSubTypeMask | blehost.RandomResolvable}
}

// Resolvable computes, without a stack, the resolvable private address irk
// gives for the 3 random bytes r.
func Resolvable(irk [16]byte, r []byte) (blehost.Addr, error) {
	if len(r) < 3 {
		return blehost.Addr{}, errors.Errorf("need 3 random bytes, got %d", len(r))
	}
	prand := resolvablePrand(r)
	out, err := smp.Encrypt(irk[:], prand)
	if err != nil {
		return blehost.Addr{}, err
	}
	return rpa(prand, out), nil
}

// Matches reports whether addr was generated from irk.
func Matches(irk [16]byte, addr blehost.Addr) bool {
	if !addr.IsResolvable() {
		return false
	}
	out, err := smp.Encrypt(irk[:], []byte{addr[2], addr[1], addr[0]})
	return err == nil && out[0] == addr[5] && out[1] == addr[4] && out[2] == addr[3]
}

// rpa builds an address from a wire order prand and the hash output.
func rpa(prand []byte, hash [16]byte) blehost.Addr {
	return blehost.Addr{prand[2], prand[1], prand[0], hash[2], hash[1], hash[0]}
}

func (m *Manager) setResolvable(a blehost.Addr) {
	if m.ctl != nil {
		if err := m.ctl.SetRandomAddress(a); err != nil {
			m.log.Errorf("rpa: set random address %v: %v", a, err)
			return
		}
	}

	m.current = a
	m.ownType = blehost.AddrRandom
	m.log.Debugf("rpa %v", a)

	m.sched.Disarm(&m.rotation)
	m.sched.Arm(&m.rotation, m.rotation.Type, m.ticks)
}

// GenerateNonResolvable makes a non-resolvable private address and hands
// it to cb. A request made while another one is pending is dropped.
func (m *Manager) GenerateNonResolvable(cb AddrFunc, ctx interface{}) {
	if m.genCb != nil {
		m.log.Debug("nrpa: generation pending, dropping request")
		return
	}
	if cb == nil {
		return
	}
	m.genCb, m.genCx = cb, ctx

	m.rng.Rand(6, func(r []byte, err error) {
		cb, ctx := m.genCb, m.genCx
		m.genCb, m.genCx = nil, nil

		if err != nil || len(r) < 6 {
			m.log.Errorf("nrpa: random failed: %v", err)
			cb(nil, ctx)
			return
		}

		a := blehost.AddrFromLE(r[:6])
		a[0] &^= blehost.RandomSubTypeMask
		cb(&a, ctx)
	})
}
