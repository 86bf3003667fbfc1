package hci

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/rigado/blehost/linux/hci/privacy"
	"github.com/rigado/blehost/linux/hci/smp"
	"github.com/rigado/blehost/linux/hci/task"
	"github.com/rigado/blehost/linux/hci/timer"
)

// The methods below may be called from any goroutine. The ones waiting for
// a result block until the dispatcher ran them, so they must not be used
// while a preload gate holds it.

// Pair starts pairing with peer.
func (h *Host) Pair(peer blehost.Addr) (smp.Status, error) {
	var s smp.Status
	err := h.d.Call(func() { s = h.smp.Pair(peer) })
	return s, err
}

// PairCancel cancels the pairing with peer and reports whether there was one.
func (h *Host) PairCancel(peer blehost.Addr) (bool, error) {
	var ok bool
	err := h.d.Call(func() { ok = h.smp.PairCancel(peer) })
	return ok, err
}

// SecurityGrant answers a security request of peer.
func (h *Host) SecurityGrant(peer blehost.Addr, res smp.Status) error {
	return h.d.Do(func() { h.smp.SecurityGrant(peer, res) })
}

// PasskeyReply answers a passkey request of peer.
func (h *Host) PasskeyReply(peer blehost.Addr, res smp.Status, passkey uint32) error {
	return h.d.Do(func() { h.smp.PasskeyReply(peer, res, passkey) })
}

// OobDataReply answers an out of band data request of peer.
func (h *Host) OobDataReply(peer blehost.Addr, res smp.Status, data []byte) error {
	data = append([]byte(nil), data...)
	return h.d.Do(func() { h.smp.OobDataReply(peer, res, data) })
}

// RegisterSecurityCallback sets the callback pairing events are raised to.
// It runs on the dispatcher.
func (h *Host) RegisterSecurityCallback(cb smp.Callback) error {
	return h.d.Call(func() { h.smp.Register(cb) })
}

// Subscribe returns a channel receiving every pairing notification.
func (h *Host) Subscribe() chan smp.Notification {
	return h.smp.Subscribe()
}

// Unsubscribe stops deliveries to ch.
func (h *Host) Unsubscribe(ch chan smp.Notification) {
	h.smp.Unsubscribe(ch)
}

// PairingState returns a snapshot of the pairing.
func (h *Host) PairingState() (smp.Pairing, error) {
	var p smp.Pairing
	err := h.d.Call(func() { p = h.smp.Pairing() })
	return p, err
}

// ResolveAddress resolves addr against the device records. cb runs on the
// dispatcher with the matching record or nil.
func (h *Host) ResolveAddress(addr blehost.Addr, cb privacy.ResolveFunc, ctx interface{}) error {
	return h.d.Do(func() { h.priv.Resolve(addr, cb, ctx) })
}

// Resolve resolves addr and waits for the result. A resolution already in
// progress makes it return nil.
func (h *Host) Resolve(ctx context.Context, addr blehost.Addr) (*bond.Record, error) {
	ch := make(chan *bond.Record, 1)
	if err := h.ResolveAddress(addr, func(rec *bond.Record, _ interface{}) { ch <- rec }, nil); err != nil {
		return nil, err
	}
	return wait(ctx, h, ch)
}

// GenerateNRPA generates a non-resolvable private address. cb runs on the
// dispatcher with the address or nil.
func (h *Host) GenerateNRPA(cb privacy.AddrFunc, ctx interface{}) error {
	return h.d.Do(func() { h.priv.GenerateNonResolvable(cb, ctx) })
}

// NRPA generates a non-resolvable private address and waits for it.
func (h *Host) NRPA(ctx context.Context) (blehost.Addr, error) {
	ch := make(chan *blehost.Addr, 1)
	if err := h.GenerateNRPA(func(a *blehost.Addr, _ interface{}) { ch <- a }, nil); err != nil {
		return blehost.Addr{}, err
	}
	a, err := wait(ctx, h, ch)
	if err != nil {
		return blehost.Addr{}, err
	}
	if a == nil {
		return blehost.Addr{}, errors.New("nrpa generation failed")
	}
	return *a, nil
}

// StartRotation switches to resolvable private addresses.
func (h *Host) StartRotation() error {
	return h.d.Do(h.priv.StartRotation)
}

// StopRotation goes back to the public address.
func (h *Host) StopRotation() error {
	return h.d.Do(h.priv.StopRotation)
}

// OwnAddress returns the own address type and the last private address.
func (h *Host) OwnAddress() (blehost.AddrType, blehost.Addr, error) {
	var t blehost.AddrType
	var a blehost.Addr
	err := h.d.Call(func() { t, a = h.priv.OwnAddrType(), h.priv.Current() })
	return t, a, err
}

// Encrypt runs AES-128 over one block in wire byte order.
func (h *Host) Encrypt(ctx context.Context, key, plaintext []byte) ([16]byte, error) {
	type result struct {
		out [16]byte
		err error
	}
	c := privacy.NewCipher(h.d)
	ch := make(chan result, 1)
	err := h.d.Do(func() {
		c.Encrypt(key, plaintext, func(out [16]byte, err error) { ch <- result{out, err} })
	})
	if err != nil {
		return [16]byte{}, err
	}
	r, err := wait(ctx, h, ch)
	if err != nil {
		return [16]byte{}, err
	}
	return r.out, r.err
}

// RegisterEventRange routes messages of an extension range to cb.
func (h *Host) RegisterEventRange(rng task.Tag, cb task.EventFunc) error {
	return h.d.RegisterEventRange(rng, cb)
}

// Post sends data to the layer registered for tag.
func (h *Host) Post(tag task.Tag, data []byte) error {
	return h.d.Post(h.d.Pool().New(tag, data))
}

// RegisterTimer arms e for ticks coarse ticks and calls cb when it expires.
func (h *Host) RegisterTimer(e *timer.Entry, typ timer.Type, ticks int, cb task.TimerFunc) error {
	return h.d.RegisterTimer(e, typ, ticks, cb)
}

// CancelTimer disarms e.
func (h *Host) CancelTimer(e *timer.Entry) {
	h.d.CancelTimer(e)
}

// Stats returns the dispatcher counters.
func (h *Host) Stats() task.Stats {
	return h.d.Stats()
}

func wait[T any](ctx context.Context, h *Host, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-h.d.Done():
		return zero, task.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
