package hci

import (
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/evt"
	"github.com/rigado/blehost/linux/hci/smp"
)

// conn is an entry of the connection table.
type conn struct {
	handle    uint16
	role      uint8
	peer      blehost.Addr
	addrType  blehost.AddrType
	encrypted bool
}

func newConn(e evt.LEConnectionComplete) *conn {
	pa := e.PeerAddress()
	return &conn{
		handle:   e.ConnectionHandle(),
		role:     e.Role(),
		peer:     blehost.AddrFromLE(pa[:]),
		addrType: blehost.AddrType(e.PeerAddressType()),
	}
}

// dial is an LE Create Connection waiting for its connection complete.
type dial struct {
	// peer is the address pairing was asked for, target the identity
	// address it maps to.
	peer   blehost.Addr
	target blehost.Addr
}

func (d *dial) matches(a blehost.Addr) bool {
	return a == d.peer || a == d.target
}

// connByPeer returns the connection to a, if any.
func (h *Host) connByPeer(a blehost.Addr) *conn {
	for _, c := range h.conns {
		if c.peer == a {
			return c
		}
	}
	return nil
}

// ConnectFixedChannel implements smp.Link. A connected peer is reported
// connected on the next loop iteration, otherwise a connection is created.
func (h *Host) ConnectFixedChannel(cid uint16, peer blehost.Addr) bool {
	if c := h.connByPeer(peer); c != nil {
		err := h.d.Defer(func() { h.smp.Execute(smp.EvtL2CAPConnected, peer) })
		return err == nil
	}
	if h.pending != nil {
		h.log.Warnf("connection to %v pending, can't dial %v", h.pending.peer, peer)
		return false
	}

	target := peer
	typ := h.priv.MapIdentity(&target)
	if c := h.connByPeer(target); c != nil {
		err := h.d.Defer(func() { h.smp.Execute(smp.EvtL2CAPConnected, peer) })
		return err == nil
	}

	if err := h.command(opLECreateConnection, createConnection(target, typ, h.priv.OwnAddrType())); err != nil {
		h.log.Errorf("can't create connection to %v: %v", target, err)
		return false
	}
	h.pending = &dial{peer: peer, target: target}
	return true
}

// dialFailed reports a failed LE Create Connection to the pairing.
func (h *Host) dialFailed() {
	d := h.pending
	if d == nil {
		return
	}
	h.pending = nil
	h.smp.Execute(smp.EvtL2CAPDisconnected, d.peer)
}

// CancelFixedChannel implements smp.ChannelCanceller. A connection still
// being created for peer is cancelled and its connection complete ignored.
func (h *Host) CancelFixedChannel(cid uint16, peer blehost.Addr) {
	d := h.pending
	if d == nil || !d.matches(peer) {
		return
	}
	h.pending = nil
	if err := h.command(opLECreateConnectionCancel, nil); err != nil {
		h.log.Errorf("can't cancel connection to %v: %v", d.target, err)
		return
	}
	h.cancelled = d
}

// createConnection builds LE Create Connection parameters [Vol 2, Part E, 7.8.12].
func createConnection(peer blehost.Addr, peerType, ownType blehost.AddrType) []byte {
	b := make([]byte, 0, 25)
	b = appendUint16(b, defaultScanInterval)
	b = appendUint16(b, defaultScanWindow)
	b = append(b, 0x00) // initiator filter policy: peer address
	b = append(b, byte(peerType))
	b = append(b, peer.LE()...)
	b = append(b, byte(ownType))
	b = appendUint16(b, defaultConnIntervalMin)
	b = appendUint16(b, defaultConnIntervalMax)
	b = appendUint16(b, 0) // latency
	b = appendUint16(b, defaultSupervisionTmo)
	b = appendUint16(b, 0) // min ce length
	b = appendUint16(b, 0) // max ce length
	return b
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}
