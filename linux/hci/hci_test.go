package hci

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/rigado/blehost/linux/hci/privacy"
	"github.com/rigado/blehost/linux/hci/smp"
	"github.com/rigado/blehost/linux/hci/task"
	"github.com/rigado/blehost/linux/hci/timer"
	"github.com/rigado/blehost/sliceops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = time.Millisecond
)

// fakeSkt is a packet transport: every Read returns one queued packet.
type fakeSkt struct {
	rx     chan []byte
	mu     sync.Mutex
	tx     [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeSkt() *fakeSkt {
	return &fakeSkt{rx: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeSkt) Read(p []byte) (int, error) {
	select {
	case b, ok := <-f.rx:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, b), nil
	case <-f.closed:
		return 0, io.EOF
	case <-time.After(10 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakeSkt) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tx = append(f.tx, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSkt) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// commands returns the parameters of every command written with op.
func (f *fakeSkt) commands(op uint16) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, b := range f.tx {
		if len(b) >= 4 && b[0] == pktTypeCommand && binary.LittleEndian.Uint16(b[1:]) == op {
			out = append(out, b[4:])
		}
	}
	return out
}

func withTransport(rw io.ReadWriteCloser) blehost.Option {
	return func(o blehost.StackOption) error {
		return o.(*Host).SetTransport(rw)
	}
}

func newTestHost(t *testing.T, opts ...blehost.Option) (*Host, *fakeSkt) {
	ft := newFakeSkt()
	h, err := NewHost(append(opts, withTransport(ft))...)
	require.NoError(t, err)
	require.NoError(t, h.Init())
	t.Cleanup(func() { h.Close() })
	return h, ft
}

func newDetachedHost(t *testing.T, opts ...blehost.Option) *Host {
	h, err := NewHost(opts...)
	require.NoError(t, err)
	require.NoError(t, h.Init())
	t.Cleanup(func() { h.Close() })
	return h
}

func leConnComplete(handle uint16, peer blehost.Addr, status byte) []byte {
	b := []byte{pktTypeEvent, 0x3e, 19, 0x01, status, byte(handle), byte(handle >> 8), roleMaster, 0x00}
	b = append(b, peer.LE()...)
	return append(b, 0x18, 0x00, 0x00, 0x00, 0xf4, 0x01, 0x00)
}

func disconnComplete(handle uint16) []byte {
	return []byte{pktTypeEvent, 0x05, 4, 0x00, byte(handle), byte(handle >> 8), 0x13}
}

func cmdStatus(op uint16, status byte) []byte {
	return []byte{pktTypeEvent, 0x0f, 4, status, 1, byte(op), byte(op >> 8)}
}

func ltkRequest(handle uint16) []byte {
	b := []byte{pktTypeEvent, 0x3e, 13, 0x05, byte(handle), byte(handle >> 8)}
	return append(b, make([]byte, 10)...)
}

func aclSMP(handle uint16, pdu []byte) []byte {
	n := len(pdu)
	b := []byte{pktTypeACLData, byte(handle), byte(handle>>8) | pbfControllerToHostStart<<4, byte(n + 4), 0, byte(n), 0, 0x06, 0x00}
	return append(b, pdu...)
}

func connected(h *Host, peer blehost.Addr) bool {
	var ok bool
	h.d.Call(func() { ok = h.connByPeer(peer) != nil })
	return ok
}

func pairingState(h *Host) smp.State {
	p, _ := h.PairingState()
	return p.State
}

func recv(t *testing.T, ch chan smp.Notification) smp.Notification {
	select {
	case n := <-ch:
		return n
	case <-time.After(waitFor):
		t.Fatal("no notification")
		return smp.Notification{}
	}
}

var (
	peerAddr = blehost.MustParseAddr("c1:22:33:44:55:66")
	specIRK  = sliceops.SwapBuf([]byte{0xec, 0x02, 0x34, 0xa3, 0x57, 0xc8, 0xad, 0x05, 0x34, 0x10, 0x10, 0xa6, 0x0a, 0x39, 0x7d, 0x9b})
	specRPA  = blehost.MustParseAddr("70:81:94:0d:fb:aa")
)

func irk(b []byte) (k [16]byte) {
	copy(k[:], b)
	return k
}

func TestPrivacyProgramsRandomAddress(t *testing.T) {
	h, ft := newTestHost(t, blehost.OptPrivacy(true), blehost.OptIdentityKey(irk(specIRK)))

	require.Eventually(t, func() bool { return len(ft.commands(opLESetRandomAddress)) == 1 }, waitFor, tick)
	p := ft.commands(opLESetRandomAddress)[0]
	require.Len(t, p, 6)
	a := blehost.AddrFromLE(p)
	assert.True(t, privacy.Matches(irk(specIRK), a))

	typ, cur, err := h.OwnAddress()
	require.NoError(t, err)
	assert.Equal(t, blehost.AddrRandom, typ)
	assert.Equal(t, a, cur)
}

func TestPairConnectedPeer(t *testing.T) {
	h, ft := newTestHost(t)

	ft.rx <- leConnComplete(0x40, peerAddr, 0)
	require.Eventually(t, func() bool { return connected(h, peerAddr) }, waitFor, tick)

	s, err := h.Pair(peerAddr)
	require.NoError(t, err)
	assert.Equal(t, smp.StatusStarted, s)
	assert.Eventually(t, func() bool { return pairingState(h) == smp.StatePairReqRsp }, waitFor, tick)
	assert.Empty(t, ft.commands(opLECreateConnection))

	s, err = h.Pair(peerAddr)
	require.NoError(t, err)
	assert.Equal(t, smp.StatusBusy, s)
}

func TestPairCreatesConnection(t *testing.T) {
	h, ft := newTestHost(t)

	s, err := h.Pair(peerAddr)
	require.NoError(t, err)
	assert.Equal(t, smp.StatusStarted, s)

	require.Eventually(t, func() bool { return len(ft.commands(opLECreateConnection)) == 1 }, waitFor, tick)
	p := ft.commands(opLECreateConnection)[0]
	require.Len(t, p, 25)
	assert.EqualValues(t, blehost.AddrPublic, p[5])
	assert.Equal(t, peerAddr.LE(), p[6:12])
	assert.EqualValues(t, blehost.AddrPublic, p[12])
	assert.Equal(t, smp.StateIdle, pairingState(h))

	ft.rx <- leConnComplete(0x41, peerAddr, 0)
	assert.Eventually(t, func() bool { return pairingState(h) == smp.StatePairReqRsp }, waitFor, tick)
}

func TestPairCancelWhileConnecting(t *testing.T) {
	h, ft := newTestHost(t)
	ch := h.Subscribe()
	other := blehost.MustParseAddr("c1:22:33:44:55:77")

	s, err := h.Pair(peerAddr)
	require.NoError(t, err)
	require.Equal(t, smp.StatusStarted, s)
	require.Eventually(t, func() bool { return len(ft.commands(opLECreateConnection)) == 1 }, waitFor, tick)

	ok, err := h.PairCancel(peerAddr)
	require.NoError(t, err)
	assert.True(t, ok)
	n := recv(t, ch)
	assert.Equal(t, smp.CbComplete, n.Event)
	assert.Equal(t, smp.StatusPairFailUnknown, n.Status)
	require.Eventually(t, func() bool { return len(ft.commands(opLECreateConnectionCancel)) == 1 }, waitFor, tick)

	s, err = h.Pair(other)
	require.NoError(t, err)
	require.Equal(t, smp.StatusStarted, s)
	require.Eventually(t, func() bool { return len(ft.commands(opLECreateConnection)) == 2 }, waitFor, tick)
	assert.Equal(t, other.LE(), ft.commands(opLECreateConnection)[1][6:12])

	// unknown connection identifier for the cancelled dial
	ft.rx <- leConnComplete(0x0000, peerAddr, 0x02)
	ft.rx <- leConnComplete(0x42, other, 0)
	assert.Eventually(t, func() bool { return pairingState(h) == smp.StatePairReqRsp }, waitFor, tick)

	p, err := h.PairingState()
	require.NoError(t, err)
	assert.Equal(t, other, p.Peer)
}

func TestPairConnectionRejected(t *testing.T) {
	h, ft := newTestHost(t)
	ch := h.Subscribe()

	_, err := h.Pair(peerAddr)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(ft.commands(opLECreateConnection)) == 1 }, waitFor, tick)

	ft.rx <- cmdStatus(opLECreateConnection, 0x0c)
	n := recv(t, ch)
	assert.Equal(t, smp.CbComplete, n.Event)
	assert.Equal(t, smp.StatusPairFailUnknown, n.Status)
	assert.Equal(t, peerAddr, n.Peer)

	p, err := h.PairingState()
	require.NoError(t, err)
	assert.False(t, p.Active())
}

func TestDisconnectAbortsPairing(t *testing.T) {
	h, ft := newTestHost(t)
	ch := h.Subscribe()

	ft.rx <- leConnComplete(0x40, peerAddr, 0)
	require.Eventually(t, func() bool { return connected(h, peerAddr) }, waitFor, tick)
	_, err := h.Pair(peerAddr)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pairingState(h) == smp.StatePairReqRsp }, waitFor, tick)

	ft.rx <- disconnComplete(0x40)
	n := recv(t, ch)
	assert.Equal(t, smp.CbComplete, n.Event)
	assert.Equal(t, smp.StatusPairFailUnknown, n.Status)
	assert.False(t, connected(h, peerAddr))
}

func TestSecurityRequestFromPeer(t *testing.T) {
	h, ft := newTestHost(t)
	ch := h.Subscribe()

	ft.rx <- leConnComplete(0x40, peerAddr, 0)
	ft.rx <- aclSMP(0x40, []byte{byte(smp.EvtSecurityRequest), 0x01})

	n := recv(t, ch)
	assert.Equal(t, smp.CbSecRequest, n.Event)
	assert.Equal(t, peerAddr, n.Peer)
	assert.Equal(t, smp.StateWaitAppRsp, pairingState(h))

	require.NoError(t, h.SecurityGrant(peerAddr, smp.StatusSuccess))
	assert.Eventually(t, func() bool { return pairingState(h) == smp.StateSecRequest }, waitFor, tick)
}

func TestLongTermKeyRequest(t *testing.T) {
	h, ft := newTestHost(t)
	ltk := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t, h.Bond(bond.Record{Addr: peerAddr, DeviceType: bond.DeviceLE, LTK: ltk}))

	ft.rx <- leConnComplete(0x40, peerAddr, 0)
	ft.rx <- ltkRequest(0x40)
	require.Eventually(t, func() bool { return len(ft.commands(opLELTKRequestReply)) == 1 }, waitFor, tick)
	assert.Equal(t, append([]byte{0x40, 0x00}, ltk...), ft.commands(opLELTKRequestReply)[0])

	ft.rx <- ltkRequest(0x99)
	require.Eventually(t, func() bool { return len(ft.commands(opLELTKRequestNegReply)) == 1 }, waitFor, tick)
	assert.Equal(t, []byte{0x99, 0x00}, ft.commands(opLELTKRequestNegReply)[0])
}

func TestReadLoopEOF(t *testing.T) {
	errs := make(chan error, 1)
	h, ft := newTestHost(t, blehost.OptErrorHandler(func(err error) { errs <- err }))

	close(ft.rx)
	select {
	case <-h.Done():
	case <-time.After(waitFor):
		t.Fatal("host still running")
	}
	assert.Equal(t, io.EOF, h.Error())
	assert.Equal(t, io.EOF, <-errs)

	_, err := h.Pair(peerAddr)
	assert.Equal(t, task.ErrClosed, err)
}

func TestDetachedResolve(t *testing.T) {
	h := newDetachedHost(t)
	rec := bond.Record{Addr: blehost.MustParseAddr("00:00:00:00:00:01"), DeviceType: bond.DeviceLE, HasIRK: true, IRK: irk(specIRK)}
	require.NoError(t, h.Bond(rec))

	got, err := h.Resolve(context.Background(), specRPA)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Addr, got.Addr)

	got, err = h.Resolve(context.Background(), blehost.MustParseAddr("70:81:94:00:00:00"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDetachedNRPA(t *testing.T) {
	h := newDetachedHost(t)
	a, err := h.NRPA(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, blehost.RandomNonResolvable, a.RandomSubType())
}

// FIPS-197 appendix C.1, fed in wire order.
func TestDetachedEncrypt(t *testing.T) {
	h := newDetachedHost(t)
	key := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
	pt := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	ct := []byte{0x69, 0xc4, 0xe0, 0xd8, 0x6a, 0x7b, 0x04, 0x30, 0xd8, 0xcd, 0xb7, 0x80, 0x70, 0xb4, 0xc5, 0x5a}

	out, err := h.Encrypt(context.Background(), sliceops.SwapBuf(key), sliceops.SwapBuf(pt))
	require.NoError(t, err)
	assert.Equal(t, sliceops.SwapBuf(ct), out[:])
}

func TestUserRangeAndTimer(t *testing.T) {
	coarse, fine := task.NewManualTicks(), task.NewManualTicks()
	h := newDetachedHost(t, func(o blehost.StackOption) error {
		return o.(*Host).SetTicks(coarse, fine)
	})

	got := make(chan []byte, 1)
	require.NoError(t, h.RegisterEventRange(task.TagUserRange, func(m *task.Message) {
		got <- append([]byte(nil), m.Data...)
		m.Free()
	}))
	require.NoError(t, h.Post(task.TagUserRange|1, []byte{1, 2}))
	select {
	case b := <-got:
		assert.Equal(t, []byte{1, 2}, b)
	case <-time.After(waitFor):
		t.Fatal("message not routed")
	}

	var e timer.Entry
	fired := make(chan *timer.Entry, 1)
	require.NoError(t, h.RegisterTimer(&e, timer.Registered, 1, func(e *timer.Entry) { fired <- e }))
	require.Eventually(t, coarse.Running, waitFor, tick)
	require.True(t, coarse.Tick())
	select {
	case x := <-fired:
		assert.Equal(t, &e, x)
	case <-time.After(waitFor):
		t.Fatal("timer did not fire")
	}
}

func TestOptions(t *testing.T) {
	_, err := NewHost(blehost.OptTickPeriod(0))
	assert.Error(t, err)

	h, err := NewHost(blehost.OptDeviceRecords(42))
	assert.Error(t, err)
	assert.Nil(t, h)

	tbl := bond.NewTable(4)
	h, err = NewHost(blehost.OptDeviceRecords(tbl), blehost.OptRotationInterval(time.Minute))
	require.NoError(t, err)
	assert.Same(t, tbl, h.Records())
	assert.Equal(t, ErrInitialized, h.SetTickPeriod(time.Second))
	assert.Equal(t, ErrInitialized, h.SetPrivacy(true))
	assert.Equal(t, 60, h.rotationTicks())
}

func TestVendorCommand(t *testing.T) {
	h, ft := newTestHost(t)
	require.NoError(t, h.SendVendorCommand(0x0001, []byte{0xaa}))
	require.Eventually(t, func() bool { return len(ft.commands(0xFC01)) == 1 }, waitFor, tick)
	assert.Equal(t, []byte{0xaa}, ft.commands(0xFC01)[0])

	assert.Error(t, h.SendVendorCommand(0x400, nil))
	assert.Error(t, h.SendVendorCommand(1, make([]byte, 256)))
}
