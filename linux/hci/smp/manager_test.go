package smp

import (
	"testing"
	"time"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	peerA = blehost.MustParseAddr("11:22:33:44:55:66")
	peerB = blehost.MustParseAddr("66:55:44:33:22:11")
)

type mockLink struct {
	mock.Mock
}

func (l *mockLink) ConnectFixedChannel(cid uint16, peer blehost.Addr) bool {
	return l.Called(cid, peer).Bool(0)
}

// mockCancelLink is a link that can abandon a channel being opened.
type mockCancelLink struct {
	mockLink
}

func (l *mockCancelLink) CancelFixedChannel(cid uint16, peer blehost.Addr) {
	l.Called(cid, peer)
}

type mockMachine struct {
	mock.Mock
}

func (m *mockMachine) Execute(evt Event, data interface{}) {
	m.Called(evt, data)
}

type mockRotator struct {
	mock.Mock
}

func (r *mockRotator) StartRotation() {
	r.Called()
}

func testLogger() blehost.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return blehost.NewLogger(l)
}

func newTestManager(t *testing.T, link Link) (*Manager, *bond.Table) {
	tbl := bond.NewTable(4)
	require.NoError(t, tbl.Save(bond.Record{Addr: peerA, DeviceType: bond.DeviceLE}))
	m := NewManager(link, tbl, testLogger())
	t.Cleanup(m.Close)
	return m, tbl
}

func TestPairBusy(t *testing.T) {
	link := &mockLink{}
	link.On("ConnectFixedChannel", uint16(CID), peerA).Return(true).Once()
	m, _ := newTestManager(t, link)

	assert.Equal(t, StatusStarted, m.Pair(peerA))
	assert.Equal(t, StatusBusy, m.Pair(peerB))
	assert.Equal(t, peerA, m.Pairing().Peer)
	assert.Equal(t, FlagWeStarted, m.Pairing().Flags)
	link.AssertExpectations(t)
}

func TestPairLinkFailure(t *testing.T) {
	link := &mockLink{}
	link.On("ConnectFixedChannel", uint16(CID), peerA).Return(false)
	m, _ := newTestManager(t, link)

	var got []Notification
	m.Register(func(n Notification) Status { got = append(got, n); return StatusSuccess })

	assert.Equal(t, StatusPairInternalErr, m.Pair(peerA))
	require.Len(t, got, 1)
	assert.Equal(t, CbComplete, got[0].Event)
	assert.Equal(t, StatusPairInternalErr, got[0].Status)

	// the failed attempt left the front end idle
	assert.False(t, m.p.Active())
	link.On("ConnectFixedChannel", uint16(CID), peerB).Return(true)
	assert.Equal(t, StatusStarted, m.Pair(peerB))
}

func TestPairCancel(t *testing.T) {
	link := &mockLink{}
	link.On("ConnectFixedChannel", uint16(CID), peerA).Return(true)
	m, _ := newTestManager(t, link)
	sm := &mockMachine{}
	m.SetStateMachine(sm)

	assert.False(t, m.PairCancel(peerA))

	m.Pair(peerA)
	assert.False(t, m.PairCancel(peerB))

	sm.On("Execute", EvtAuthComplete, StatusPairFailUnknown).Once()
	assert.True(t, m.PairCancel(peerA))
	assert.True(t, m.p.Cancelled)
	sm.AssertExpectations(t)
}

func TestCompleteCancelsChannel(t *testing.T) {
	link := &mockCancelLink{}
	link.On("ConnectFixedChannel", uint16(CID), peerA).Return(true).Once()
	link.On("ConnectFixedChannel", uint16(CID), peerB).Return(true).Once()
	link.On("CancelFixedChannel", uint16(CID), peerA).Once()
	m, _ := newTestManager(t, link)

	require.Equal(t, StatusStarted, m.Pair(peerA))
	require.True(t, m.PairCancel(peerA))
	p := m.Pairing()
	assert.False(t, p.Active())

	assert.Equal(t, StatusStarted, m.Pair(peerB))
	link.AssertExpectations(t)
}

func TestSecurityGrant(t *testing.T) {
	m, _ := newTestManager(t, &mockLink{})
	sm := &mockMachine{}
	m.SetStateMachine(sm)

	// not waiting for the application
	m.SecurityGrant(peerA, StatusSuccess)
	sm.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	m.p.Peer = peerA
	m.Notify(CbSecRequest, nil)
	assert.Equal(t, StateWaitAppRsp, m.p.State)

	m.SecurityGrant(peerB, StatusSuccess)
	sm.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	sm.On("Execute", EvtAPISecGrant, StatusSuccess).Once()
	m.SecurityGrant(peerA, StatusSuccess)
	sm.AssertExpectations(t)
}

func TestSecurityGrantBasicMachine(t *testing.T) {
	m, _ := newTestManager(t, &mockLink{})

	m.Execute(EvtSecurityRequest, peerA)
	assert.Equal(t, StateWaitAppRsp, m.p.State)
	assert.Equal(t, CbSecRequest, m.p.CbEvent)

	m.SecurityGrant(peerA, StatusSuccess)
	assert.Equal(t, StateSecRequest, m.p.State)

	var done Notification
	m.Register(func(n Notification) Status { done = n; return StatusSuccess })
	m.p.State = StateWaitAppRsp
	m.SecurityGrant(peerA, StatusPairAuthFail)
	assert.Equal(t, CbComplete, done.Event)
	assert.Equal(t, StatusPairNotSupported, done.Status)
	assert.Equal(t, StateIdle, m.p.State)
}

func TestPasskeyReply(t *testing.T) {
	unknown := blehost.MustParseAddr("aa:aa:aa:aa:aa:aa")
	cases := []struct {
		name    string
		pairing blehost.Addr
		peer    blehost.Addr
		res     Status
		passkey uint32
		fail    bool
	}{
		{"ok", peerA, peerA, StatusSuccess, 123456, false},
		{"max", peerA, peerA, StatusSuccess, MaxPasskey, false},
		{"out of range", peerA, peerA, StatusSuccess, MaxPasskey + 1, true},
		{"mismatch", peerA, peerB, StatusSuccess, 1, true},
		{"unknown device", unknown, unknown, StatusSuccess, 1, true},
		{"rejected", peerA, peerA, StatusPasskeyEntryFail, 1, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t, &mockLink{})
			sm := &mockMachine{}
			m.SetStateMachine(sm)
			m.p.Peer = tc.pairing
			m.Notify(CbPasskeyReq, nil)

			if tc.fail {
				sm.On("Execute", EvtAuthComplete, StatusPasskeyEntryFail).Once()
			}
			m.PasskeyReply(tc.peer, tc.res, tc.passkey)
			sm.AssertExpectations(t)

			if !tc.fail {
				sm.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
				assert.Equal(t, passkeyTK(tc.passkey), m.p.TK)
			}
		})
	}
}

func TestPasskeyReplyIgnoredWithoutRequest(t *testing.T) {
	m, _ := newTestManager(t, &mockLink{})
	sm := &mockMachine{}
	m.SetStateMachine(sm)
	m.p.Peer = peerA

	m.PasskeyReply(peerB, StatusSuccess, 1)
	sm.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestPasskeyTK(t *testing.T) {
	tk := passkeyTK(0x0001e240) // 123456
	assert.Equal(t, [16]byte{0x40, 0xe2, 0x01}, tk)
}

func TestOobDataReply(t *testing.T) {
	m, _ := newTestManager(t, &mockLink{})
	sm := &mockMachine{}
	m.SetStateMachine(sm)

	// not waiting for oob data
	m.OobDataReply(peerA, StatusSuccess, []byte{1})
	sm.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	m.p.Peer = peerA
	m.Notify(CbOOBReq, nil)

	sm.On("Execute", EvtAuthComplete, StatusOOBFail).Twice()
	m.OobDataReply(peerA, StatusSuccess, nil)
	m.OobDataReply(peerA, StatusOOBFail, []byte{1})

	long := make([]byte, 20)
	for i := range long {
		long[i] = byte(i + 1)
	}
	var want [16]byte
	copy(want[:], long)
	sm.On("Execute", EvtKeyReady, Key{Type: KeyTypeTK, Data: want}).Once()
	m.OobDataReply(peerA, StatusSuccess, long)

	sm.AssertExpectations(t)
	assert.Equal(t, want, m.p.TK)
}

func TestCompleteStartsRotation(t *testing.T) {
	link := &mockLink{}
	link.On("ConnectFixedChannel", uint16(CID), peerA).Return(true)
	m, _ := newTestManager(t, link)
	rot := &mockRotator{}
	rot.On("StartRotation").Once()
	m.SetStateMachine(NewBasicMachine(m, rot))

	ch := m.Subscribe()
	m.Pair(peerA)
	m.Execute(EvtL2CAPConnected, peerA)
	assert.Equal(t, StatePairReqRsp, m.p.State)

	m.Execute(EvtAuthComplete, StatusSuccess)
	rot.AssertExpectations(t)
	assert.Equal(t, StateIdle, m.p.State)

	select {
	case n := <-ch:
		assert.Equal(t, CbComplete, n.Event)
		assert.Equal(t, peerA, n.Peer)
		assert.Equal(t, StatusSuccess, n.Status)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestRegisterReplaces(t *testing.T) {
	m, _ := newTestManager(t, &mockLink{})
	var first, second int
	assert.True(t, m.Register(func(Notification) Status { first++; return StatusSuccess }))
	assert.True(t, m.Register(func(Notification) Status { second++; return StatusSuccess }))

	m.Notify(CbPasskeyNotify, uint32(42))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}
