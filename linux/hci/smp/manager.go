// Package smp is the security manager front end: it gates application
// requests into the pairing state machine and raises its events back to the
// application. Every method runs on the dispatcher goroutine.
package smp

import (
	"github.com/rigado/blehost"
)

// Manager owns the pairing of one stack instance.
type Manager struct {
	p       Pairing
	machine StateMachine
	link    Link
	records Records
	notify  *Notifier
	cb      Callback
	log     blehost.Logger
}

// NewManager returns a manager driving a BasicMachine without address rotation.
func NewManager(link Link, records Records, l blehost.Logger) *Manager {
	if l == nil {
		l = blehost.GetLogger()
	}
	m := &Manager{
		link:    link,
		records: records,
		notify:  NewNotifier(16),
		log:     l.ChildLogger(map[string]interface{}{"pkg": "smp"}),
	}
	m.machine = NewBasicMachine(m, nil)
	return m
}

// SetStateMachine replaces the state machine events are posted to.
func (m *Manager) SetStateMachine(sm StateMachine) {
	m.machine = sm
}

// Register sets the application callback. A second registration replaces
// the first.
func (m *Manager) Register(cb Callback) bool {
	if m.cb != nil {
		m.log.Warn("callback already registered, replacing")
	}
	m.cb = cb
	return true
}

// Subscribe returns a channel of every notification raised after the call.
func (m *Manager) Subscribe() chan Notification {
	return m.notify.Subscribe()
}

// Unsubscribe stops deliveries to ch.
func (m *Manager) Unsubscribe(ch chan Notification) {
	m.notify.Unsubscribe(ch)
}

// Close releases the subscribers.
func (m *Manager) Close() {
	m.notify.Close()
}

// Pairing returns a copy of the pairing state.
func (m *Manager) Pairing() Pairing {
	return m.p
}

// Pair starts pairing with peer.
func (m *Manager) Pair(peer blehost.Addr) Status {
	if m.p.State != StateIdle || m.p.Flags&FlagWeStarted != 0 {
		return StatusBusy
	}

	m.p.Flags = FlagWeStarted
	m.p.Peer = peer

	if m.link == nil || !m.link.ConnectFixedChannel(CID, peer) {
		m.log.Errorf("pair: l2cap connection to %v failed", peer)
		status := StatusPairInternalErr
		m.post(EvtAuthComplete, status)
		return status
	}
	return StatusStarted
}

// PairCancel cancels the pairing with peer and reports whether there was one.
func (m *Manager) PairCancel(peer blehost.Addr) bool {
	if !m.p.Active() || m.p.Peer != peer {
		return false
	}

	m.p.Cancelled = true
	m.post(EvtAuthComplete, StatusPairFailUnknown)
	return true
}

// SecurityGrant answers a security request from peer.
func (m *Manager) SecurityGrant(peer blehost.Addr, res Status) {
	if m.p.State != StateWaitAppRsp || m.p.CbEvent != CbSecRequest || m.p.Peer != peer {
		return
	}
	m.post(EvtAPISecGrant, res)
}

// PasskeyReply answers a passkey request. The key is picked up by the state
// machine, nothing is posted on success.
func (m *Manager) PasskeyReply(peer blehost.Addr, res Status, passkey uint32) {
	if m.p.CbEvent != CbPasskeyReq {
		return
	}

	switch {
	case m.p.Peer != peer:
		m.log.Warnf("passkey reply from %v, pairing with %v", peer, m.p.Peer)
	case !m.known(peer):
		m.log.Warnf("passkey reply from unknown device %v", peer)
	case passkey > MaxPasskey || res != StatusSuccess:
		m.log.Debugf("passkey reply rejected: %v", res)
	default:
		m.p.TK = passkeyTK(passkey)
		return
	}
	m.post(EvtAuthComplete, StatusPasskeyEntryFail)
}

// OobDataReply answers an out of band data request.
func (m *Manager) OobDataReply(peer blehost.Addr, res Status, data []byte) {
	if m.p.State != StateWaitAppRsp || m.p.CbEvent != CbOOBReq {
		return
	}

	if res != StatusSuccess || len(data) == 0 {
		m.post(EvtAuthComplete, StatusOOBFail)
		return
	}

	m.p.TK = [16]byte{}
	copy(m.p.TK[:], data)
	m.post(EvtKeyReady, Key{Type: KeyTypeTK, Data: m.p.TK})
}

// Notify raises evt to the application. Request events make the pairing
// wait for the application's answer.
func (m *Manager) Notify(evt CbEvent, data interface{}) Status {
	m.p.CbEvent = evt
	switch evt {
	case CbIOCapReq, CbSecRequest, CbPasskeyReq, CbOOBReq:
		m.p.State = StateWaitAppRsp
	}

	n := Notification{Event: evt, Peer: m.p.Peer, Data: data}
	status := StatusSuccess
	if m.cb != nil {
		status = m.cb(n)
	}
	m.notify.Publish(n)
	return status
}

// Complete ends the pairing with status and reports it to the application.
func (m *Manager) Complete(status Status) {
	peer := m.p.Peer
	if m.p.Cancelled && status == StatusSuccess {
		status = StatusPairFailUnknown
	}
	m.p.reset()
	if c, ok := m.link.(ChannelCanceller); ok {
		c.CancelFixedChannel(CID, peer)
	}

	m.log.Infof("pairing with %v complete: %v", peer, status)
	n := Notification{Event: CbComplete, Peer: peer, Status: status}
	if m.cb != nil {
		m.cb(n)
	}
	m.notify.Publish(n)
}

// Execute posts evt to the state machine. The link layer uses it to report
// channel and pdu events.
func (m *Manager) Execute(evt Event, data interface{}) {
	m.post(evt, data)
}

func (m *Manager) post(evt Event, data interface{}) {
	m.log.Debugf("%v in %v", evt, m.p.State)
	if m.machine != nil {
		m.machine.Execute(evt, data)
	}
}

func (m *Manager) known(peer blehost.Addr) bool {
	if m.records == nil {
		return false
	}
	_, ok := m.records.Lookup(peer)
	return ok
}
