package smp

import (
	"github.com/rigado/blehost"
)

// BasicMachine is the minimal state machine the front end needs to run:
// it completes pairings, takes keys and answers security grants. Key
// generation and distribution are left to a full state machine.
type BasicMachine struct {
	m   *Manager
	rot AddressRotator
}

// NewBasicMachine returns a machine driving m. When rot is set, address
// rotation starts after every successful pairing.
func NewBasicMachine(m *Manager, rot AddressRotator) *BasicMachine {
	return &BasicMachine{m: m, rot: rot}
}

func (b *BasicMachine) Execute(evt Event, data interface{}) {
	p := &b.m.p

	switch evt {
	case EvtL2CAPConnected:
		if p.State == StateIdle && p.Flags&FlagWeStarted != 0 {
			p.State = StatePairReqRsp
		}

	case EvtL2CAPDisconnected:
		if p.Active() {
			b.m.Complete(StatusPairFailUnknown)
		}

	case EvtSecurityRequest:
		peer, ok := data.(blehost.Addr)
		if !ok || p.Active() {
			return
		}
		p.Flags |= FlagPeerStarted
		p.Peer = peer
		b.m.Notify(CbSecRequest, nil)

	case EvtTKRequest:
		if cb, ok := data.(CbEvent); ok {
			b.m.Notify(cb, nil)
		}

	case EvtAPISecGrant:
		if res, _ := data.(Status); res != StatusSuccess {
			b.m.Complete(StatusPairNotSupported)
			return
		}
		p.State = StateSecRequest

	case EvtKeyReady:
		if k, ok := data.(Key); ok && k.Type == KeyTypeTK {
			p.TK = k.Data
			p.KeyReady = true
		}

	case EvtAuthComplete:
		status, _ := data.(Status)
		if status == StatusSuccess && b.rot != nil {
			b.rot.StartRotation()
		}
		b.m.Complete(status)

	default:
		b.m.log.Debugf("%v not handled in %v", evt, p.State)
	}
}
