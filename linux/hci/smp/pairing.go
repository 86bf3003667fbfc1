package smp

import (
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/linux/hci/bond"
)

// Pairing is the state of the one pairing procedure a stack runs at a time.
type Pairing struct {
	State     State
	Flags     Flags
	Peer      blehost.Addr
	TK        [16]byte
	CbEvent   CbEvent
	Cancelled bool
	KeyReady  bool
}

// Active reports whether a pairing is underway.
func (p *Pairing) Active() bool {
	return p.State != StateIdle || p.Flags&FlagWeStarted != 0
}

func (p *Pairing) reset() {
	*p = Pairing{}
}

// StateMachine runs the pairing transitions. Execute is called on the
// dispatcher for every event the front end posts.
type StateMachine interface {
	Execute(evt Event, data interface{})
}

// Link opens the security manager channel to a peer.
type Link interface {
	ConnectFixedChannel(cid uint16, peer blehost.Addr) bool
}

// ChannelCanceller is implemented by links that can abandon a channel still
// being opened. The manager calls it whenever a pairing completes.
type ChannelCanceller interface {
	CancelFixedChannel(cid uint16, peer blehost.Addr)
}

// Records finds the device record of a peer.
type Records interface {
	Lookup(addr blehost.Addr) (bond.Record, bool)
}

// AddressRotator starts private address rotation once a peer is bonded.
type AddressRotator interface {
	StartRotation()
}

// KeyType says which key a key ready event carries.
type KeyType uint8

const (
	KeyTypeTK KeyType = iota
	KeyTypeCFM
	KeyTypeSTK
	KeyTypeLTK
)

// Key is the payload of EvtKeyReady.
type Key struct {
	Type KeyType
	Data [16]byte
}
