package task

import (
	"github.com/rigado/blehost/linux/hci/timer"
)

// Ownership says who frees a message once its handler returns.
type Ownership int

const (
	// Borrow: the dispatcher frees the message after the handler returns.
	Borrow Ownership = iota
	// Consume: the handler owns the message and frees it, possibly later.
	Consume
)

func (o Ownership) String() string {
	if o == Consume {
		return "consume"
	}
	return "borrow"
}

// Layers is implemented by the protocol layers the dispatcher feeds. The
// doc of each method states the ownership of the message it receives.
type Layers interface {
	// HandleEvent processes an hci event. Borrowed.
	HandleEvent(m *Message)
	// HandleACL forwards acl data to l2cap. Consumed.
	HandleACL(m *Message)
	// HandleSCO processes sco data. Borrowed.
	HandleSCO(m *Message)
	// SendCommand queues an hci command for the controller. Consumed.
	SendCommand(m *Message)
	// SegmentsSent reports transmitted l2cap segments. Borrowed.
	SegmentsSent(m *Message)

	// Timeout handles an expired coarse timer of a built-in type.
	Timeout(e *timer.Entry)
	// QuickTimeout handles an expired fine timer of a built-in type.
	QuickTimeout(e *timer.Entry)
}

// EventFunc handles a message of a registered event range. It owns the message.
type EventFunc func(m *Message)

// TimerFunc handles an expired timer registered by entry.
type TimerFunc func(e *timer.Entry)

// NopLayers drops everything. Consumed messages are freed.
type NopLayers struct{}

func (NopLayers) HandleEvent(*Message) {}
func (NopLayers) HandleACL(m *Message) { m.Free() }
func (NopLayers) HandleSCO(*Message) {}
func (NopLayers) SendCommand(m *Message) { m.Free() }
func (NopLayers) SegmentsSent(*Message) {}
func (NopLayers) Timeout(*timer.Entry) {}
func (NopLayers) QuickTimeout(*timer.Entry) {}
