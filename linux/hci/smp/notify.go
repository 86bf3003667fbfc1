package smp

import (
	"github.com/cskr/pubsub/v2"
	"github.com/rigado/blehost"
)

const notifyTopic = "smp"

// Notification is a pairing event raised to the application.
type Notification struct {
	Event  CbEvent
	Peer   blehost.Addr
	Status Status
	// Data is the passkey to display for CbPasskeyNotify.
	Data interface{}
}

// Callback receives every notification synchronously, on the dispatcher.
// Its status is the application's answer to request events.
type Callback func(n Notification) Status

// Notifier fans notifications out to subscribers. Slow subscribers miss
// notifications rather than stall the stack.
type Notifier struct {
	ps *pubsub.PubSub[string, Notification]
}

// NewNotifier returns a notifier buffering capacity notifications per subscriber.
func NewNotifier(capacity int) *Notifier {
	return &Notifier{ps: pubsub.New[string, Notification](capacity)}
}

// Subscribe returns a channel receiving every later notification.
func (n *Notifier) Subscribe() chan Notification {
	return n.ps.Sub(notifyTopic)
}

// Unsubscribe stops deliveries to ch and closes it.
func (n *Notifier) Unsubscribe(ch chan Notification) {
	go n.ps.Unsub(ch, notifyTopic)
}

// Publish delivers x without blocking.
func (n *Notifier) Publish(x Notification) {
	n.ps.TryPub(x, notifyTopic)
}

// Close closes every subscriber channel.
func (n *Notifier) Close() {
	n.ps.Shutdown()
}
