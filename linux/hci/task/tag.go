package task

import "fmt"

// Tag identifies a message. The high byte is the source layer (the event
// range), the low byte the sub-event within that layer.
type Tag uint16

// RangeMask selects the event range of a tag.
const RangeMask Tag = 0xFF00

// Built-in ranges with hard-wired routes.
const (
	TagHCIEvent        Tag = 0x1000 // hci event from the transport
	TagACLData         Tag = 0x1100 // acl data from the transport
	TagSCOData         Tag = 0x1200 // sco data from the transport
	TagHCICommand      Tag = 0x1300 // hci command to send to the controller
	TagSegmentsSent    Tag = 0x1900 // l2cap segments transmitted
	TagStartTimer      Tag = 0x3000
	TagStopTimer       Tag = 0x3100
	TagStartQuickTimer Tag = 0x3200
	TagStopQuickTimer  Tag = 0x3300
	TagContextSwitch   Tag = 0x8000 // run a closure on the dispatcher
)

// First range available to extension layers.
const TagUserRange Tag = 0x9000

// Range returns the event range of t.
func (t Tag) Range() Tag {
	return t & RangeMask
}

// Sub returns the sub-event of t.
func (t Tag) Sub() uint8 {
	return uint8(t)
}

func (t Tag) String() string {
	if r, ok := builtinNames[t.Range()]; ok {
		return fmt.Sprintf("%s/%02x", r, t.Sub())
	}
	return fmt.Sprintf("tag(0x%04x)", uint16(t))
}

var builtinNames = map[Tag]string{
	TagHCIEvent:        "hci event",
	TagACLData:         "acl data",
	TagSCOData:         "sco data",
	TagHCICommand:      "hci command",
	TagSegmentsSent:    "segments sent",
	TagStartTimer:      "start timer",
	TagStopTimer:       "stop timer",
	TagStartQuickTimer: "start quick timer",
	TagStopQuickTimer:  "stop quick timer",
	TagContextSwitch:   "context switch",
}
