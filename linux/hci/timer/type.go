package timer

import "fmt"

// Type tags a timer entry with the layer that owns it. The dispatcher
// routes an expired entry by its type.
type Type uint16

// Coarse (seconds) domain kinds.
const (
	DevCtl          Type = 1  // device control reply timeout
	L2CAPLink       Type = 2  // link supervision / startup
	L2CAPChannel    Type = 3  // channel configuration
	L2CAPHold       Type = 4  // hold buffers
	L2CAPInfo       Type = 5  // information request
	RemoteName      Type = 6  // remote name request
	SDP             Type = 7  // service discovery response
	RFCOMMMux       Type = 8  // rfcomm multiplexer
	RFCOMMPort      Type = 9  // rfcomm port
	BLEInquiry      Type = 10 // le scan duration
	BLELimitedDisc  Type = 11 // le limited discoverable mode
	BLERandomAddr   Type = 12 // private address refresh
	SMPPairing      Type = 13 // smp command timeout
	ATTResponse     Type = 14 // att wait for response
	UserFunc        Type = 15 // Param holds a func(*Entry)
	BNEP            Type = 16 // bnep connection/filter
	HIDHost         Type = 17 // hid host
	AVDTPSignalling Type = 18 // avdtp signalling
)

// Fine (quick) domain kinds.
const (
	FCRAck        Type = 40 // l2cap enhanced retransmission ack
	FCRRetransmit Type = 41 // l2cap enhanced retransmission retransmit
)

// Registered is the first type value available to extension layers that
// route their timers through the dispatcher's timer callback registry.
const Registered Type = 0x100

var names = map[Type]string{
	DevCtl:          "devctl",
	L2CAPLink:       "l2cap link",
	L2CAPChannel:    "l2cap channel",
	L2CAPHold:       "l2cap hold",
	L2CAPInfo:       "l2cap info",
	RemoteName:      "remote name",
	SDP:             "sdp",
	RFCOMMMux:       "rfcomm mux",
	RFCOMMPort:      "rfcomm port",
	BLEInquiry:      "ble inquiry",
	BLELimitedDisc:  "ble limited disc",
	BLERandomAddr:   "ble random addr",
	SMPPairing:      "smp pairing",
	ATTResponse:     "att response",
	UserFunc:        "user func",
	BNEP:            "bnep",
	HIDHost:         "hid host",
	AVDTPSignalling: "avdtp signalling",
	FCRAck:          "fcr ack",
	FCRRetransmit:   "fcr retransmit",
}

func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// Builtin reports whether t is one of the coarse kinds with a hard-wired route.
func (t Type) Builtin() bool {
	return t >= DevCtl && t <= AVDTPSignalling
}

// Quick reports whether t belongs to the fine timer domain.
func (t Type) Quick() bool {
	return t == FCRAck || t == FCRRetransmit
}
