package smp

import "fmt"

// CID is the fixed l2cap channel of the security manager on le links.
const CID = 0x0006

// MaxPasskey is the largest passkey the user can enter.
const MaxPasskey = 999999

// Status is the outcome of a pairing operation.
type Status uint8

// Codes up to StatusRepeatedAttempts are the pairing failed reasons on the air.
const (
	StatusSuccess          Status = 0x00
	StatusPasskeyEntryFail Status = 0x01
	StatusOOBFail          Status = 0x02
	StatusPairAuthFail     Status = 0x03
	StatusConfirmValueErr  Status = 0x04
	StatusPairNotSupported Status = 0x05
	StatusEncKeySize       Status = 0x06
	StatusInvalidCmd       Status = 0x07
	StatusPairFailUnknown  Status = 0x08
	StatusRepeatedAttempts Status = 0x09
	StatusPairInternalErr  Status = 0x0A
	StatusUnknownIOCap     Status = 0x0B
	StatusInitFail         Status = 0x0C
	StatusConfirmFail      Status = 0x0D
	StatusBusy             Status = 0x0E
	StatusEncFail          Status = 0x0F
	StatusStarted          Status = 0x10
	StatusRspTimeout       Status = 0x11
	StatusDivNotAvail      Status = 0x12
	StatusFail             Status = 0x13
)

var statusNames = []string{
	"success",
	"passkey entry failed",
	"oob not available",
	"authentication requirements",
	"confirm value failed",
	"pairing not supported",
	"encryption key size",
	"command not supported",
	"unspecified reason",
	"repeated attempts",
	"internal error",
	"unknown io capability",
	"init failed",
	"confirm failed",
	"busy",
	"encryption failed",
	"started",
	"response timeout",
	"div not available",
	"failed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(0x%02x)", uint8(s))
}

// State of the pairing state machine.
type State uint8

const (
	StateIdle State = iota
	StateWaitAppRsp
	StateSecRequest
	StatePairReqRsp
	StateWaitConfirm
	StateConfirm
	StateRand
	StateEncPending
	StateBondPending
	StateReleaseDelay
)

var stateNames = []string{
	"idle",
	"wait app rsp",
	"sec request pending",
	"pair req rsp",
	"wait confirm",
	"confirm",
	"rand",
	"enc pending",
	"bond pending",
	"release delay",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Event drives the state machine. Events below EvtKeyReady are received
// pdus, keyed by their opcode.
type Event uint8

const (
	EvtPairingRequest   Event = 0x01
	EvtPairingResponse  Event = 0x02
	EvtPairingConfirm   Event = 0x03
	EvtPairingRandom    Event = 0x04
	EvtPairingFailed    Event = 0x05
	EvtEncryptionInfo   Event = 0x06
	EvtMasterID         Event = 0x07
	EvtIdentityInfo     Event = 0x08
	EvtIdentityAddrInfo Event = 0x09
	EvtSigningInfo      Event = 0x0A
	EvtSecurityRequest  Event = 0x0B
)

const (
	EvtKeyReady Event = 0x20 + iota
	EvtEncryptComplete
	EvtL2CAPConnected
	EvtL2CAPDisconnected
	EvtIOResponse
	EvtAPISecGrant
	EvtTKRequest
	EvtAuthComplete
	EvtEncRequest
	EvtBondRequest
	EvtDiscardSecRequest
	EvtReleaseDelay
	EvtReleaseDelayTimeout
)

var eventNames = map[Event]string{
	EvtPairingRequest:      "pairing request",
	EvtPairingResponse:     "pairing response",
	EvtPairingConfirm:      "pairing confirm",
	EvtPairingRandom:       "pairing random",
	EvtPairingFailed:       "pairing failed",
	EvtEncryptionInfo:      "encryption info",
	EvtMasterID:            "master id",
	EvtIdentityInfo:        "id info",
	EvtIdentityAddrInfo:    "id addr info",
	EvtSigningInfo:         "signing info",
	EvtSecurityRequest:     "security req",
	EvtKeyReady:            "key ready",
	EvtEncryptComplete:     "encrypt complete",
	EvtL2CAPConnected:      "l2cap connected",
	EvtL2CAPDisconnected:   "l2cap disconnected",
	EvtIOResponse:          "io response",
	EvtAPISecGrant:         "api sec grant",
	EvtTKRequest:           "tk request",
	EvtAuthComplete:        "auth complete",
	EvtEncRequest:          "enc request",
	EvtBondRequest:         "bond request",
	EvtDiscardSecRequest:   "discard sec request",
	EvtReleaseDelay:        "release delay",
	EvtReleaseDelayTimeout: "release delay timeout",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("event(0x%02x)", uint8(e))
}

// CbEvent is an event raised to the application.
type CbEvent uint8

const (
	CbNone CbEvent = iota
	CbIOCapReq
	CbSecRequest
	CbPasskeyNotify
	CbPasskeyReq
	CbOOBReq
	CbComplete
)

var cbNames = []string{"none", "io cap req", "sec request", "passkey notify", "passkey req", "oob req", "complete"}

func (e CbEvent) String() string {
	if int(e) < len(cbNames) {
		return cbNames[e]
	}
	return fmt.Sprintf("cb(%d)", uint8(e))
}

// Flags of the pairing in progress.
type Flags uint8

const (
	FlagWeStarted Flags = 1 << iota
	FlagPeerStarted
	FlagEncrypted
	FlagKeysDistributed
)
