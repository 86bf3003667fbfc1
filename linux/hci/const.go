package hci

// HCI Packet types
const (
	pktTypeCommand uint8 = 0x01
	pktTypeACLData uint8 = 0x02
	pktTypeSCOData uint8 = 0x03
	pktTypeEvent   uint8 = 0x04
	pktTypeVendor  uint8 = 0xFF
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	pbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	pbfContinuing            = 0x01 // Continuing fragment.
	pbfControllerToHostStart = 0x02 // Start of a non-automatically-flushable from controller to host.
	pbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU. (Not used in LE-U).
)

// Command opcodes, OGF << 10 | OCF.
const (
	opLESetRandomAddress       uint16 = 0x2005
	opLECreateConnection       uint16 = 0x200D
	opLECreateConnectionCancel uint16 = 0x200E
	opLELTKRequestReply        uint16 = 0x201A
	opLELTKRequestNegReply     uint16 = 0x201B

	ogfVendorSpecificDebug uint16 = 0x3F
	ogfBitShift                   = 10
)

const (
	maxHciPayload  = 255
	aclHeaderLen   = 4
	l2capHeaderLen = 4
)

// LE Create Connection defaults.
const (
	defaultScanInterval    uint16 = 0x0060 // 60ms
	defaultScanWindow      uint16 = 0x0030 // 30ms
	defaultConnIntervalMin uint16 = 0x0018 // 30ms
	defaultConnIntervalMax uint16 = 0x0028 // 50ms
	defaultSupervisionTmo  uint16 = 0x01F4 // 5s
)

const (
	roleMaster = 0x00
	roleSlave  = 0x01
)
