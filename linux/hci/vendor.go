package hci

import (
	"fmt"
)

// SendVendorCommand queues a vendor specific command (OGF 0x3F) with the
// given OCF and parameters.
func (h *Host) SendVendorCommand(ocf uint16, params []byte) error {
	if len(params) > maxHciPayload {
		return fmt.Errorf("invalid length %v; max hci payload length is %v", len(params), maxHciPayload)
	}
	if ocf > 0x3FF {
		return fmt.Errorf("invalid ocf 0x%04x", ocf)
	}

	opcode := (ogfVendorSpecificDebug << ogfBitShift) | ocf
	return h.command(opcode, params)
}
