// Package evt decodes the parameters of the hci events the host tracks.
// Accessors without the WErr suffix return a default on short packets.
package evt

// Event codes [Vol 2, Part E, 7.7].
const (
	DisconnectionCompleteCode = 0x05
	EncryptionChangeCode      = 0x08
	CommandCompleteCode       = 0x0E
	CommandStatusCode         = 0x0F
	LEMetaCode                = 0x3E
	VendorCode                = 0xFF
)

// LE meta sub-event codes [Vol 2, Part E, 7.7.65].
const (
	LEConnectionCompleteSubCode       = 0x01
	LEConnectionUpdateCompleteSubCode = 0x03
	LELongTermKeyRequestSubCode       = 0x05
)

type CommandComplete []byte
type CommandStatus []byte
type DisconnectionComplete []byte
type EncryptionChange []byte
type LEConnectionComplete []byte
type LELongTermKeyRequest []byte

func (e CommandComplete) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

func (e CommandStatus) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandStatus) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e DisconnectionComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e DisconnectionComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e DisconnectionComplete) Reason() uint8 {
	v, _ := e.ReasonWErr()
	return v
}

func (e EncryptionChange) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e EncryptionChange) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e EncryptionChange) EncryptionEnabled() uint8 {
	v, _ := e.EncryptionEnabledWErr()
	return v
}

func (e LEConnectionComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e LEConnectionComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e LEConnectionComplete) Role() uint8 {
	v, _ := e.RoleWErr()
	return v
}

func (e LEConnectionComplete) PeerAddressType() uint8 {
	v, _ := e.PeerAddressTypeWErr()
	return v
}

// PeerAddress is little-endian, as on the wire.
func (e LEConnectionComplete) PeerAddress() [6]byte {
	v, _ := e.PeerAddressWErr()
	return v
}

func (e LELongTermKeyRequest) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e LELongTermKeyRequest) RandomNumber() uint64 {
	v, _ := e.RandomNumberWErr()
	return v
}

func (e LELongTermKeyRequest) EncryptionDiversifier() uint16 {
	v, _ := e.EncryptionDiversifierWErr()
	return v
}
