package evt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLEConnectionComplete(t *testing.T) {
	b := []byte{
		0x01,       // sub-event
		0x00,       // status
		0x40, 0x00, // handle
		0x00,                               // role
		0x01,                               // peer address type
		0x66, 0x55, 0x44, 0x33, 0x22, 0xc1, // peer address
		0x18, 0x00, 0x00, 0x00, 0x48, 0x00, 0x00,
	}
	e := LEConnectionComplete(b)
	assert.EqualValues(t, 0, e.Status())
	assert.EqualValues(t, 0x0040, e.ConnectionHandle())
	assert.EqualValues(t, 1, e.PeerAddressType())
	assert.Equal(t, [6]byte{0x66, 0x55, 0x44, 0x33, 0x22, 0xc1}, e.PeerAddress())
}

func TestShortPacketDefaults(t *testing.T) {
	e := LEConnectionComplete([]byte{0x01, 0x00, 0x40})
	_, err := e.ConnectionHandleWErr()
	require.Error(t, err)
	assert.EqualValues(t, 0xffff, e.ConnectionHandle())

	_, err = e.PeerAddressWErr()
	require.Error(t, err)

	d := DisconnectionComplete(nil)
	assert.EqualValues(t, 0xff, d.Status())
}

func TestCommandComplete(t *testing.T) {
	e := CommandComplete([]byte{0x01, 0x05, 0x20, 0x00})
	assert.EqualValues(t, 1, e.NumHCICommandPackets())
	assert.EqualValues(t, 0x2005, e.CommandOpcode())
	assert.Equal(t, []byte{0x00}, e.ReturnParameters())
}

func TestLELongTermKeyRequest(t *testing.T) {
	b := []byte{0x05, 0x41, 0x00, 1, 2, 3, 4, 5, 6, 7, 8, 0x34, 0x12}
	e := LELongTermKeyRequest(b)
	assert.EqualValues(t, 0x0041, e.ConnectionHandle())
	assert.EqualValues(t, 0x0807060504030201, e.RandomNumber())
	assert.EqualValues(t, 0x1234, e.EncryptionDiversifier())
}
