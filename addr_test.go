package blehost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("C0:11:22:33:44:55")
	require.NoError(t, err)
	assert.Equal(t, Addr{0xc0, 0x11, 0x22, 0x33, 0x44, 0x55}, a)
	assert.Equal(t, "c0:11:22:33:44:55", a.String())
	assert.Equal(t, byte(RandomStatic), a.RandomSubType())

	b, err := ParseAddr("c01122334455")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = ParseAddr("c0:11:22")
	assert.Error(t, err)
	_, err = ParseAddr("zz:11:22:33:44:55")
	assert.Error(t, err)
}

func TestAddrWireOrder(t *testing.T) {
	a := MustParseAddr("01:02:03:04:05:06")
	assert.Equal(t, []byte{6, 5, 4, 3, 2, 1}, a.LE())
	assert.Equal(t, a, AddrFromLE(a.LE()))
}

func TestAddrText(t *testing.T) {
	a := MustParseAddr("4a:00:00:00:00:01")
	txt, err := a.MarshalText()
	require.NoError(t, err)

	var b Addr
	require.NoError(t, b.UnmarshalText(txt))
	assert.Equal(t, a, b)
	assert.True(t, b.IsResolvable())
	assert.False(t, b.IsZero())
}
