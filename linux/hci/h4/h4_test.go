package h4

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cmdComplete = []byte{0x04, 0x0e, 0x04, 0x01, 0x05, 0x20, 0x00}
	aclPkt      = []byte{0x02, 0x40, 0x20, 0x03, 0x00, 0xaa, 0xbb, 0xcc}
)

func TestFramerWhole(t *testing.T) {
	f := NewFramer()
	out := f.Push(append(append([]byte{}, cmdComplete...), aclPkt...))
	require.Len(t, out, 2)
	assert.Equal(t, cmdComplete, out[0])
	assert.Equal(t, aclPkt, out[1])
	assert.Zero(t, f.Pending())
}

func TestFramerSplit(t *testing.T) {
	f := NewFramer()
	assert.Empty(t, f.Push(cmdComplete[:2]))
	assert.Empty(t, f.Push(cmdComplete[2:5]))
	out := f.Push(append(append([]byte{}, cmdComplete[5:]...), aclPkt[:4]...))
	require.Len(t, out, 1)
	assert.Equal(t, cmdComplete, out[0])
	assert.Equal(t, 4, f.Pending())

	out = f.Push(aclPkt[4:])
	require.Len(t, out, 1)
	assert.Equal(t, aclPkt, out[0])
}

func TestFramerSkipsGarbage(t *testing.T) {
	f := NewFramer()
	out := f.Push(append([]byte{0x00, 0xfe}, cmdComplete...))
	require.Len(t, out, 1)
	assert.Equal(t, cmdComplete, out[0])
}

func TestFramerTimeout(t *testing.T) {
	now := time.Unix(100, 0)
	f := NewFramer()
	f.now = func() time.Time { return now }

	f.Push(aclPkt[:3])
	now = now.Add(time.Second)

	out := f.Push(cmdComplete)
	require.Len(t, out, 1)
	assert.Equal(t, cmdComplete, out[0])
}

func TestH4ReadWrite(t *testing.T) {
	local, remote := net.Pipe()
	h := New(&connWithTimeout{c: local, timeout: 20 * time.Millisecond}, nil)
	defer h.Close()

	go func() {
		remote.Write(cmdComplete[:3])
		remote.Write(cmdComplete[3:])
	}()

	b := make([]byte, 64)
	var n int
	var err error
	require.Eventually(t, func() bool {
		n, err = h.Read(b)
		return n > 0 || err != nil
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, cmdComplete, b[:n])

	got := make(chan []byte, 1)
	go func() {
		rb := make([]byte, 16)
		n, _ := io.ReadFull(remote, rb[:4])
		got <- rb[:n]
	}()
	for {
		_, err = h.Write([]byte{0x01, 0x03, 0x0c, 0x00})
		if err == nil {
			break
		}
		// the write deadline can expire before the reader is scheduled
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, []byte{0x01, 0x03, 0x0c, 0x00}, <-got)
}

func TestH4ReadAfterClose(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	h := New(&connWithTimeout{c: local, timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, h.Close())

	b := make([]byte, 64)
	assert.Eventually(t, func() bool {
		_, err := h.Read(b)
		return err == io.EOF
	}, 5*time.Second, time.Millisecond)

	_, err := h.Write([]byte{0x01})
	assert.Equal(t, io.EOF, err)
}
