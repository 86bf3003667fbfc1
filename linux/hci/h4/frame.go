package h4

import (
	"time"

	"github.com/pkg/errors"
)

// H4 packet indicators.
const (
	commandPacket = 0x01
	aclPacket     = 0x02
	scoPacket     = 0x03
	eventPacket   = 0x04
)

// DefaultFrameTimeout is how long a partial packet may wait for the rest
// of its bytes.
const DefaultFrameTimeout = 500 * time.Millisecond

var errShort = errors.New("not enough bytes")

// Framer splits an H4 byte stream into whole packets, indicator included.
// Bytes before a known indicator are skipped, and a partial packet older
// than the timeout is dropped.
type Framer struct {
	b       []byte
	timeout time.Time
	typ     byte

	Timeout time.Duration
	now     func() time.Time
}

func NewFramer() *Framer {
	return &Framer{Timeout: DefaultFrameTimeout, now: time.Now}
}

// Push adds b to the stream and returns the packets it completed.
func (f *Framer) Push(b []byte) [][]byte {
	if len(f.b) != 0 && f.now().After(f.timeout) {
		f.reset()
	}

	var out [][]byte
	for len(b) > 0 {
		if len(f.b) == 0 {
			i := f.waitStart(b)
			if i < 0 {
				return out
			}
			b = b[i:]
		}

		f.b = append(f.b, b...)
		b = nil

		n, err := f.length()
		if err != nil || len(f.b) < n {
			break
		}
		out = append(out, append([]byte(nil), f.b[:n]...))

		// anything past the packet starts the search again
		b = append([]byte(nil), f.b[n:]...)
		f.reset()
	}
	return out
}

// Pending returns the number of buffered bytes of a partial packet.
func (f *Framer) Pending() int {
	return len(f.b)
}

func (f *Framer) reset() {
	f.b = f.b[:0]
	f.typ = 0
	f.timeout = time.Time{}
}

// waitStart returns the index of the first packet indicator in b, or -1.
func (f *Framer) waitStart(b []byte) int {
	for i, v := range b {
		switch v {
		case eventPacket, aclPacket, scoPacket, commandPacket:
			f.typ = v
			f.timeout = f.now().Add(f.Timeout)
			return i
		}
	}
	return -1
}

func (f *Framer) length() (int, error) {
	switch f.typ {
	case eventPacket:
		// indicator, code, length
		if len(f.b) < 3 {
			return 0, errShort
		}
		return 3 + int(f.b[2]), nil
	case aclPacket:
		// indicator, handle, length (2)
		if len(f.b) < 5 {
			return 0, errShort
		}
		return 5 + (int(f.b[3]) | int(f.b[4])<<8), nil
	case scoPacket, commandPacket:
		// indicator, handle or opcode, length
		if len(f.b) < 4 {
			return 0, errShort
		}
		return 4 + int(f.b[3]), nil
	default:
		return 0, errors.Errorf("invalid packet type %v", f.typ)
	}
}
