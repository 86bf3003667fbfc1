package blehost

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/blehost/sliceops"
)

// AddrLen is the length of a Bluetooth device address.
const AddrLen = 6

// Addr is a Bluetooth device address, most significant byte first.
// Index 0 carries the random address sub-type in its two top bits.
type Addr [AddrLen]byte

// AddrType is the address type recorded for a peer or used by the local device.
type AddrType uint8

// Address types [Vol 6, Part B, 1.3].
const (
	AddrPublic   AddrType = 0x00
	AddrRandom   AddrType = 0x01
	AddrPublicID AddrType = 0x02
	AddrRandomID AddrType = 0x03
)

// Random address sub-type markers, top two bits of the most significant byte.
const (
	RandomSubTypeMask   = 0xC0
	RandomNonResolvable = 0x00
	RandomResolvable    = 0x40
	RandomStatic        = 0xC0
)

// NoAddr is the all zero address.
var NoAddr Addr

// ParseAddr parses "aa:bb:cc:dd:ee:ff" or "aabbccddeeff".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	hexStr := strings.Replace(strings.Replace(s, ":", "", -1), "-", "", -1)
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return a, errors.Wrapf(err, "can't parse address %q", s)
	}
	if len(b) != AddrLen {
		return a, errors.Errorf("invalid address length %d: %q", len(b), s)
	}
	copy(a[:], b)
	return a, nil
}

// MustParseAddr is like ParseAddr but panics on malformed input.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFromLE converts a little-endian (HCI wire order) address.
func AddrFromLE(b []byte) Addr {
	var a Addr
	copy(a[:], sliceops.SwapBuf(b[:AddrLen]))
	return a
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Bytes returns the address, most significant byte first.
func (a Addr) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// LE returns the address in HCI wire order.
func (a Addr) LE() []byte {
	return sliceops.SwapBuf(a[:])
}

// IsZero reports whether a is the all zero address.
func (a Addr) IsZero() bool {
	return a == NoAddr
}

// RandomSubType returns the two top bits of the most significant byte.
func (a Addr) RandomSubType() byte {
	return a[0] & RandomSubTypeMask
}

// IsResolvable reports whether a, taken as a random address, is resolvable.
func (a Addr) IsResolvable() bool {
	return a.RandomSubType() == RandomResolvable
}

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	case AddrPublicID:
		return "public-id"
	case AddrRandomID:
		return "random-id"
	default:
		return fmt.Sprintf("addrtype(0x%02x)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Addr) UnmarshalText(b []byte) error {
	v, err := ParseAddr(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAddrType parses the names printed by AddrType.String.
func ParseAddrType(s string) (AddrType, error) {
	for t := AddrPublic; t <= AddrRandomID; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown address type %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AddrType) UnmarshalText(b []byte) error {
	v, err := ParseAddrType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
