package smp

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"
	"github.com/rigado/blehost/sliceops"
)

// SignatureLen is the length of a signature appended to signed data:
// the sign counter followed by the truncated mac.
const SignatureLen = 12

// Encrypt runs one AES-128 block. Key and plaintext are little-endian as on
// the wire; a short plaintext is zero padded at the top. The ciphertext is
// returned little-endian.
func Encrypt(key, plaintext []byte) ([16]byte, error) {
	var out [16]byte
	if len(key) != 16 {
		return out, errors.Errorf("invalid key length %d", len(key))
	}
	if len(plaintext) > 16 {
		return out, errors.Errorf("plaintext too long: %d", len(plaintext))
	}

	c := aes128(sliceops.SwapBuf(key), sliceops.SwapBuf(sliceops.PadLE(plaintext, 16)))
	if c == nil {
		return out, errors.New("aes failed")
	}
	copy(out[:], sliceops.SwapBuf(c))
	return out, nil
}

// Sign returns the signature of data under the connection signature
// resolving key csrk, for the given sign counter.
func Sign(csrk [16]byte, data []byte, counter uint32) ([]byte, error) {
	m := make([]byte, len(data)+4)
	copy(m, data)
	binary.LittleEndian.PutUint32(m[len(data):], counter)

	mac, err := aesCMAC(csrk[:], m)
	if err != nil {
		return nil, errors.Wrap(err, "cmac")
	}

	// the 64 most significant bits of the mac
	sig := make([]byte, SignatureLen)
	copy(sig, m[len(data):])
	copy(sig[4:], mac[8:])
	return sig, nil
}

// Verify checks the signature trailing signed and returns its sign counter.
func Verify(csrk [16]byte, signed []byte) (uint32, bool) {
	if len(signed) < SignatureLen {
		return 0, false
	}
	data := signed[:len(signed)-SignatureLen]
	counter := binary.LittleEndian.Uint32(signed[len(data):])

	sig, err := Sign(csrk, data, counter)
	if err != nil {
		return 0, false
	}
	for i := range sig {
		if sig[i] != signed[len(data)+i] {
			return 0, false
		}
	}
	return counter, true
}

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, err
	}

	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}
	mMac.Write(sliceops.SwapBuf(msg))

	return sliceops.SwapBuf(mMac.Sum(nil)), nil
}

func aes128(key, msg []byte) []byte {
	mCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil
	}

	out := make([]byte, 16)
	mCipher.Encrypt(out, msg)
	return out
}

// passkeyTK places a passkey in the low bytes of a temporary key.
func passkeyTK(passkey uint32) [16]byte {
	var tk [16]byte
	binary.LittleEndian.PutUint32(tk[:4], passkey)
	return tk
}
