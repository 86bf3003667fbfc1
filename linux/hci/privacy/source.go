package privacy

import (
	"crypto/rand"

	"github.com/rigado/blehost/linux/hci/smp"
)

// Random produces random bytes. done runs on the dispatcher.
type Random interface {
	Rand(n int, done func(b []byte, err error))
}

// Cipher encrypts one AES-128 block in wire byte order. done runs on the
// dispatcher.
type Cipher interface {
	Encrypt(key, plaintext []byte, done func(out [16]byte, err error))
}

// Deferrer queues work for a later dispatcher iteration.
type Deferrer interface {
	Defer(fn func()) error
}

type cryptoRandom struct {
	d Deferrer
}

// NewRandom returns a Random backed by crypto/rand.
func NewRandom(d Deferrer) Random {
	return &cryptoRandom{d: d}
}

func (r *cryptoRandom) Rand(n int, done func([]byte, error)) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if derr := r.d.Defer(func() { done(b, err) }); derr != nil {
		done(nil, derr)
	}
}

type aesCipher struct {
	d Deferrer
}

// NewCipher returns a Cipher backed by smp.Encrypt.
func NewCipher(d Deferrer) Cipher {
	return &aesCipher{d: d}
}

func (c *aesCipher) Encrypt(key, plaintext []byte, done func([16]byte, error)) {
	out, err := smp.Encrypt(key, plaintext)
	if derr := c.d.Defer(func() { done(out, err) }); derr != nil {
		done([16]byte{}, derr)
	}
}
