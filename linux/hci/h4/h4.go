// Package h4 carries hci packets over a byte stream (UART or TCP) using the
// H4 framing.
package h4

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/blehost"
)

const (
	rxQueueSize = 64
	readTimeout = time.Second
)

// DefaultSerialOptions returns 1M baud, 8N1 with hardware flow control.
func DefaultSerialOptions() serial.OpenOptions {
	return serial.OpenOptions{
		BaudRate:              1000000,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     true,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
}

// NewSerial opens a UART.
func NewSerial(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	// force these, the read loop polls
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", opts.PortName)
	}
	return New(sp, nil), nil
}

// NewSocket connects to an H4 server over TCP.
func NewSocket(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %v", addr)
	}
	return New(&connWithTimeout{c: c, timeout: readTimeout}, nil), nil
}

// H4 turns a byte stream into a packet stream: every Read returns one
// whole packet, indicator included.
type H4 struct {
	rw  io.ReadWriteCloser
	fr  *Framer
	log blehost.Logger

	rxQueue chan []byte
	wmu     sync.Mutex

	done chan struct{}
	once sync.Once
	err  error
}

// New starts framing rw.
func New(rw io.ReadWriteCloser, l blehost.Logger) *H4 {
	if l == nil {
		l = blehost.GetLogger()
	}
	h := &H4{
		rw:      rw,
		fr:      NewFramer(),
		log:     l.ChildLogger(map[string]interface{}{"pkg": "h4"}),
		rxQueue: make(chan []byte, rxQueueSize),
		done:    make(chan struct{}),
	}
	go h.rxLoop()
	return h
}

// Read copies the next packet into p. It returns 0 and no error when no
// packet arrived within the read timeout.
func (h *H4) Read(p []byte) (int, error) {
	select {
	case t, ok := <-h.rxQueue:
		if !ok {
			return 0, h.err
		}
		if len(p) < len(t) {
			return 0, errors.Errorf("buffer too small: %v < %v", len(p), len(t))
		}
		return copy(p, t), nil

	case <-time.After(readTimeout):
		return 0, nil
	}
}

func (h *H4) Write(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, io.EOF
	default:
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.rw.Write(p)
	return n, errors.Wrap(err, "can't write h4")
}

func (h *H4) Close() error {
	var err error
	h.once.Do(func() {
		close(h.done)
		err = errors.Wrap(h.rw.Close(), "can't close h4")
	})
	return err
}

func (h *H4) rxLoop() {
	defer close(h.rxQueue)

	tmp := make([]byte, 512)
	for {
		n, err := h.rw.Read(tmp)
		select {
		case <-h.done:
			h.err = io.EOF
			return
		default:
		}

		var ne net.Error
		switch {
		case err == nil:
		case errors.As(err, &ne) && ne.Timeout():
			continue
		case err == io.EOF:
			h.err = err
			return
		default:
			h.err = errors.Wrap(err, "can't read h4")
			return
		}

		for _, pkt := range h.fr.Push(tmp[:n]) {
			select {
			case h.rxQueue <- pkt:
			case <-h.done:
				h.err = io.EOF
				return
			}
		}
	}
}
