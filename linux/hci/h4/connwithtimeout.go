package h4

import (
	"net"
	"time"
)

// connWithTimeout bounds every read and write on c by timeout so the read
// loop can notice Close.
type connWithTimeout struct {
	c       net.Conn
	timeout time.Duration
}

func (cwt *connWithTimeout) Read(b []byte) (int, error) {
	if err := cwt.c.SetReadDeadline(time.Now().Add(cwt.timeout)); err != nil {
		return 0, err
	}
	return cwt.c.Read(b)
}

func (cwt *connWithTimeout) Write(b []byte) (int, error) {
	if err := cwt.c.SetWriteDeadline(time.Now().Add(cwt.timeout)); err != nil {
		return 0, err
	}
	return cwt.c.Write(b)
}

func (cwt *connWithTimeout) Close() error {
	return cwt.c.Close()
}
