package dex

import (
	"bufio"
	"errors"
	"net"
	"os"
	"time"
)

// Transport is the byte channel a session drives. Implementations wrap a
// physical serial line or any stream connection.
//
// Write blocks until every byte is written. ReadByte blocks until a byte
// arrives or timeout elapses; expiry is reported with an error satisfying
// IsTimeout. Transports are not goroutine-safe: a transport is owned
// exclusively by one running session for the session's entire lifetime.
type Transport interface {
	Write(p []byte) error
	ReadByte(timeout time.Duration) (byte, error)
}

// IsTimeout reports whether err indicates an expired receive timeout, as
// opposed to a channel failure.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrReadTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// connTransport adapts a net.Conn (including net.Pipe ends) to Transport
// using read deadlines.
type connTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewConnTransport wraps conn as a Transport. It is used by tests to run
// a session against a simulated host, and fits serial-over-TCP bridges.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{conn: conn, reader: bufio.NewReader(conn)}
}

func (t *connTransport) ReadByte(timeout time.Duration) (byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	return t.reader.ReadByte()
}

func (t *connTransport) Write(p []byte) error {
	for written := 0; written < len(p); {
		n, err := t.conn.Write(p[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}
