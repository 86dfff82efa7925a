package dex

import (
	"io"
	"net"
	"testing"
	"time"
)

// newTestConfig creates a SessionConfig with short timeouts suitable for
// tests.
func newTestConfig(t *testing.T, opts ...SessionOption) *SessionConfig {
	t.Helper()

	defaults := []SessionOption{
		WithT1Timeout(200 * time.Millisecond),
		WithT2Timeout(200 * time.Millisecond),
		WithT3Timeout(200 * time.Millisecond),
		WithEOTTimeout(200 * time.Millisecond),
		WithInterCharTimeout(100 * time.Millisecond),
		WithPhaseTimeout(1 * time.Second),
		WithSettleDelay(0),
	}

	cfg, err := NewSessionConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestEngine creates an Engine backed by the local end of net.Pipe().
// Returns the engine and the remote end for host simulation.
func newTestEngine(t *testing.T, cfg *SessionConfig, lines []string) (*Engine, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return NewEngine(cfg, NewConnTransport(local), lines), remote
}

// readExactly reads exactly n bytes from r, failing the test on error.
func readExactly(t *testing.T, r io.Reader, n int) []byte {
	t.Helper()

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("readExactly: %v", err)
	}

	return buf
}

// readOneByte reads exactly 1 byte from r, failing the test on error.
func readOneByte(t *testing.T, r io.Reader) byte {
	t.Helper()

	return readExactly(t, r, 1)[0]
}

// mustWrite writes data to w, failing the test on error.
func mustWrite(t *testing.T, w io.Writer, data []byte) {
	t.Helper()

	if _, err := w.Write(data); err != nil {
		t.Fatalf("mustWrite: %v", err)
	}
}

// hostExpect reads one byte and fails the test unless it matches want.
func hostExpect(t *testing.T, r io.Reader, want byte) {
	t.Helper()

	if got := readOneByte(t, r); got != want {
		t.Fatalf("hostExpect: got 0x%02X, want 0x%02X", got, want)
	}
}

// hostReadBlock reads one complete block from r: the two-byte opening
// marker, every byte through the unescaped DLE terminator and the two
// checksum bytes. It returns the raw wire bytes.
func hostReadBlock(t *testing.T, r io.Reader) []byte {
	t.Helper()

	raw := readExactly(t, r, 2)
	escaped := false

	for {
		b := readOneByte(t, r)
		raw = append(raw, b)

		if escaped {
			escaped = false
			if b == ETB || b == ETX {
				break
			}

			continue
		}

		if b == DLE {
			escaped = true
		}
	}

	return append(raw, readExactly(t, r, 2)...)
}

// hostFirstHandshake plays the host's side of the first handshake:
// poll, operation request, end of transmission.
func hostFirstHandshake(t *testing.T, conn net.Conn, request []byte) {
	t.Helper()

	mustWrite(t, conn, []byte{ENQ})
	if got := readExactly(t, conn, 2); got[0] != DLE || got[1] != ackChar0 {
		t.Fatalf("hostFirstHandshake: poll answered with % X, want ACK0", got)
	}

	mustWrite(t, conn, EncodeOperationBlock(request))

	if got := readExactly(t, conn, 2); got[0] != DLE || got[1] != ackChar1 {
		t.Fatalf("hostFirstHandshake: request answered with % X, want ACK1", got)
	}

	mustWrite(t, conn, []byte{EOT})
}

// hostSecondHandshake plays the host's side of the second handshake and
// returns the raw announcement block.
func hostSecondHandshake(t *testing.T, conn net.Conn) []byte {
	t.Helper()

	hostExpect(t, conn, ENQ)
	mustWrite(t, conn, Ack0.Bytes())
	mustWrite(t, conn, Ack1.Bytes())

	block := hostReadBlock(t, conn)
	hostExpect(t, conn, EOT)

	return block
}

// hostOpenTransfer answers the transfer-opening enquiry.
func hostOpenTransfer(t *testing.T, conn net.Conn) {
	t.Helper()

	hostExpect(t, conn, ENQ)
	mustWrite(t, conn, Ack0.Bytes())
}

// hostReceiveLine reads one data block and acknowledges it with ack.
// It returns the raw wire bytes of the block.
func hostReceiveLine(t *testing.T, conn net.Conn, ack AckToggle) []byte {
	t.Helper()

	block := hostReadBlock(t, conn)
	mustWrite(t, conn, ack.Bytes())

	return block
}

// testRequest is a representative host operation request payload; the
// engine treats its content as opaque.
var testRequest = []byte("R,000001**R01L01")
