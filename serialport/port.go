// Package serialport implements the dex.Transport over a physical serial
// line.
//
// DEX/UCS runs at 9600 baud with 8 data bits, no parity and one stop bit.
// A port is exclusively owned: while a Port for a given device name is
// open, a second Open of the same name fails with ErrPortBusy, matching
// the protocol's single-session-per-line model.
package serialport

import (
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.bug.st/serial"

	"github.com/vendtel/go-dex/dex"
)

// DefaultBaudRate is the DEX/UCS line rate.
const DefaultBaudRate = 9600

// openSettleDelay gives the UART time to initialize after open before
// the handshake begins.
const openSettleDelay = 2 * time.Second

// ErrPortBusy reports that a serial line is already owned by a session.
var ErrPortBusy = errors.New("serialport: port already owned by a session")

// openPorts tracks which device names are owned by a live Port.
var openPorts = xsync.NewMapOf[string, *Port]()

// Port adapts a serial line to dex.Transport.
type Port struct {
	name string
	port serial.Port
}

// Compile-time check: Port implements dex.Transport.
var _ dex.Transport = (*Port)(nil)

// Open opens and configures the named serial device with the DEX framing
// (8 data bits, no parity, one stop bit) at the given baud rate, flushes
// both buffers and waits for the line to settle. A non-positive baud
// selects DefaultBaudRate.
func Open(name string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	p := &Port{name: name}
	if _, loaded := openPorts.LoadOrStore(name, p); loaded {
		return nil, fmt.Errorf("%w: %s", ErrPortBusy, name)
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	sp, err := serial.Open(name, mode)
	if err != nil {
		releasePort(p)

		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}

	p.port = sp
	_ = sp.ResetInputBuffer()
	_ = sp.ResetOutputBuffer()

	time.Sleep(openSettleDelay)

	return p, nil
}

// Name returns the device name the port was opened with.
func (p *Port) Name() string { return p.name }

// ReadByte reads one byte, waiting at most timeout. Expiry is reported
// as dex.ErrReadTimeout.
func (p *Port) ReadByte(timeout time.Duration) (byte, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, fmt.Errorf("serialport: set read timeout: %w", err)
	}

	buf := make([]byte, 1)

	n, err := p.port.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("serialport: read: %w", err)
	}
	if n == 0 {
		return 0, dex.ErrReadTimeout
	}

	return buf[0], nil
}

// Write writes all of b and drains the transmit buffer, so control
// signals are on the wire before the next receive begins.
func (p *Port) Write(b []byte) error {
	for written := 0; written < len(b); {
		n, err := p.port.Write(b[written:])
		written += n

		if err != nil {
			return fmt.Errorf("serialport: write: %w", err)
		}
	}

	if err := p.port.Drain(); err != nil {
		return fmt.Errorf("serialport: drain: %w", err)
	}

	return nil
}

// Close closes the line and releases its exclusive claim.
func (p *Port) Close() error {
	releasePort(p)

	if p.port == nil {
		return nil
	}

	return p.port.Close()
}

// releasePort removes p's claim, leaving any claim held by a newer Port
// for the same name untouched.
func releasePort(p *Port) {
	openPorts.Compute(p.name, func(cur *Port, loaded bool) (*Port, bool) {
		if cur == p {
			return nil, true // delete
		}

		return cur, false
	})
}

// List returns the serial device names present on the system.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}

	return ports, nil
}
