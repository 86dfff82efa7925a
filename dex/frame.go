package dex

import "fmt"

// Frame is an encoded DEX data block. A Frame is immutable once built;
// a resend reuses the same Frame so the retransmitted bytes are identical
// to the original transmission.
type Frame struct {
	payload []byte
	final   bool
	crc     uint16
	wire    []byte
}

// EncodeFrame wraps payload in the DEX data-block envelope:
//
//	DLE STX <stuffed payload> DLE ETB|ETX <crc lo> <crc hi>
//
// Payload bytes equal to DLE are stuffed as DLE DLE on the wire. The
// checksum covers the payload bytes (skipping DLE-valued bytes) plus the
// terminator. final selects ETX, marking the last block of the file;
// intermediate blocks end with ETB.
func EncodeFrame(payload []byte, final bool) *Frame {
	p := make([]byte, len(payload))
	copy(p, payload)

	term := ETB
	if final {
		term = ETX
	}

	crc := blockChecksum(p, term)

	wire := make([]byte, 0, len(p)+2+2+checksumSize)
	wire = append(wire, DLE, STX)
	for _, b := range p {
		if b == DLE {
			wire = append(wire, DLE)
		}
		wire = append(wire, b)
	}
	wire = append(wire, DLE, term)
	wire = appendChecksum(wire, crc)

	return &Frame{payload: p, final: final, crc: crc, wire: wire}
}

// DecodeFrame reverses EncodeFrame. It returns the unstuffed payload and
// whether the block carried the final-block terminator. Missing markers,
// dangling escapes, trailing junk and checksum mismatches fail with an
// error wrapping ErrFrame.
func DecodeFrame(raw []byte) (payload []byte, final bool, err error) {
	if len(raw) < 2+2+checksumSize {
		return nil, false, fmt.Errorf("%w: truncated block (%d bytes)", ErrFrame, len(raw))
	}
	if raw[0] != DLE || raw[1] != STX {
		return nil, false, fmt.Errorf("%w: missing start marker", ErrFrame)
	}

	payload = make([]byte, 0, len(raw))
	term := byte(0)
	i := 2

scan:
	for ; i < len(raw); i++ {
		b := raw[i]
		if b != DLE {
			payload = append(payload, b)

			continue
		}

		i++
		if i >= len(raw) {
			return nil, false, fmt.Errorf("%w: dangling escape", ErrFrame)
		}

		switch raw[i] {
		case DLE:
			payload = append(payload, DLE)
		case ETB, ETX:
			term = raw[i]
			i++

			break scan
		default:
			return nil, false, fmt.Errorf("%w: unescaped control byte 0x%02X", ErrFrame, raw[i])
		}
	}

	if term == 0 {
		return nil, false, fmt.Errorf("%w: missing end marker", ErrFrame)
	}
	if len(raw)-i != checksumSize {
		return nil, false, fmt.Errorf("%w: expected %d checksum bytes, got %d", ErrFrame, checksumSize, len(raw)-i)
	}

	want := blockChecksum(payload, term)
	got := wireChecksum(raw[i:])
	if want != got {
		return nil, false, fmt.Errorf("%w: %w: wire=0x%04X computed=0x%04X", ErrFrame, ErrChecksumMismatch, got, want)
	}

	return payload, term == ETX, nil
}

// Payload returns a copy of the unstuffed payload bytes.
func (f *Frame) Payload() []byte {
	out := make([]byte, len(f.payload))
	copy(out, f.payload)

	return out
}

// Final reports whether the block carries the final-block terminator.
func (f *Frame) Final() bool { return f.final }

// Checksum returns the block check sequence carried by the frame.
func (f *Frame) Checksum() uint16 { return f.crc }

// Bytes returns the wire form of the frame. The returned slice is shared
// across calls and must not be modified.
func (f *Frame) Bytes() []byte { return f.wire }

// blockChecksum computes the data-block check sequence: the payload bytes
// except DLE-valued ones, plus the terminator byte. Markers and stuffing
// escapes are excluded from the checksum span.
func blockChecksum(payload []byte, term byte) uint16 {
	var crc uint16
	for _, b := range payload {
		if b == DLE {
			continue
		}
		crc = UpdateChecksum(crc, b)
	}

	return UpdateChecksum(crc, term)
}

// EncodeOperationBlock wraps a handshake payload in the DEX handshake
// envelope:
//
//	DLE SOH <payload> DLE ETX <crc lo> <crc hi>
//
// Handshake payloads are printable identifiers, so no byte stuffing is
// applied. The checksum follows the handshake span rule implemented by
// OperationBlockChecksum.
func EncodeOperationBlock(payload []byte) []byte {
	wire := make([]byte, 0, len(payload)+2+2+checksumSize)
	wire = append(wire, DLE, SOH)
	wire = append(wire, payload...)
	wire = append(wire, DLE, ETX)

	return appendChecksum(wire, OperationBlockChecksum(wire))
}

// OperationBlockChecksum computes the check sequence over a raw handshake
// block, from its DLE SOH opening through its DLE ETX terminator: every
// byte is included except DLE and SOH values.
func OperationBlockChecksum(raw []byte) uint16 {
	var crc uint16
	for _, b := range raw {
		if b == DLE || b == SOH {
			continue
		}
		crc = UpdateChecksum(crc, b)
	}

	return crc
}
