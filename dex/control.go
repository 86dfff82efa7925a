package dex

// DEX/UCS control characters (ANSI X3.28 subset). These exact byte values
// are fixed by the protocol; changing them breaks interoperability with
// real telemetry hardware.
const (
	// SOH (Start of Header) opens a handshake block.
	SOH byte = 0x01

	// STX (Start of Text) opens a data block.
	STX byte = 0x02

	// ETX (End of Text) terminates the final block of a transmission.
	ETX byte = 0x03

	// EOT (End of Transmission) returns the line to the idle state.
	EOT byte = 0x04

	// ENQ (Enquiry) requests line control.
	ENQ byte = 0x05

	// DLE (Data Link Escape) prefixes block markers and acknowledgment
	// codes, and doubles as the byte-stuffing escape inside payloads.
	DLE byte = 0x10

	// NAK reports incorrect reception and requests a retransmission.
	NAK byte = 0x15

	// ETB (End of Transmission Block) terminates an intermediate block.
	ETB byte = 0x17
)

// Second byte of the two acknowledgment codes.
const (
	ackChar0 byte = 0x30 // '0'
	ackChar1 byte = 0x31 // '1'
)

// AckToggle identifies which of the two alternating DEX acknowledgment
// codes is expected or sent next. The protocol has no sequence numbers;
// alternating DLE '0' and DLE '1' across successive confirmed blocks is
// how duplicate delivery is detected.
type AckToggle int

const (
	// Ack0 is the DLE '0' acknowledgment code.
	Ack0 AckToggle = iota

	// Ack1 is the DLE '1' acknowledgment code.
	Ack1
)

// Next returns the other acknowledgment code.
func (t AckToggle) Next() AckToggle {
	if t == Ack0 {
		return Ack1
	}

	return Ack0
}

// Bytes returns the two-byte wire form of the acknowledgment code.
func (t AckToggle) Bytes() []byte {
	if t == Ack0 {
		return []byte{DLE, ackChar0}
	}

	return []byte{DLE, ackChar1}
}

func (t AckToggle) String() string {
	if t == Ack0 {
		return "ACK0"
	}

	return "ACK1"
}
