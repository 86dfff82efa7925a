package dex

import "encoding/binary"

// crcPoly is the reflected form of the CRC-16 polynomial x^16+x^15+x^2+1
// used by DEX/UCS (CRC-16/ARC). The initial value is 0x0000 and the
// checksum travels least significant byte first.
const crcPoly uint16 = 0xA001

// checksumSize is the size of the trailing block check sequence in bytes.
const checksumSize = 2

var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// UpdateChecksum folds one byte into a running DEX block check sequence.
func UpdateChecksum(crc uint16, b byte) uint16 {
	return (crc >> 8) ^ crcTable[byte(crc)^b]
}

// Checksum computes the DEX 16-bit block check sequence over p.
// It is deterministic and side effect-free.
func Checksum(p []byte) uint16 {
	var crc uint16
	for _, b := range p {
		crc = UpdateChecksum(crc, b)
	}

	return crc
}

// Verify recomputes the block check sequence over p and compares it
// against crc.
func Verify(p []byte, crc uint16) bool {
	return Checksum(p) == crc
}

// VerifyWire verifies p against a checksum in wire form (two bytes,
// least significant first). It returns ErrInvalidChecksum when wire does
// not hold exactly one checksum.
func VerifyWire(p []byte, wire []byte) (bool, error) {
	if len(wire) != checksumSize {
		return false, ErrInvalidChecksum
	}

	return Verify(p, binary.LittleEndian.Uint16(wire)), nil
}

// appendChecksum appends crc to dst in wire order.
func appendChecksum(dst []byte, crc uint16) []byte {
	return append(dst, byte(crc), byte(crc>>8))
}

// wireChecksum decodes a checksum from its two wire bytes.
func wireChecksum(wire []byte) uint16 {
	return binary.LittleEndian.Uint16(wire)
}
