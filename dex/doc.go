// Package dex implements the device side of the DEX/UCS audit transfer
// protocol, the ANSI X3.28-derived half-duplex handshake used between
// vending machines and telemetry hosts.
//
// A session has three phases, driven by [Engine.Run]:
//
//   - First Handshake: the device waits passively for the host's ENQ poll,
//     acknowledges it, and validates the host's operation request block.
//   - Second Handshake: the device takes line control with ENQ, observes
//     both acknowledgment codes, and announces its communication ID and
//     revision level.
//   - Transfer: the device streams the audit file one line per block,
//     each block confirmed by one of the two alternating acknowledgment
//     codes.
//
// # Line control
//
// Control is exchanged with single-byte characters (ENQ 0x05, EOT 0x04,
// NAK 0x15) and the two-byte acknowledgment codes DLE '0' and DLE '1'.
// The alternating acknowledgment code is the protocol's duplicate
// detection: a block is delivered only when the acknowledgment carrying
// the currently expected code arrives; a stale code triggers a resend of
// the identical block without advancing.
//
// # Blocks
//
// Data blocks are framed as DLE STX payload DLE ETB (intermediate) or
// DLE ETX (final), followed by a CRC-16 transmitted least significant
// byte first. Handshake blocks use DLE SOH in place of DLE STX. Payload
// bytes equal to DLE are stuffed as DLE DLE.
//
// # Transport
//
// The engine drives an abstract [Transport] (blocking write, receive
// with timeout), so the protocol logic is testable against a simulated
// peer. Package serialport provides the physical implementation.
package dex
