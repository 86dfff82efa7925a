package dex

import (
	"errors"
	"fmt"
)

// Sentinel errors for the DEX/UCS protocol.
var (
	// Handshake errors.
	ErrHandshakeTimeout = errors.New("dex: handshake timeout, retries exhausted")
	ErrHandshakeFailed  = errors.New("dex: handshake failed")

	// Block errors. These are recovered inside a phase via the protocol's
	// NAK vocabulary and never surface from Engine.Run.
	ErrChecksumMismatch = errors.New("dex: checksum mismatch")
	ErrInvalidChecksum  = errors.New("dex: invalid checksum length")
	ErrFrame            = errors.New("dex: malformed frame")

	// Transfer errors.
	ErrLineTransfer = errors.New("dex: line transfer failed, retries exhausted")

	// Channel errors. A transport failure is always fatal to the session.
	ErrTransport   = errors.New("dex: transport failure")
	ErrReadTimeout = errors.New("dex: read timeout")
)

// LineTransferError reports the audit line whose delivery exhausted the
// per-line retry budget. It unwraps to ErrLineTransfer.
type LineTransferError struct {
	// Index is the zero-based position of the failing line in the
	// transmitted sequence.
	Index int
}

func (e *LineTransferError) Error() string {
	return fmt.Sprintf("dex: transfer of line %d failed, retries exhausted", e.Index)
}

func (e *LineTransferError) Unwrap() error { return ErrLineTransfer }
