package dex

import "sync/atomic"

// SessionMetrics contains atomic metrics for DEX sessions run by an
// Engine. Counters can be used as the value of a prometheus CounterFunc.
type SessionMetrics struct {
	// ControlSendCount is the number of control signals sent (ENQ, EOT,
	// NAK and acknowledgment codes).
	ControlSendCount atomic.Uint64
	// FrameSendCount is the number of blocks put on the wire, resends
	// included.
	FrameSendCount atomic.Uint64
	// FrameRetryCount is the number of block resends.
	FrameRetryCount atomic.Uint64
	// LineConfirmedCount is the number of audit lines with confirmed
	// delivery.
	LineConfirmedCount atomic.Uint64

	// NakRecvCount is the number of negative acknowledgments received.
	NakRecvCount atomic.Uint64
	// ChecksumErrCount is the number of received blocks that failed
	// checksum verification.
	ChecksumErrCount atomic.Uint64

	// BytesSent is the total number of bytes written to the transport.
	BytesSent atomic.Uint64
}

func (m *SessionMetrics) incControlSendCount() {
	m.ControlSendCount.Add(1)
}

func (m *SessionMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *SessionMetrics) incFrameRetryCount() {
	m.FrameRetryCount.Add(1)
}

func (m *SessionMetrics) incLineConfirmedCount() {
	m.LineConfirmedCount.Add(1)
}

func (m *SessionMetrics) incNakRecvCount() {
	m.NakRecvCount.Add(1)
}

func (m *SessionMetrics) incChecksumErrCount() {
	m.ChecksumErrCount.Add(1)
}

func (m *SessionMetrics) addBytesSent(n int) {
	m.BytesSent.Add(uint64(n)) //nolint:gosec // n is a buffer length
}
