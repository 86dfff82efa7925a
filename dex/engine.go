package dex

import (
	"context"
	"fmt"
	"time"

	"github.com/vendtel/go-dex/internal/pool"
	"github.com/vendtel/go-dex/logger"
)

// enqPollTimeout bounds each receive call while the device waits for the
// host's opening enquiry, keeping the otherwise unbounded wait
// cancellable through the context.
const enqPollTimeout = 250 * time.Millisecond

// maxOperationBlockLength caps the handshake block receive buffer. Real
// operation requests are a few dozen bytes; anything larger is line noise.
const maxOperationBlockLength = 256

// signal classifies one received control exchange. Acknowledgment codes
// are two bytes on the wire; everything else is a single byte.
type signal int

const (
	sigAck0 signal = iota
	sigAck1
	sigNAK
	sigEOT
	sigENQ
	sigGarbled
)

// Engine drives the device side of a DEX/UCS session over a Transport:
// First Handshake (the device answers the host's poll), Second Handshake
// (the device announces itself) and Transfer (one block per audit line).
//
// Engine is not goroutine-safe. The protocol is half-duplex, so a single
// goroutine runs the whole session; correctness relies on the strict
// turn-taking enforced here, not on locks.
type Engine struct {
	cfg    *SessionConfig
	tr     Transport
	lines  []string
	logger logger.Logger

	sess    *Session
	metrics SessionMetrics
}

// NewEngine creates an Engine that will deliver lines over tr using the
// given configuration. The transport must be exclusively owned by this
// engine until Run returns.
func NewEngine(cfg *SessionConfig, tr Transport, lines []string) *Engine {
	return &Engine{
		cfg:    cfg,
		tr:     tr,
		lines:  lines,
		logger: cfg.Logger(),
	}
}

// Session returns the state of the current (or most recent) run, or nil
// before the first Run.
func (e *Engine) Session() *Session { return e.sess }

// Metrics returns the engine's session metrics.
func (e *Engine) Metrics() *SessionMetrics { return &e.metrics }

// Run performs one complete DEX session: both handshakes followed by the
// file transfer. It blocks until the session reaches Done, fails, or ctx
// is cancelled.
//
// The returned error identifies the failing phase: ErrHandshakeTimeout or
// ErrHandshakeFailed for the handshakes, a LineTransferError for the
// transfer, ErrTransport for channel failures. Checksum and framing
// errors recovered through the protocol's NAK vocabulary never surface
// here. There is no partial success: either every line reaches confirmed
// delivery or Run reports the first line to exhaust its retry budget.
func (e *Engine) Run(ctx context.Context) error {
	e.sess = NewSession(e.cfg.CommunicationID(), e.cfg.RevisionLevel())

	e.sess.setPhase(PhaseFirstHandshake)
	if err := e.firstHandshake(ctx); err != nil {
		return e.sess.fail(fmt.Errorf("first handshake: %w", err))
	}
	e.logger.Info("dex: first handshake complete")

	e.sess.setPhase(PhaseSecondHandshake)
	if err := e.secondHandshake(ctx); err != nil {
		return e.sess.fail(fmt.Errorf("second handshake: %w", err))
	}
	e.logger.Info("dex: second handshake complete",
		"communicationID", e.sess.CommunicationID(),
		"revisionLevel", e.sess.RevisionLevel())

	e.sess.enterTransfer()
	if err := e.transfer(ctx); err != nil {
		return e.sess.fail(fmt.Errorf("transfer: %w", err))
	}

	e.sess.setPhase(PhaseDone)
	e.logger.Info("dex: session complete", "lines", len(e.lines))

	return nil
}

// --- First handshake (device as responder) ---

// firstHandshake waits for the host to poll, then receives and validates
// its operation request block. The opening enquiry wait has no deadline
// beyond ctx, mirroring a real machine listening passively on the line.
func (e *Engine) firstHandshake(ctx context.Context) error {
	if err := e.waitForENQ(ctx); err != nil {
		return err
	}

	if err := e.sendAck(Ack0); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		raw, valid, err := e.readOperationBlock(ctx)
		if err != nil {
			return err
		}

		if valid {
			e.logger.Debug("dex: operation request accepted", "len", len(raw))

			break
		}

		e.metrics.incChecksumErrCount()

		if attempt >= e.cfg.HandshakeRetryLimit() {
			return fmt.Errorf("%w: operation request never validated", ErrHandshakeFailed)
		}

		e.logger.Debug("dex: operation request rejected, requesting retransmission", "attempt", attempt)

		if err := e.sendControl(NAK); err != nil {
			return err
		}
	}

	if err := e.sendAck(Ack1); err != nil {
		return err
	}

	return e.waitForEOT(ctx)
}

// waitForENQ blocks until the host's enquiry arrives, discarding any
// other byte. Cancellation is only possible through ctx.
func (e *Engine) waitForENQ(ctx context.Context) error {
	e.logger.Debug("dex: waiting for host enquiry")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, err := e.tr.ReadByte(enqPollTimeout)
		if err != nil {
			if IsTimeout(err) {
				continue
			}

			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if b == ENQ {
			return nil
		}

		e.logger.Debug("dex: discarding byte while idle", "byte", fmt.Sprintf("0x%02X", b))
	}
}

// readOperationBlock receives one handshake block: every byte through the
// unescaped DLE ETX terminator, followed by the two checksum bytes.
//
// It returns the raw block bytes and whether the checksum verified.
// Framing problems (broken escape, oversized block, mid-block silence)
// also report valid=false so the caller can request a retransmission with
// NAK; only a silent host or a channel failure is returned as an error.
func (e *Engine) readOperationBlock(ctx context.Context) (raw []byte, valid bool, err error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	first, err := e.tr.ReadByte(e.cfg.T1Timeout())
	if err != nil {
		if IsTimeout(err) {
			return nil, false, fmt.Errorf("%w: waiting for operation request", ErrHandshakeTimeout)
		}

		return nil, false, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	raw = append(raw, first)
	escaped := first == DLE

	for {
		if len(raw) > maxOperationBlockLength {
			e.logger.Debug("dex: oversized operation request, draining line")
			e.drainUntilSilence()

			return raw, false, nil
		}

		b, err := e.tr.ReadByte(e.cfg.InterCharTimeout())
		if err != nil {
			if IsTimeout(err) {
				// The host stopped mid-block; treat it like a garbled
				// transmission and request a resend.
				return raw, false, nil
			}

			return raw, false, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		raw = append(raw, b)

		if escaped {
			escaped = false
			if b == ETX {
				break
			}

			continue
		}

		if b == DLE {
			escaped = true
		}
	}

	crc := make([]byte, 0, checksumSize)
	for len(crc) < checksumSize {
		b, err := e.tr.ReadByte(e.cfg.InterCharTimeout())
		if err != nil {
			if IsTimeout(err) {
				return raw, false, nil
			}

			return raw, false, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		crc = append(crc, b)
	}

	if OperationBlockChecksum(raw) != wireChecksum(crc) {
		e.logger.Debug("dex: operation request checksum mismatch",
			"wire", fmt.Sprintf("0x%04X", wireChecksum(crc)),
			"computed", fmt.Sprintf("0x%04X", OperationBlockChecksum(raw)))

		return raw, false, nil
	}

	return raw, true, nil
}

// drainUntilSilence discards bytes until the line is quiet for one
// inter-character timeout, so a NAK is not sent into the middle of the
// host's transmission.
func (e *Engine) drainUntilSilence() {
	for {
		if _, err := e.tr.ReadByte(e.cfg.InterCharTimeout()); err != nil {
			return
		}
	}
}

// waitForEOT waits for end-of-transmission, tolerating protocol noise,
// until the EOT timeout elapses.
func (e *Engine) waitForEOT(ctx context.Context) error {
	deadline := time.Now().Add(e.cfg.EOTTimeout())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: end of transmission not received", ErrHandshakeTimeout)
		}

		b, err := e.tr.ReadByte(remaining)
		if err != nil {
			if IsTimeout(err) {
				return fmt.Errorf("%w: end of transmission not received", ErrHandshakeTimeout)
			}

			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if b == EOT {
			return nil
		}

		e.logger.Debug("dex: discarding byte while waiting for EOT", "byte", fmt.Sprintf("0x%02X", b))
	}
}

// --- Second handshake (device as initiator) ---

// secondHandshake announces the device. After winning the line with ENQ
// it must observe both acknowledgment codes, in order, before the block
// carrying the communication ID and revision level is sent.
func (e *Engine) secondHandshake(ctx context.Context) error {
	for attempt := 0; attempt <= e.cfg.HandshakeRetryLimit(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.sendControl(ENQ); err != nil {
			return err
		}

		sig, err := e.readSignal(e.cfg.T1Timeout())
		if err != nil {
			if IsTimeout(err) {
				e.logger.Debug("dex: no response to enquiry", "attempt", attempt)

				continue
			}

			return err
		}

		// The line is live: collect the acknowledgment pair under the
		// phase deadline, then announce.
		return e.awaitAckPairAndAnnounce(ctx, sig)
	}

	return fmt.Errorf("%w: no response to enquiry", ErrHandshakeTimeout)
}

// awaitAckPairAndAnnounce discards signals until ACK0 followed by ACK1
// have both been observed, then sends the announcement block and EOT.
// first is the signal that made the line live.
func (e *Engine) awaitAckPairAndAnnounce(ctx context.Context, first signal) error {
	deadline := time.Now().Add(e.cfg.PhaseTimeout())
	gotAck0 := false
	sig := first

	for {
		switch {
		case !gotAck0 && sig == sigAck0:
			gotAck0 = true
		case gotAck0 && sig == sigAck1:
			return e.sendAnnouncement(ctx)
		default:
			e.logger.Debug("dex: discarding out-of-sequence signal", "signal", sig)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: acknowledgment pair incomplete", ErrHandshakeTimeout)
		}

		var err error
		sig, err = e.readSignal(remaining)
		if err != nil {
			if IsTimeout(err) {
				return fmt.Errorf("%w: acknowledgment pair incomplete", ErrHandshakeTimeout)
			}

			return err
		}
	}
}

// sendAnnouncement transmits the communication ID / revision level block
// followed by end-of-transmission, handing line control back to the host.
func (e *Engine) sendAnnouncement(ctx context.Context) error {
	id := e.sess.CommunicationID()
	rev := e.sess.RevisionLevel()

	payload := make([]byte, 0, len(id)+1+len(rev))
	payload = append(payload, id...)
	payload = append(payload, 'R')
	payload = append(payload, rev...)

	block := EncodeOperationBlock(payload)
	if err := e.tr.Write(block); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	e.metrics.incFrameSendCount()
	e.metrics.addBytesSent(len(block))

	e.logger.Debug("dex: sent announcement", "communicationID", id, "revisionLevel", rev)

	if err := e.pause(ctx, e.cfg.SettleDelay()); err != nil {
		return err
	}

	return e.sendControl(EOT)
}

// --- Transfer (device as initiator) ---

// transfer streams the audit lines. Each line is framed exactly once and
// resent verbatim until the expected acknowledgment code arrives or the
// per-line retry budget is exhausted.
func (e *Engine) transfer(ctx context.Context) error {
	if err := e.openTransfer(ctx); err != nil {
		return err
	}

	for i, line := range e.lines {
		final := i == len(e.lines)-1

		payload := make([]byte, 0, len(line)+2)
		payload = append(payload, line...)
		payload = append(payload, '\r', '\n')

		frame := EncodeFrame(payload, final)

		if err := e.sendLine(ctx, frame, i); err != nil {
			return err
		}

		e.sess.confirm()
		e.metrics.incLineConfirmedCount()
	}

	return nil
}

// openTransfer wins the line for the transfer phase: the enquiry must be
// answered with the first acknowledgment code. Other signals are
// discarded within the response deadline.
func (e *Engine) openTransfer(ctx context.Context) error {
	for attempt := 0; attempt <= e.cfg.TransferRetryLimit(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.sendControl(ENQ); err != nil {
			return err
		}

		deadline := time.Now().Add(e.cfg.T2Timeout())

		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}

			sig, err := e.readSignal(remaining)
			if err != nil {
				if IsTimeout(err) {
					break
				}

				return err
			}

			if sig == sigAck0 {
				return nil
			}

			e.logger.Debug("dex: discarding signal while opening transfer", "signal", sig)
		}

		e.logger.Debug("dex: no acknowledgment opening transfer", "attempt", attempt)
	}

	return fmt.Errorf("%w: transfer not opened", ErrHandshakeTimeout)
}

// sendLine delivers one framed line under the toggling-acknowledgment
// rule. A negative acknowledgment, a stale acknowledgment code, a garbled
// signal and a silent host all trigger a resend of the identical frame,
// bounded by the per-line retry budget.
func (e *Engine) sendLine(ctx context.Context, f *Frame, index int) error {
	e.sess.lineRetries = 0

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > e.cfg.LineRetryLimit() {
			return &LineTransferError{Index: index}
		}

		if attempt > 0 {
			e.sess.lineRetries = attempt
			e.metrics.incFrameRetryCount()
		}

		if err := e.tr.Write(f.Bytes()); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		e.metrics.incFrameSendCount()
		e.metrics.addBytesSent(len(f.Bytes()))

		sig, err := e.readSignal(e.cfg.T3Timeout())
		if err != nil {
			if IsTimeout(err) {
				e.logger.Debug("dex: no acknowledgment for line", "index", index, "attempt", attempt)

				continue
			}

			return err
		}

		switch {
		case sig == sigAck0 && e.sess.ExpectedAck() == Ack0,
			sig == sigAck1 && e.sess.ExpectedAck() == Ack1:
			return nil

		case sig == sigNAK:
			e.logger.Debug("dex: line rejected, resending", "index", index, "attempt", attempt)

		case sig == sigAck0 || sig == sigAck1:
			// Stale acknowledgment from an earlier block: resend without
			// advancing the cursor.
			e.logger.Debug("dex: stale acknowledgment, resending", "index", index, "attempt", attempt)

		default:
			e.logger.Debug("dex: garbled response, resending", "index", index, "attempt", attempt)
		}
	}
}

// --- Signal I/O ---

// readSignal reads and classifies the next control exchange. The second
// byte of an acknowledgment code is read under the inter-character
// timeout; a broken sequence classifies as garbled rather than failing.
// Timeout errors satisfy IsTimeout; any other error is fatal.
func (e *Engine) readSignal(timeout time.Duration) (signal, error) {
	b, err := e.tr.ReadByte(timeout)
	if err != nil {
		if IsTimeout(err) {
			return sigGarbled, err
		}

		return sigGarbled, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	switch b {
	case NAK:
		e.metrics.incNakRecvCount()

		return sigNAK, nil

	case EOT:
		return sigEOT, nil

	case ENQ:
		return sigENQ, nil

	case DLE:
		b2, err := e.tr.ReadByte(e.cfg.InterCharTimeout())
		if err != nil {
			if IsTimeout(err) {
				return sigGarbled, nil
			}

			return sigGarbled, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		switch b2 {
		case ackChar0:
			return sigAck0, nil
		case ackChar1:
			return sigAck1, nil
		default:
			e.logger.Debug("dex: unknown DLE sequence", "byte", fmt.Sprintf("0x%02X", b2))

			return sigGarbled, nil
		}

	default:
		e.logger.Debug("dex: unexpected control byte", "byte", fmt.Sprintf("0x%02X", b))

		return sigGarbled, nil
	}
}

// sendControl writes a single control byte.
func (e *Engine) sendControl(b byte) error {
	if err := e.tr.Write([]byte{b}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	e.metrics.incControlSendCount()
	e.metrics.addBytesSent(1)

	return nil
}

// sendAck writes one of the two acknowledgment codes.
func (e *Engine) sendAck(t AckToggle) error {
	if err := e.tr.Write(t.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	e.metrics.incControlSendCount()
	e.metrics.addBytesSent(2)

	e.logger.Debug("dex: sent acknowledgment", "code", t.String())

	return nil
}

// pause sleeps for d unless ctx is cancelled first.
func (e *Engine) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
