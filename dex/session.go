package dex

// Phase identifies where a session is in the DEX conversation.
type Phase int

const (
	// PhaseIdle is the state before Engine.Run begins.
	PhaseIdle Phase = iota

	// PhaseFirstHandshake: the device waits for the host's poll and
	// validates its operation request.
	PhaseFirstHandshake

	// PhaseSecondHandshake: the device takes line control and announces
	// its communication ID and revision level.
	PhaseSecondHandshake

	// PhaseTransfer: the device streams the audit lines.
	PhaseTransfer

	// PhaseDone is the terminal success state.
	PhaseDone

	// PhaseFailed is the absorbing failure state, reachable from any
	// non-terminal phase.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFirstHandshake:
		return "first-handshake"
	case PhaseSecondHandshake:
		return "second-handshake"
	case PhaseTransfer:
		return "transfer"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session holds the mutable state of one DEX conversation: the current
// phase, the acknowledgment code expected next, the line cursor and the
// identifiers announced during the second handshake.
//
// A Session is created by the engine at run start, owned exclusively by
// it and discarded at run end; it is never persisted. Tests may construct
// a Session directly and place it in any phase.
type Session struct {
	phase       Phase
	toggle      AckToggle
	cursor      int
	lineRetries int

	communicationID string
	revisionLevel   string

	lastErr error
}

// NewSession creates an idle Session carrying the given identifiers.
func NewSession(communicationID, revisionLevel string) *Session {
	return &Session{
		phase:           PhaseIdle,
		toggle:          Ack0,
		communicationID: communicationID,
		revisionLevel:   revisionLevel,
	}
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase { return s.phase }

// ExpectedAck returns the acknowledgment code required to confirm the
// current block.
func (s *Session) ExpectedAck() AckToggle { return s.toggle }

// Cursor returns the index of the next line awaiting confirmed delivery.
func (s *Session) Cursor() int { return s.cursor }

// LineRetries returns the resend count of the line at the cursor.
func (s *Session) LineRetries() int { return s.lineRetries }

// CommunicationID returns the device's communication identifier.
func (s *Session) CommunicationID() string { return s.communicationID }

// RevisionLevel returns the device's protocol revision level.
func (s *Session) RevisionLevel() string { return s.revisionLevel }

// LastErr returns the error that moved the session to PhaseFailed, or nil.
func (s *Session) LastErr() error { return s.lastErr }

func (s *Session) setPhase(p Phase) { s.phase = p }

// enterTransfer resets the per-phase state for the transfer: the opening
// ENQ is answered with ACK0, so the first data block expects ACK1.
func (s *Session) enterTransfer() {
	s.phase = PhaseTransfer
	s.toggle = Ack1
	s.cursor = 0
	s.lineRetries = 0
}

// confirm records confirmed delivery of the current line: the cursor
// advances and the expected acknowledgment code flips. Only a positive
// acknowledgment carrying the expected code may trigger this.
func (s *Session) confirm() {
	s.cursor++
	s.toggle = s.toggle.Next()
	s.lineRetries = 0
}

// fail moves the session to the absorbing failure state and records err
// as the session's last error. It returns err for convenience.
func (s *Session) fail(err error) error {
	s.phase = PhaseFailed
	s.lastErr = err

	return err
}
