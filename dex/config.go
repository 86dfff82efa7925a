package dex

import (
	"errors"
	"fmt"
	"time"

	"github.com/vendtel/go-dex/logger"
)

// Default timing and retry values. The timeouts mirror the waits used by
// real DEX telemetry devices on a 9600 baud line.
const (
	// DefaultT1Timeout bounds the wait for the host's response after the
	// second-handshake enquiry.
	DefaultT1Timeout = 5 * time.Second

	// DefaultT2Timeout bounds the wait for the acknowledgment that opens
	// the transfer phase.
	DefaultT2Timeout = 5 * time.Second

	// DefaultT3Timeout bounds the wait for the acknowledgment of a data
	// block.
	DefaultT3Timeout = 5 * time.Second

	// DefaultEOTTimeout bounds the first-handshake wait for the host's
	// end-of-transmission.
	DefaultEOTTimeout = 5 * time.Second

	// DefaultInterCharTimeout bounds the gap between bytes inside one
	// block or acknowledgment code.
	DefaultInterCharTimeout = 1 * time.Second

	// DefaultPhaseTimeout bounds the whole acknowledgment-pair exchange
	// of the second handshake once the line is live.
	DefaultPhaseTimeout = 10 * time.Second

	// DefaultSettleDelay is inserted before handing line control back to
	// the host, giving slow UARTs time to drain.
	DefaultSettleDelay = 50 * time.Millisecond

	// DefaultRetryLimit is the retry budget applied at each blocking
	// point (enquiry resends, per-line resends).
	DefaultRetryLimit = 3

	// DefaultCommunicationID is the vending machine device identifier
	// announced during the second handshake.
	DefaultCommunicationID = "SWR0010001"

	// DefaultRevisionLevel is the protocol revision level announced
	// during the second handshake.
	DefaultRevisionLevel = "R01L01"
)

// Limits for configurable values.
const (
	MinTimeout = 10 * time.Millisecond
	MaxTimeout = 120 * time.Second

	MaxSettleDelay = 10 * time.Second

	MaxRetryLimit = 31

	// CommunicationIDLength is the exact length of a DEX communication
	// identifier.
	CommunicationIDLength = 10

	// RevisionLevelLength is the exact length of a DEX revision level.
	RevisionLevelLength = 6
)

// SessionConfig holds the protocol parameters for one DEX session.
// Build it with NewSessionConfig; a zero SessionConfig is not usable.
type SessionConfig struct {
	t1Timeout        time.Duration
	t2Timeout        time.Duration
	t3Timeout        time.Duration
	eotTimeout       time.Duration
	interCharTimeout time.Duration
	phaseTimeout     time.Duration
	settleDelay      time.Duration

	handshakeRetryLimit int // R1: enquiry resends in the second handshake
	transferRetryLimit  int // R2: enquiry resends opening the transfer
	lineRetryLimit      int // R3: resends per data block

	communicationID string
	revisionLevel   string

	logger logger.Logger
}

// NewSessionConfig creates a session configuration with protocol defaults,
// then applies opts in order.
func NewSessionConfig(opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		t1Timeout:           DefaultT1Timeout,
		t2Timeout:           DefaultT2Timeout,
		t3Timeout:           DefaultT3Timeout,
		eotTimeout:          DefaultEOTTimeout,
		interCharTimeout:    DefaultInterCharTimeout,
		phaseTimeout:        DefaultPhaseTimeout,
		settleDelay:         DefaultSettleDelay,
		handshakeRetryLimit: DefaultRetryLimit,
		transferRetryLimit:  DefaultRetryLimit,
		lineRetryLimit:      DefaultRetryLimit,
		communicationID:     DefaultCommunicationID,
		revisionLevel:       DefaultRevisionLevel,
		logger:              logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// T1Timeout returns the second-handshake response timeout.
func (cfg *SessionConfig) T1Timeout() time.Duration { return cfg.t1Timeout }

// T2Timeout returns the transfer-opening response timeout.
func (cfg *SessionConfig) T2Timeout() time.Duration { return cfg.t2Timeout }

// T3Timeout returns the per-block acknowledgment timeout.
func (cfg *SessionConfig) T3Timeout() time.Duration { return cfg.t3Timeout }

// EOTTimeout returns the first-handshake end-of-transmission timeout.
func (cfg *SessionConfig) EOTTimeout() time.Duration { return cfg.eotTimeout }

// InterCharTimeout returns the intra-block inter-character timeout.
func (cfg *SessionConfig) InterCharTimeout() time.Duration { return cfg.interCharTimeout }

// PhaseTimeout returns the second-handshake overall deadline.
func (cfg *SessionConfig) PhaseTimeout() time.Duration { return cfg.phaseTimeout }

// SettleDelay returns the line-settle delay.
func (cfg *SessionConfig) SettleDelay() time.Duration { return cfg.settleDelay }

// HandshakeRetryLimit returns R1, the maximum enquiry resends in the
// second handshake.
func (cfg *SessionConfig) HandshakeRetryLimit() int { return cfg.handshakeRetryLimit }

// TransferRetryLimit returns R2, the maximum enquiry resends opening the
// transfer phase.
func (cfg *SessionConfig) TransferRetryLimit() int { return cfg.transferRetryLimit }

// LineRetryLimit returns R3, the resend budget per data block.
func (cfg *SessionConfig) LineRetryLimit() int { return cfg.lineRetryLimit }

// CommunicationID returns the announced communication identifier.
func (cfg *SessionConfig) CommunicationID() string { return cfg.communicationID }

// RevisionLevel returns the announced revision level.
func (cfg *SessionConfig) RevisionLevel() string { return cfg.revisionLevel }

// Logger returns the configured logger.
func (cfg *SessionConfig) Logger() logger.Logger { return cfg.logger }

// --- SessionOption ---

// SessionOption is a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error { return f(cfg) }

func timeoutOption(name string, dst *time.Duration, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("dex: %s timeout %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}
	*dst = d

	return nil
}

func retryOption(name string, dst *int, n int) error {
	if n < 0 || n > MaxRetryLimit {
		return fmt.Errorf("dex: %s retry limit %d out of range [0, %d]", name, n, MaxRetryLimit)
	}
	*dst = n

	return nil
}

// WithT1Timeout sets the second-handshake response timeout.
func WithT1Timeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return timeoutOption("T1", &cfg.t1Timeout, d)
	})
}

// WithT2Timeout sets the transfer-opening response timeout.
func WithT2Timeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return timeoutOption("T2", &cfg.t2Timeout, d)
	})
}

// WithT3Timeout sets the per-block acknowledgment timeout.
func WithT3Timeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return timeoutOption("T3", &cfg.t3Timeout, d)
	})
}

// WithEOTTimeout sets the first-handshake end-of-transmission timeout.
func WithEOTTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return timeoutOption("EOT", &cfg.eotTimeout, d)
	})
}

// WithInterCharTimeout sets the intra-block inter-character timeout.
func WithInterCharTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return timeoutOption("inter-character", &cfg.interCharTimeout, d)
	})
}

// WithPhaseTimeout sets the second-handshake overall deadline.
func WithPhaseTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return timeoutOption("phase", &cfg.phaseTimeout, d)
	})
}

// WithSettleDelay sets the line-settle delay. Zero disables it.
func WithSettleDelay(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < 0 || d > MaxSettleDelay {
			return fmt.Errorf("dex: settle delay %v out of range [0, %v]", d, MaxSettleDelay)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithHandshakeRetryLimit sets R1, the maximum enquiry resends in the
// second handshake.
func WithHandshakeRetryLimit(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return retryOption("handshake", &cfg.handshakeRetryLimit, n)
	})
}

// WithTransferRetryLimit sets R2, the maximum enquiry resends opening the
// transfer phase.
func WithTransferRetryLimit(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return retryOption("transfer", &cfg.transferRetryLimit, n)
	})
}

// WithLineRetryLimit sets R3, the resend budget per data block.
func WithLineRetryLimit(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		return retryOption("line", &cfg.lineRetryLimit, n)
	})
}

// WithCommunicationID sets the communication identifier embedded verbatim
// into the second-handshake block. Must be exactly 10 bytes.
func WithCommunicationID(id string) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if len(id) != CommunicationIDLength {
			return fmt.Errorf("dex: communication ID must be %d bytes, got %d", CommunicationIDLength, len(id))
		}
		cfg.communicationID = id

		return nil
	})
}

// WithRevisionLevel sets the revision level embedded verbatim into the
// second-handshake block. Must be exactly 6 bytes.
func WithRevisionLevel(rev string) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if len(rev) != RevisionLevelLength {
			return fmt.Errorf("dex: revision level must be %d bytes, got %d", RevisionLevelLength, len(rev))
		}
		cfg.revisionLevel = rev

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("dex: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
