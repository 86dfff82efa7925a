package dex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRun_FullSession(t *testing.T) {
	lines := []string{"DXS*SWR0010001*VA*V1/1*1", "ST*001*0001", "G85*1234"}
	eng, host := newTestEngine(t, newTestConfig(t), lines)

	var announcement []byte
	blocks := make([][]byte, 0, len(lines))
	done := make(chan struct{})

	go func() {
		defer close(done)

		hostFirstHandshake(t, host, testRequest)
		announcement = hostSecondHandshake(t, host)

		hostOpenTransfer(t, host)
		ack := Ack1
		for range lines {
			blocks = append(blocks, hostReceiveLine(t, host, ack))
			ack = ack.Next()
		}
	}()

	err := eng.Run(context.Background())
	<-done
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, eng.Session().Phase())
	assert.Equal(t, len(lines), eng.Session().Cursor())

	// Announcement carries the communication ID, an 'R' separator and the
	// revision level.
	payload := announcement[2 : len(announcement)-4]
	assert.Equal(t, DefaultCommunicationID+"R"+DefaultRevisionLevel, string(payload))

	require.Len(t, blocks, len(lines))
	for i, raw := range blocks {
		payload, final, err := DecodeFrame(raw)
		require.NoError(t, err, "block %d", i)

		assert.Equal(t, lines[i]+"\r\n", string(payload), "block %d", i)
		assert.Equal(t, i == len(lines)-1, final, "block %d", i)
	}

	m := eng.Metrics()
	assert.Equal(t, uint64(len(lines)), m.LineConfirmedCount.Load())
	assert.Equal(t, uint64(0), m.FrameRetryCount.Load())
	assert.Equal(t, uint64(0), m.NakRecvCount.Load())
}

func TestEngineRun_NakTriggersIdenticalResend(t *testing.T) {
	lines := []string{"ST*001*0001", "PA1*1*250", "G85*1234"}
	eng, host := newTestEngine(t, newTestConfig(t), lines)

	var first, second []byte
	done := make(chan struct{})

	go func() {
		defer close(done)

		hostFirstHandshake(t, host, testRequest)
		hostSecondHandshake(t, host)
		hostOpenTransfer(t, host)

		hostReceiveLine(t, host, Ack1)

		// Reject the second block once, then accept the resend.
		first = hostReadBlock(t, host)
		mustWrite(t, host, []byte{NAK})
		second = hostReadBlock(t, host)
		mustWrite(t, host, Ack0.Bytes())

		hostReceiveLine(t, host, Ack1)
	}()

	err := eng.Run(context.Background())
	<-done
	require.NoError(t, err)

	// The resend is byte-identical to the rejected transmission.
	assert.Equal(t, first, second)

	m := eng.Metrics()
	assert.Equal(t, uint64(1), m.NakRecvCount.Load())
	assert.Equal(t, uint64(1), m.FrameRetryCount.Load())
	assert.Equal(t, uint64(len(lines)), m.LineConfirmedCount.Load())
}

func TestEngineRun_StaleAckTriggersResend(t *testing.T) {
	eng, host := newTestEngine(t, newTestConfig(t), []string{"G85*1234"})

	done := make(chan struct{})

	go func() {
		defer close(done)

		hostFirstHandshake(t, host, testRequest)
		hostSecondHandshake(t, host)
		hostOpenTransfer(t, host)

		// The first data block expects ACK1; answering ACK0 repeats the
		// opening acknowledgment and must not confirm the block.
		hostReadBlock(t, host)
		mustWrite(t, host, Ack0.Bytes())

		hostReceiveLine(t, host, Ack1)
	}()

	err := eng.Run(context.Background())
	<-done
	require.NoError(t, err)

	assert.Equal(t, uint64(1), eng.Metrics().FrameRetryCount.Load())
	assert.Equal(t, uint64(1), eng.Metrics().LineConfirmedCount.Load())
}

func TestFirstHandshake_ChecksumRecovery(t *testing.T) {
	eng, host := newTestEngine(t, newTestConfig(t), nil)

	good := EncodeOperationBlock(testRequest)
	bad := append([]byte{}, good...)
	bad[len(bad)-1] ^= 0xFF

	done := make(chan struct{})

	go func() {
		defer close(done)

		mustWrite(t, host, []byte{ENQ})
		readExactly(t, host, 2) // ACK0

		mustWrite(t, host, bad)
		hostExpect(t, host, NAK)

		mustWrite(t, host, good)
		if got := readExactly(t, host, 2); got[0] != DLE || got[1] != ackChar1 {
			t.Errorf("retransmission answered with % X, want ACK1", got)
		}

		mustWrite(t, host, []byte{EOT})
	}()

	err := eng.firstHandshake(context.Background())
	<-done
	require.NoError(t, err)

	assert.Equal(t, uint64(1), eng.Metrics().ChecksumErrCount.Load())
}

func TestFirstHandshake_RetriesExhausted(t *testing.T) {
	cfg := newTestConfig(t, WithHandshakeRetryLimit(1))
	eng, host := newTestEngine(t, cfg, nil)

	bad := EncodeOperationBlock(testRequest)
	bad[len(bad)-1] ^= 0xFF

	done := make(chan struct{})

	go func() {
		defer close(done)

		mustWrite(t, host, []byte{ENQ})
		readExactly(t, host, 2) // ACK0

		mustWrite(t, host, bad)
		hostExpect(t, host, NAK)
		mustWrite(t, host, bad)
	}()

	err := eng.firstHandshake(context.Background())
	<-done

	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Equal(t, uint64(2), eng.Metrics().ChecksumErrCount.Load())
}

func TestFirstHandshake_EOTTimeout(t *testing.T) {
	eng, host := newTestEngine(t, newTestConfig(t), nil)

	done := make(chan struct{})

	go func() {
		defer close(done)

		mustWrite(t, host, []byte{ENQ})
		readExactly(t, host, 2) // ACK0
		mustWrite(t, host, EncodeOperationBlock(testRequest))
		readExactly(t, host, 2) // ACK1
		// End of transmission never sent.
	}()

	err := eng.firstHandshake(context.Background())
	<-done

	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestSecondHandshake_ToleratesNoise(t *testing.T) {
	eng, host := newTestEngine(t, newTestConfig(t), nil)
	eng.sess = NewSession("VMC0000042", "R00L06")

	var announcement []byte
	done := make(chan struct{})

	go func() {
		defer close(done)

		hostExpect(t, host, ENQ)
		mustWrite(t, host, Ack0.Bytes())
		mustWrite(t, host, []byte{0x7F}) // line noise between the codes
		mustWrite(t, host, Ack1.Bytes())

		announcement = hostReadBlock(t, host)
		hostExpect(t, host, EOT)
	}()

	err := eng.secondHandshake(context.Background())
	<-done
	require.NoError(t, err)

	payload := announcement[2 : len(announcement)-4]
	assert.Equal(t, "VMC0000042RR00L06", string(payload))
}

func TestSecondHandshake_NoBlockBeforeBothAcks(t *testing.T) {
	cfg := newTestConfig(t, WithPhaseTimeout(300*time.Millisecond))
	eng, host := newTestEngine(t, cfg, nil)
	eng.sess = NewSession(DefaultCommunicationID, DefaultRevisionLevel)

	done := make(chan struct{})

	go func() {
		defer close(done)

		hostExpect(t, host, ENQ)
		// Second acknowledgment code without the first: the device must
		// hold the announcement until both have been seen in order.
		mustWrite(t, host, Ack1.Bytes())
	}()

	err := eng.secondHandshake(context.Background())
	<-done

	assert.ErrorIs(t, err, ErrHandshakeTimeout)

	// Nothing was announced.
	require.NoError(t, host.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 1)
	_, rerr := host.Read(buf)
	assert.Error(t, rerr)
}

func TestSecondHandshake_EnquiryRetriesExhausted(t *testing.T) {
	cfg := newTestConfig(t, WithHandshakeRetryLimit(1))
	eng, host := newTestEngine(t, cfg, nil)
	eng.sess = NewSession(DefaultCommunicationID, DefaultRevisionLevel)

	enqs := make(chan int, 1)

	go func() {
		count := 0
		_ = host.SetReadDeadline(time.Now().Add(2 * time.Second))

		buf := make([]byte, 1)
		for {
			n, err := host.Read(buf)
			if err != nil {
				break
			}
			if n == 1 && buf[0] == ENQ {
				count++
			}
		}
		enqs <- count
	}()

	err := eng.secondHandshake(context.Background())

	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	require.NoError(t, host.Close())
	assert.Equal(t, 2, <-enqs) // initial enquiry plus one retry
}

func TestTransfer_RetryBudgetExhausted(t *testing.T) {
	cfg := newTestConfig(t, WithLineRetryLimit(2))
	eng, host := newTestEngine(t, cfg, []string{"ST*001*0001", "G85*1234"})
	eng.sess = NewSession(DefaultCommunicationID, DefaultRevisionLevel)
	eng.sess.enterTransfer()

	done := make(chan struct{})

	go func() {
		defer close(done)

		hostOpenTransfer(t, host)

		// Reject every attempt of the first block.
		for i := 0; i < 3; i++ {
			hostReadBlock(t, host)
			mustWrite(t, host, []byte{NAK})
		}
	}()

	err := eng.transfer(context.Background())
	<-done

	require.ErrorIs(t, err, ErrLineTransfer)

	var lte *LineTransferError
	require.ErrorAs(t, err, &lte)
	assert.Equal(t, 0, lte.Index)

	// The failing line is never skipped: no further block follows.
	require.NoError(t, host.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	buf := make([]byte, 1)
	_, rerr := host.Read(buf)
	assert.Error(t, rerr)

	m := eng.Metrics()
	assert.Equal(t, uint64(3), m.FrameSendCount.Load())
	assert.Equal(t, uint64(2), m.FrameRetryCount.Load())
	assert.Equal(t, uint64(3), m.NakRecvCount.Load())
	assert.Equal(t, uint64(0), m.LineConfirmedCount.Load())
}

func TestTransfer_OpenTimeout(t *testing.T) {
	cfg := newTestConfig(t, WithTransferRetryLimit(0))
	eng, host := newTestEngine(t, cfg, []string{"G85*1234"})
	eng.sess = NewSession(DefaultCommunicationID, DefaultRevisionLevel)
	eng.sess.enterTransfer()

	done := make(chan struct{})

	go func() {
		defer close(done)

		hostExpect(t, host, ENQ)
		// Never acknowledged.
	}()

	err := eng.transfer(context.Background())
	<-done

	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}

func TestEngineRun_TransportFailure(t *testing.T) {
	eng, host := newTestEngine(t, newTestConfig(t), []string{"G85*1234"})

	done := make(chan struct{})

	go func() {
		defer close(done)

		hostFirstHandshake(t, host, testRequest)
		// The line drops before the second handshake.
		_ = host.Close()
	}()

	err := eng.Run(context.Background())
	<-done

	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, PhaseFailed, eng.Session().Phase())
	assert.ErrorIs(t, eng.Session().LastErr(), ErrTransport)
}

func TestEngineRun_Cancellation(t *testing.T) {
	eng, _ := newTestEngine(t, newTestConfig(t), nil)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, eng.Session().Phase())
}
