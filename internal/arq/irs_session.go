package arq

/*------------------------------------------------------------------
 *
 * Purpose:	IRS (Information Receiving Station) session driver.
 *
 * Description:	Ported from arq_session_irs.py's linear phase sequence
 *		(handshake_session -> handshake_info -> transmission) into a
 *		single goroutine per session that blocks in a select over
 *		its latch channels and a timeout instead of
 *		condvar.wait(timeout). The phases are kept as
 *		separate methods, in the source's own shape, rather than
 *		collapsed into one function.
 *
 *------------------------------------------------------------------*/

import "context"

const (
	stateConnReqReceived = "CONN_REQ_RECEIVED"
	stateWaitingInfo     = "WAITING_INFO"
	stateWaitingData     = "WAITING_DATA"
	stateEnded           = "ENDED"
	stateFailed          = "FAILED"
	stateDisconnected    = "DISCONNECTED"
)

// IRSSessionImpl drives one inbound transfer from CONN_REQ_RECEIVED to a
// terminal state.
type IRSSessionImpl struct {
	sessionBase

	version uint8
	defs    SessionDefaults
	speed   *speedController

	totalLength  uint32
	expectedCRC  string
	receivedLen  uint32
	payload      []byte
	dxSNR        float64
	localSNR     float64

	infoLatch *latch[*Frame]
	dataLatch *latch[*Frame]
	stopLatch *latch[*Frame]
}

// NewIRSSession constructs an IRS session in CONN_REQ_RECEIVED, ready for
// its driver to be started with Run.
func NewIRSSession(id uint8, mycall, dxcall string, snr float64, cfg Config, tq *TransmitQueue, codec FrameCodec, events EventBroadcaster) *IRSSessionImpl {
	s := &IRSSessionImpl{
		sessionBase: newSessionBase(id, mycall, dxcall, tq, codec, events, nil),
		version:     cfg.Defaults.ProtocolVersion,
		defs:        cfg.Defaults,
		speed:       newSpeedController(cfg.SpeedTable),
		localSNR:    snr,
		infoLatch:   newLatch[*Frame](),
		dataLatch:   newLatch[*Frame](),
		stopLatch:   newLatch[*Frame](),
	}
	s.setState(stateConnReqReceived)
	return s
}

// OnInfoReceived is called by the dispatcher goroutine when an
// ARQ_SESSION_INFO frame routes to this session id.
func (s *IRSSessionImpl) OnInfoReceived(f *Frame) { s.infoLatch.Set(f) }

// OnDataReceived stages an ARQ_BURST_FRAME; last-writer-wins per §5, the
// protocol tolerates the loss of a superseded stale burst because the
// peer retransmits on NACK.
func (s *IRSSessionImpl) OnDataReceived(f *Frame) { s.dataLatch.Set(f) }

// OnStopReceived signals a peer-initiated disconnect.
func (s *IRSSessionImpl) OnStopReceived(f *Frame) { s.stopLatch.Set(f) }

// Run drives the full IRS lifecycle and returns once a terminal state is
// reached. It is meant to be launched with `go session.Run()`.
func (s *IRSSessionImpl) Run() {
	defer s.runOnDone()

	if !s.handshakeSession() {
		s.failOrDisconnect()
		return
	}

	ok := s.handshakeInfo()
	if !ok {
		s.failOrDisconnect()
		return
	}

	if s.totalLength == 0 {
		s.finish()
		return
	}

	s.receiveLoop()
	s.finish()
}

// failOrDisconnect settles a phase failure into FAILED, unless the real
// cause was an external Abort() (observable as s.ctx.Err() != nil), in
// which case enterTerminal is a no-op here since Abort already moved the
// session to DISCONNECTED. Either way the inbound event is broadcast with
// success=false.
func (s *IRSSessionImpl) failOrDisconnect() {
	if s.ctx.Err() != nil {
		s.enterTerminal(stateDisconnected)
	} else {
		s.enterTerminal(stateFailed)
	}
	s.broadcastInbound(false)
}

// handshakeSession is phase 1: acknowledge the open and move to
// WAITING_INFO. It only succeeds from CONN_REQ_RECEIVED or WAITING_INFO.
// A peer ARQ_STOP already staged here (§4.3.5: "regardless of prior
// state") is observed before anything else, rather than left to sit on
// stopLatch until receiveLoop is reached.
func (s *IRSSessionImpl) handshakeSession() bool {
	select {
	case <-s.stopLatch.ch:
		s.enterTerminal(stateDisconnected)
		return false
	default:
	}

	state := s.State()
	if state != stateConnReqReceived && state != stateWaitingInfo {
		return false
	}
	ack := &Frame{
		Type:      FrameARQSessionOpenAck,
		Origin:    s.mycall,
		SessionID: ptrU8(s.id),
		SNR:       s.localSNR,
		Version:   s.version,
	}
	if err := s.transmitFrame(ack, TxItem{Mode: TxModeSignalling}); err != nil {
		s.log.Warn("failed to transmit open ack", "err", err)
		return false
	}
	s.setState(stateWaitingInfo)
	return true
}

// handshakeInfo is phase 2: wait for ARQ_SESSION_INFO, allocate the
// payload buffer, run speed calibration, and ack. A peer ARQ_STOP arriving
// here ends the session immediately (§4.3.5), same as in receiveLoop,
// rather than falling through to a TIMEOUT_CONNECT-driven FAILED.
func (s *IRSSessionImpl) handshakeInfo() bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.defs.TimeoutConnect)
	defer cancel()

	var f *Frame
	select {
	case <-s.stopLatch.ch:
		s.enterTerminal(stateDisconnected)
		return false
	case f = <-s.infoLatch.ch:
	case <-ctx.Done():
		s.log.Info("timed out waiting for session info", "session_id", s.id)
		return false
	}

	s.totalLength = f.TotalLength
	s.expectedCRC = f.TotalCRC
	s.dxSNR = f.SNR
	s.payload = make([]byte, s.totalLength)

	s.calibrateSpeed()

	ack := &Frame{
		Type:           FrameARQSessionInfoAck,
		Origin:         s.mycall,
		SessionID:      ptrU8(s.id),
		SNR:            s.localSNR,
		TotalCRC:       s.expectedCRC,
		ReceivedBytes:  0,
		SpeedLevel:     s.speed.Level(),
		FramesPerBurst: s.defs.FramesPerBurst,
	}
	if err := s.transmitFrame(ack, TxItem{Mode: TxModeSignalling}); err != nil {
		s.log.Warn("failed to transmit info ack", "err", err)
		return false
	}
	s.setState(stateWaitingData)
	return true
}

// calibrateSpeed picks the IRS's own starting speed_level from the SNR
// reported by the peer in the INFO frame, the one point where an IRS
// adopts a value derived from the ISS rather than publishing its own.
func (s *IRSSessionImpl) calibrateSpeed() {
	level := 0
	for lvl := 1; lvl <= s.speed.table.Max(); lvl++ {
		if s.dxSNR > s.speed.table.StepUpMargin(lvl-1) {
			level = lvl
			continue
		}
		break
	}
	s.speed.Adopt(level)
}

// receiveLoop is phase 3: accept bursts in order until complete or
// retries are exhausted.
func (s *IRSSessionImpl) receiveLoop() {
	retriesUsed := 0

	for retriesUsed < s.defs.RetriesTransfer && s.receivedLen < s.totalLength {
		select {
		case <-s.stopLatch.ch:
			s.enterTerminal(stateDisconnected)
			return
		default:
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.defs.TimeoutData)
		var f *Frame
		var err error
		select {
		case <-s.stopLatch.ch:
			cancel()
			s.enterTerminal(stateDisconnected)
			return
		case f = <-s.dataLatch.ch:
		case <-ctx.Done():
			err = ctx.Err()
		}
		cancel()

		if err != nil {
			if s.ctx.Err() != nil {
				s.enterTerminal(stateDisconnected)
				return
			}
			s.transmitNack()
			retriesUsed++
			s.speed.OnRetry(retriesUsed)
			continue
		}

		s.processBurst(f)
		s.transmitAck()
		retriesUsed = 0
		s.speed.OnSuccess(s.dxSNR)
	}
}

// processBurst applies the strict in-order, min-bounded copy rule.
func (s *IRSSessionImpl) processBurst(f *Frame) {
	if f.Offset != s.receivedLen {
		s.log.Warn("out-of-order burst discarded", "session_id", s.id, "offset", f.Offset, "received_bytes", s.receivedLen)
		return
	}
	remaining := s.totalLength - s.receivedLen
	n := uint32(len(f.Data))
	if n > remaining {
		n = remaining
	}
	copy(s.payload[s.receivedLen:s.receivedLen+n], f.Data[:n])
	s.receivedLen += n
	s.dxSNR = f.SNR
}

func (s *IRSSessionImpl) transmitAck() {
	ack := &Frame{
		Type:           FrameARQBurstAck,
		Origin:         s.mycall,
		SessionID:      ptrU8(s.id),
		SNR:            s.localSNR,
		ReceivedBytes:  s.receivedLen,
		SpeedLevel:     s.speed.Level(),
		FramesPerBurst: s.defs.FramesPerBurst,
	}
	if err := s.transmitFrame(ack, TxItem{Mode: TxModeSignalling}); err != nil {
		s.log.Warn("failed to transmit burst ack", "err", err)
	}
}

func (s *IRSSessionImpl) transmitNack() {
	nack := &Frame{
		Type:           FrameARQBurstNack,
		Origin:         s.mycall,
		SessionID:      ptrU8(s.id),
		SNR:            s.localSNR,
		ReceivedBytes:  s.receivedLen,
		SpeedLevel:     s.speed.Level(),
		FramesPerBurst: s.defs.FramesPerBurst,
	}
	if err := s.transmitFrame(nack, TxItem{Mode: TxModeSignalling}); err != nil {
		s.log.Warn("failed to transmit burst nack", "err", err)
	}
}

// finish verifies the final CRC (an empty payload is checked against the
// CRC of zero bytes) and settles the session into ENDED or FAILED.
func (s *IRSSessionImpl) finish() {
	if s.isTerminal() {
		// Already DISCONNECTED via an abort or peer stop.
		s.broadcastInbound(false)
		return
	}
	if s.receivedLen != s.totalLength {
		s.enterTerminal(stateFailed)
		s.broadcastInbound(false)
		return
	}
	if PayloadCRC32Hex(s.payload) != s.expectedCRC {
		s.enterTerminal(stateFailed)
		s.broadcastInbound(false)
		return
	}
	s.enterTerminal(stateEnded)
	s.broadcastInbound(true)
}

func (s *IRSSessionImpl) broadcastInbound(success bool) {
	if s.events == nil {
		return
	}
	s.events.BroadcastInbound(TransferEvent{
		SessionID: uint16(s.id),
		Dxcall:    s.dxcall,
		Success:   success,
		Bytes:     len(s.payload),
	})
}

// Payload returns the assembled payload buffer; meaningful only once the
// session has reached ENDED.
func (s *IRSSessionImpl) Payload() []byte { return s.payload }

func ptrU8(v uint8) *uint8 { return &v }
