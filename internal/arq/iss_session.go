package arq

/*------------------------------------------------------------------
 *
 * Purpose:	ISS (Information Sending Station) session driver.
 *
 * Description:	The mirror image of irs_session.go: open -> info -> transfer
 *		-> stop, each phase sharing the same retry/timeout shape
 *		(transmit, wait, retry-on-timeout-or-nack, give up after
 *		RETRIES_CONNECT/RETRIES_TRANSFER). offset is always set to
 *		the peer's reported received_bytes rather than advanced
 *		locally, since the IRS view is authoritative per §4.4.
 *
 *------------------------------------------------------------------*/

import "context"

const (
	stateNew          = "NEW"
	stateOpenSent     = "OPEN_SENT"
	stateInfoSent     = "INFO_SENT"
	stateTransferring = "TRANSFERRING"
)

// ISSSessionImpl drives one outbound transfer from NEW to a terminal
// state.
type ISSSessionImpl struct {
	sessionBase

	version  uint8
	defs     SessionDefaults
	speed    *speedController
	destCRC  uint16
	localSNR float64

	payload []byte
	offset  uint32
	crcHex  string

	framesPerBurst int

	openAckLatch  *latch[*Frame]
	infoAckLatch  *latch[*Frame]
	burstAckLatch *latch[*Frame]
	stopAckLatch  *latch[*Frame]
}

// NewISSSession constructs an ISS session in NEW, ready to drive payload
// to dxcall once Run is launched.
func NewISSSession(id uint8, mycall, dxcall string, destCRC uint16, snr float64, payload []byte, cfg Config, tq *TransmitQueue, codec FrameCodec, events EventBroadcaster) *ISSSessionImpl {
	s := &ISSSessionImpl{
		sessionBase:    newSessionBase(id, mycall, dxcall, tq, codec, events, nil),
		version:        cfg.Defaults.ProtocolVersion,
		defs:           cfg.Defaults,
		speed:          newSpeedController(cfg.SpeedTable),
		destCRC:        destCRC,
		localSNR:       snr,
		payload:        payload,
		framesPerBurst: cfg.Defaults.FramesPerBurst,
		openAckLatch:   newLatch[*Frame](),
		infoAckLatch:   newLatch[*Frame](),
		burstAckLatch:  newLatch[*Frame](),
		stopAckLatch:   newLatch[*Frame](),
	}
	s.setState(stateNew)
	return s
}

func (s *ISSSessionImpl) OnOpenAckReceived(f *Frame)  { s.openAckLatch.Set(f) }
func (s *ISSSessionImpl) OnInfoAckReceived(f *Frame)  { s.infoAckLatch.Set(f) }
func (s *ISSSessionImpl) OnBurstAckReceived(f *Frame) { s.burstAckLatch.Set(f) }
func (s *ISSSessionImpl) OnBurstNackReceived(f *Frame) {
	// NACK and ACK share the same latch: the transfer loop treats both as
	// "the IRS responded" and distinguishes by Type.
	s.burstAckLatch.Set(f)
}
func (s *ISSSessionImpl) OnStopAckReceived(f *Frame) { s.stopAckLatch.Set(f) }

// Run drives the full ISS lifecycle and returns once a terminal state is
// reached.
func (s *ISSSessionImpl) Run() {
	defer s.runOnDone()

	s.crcHex = PayloadCRC32Hex(s.payload)

	if !s.open() {
		s.failOrDisconnect()
		return
	}
	if !s.info() {
		s.failOrDisconnect()
		return
	}
	if !s.transfer() {
		s.failOrDisconnect()
		return
	}
	s.stop()
	s.enterTerminal(stateEnded)
	s.broadcastOutbound(true)
}

// failOrDisconnect settles a phase failure into FAILED, unless the real
// cause was an external Abort() (observable as s.ctx.Err() != nil), in
// which case enterTerminal is a no-op here since Abort already moved the
// session to DISCONNECTED. Either way the outbound event is broadcast with
// success=false.
func (s *ISSSessionImpl) failOrDisconnect() {
	if s.ctx.Err() != nil {
		s.enterTerminal(stateDisconnected)
	} else {
		s.enterTerminal(stateFailed)
	}
	s.broadcastOutbound(false)
}

// open is phase 1: transmit ARQ_SESSION_OPEN and retry until
// ARQ_SESSION_OPEN_ACK arrives or RETRIES_CONNECT is exhausted.
func (s *ISSSessionImpl) open() bool {
	s.setState(stateOpenSent)
	for attempt := 0; attempt < s.defs.RetriesConnect; attempt++ {
		open := &Frame{
			Type:           FrameARQSessionOpen,
			Origin:         s.mycall,
			DestinationCRC: &s.destCRC,
			SessionID:      ptrU8(s.id),
			Version:        s.version,
		}
		if err := s.transmitFrame(open, TxItem{Mode: TxModeSignalling}); err != nil {
			s.log.Warn("failed to transmit session open", "err", err)
			return false
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.defs.TimeoutConnect)
		_, err := s.openAckLatch.Wait(ctx)
		cancel()
		if err == nil {
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}
	}
	return false
}

// info is phase 2: transmit ARQ_SESSION_INFO with the computed length/CRC
// and adopt the IRS's chosen speed_level and frames_per_burst from the ack.
func (s *ISSSessionImpl) info() bool {
	s.setState(stateInfoSent)
	for attempt := 0; attempt < s.defs.RetriesConnect; attempt++ {
		info := &Frame{
			Type:        FrameARQSessionInfo,
			Origin:      s.mycall,
			SessionID:   ptrU8(s.id),
			SNR:         s.localSNR,
			TotalLength: uint32(len(s.payload)),
			TotalCRC:    s.crcHex,
		}
		if err := s.transmitFrame(info, TxItem{Mode: TxModeSignalling}); err != nil {
			s.log.Warn("failed to transmit session info", "err", err)
			return false
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.defs.TimeoutConnect)
		ack, err := s.infoAckLatch.Wait(ctx)
		cancel()
		if err == nil {
			s.speed.Adopt(ack.SpeedLevel)
			if ack.FramesPerBurst > 0 {
				s.framesPerBurst = ack.FramesPerBurst
			}
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}
	}
	return false
}

// transfer is phase 3: the burst loop. offset always tracks the IRS's
// authoritative received_bytes view, never a locally-advanced count.
func (s *ISSSessionImpl) transfer() bool {
	s.setState(stateTransferring)
	total := uint32(len(s.payload))
	retriesUsed := 0

	for s.offset < total {
		if retriesUsed >= s.defs.RetriesTransfer {
			return false
		}

		if err := s.emitBurst(); err != nil {
			s.log.Warn("failed to transmit burst", "err", err)
			return false
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.defs.TimeoutData)
		resp, err := s.burstAckLatch.Wait(ctx)
		cancel()

		if err != nil {
			if s.ctx.Err() != nil {
				return false
			}
			retriesUsed++
			s.speed.OnRetry(retriesUsed)
			continue
		}

		s.offset = resp.ReceivedBytes
		s.speed.Adopt(resp.SpeedLevel)
		if resp.FramesPerBurst > 0 {
			s.framesPerBurst = resp.FramesPerBurst
		}

		if resp.Type == FrameARQBurstAck {
			retriesUsed = 0
		} else {
			retriesUsed++
			s.speed.OnRetry(retriesUsed)
		}
	}
	return true
}

// emitBurst sends framesPerBurst ARQ_BURST_FRAME frames starting at
// offset, each carrying BytesPerFrame(speed_level) bytes.
func (s *ISSSessionImpl) emitBurst() error {
	total := uint32(len(s.payload))
	chunk := uint32(s.speed.table.BytesPerFrame(s.speed.Level()))
	if chunk == 0 {
		chunk = total - s.offset
	}
	offset := s.offset
	for i := 0; i < s.framesPerBurst && offset < total; i++ {
		end := offset + chunk
		if end > total {
			end = total
		}
		burst := &Frame{
			Type:      FrameARQBurstFrame,
			Origin:    s.mycall,
			SessionID: ptrU8(s.id),
			Offset:    offset,
			Data:      s.payload[offset:end],
		}
		if err := s.transmitFrame(burst, TxItem{Mode: DataMode(s.speed.Level())}); err != nil {
			return err
		}
		offset = end
	}
	return nil
}

// stop is phase 4: transmit ARQ_STOP and wait once for the ack; the
// session ends regardless of whether the ack arrives.
func (s *ISSSessionImpl) stop() {
	stopFrame := &Frame{
		Type:      FrameARQStop,
		Origin:    s.mycall,
		SessionID: ptrU8(s.id),
	}
	if err := s.transmitFrame(stopFrame, TxItem{Mode: TxModeSignalling}); err != nil {
		s.log.Warn("failed to transmit stop", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.defs.TimeoutConnect)
	defer cancel()
	_, _ = s.stopAckLatch.Wait(ctx)
}

func (s *ISSSessionImpl) broadcastOutbound(success bool) {
	if s.events == nil {
		return
	}
	s.events.BroadcastOutbound(TransferEvent{
		SessionID: uint16(s.id),
		Dxcall:    s.dxcall,
		Success:   success,
		Bytes:     len(s.payload),
	})
}
