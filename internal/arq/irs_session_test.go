package arq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonTestCodec is a throwaway FrameCodec for driving sessions in tests
// without depending on any particular wire format.
type jsonTestCodec struct{}

func (jsonTestCodec) Encode(f *Frame) ([]byte, error) { return json.Marshal(f) }
func (jsonTestCodec) Decode(b []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func fastDefaults() SessionDefaults {
	d := DefaultSessionDefaults()
	d.TimeoutConnect = 40 * time.Millisecond
	d.TimeoutData = 40 * time.Millisecond
	return d
}

func drainFrame(t *testing.T, tq *TransmitQueue, codec FrameCodec) *Frame {
	t.Helper()
	select {
	case item := <-tq.ch:
		f, err := codec.Decode(item.Payload)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transmit queue item")
		return nil
	}
}

func TestIRSSessionHandshakeTimesOutWithoutInfo(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(4)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	openAck := drainFrame(t, tq, codec)
	assert.Equal(t, FrameARQSessionOpenAck, openAck.Type)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after info timeout")
	}
	assert.Equal(t, stateFailed, s.State())
}

func TestIRSSessionSmallPayloadNoLoss(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	openAck := drainFrame(t, tq, codec)
	require.Equal(t, FrameARQSessionOpenAck, openAck.Type)

	payload := []byte("Hello world!")
	id := uint8(1)
	s.OnInfoReceived(&Frame{
		Type:        FrameARQSessionInfo,
		SessionID:   &id,
		SNR:         12,
		TotalLength: uint32(len(payload)),
		TotalCRC:    PayloadCRC32Hex(payload),
	})

	infoAck := drainFrame(t, tq, codec)
	require.Equal(t, FrameARQSessionInfoAck, infoAck.Type)

	s.OnDataReceived(&Frame{
		Type:      FrameARQBurstFrame,
		SessionID: &id,
		Offset:    0,
		Data:      payload,
	})

	burstAck := drainFrame(t, tq, codec)
	require.Equal(t, FrameARQBurstAck, burstAck.Type)
	assert.Equal(t, uint32(len(payload)), burstAck.ReceivedBytes)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not reach a terminal state")
	}
	assert.Equal(t, stateEnded, s.State())
	assert.Equal(t, payload, s.Payload())
}

func TestIRSSessionOutOfOrderBurstDiscarded(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	go s.Run()

	drainFrame(t, tq, codec) // open ack

	id := uint8(1)
	s.OnInfoReceived(&Frame{
		Type:        FrameARQSessionInfo,
		SessionID:   &id,
		TotalLength: 200,
		TotalCRC:    "deadbeef",
	})
	drainFrame(t, tq, codec) // info ack

	s.OnDataReceived(&Frame{
		Type:      FrameARQBurstFrame,
		SessionID: &id,
		Offset:    100,
		Data:      make([]byte, 50),
	})

	ack := drainFrame(t, tq, codec)
	assert.Equal(t, FrameARQBurstAck, ack.Type, "out-of-order burst must be discarded, and the ack still reports the current received_bytes")
	assert.Equal(t, uint32(0), ack.ReceivedBytes)

	s.Abort()
}

func TestIRSSessionZeroLengthPayloadCompletesImmediately(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	drainFrame(t, tq, codec) // open ack

	id := uint8(1)
	s.OnInfoReceived(&Frame{
		Type:        FrameARQSessionInfo,
		SessionID:   &id,
		TotalLength: 0,
		TotalCRC:    PayloadCRC32Hex(nil),
	})
	drainFrame(t, tq, codec) // info ack

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-length payload must complete right after INFO-ACK")
	}
	assert.Equal(t, stateEnded, s.State())
}

func TestIRSSessionAbortDuringHandshakeInfoEndsDisconnected(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	drainFrame(t, tq, codec) // open ack

	s.Abort()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("aborted session did not terminate")
	}
	assert.Equal(t, stateDisconnected, s.State(), "Abort() must move the session to DISCONNECTED, not FAILED")
}

func TestIRSSessionPeerStopDuringHandshakeInfoEndsDisconnectedImmediately(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults() // TimeoutConnect is short; a stop must beat it, not wait for it

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	drainFrame(t, tq, codec) // open ack

	id := uint8(1)
	start := time.Now()
	s.OnStopReceived(&Frame{Type: FrameARQStop, SessionID: &id})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("peer stop during the info handshake did not end the session")
	}
	assert.Less(t, time.Since(start), cfg.Defaults.TimeoutConnect, "a staged stop must end the session immediately, not after TIMEOUT_CONNECT")
	assert.Equal(t, stateDisconnected, s.State())
}

func TestIRSSessionPeerStopStagedBeforeHandshakeEndsDisconnected(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	id := uint8(1)
	s.OnStopReceived(&Frame{Type: FrameARQStop, SessionID: &id})

	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session with a stop already staged did not terminate")
	}
	assert.Equal(t, stateDisconnected, s.State())
}

func TestIRSSessionRemovedFromRegistryWhenDriverExits(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	reg := NewRegistry()
	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	require.NoError(t, reg.InsertIRS(s))
	s.SetOnDone(func() { reg.RemoveIRS(s.ID()) })

	go s.Run()
	drainFrame(t, tq, codec) // open ack
	s.Abort()

	require.Eventually(t, func() bool {
		_, ok := reg.GetIRS(1)
		return !ok
	}, time.Second, 5*time.Millisecond, "session must be removed from the registry once its driver task exits")
}

func TestIRSSessionCRCMismatchFails(t *testing.T) {
	codec := jsonTestCodec{}
	tq := NewTransmitQueue(8)
	cfg := testConfig()
	cfg.Defaults = fastDefaults()

	s := NewIRSSession(1, "N0CALL", "W1AW", 10, cfg, tq, codec, nil)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	drainFrame(t, tq, codec) // open ack

	payload := []byte("data")
	id := uint8(1)
	s.OnInfoReceived(&Frame{
		Type:        FrameARQSessionInfo,
		SessionID:   &id,
		TotalLength: uint32(len(payload)),
		TotalCRC:    "ffffffff",
	})
	drainFrame(t, tq, codec) // info ack

	s.OnDataReceived(&Frame{Type: FrameARQBurstFrame, SessionID: &id, Offset: 0, Data: payload})
	drainFrame(t, tq, codec) // burst ack

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after CRC mismatch")
	}
	assert.Equal(t, stateFailed, s.State())
}
