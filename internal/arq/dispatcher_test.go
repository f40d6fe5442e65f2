package arq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Station: StationConfig{
			MyCall:   "N0CALL",
			MySSID:   0,
			SSIDList: []int{0, 1},
			MyGrid:   "AA00aa",
		},
		Defaults:   DefaultSessionDefaults(),
		SpeedTable: DefaultSpeedTable(),
	}
}

type recordingFactory struct {
	opens []*Frame
	pings []*Frame
}

func (f *recordingFactory) OnSessionOpen(fr *Frame, localCall string) {
	f.opens = append(f.opens, fr)
}
func (f *recordingFactory) OnPing(fr *Frame, localCall string) {
	f.pings = append(f.pings, fr)
}

type recordingBroadcaster struct {
	frameEvents    []FrameHandlerEvent
	activityEvents []FrameHandlerEvent
}

func (b *recordingBroadcaster) BroadcastFrameHandler(ev FrameHandlerEvent) {
	b.frameEvents = append(b.frameEvents, ev)
}
func (b *recordingBroadcaster) Record(ev FrameHandlerEvent) {
	b.activityEvents = append(b.activityEvents, ev)
}
func (b *recordingBroadcaster) BroadcastOutbound(ev TransferEvent) {}
func (b *recordingBroadcaster) BroadcastInbound(ev TransferEvent)  {}

func TestDispatcherRoutesValidatedOpenToFactory(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()
	factory := &recordingFactory{}
	events := &recordingBroadcaster{}
	d := NewDispatcher(cfg, reg, nil, events, nil, factory, nil)

	crc := CallsignCRC16(cfg.Station.CallWithSSID(0))
	f := &Frame{Type: FrameARQSessionOpen, Origin: "W1AW", DestinationCRC: &crc}

	d.HandleFrame(f)

	require.Len(t, factory.opens, 1)
	require.Len(t, events.frameEvents, 1)
	assert.Equal(t, "N0CALL-0", events.frameEvents[0].MyCallsign)
}

func TestDispatcherDropsOpenForWrongDestination(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()
	factory := &recordingFactory{}
	d := NewDispatcher(cfg, reg, nil, nil, nil, factory, nil)

	wrongCRC := CallsignCRC16("SOMEONE-9")
	f := &Frame{Type: FrameARQSessionOpen, Origin: "W1AW", DestinationCRC: &wrongCRC}

	d.HandleFrame(f)
	assert.Empty(t, factory.opens)
}

func TestDispatcherRoutesInfoToExistingIRSSession(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()

	received := 0
	recorder := &recordingIRSSession{
		fakeIRSSession: &fakeIRSSession{id: 3, dxcall: "W1AW"},
		onInfo:         func(f *Frame) { received++ },
	}
	require.NoError(t, reg.InsertIRS(recorder))

	d := NewDispatcher(cfg, reg, nil, nil, nil, &recordingFactory{}, nil)
	id := uint8(3)
	d.HandleFrame(&Frame{Type: FrameARQSessionInfo, SessionID: &id})

	assert.Equal(t, 1, received)
}

func TestDispatcherDropsInfoForUnknownSession(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()
	d := NewDispatcher(cfg, reg, nil, nil, nil, &recordingFactory{}, nil)

	id := uint8(99)
	// Must not panic despite no session existing for id 99.
	d.HandleFrame(&Frame{Type: FrameARQSessionInfo, SessionID: &id})
}

func TestDispatcherBlacklistDropsFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Station.EnableBlacklist = true
	cfg.Station.CallsignBlacklist = []string{"W1AW"}
	reg := NewRegistry()
	factory := &recordingFactory{}
	d := NewDispatcher(cfg, reg, nil, nil, nil, factory, nil)

	crc := CallsignCRC16(cfg.Station.CallWithSSID(0))
	f := &Frame{Type: FrameARQSessionOpen, Origin: "W1AW-5", DestinationCRC: &crc}

	d.HandleFrame(f)
	assert.Empty(t, factory.opens, "blacklisted origin (ssid-stripped) must be dropped")
}

func TestDispatcherFillsDefaultGridsquare(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()
	events := &recordingBroadcaster{}
	d := NewDispatcher(cfg, reg, nil, events, nil, &recordingFactory{}, nil)

	crc := CallsignCRC16(cfg.Station.CallWithSSID(0))
	f := &Frame{Type: FrameARQSessionOpen, Origin: "W1AW", DestinationCRC: &crc}
	d.HandleFrame(f)

	require.Len(t, events.frameEvents, 1)
	assert.Equal(t, "------", events.frameEvents[0].Gridsquare)
}

type recordingIRSSession struct {
	*fakeIRSSession
	onInfo func(f *Frame)
}

func (r *recordingIRSSession) OnInfoReceived(f *Frame) { r.onInfo(f) }

// fakeStationDatabase is a minimal StationDatabase that only exercises the
// StationTracker.Heard hook; the lookup/update methods are unused stubs.
type fakeStationDatabase struct {
	heard []string
}

func (d *fakeStationDatabase) Heard(callsign string, snr float64, awayFromKey bool) {
	d.heard = append(d.heard, callsign)
}
func (d *fakeStationDatabase) GetCallsignByChecksum(crc uint16) (string, bool) { return "", false }
func (d *fakeStationDatabase) GetStation(callsign string) (StationLocation, bool) {
	return StationLocation{}, false
}
func (d *fakeStationDatabase) UpdateStationLocation(callsign, gridsquare string) {}

func TestDispatcherTracksHeardStationIndependentlyOfActivityLog(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry()
	factory := &recordingFactory{}
	db := &fakeStationDatabase{}
	events := &recordingBroadcaster{}
	d := NewDispatcher(cfg, reg, db, events, nil, factory, nil)

	crc := CallsignCRC16(cfg.Station.CallWithSSID(0))
	f := &Frame{Type: FrameARQSessionOpen, Origin: "W1AW", DestinationCRC: &crc}
	d.HandleFrame(f)

	require.Len(t, db.heard, 1, "a frame with a known origin must be tracked as heard")
	assert.Equal(t, "W1AW", db.heard[0])

	require.Len(t, events.frameEvents, 1)
	require.Len(t, events.activityEvents, 1, "Record must fire alongside BroadcastFrameHandler, not instead of it")
	assert.Equal(t, events.frameEvents[0], events.activityEvents[0])
}
