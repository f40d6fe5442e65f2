package arq

/*------------------------------------------------------------------
 *
 * Purpose:	External collaborator boundaries.
 *
 * Description:	Everything in this file is a seam the spec names as an
 *		external collaborator, reached only through its interface:
 *		modulation/demodulation, wire framing, the station database,
 *		and the event/UI stream. Production adapters for these
 *		(audio codec modes, SQL/KV station storage, a websocket
 *		broadcaster) live outside this module. Config, by contrast,
 *		is not a collaborator at all: it is a plain struct passed to
 *		constructors (see config.go), per the "global mutable state
 *		elimination" design note.
 *
 *------------------------------------------------------------------*/

import "time"

// TxMode selects the codec mode an outbound frame transmits with: the
// robust signalling mode for control frames, or a data mode keyed by
// speed_level for bursts.
type TxMode int

const (
	// TxModeSignalling is used for every control frame (open/info/ack/
	// nack/stop/ping) regardless of the session's current speed_level.
	TxModeSignalling TxMode = -1
)

// DataMode returns the TxMode for burst frames sent at the given speed
// level. Negative levels are signalling-only and never reach here.
func DataMode(speedLevel int) TxMode {
	return TxMode(speedLevel)
}

// ModemTransmitter is the single method the engine ever calls to hand a
// frame to the modem. repeats and delay are currently always 1 and 0 per
// §6; they are parameters rather than constants so a test modem can log
// them or a future signalling mode can vary them.
type ModemTransmitter interface {
	Transmit(mode TxMode, repeats int, delay time.Duration, payload []byte) error
}

// FrameCodec turns a decoded Frame back into wire bytes and vice versa.
// The byte layout itself is out of scope for this module; FrameCodec is the
// seam a concrete codec plugs into.
type FrameCodec interface {
	Encode(f *Frame) ([]byte, error)
	Decode(b []byte) (*Frame, error)
}

// StationLocation is the subset of station-database state the frame
// handler enrichment pipeline reads and writes.
type StationLocation struct {
	Gridsquare string
}

// StationTracker is the heard-station enrichment hook (the original's
// add_to_heard_stations), kept as its own interface rather than folded
// into the rest of StationDatabase so a caller can satisfy it without
// also wiring callsign/gridsquare lookups.
type StationTracker interface {
	// Heard records that callsign was just directly decoded, with the SNR
	// of its last frame and whether it reported AWAY_FROM_KEY.
	Heard(callsign string, snr float64, awayFromKey bool)
}

// StationDatabase is the read/write seam to the (external) callsign and
// grid-square store. Failures are non-fatal everywhere this is called.
type StationDatabase interface {
	StationTracker
	GetCallsignByChecksum(crc uint16) (callsign string, ok bool)
	GetStation(callsign string) (loc StationLocation, ok bool)
	UpdateStationLocation(callsign, gridsquare string)
}

// FrameHandlerEvent is the record broadcast for every frame this station
// processes, per §6's event-stream interface.
type FrameHandlerEvent struct {
	Type               string  `json:"type"`
	Received           FrameType `json:"received"`
	Timestamp          int64   `json:"timestamp"`
	MyCallsign         string  `json:"mycallsign"`
	MySSID             int     `json:"myssid"`
	SNR                string  `json:"snr"`
	DXCallsign         string  `json:"dxcallsign,omitempty"`
	Gridsquare         string  `json:"gridsquare,omitempty"`
	DistanceKilometers *float64 `json:"distance_kilometers,omitempty"`
	DistanceMiles      *float64 `json:"distance_miles,omitempty"`
	AwayFromKey        *bool   `json:"away_from_key,omitempty"`
}

// TransferEvent is the session-lifecycle record broadcast under the
// "arq-transfer-outbound"/"arq-transfer-inbound" keys.
type TransferEvent struct {
	SessionID uint16 `json:"session_id"`
	Dxcall    string `json:"dxcall"`
	Success   bool   `json:"success"`
	Bytes     int    `json:"bytes"`
}

// ActivityLog is the activity-list enrichment hook (the original's
// add_to_activity_list), kept separate from BroadcastFrameHandler so a
// caller can log activity without also standing up a full UI event fan-out.
type ActivityLog interface {
	Record(ev FrameHandlerEvent)
}

// EventBroadcaster is the outbound seam to whatever is listening for
// activity (a UI, a log sink, a test harness). BroadcastFrameHandler is
// called once per processed frame; BroadcastOutbound/BroadcastInbound are
// called once, at completion, by an ISS/IRS session respectively.
type EventBroadcaster interface {
	ActivityLog
	BroadcastFrameHandler(ev FrameHandlerEvent)
	BroadcastOutbound(ev TransferEvent)
	BroadcastInbound(ev TransferEvent)
}

// DistanceCalculator computes great-circle distance between two
// gridsquares. It is an external collaborator (§1 excludes "geographic
// distance"); the dispatcher calls it only when both squares are known and
// tolerates a nil calculator by omitting distance fields.
type DistanceCalculator interface {
	DistanceBetween(myGrid, dxGrid string) (kilometers, miles float64, ok bool)
}
