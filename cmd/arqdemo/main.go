// Command arqdemo drives a loopback ISS/IRS transfer over a simulated
// lossy channel, the same role the teacher's cmd/fxsend and cmd/fxrec
// play for the FX.25 codec and cmd/atest plays for decode testing: it
// exercises the whole engine end to end without touching a radio.
package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
	flag "github.com/spf13/pflag"

	"github.com/freedata-radio/arq-engine/internal/arq"
	"github.com/freedata-radio/arq-engine/internal/config"
	"github.com/freedata-radio/arq-engine/internal/wire"
)

func main() {
	var (
		myCall     = flag.String("mycall", "N0CALL", "ISS station callsign")
		dxCall     = flag.String("dxcall", "W1AW", "IRS station callsign")
		ssid       = flag.Int("ssid", 0, "IRS SSID to address")
		payloadLen = flag.Int("bytes", 1000, "random payload size in bytes")
		lossPct    = flag.Float64("loss", 0.10, "simulated frame-loss probability, 0..1")
		speedFile  = flag.String("speed-table", "", "optional YAML speed table; built-in default if empty")
		tsFormat   = flag.String("timestamp-format", "%Y-%m-%d %H:%M:%S", "strftime pattern for event timestamps")
	)
	flag.Parse()

	logger := log.New(os.Stderr)

	speedTable := arq.DefaultSpeedTable()
	if *speedFile != "" {
		loaded, err := config.LoadSpeedTable(*speedFile)
		if err != nil {
			logger.Fatal("loading speed table", "err", err)
		}
		speedTable = loaded
	}

	cfg := arq.Config{
		Station: arq.StationConfig{
			MyCall:   *dxCall,
			MySSID:   *ssid,
			SSIDList: []int{*ssid},
			MyGrid:   "AA00aa",
		},
		Defaults:   arq.DefaultSessionDefaults(),
		SpeedTable: speedTable,
	}

	payload := make([]byte, *payloadLen)
	_, _ = rand.Read(payload)

	events := &printingBroadcaster{log: logger, tsFormat: *tsFormat}
	codec := wire.JSONCodec{}

	irsReg := arq.NewRegistry()
	issReg := arq.NewRegistry()

	channel := &lossyChannel{lossProbability: *lossPct, codec: codec}

	irsTQ := arq.NewTransmitQueue(8)
	issTQ := arq.NewTransmitQueue(8)

	irsSide := &side{reg: irsReg, tq: irsTQ, codec: codec, events: events, cfg: cfg}
	issSide := &side{reg: issReg, tq: issTQ, codec: codec, events: events, cfg: cfg}

	irsModem := &channelModem{out: channel, toDispatcher: issSide}
	issModem := &channelModem{out: channel, toDispatcher: irsSide}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	go irsTQ.Pump(ctx, irsModem, logger)
	go issTQ.Pump(ctx, issModem, logger)

	factory := &irsFactory{reg: irsReg, tq: irsTQ, codec: codec, events: events, cfg: cfg}
	irsDispatcher := arq.NewDispatcher(cfg, irsReg, nil, events, nil, factory, logger)
	irsSide.dispatcher = irsDispatcher

	destCRC := arq.CallsignCRC16(cfg.Station.CallWithSSID(*ssid))
	iss := arq.NewISSSession(1, *myCall, *dxCall, destCRC, 10.0, payload, cfg, issTQ, codec, events)
	if err := issReg.InsertISS(iss); err != nil {
		logger.Fatal("registering ISS session", "err", err)
	}
	iss.SetOnDone(func() { issReg.RemoveISS(iss.ID()) })

	issDispatcher := arq.NewDispatcher(cfg, issReg, nil, events, nil, &noOpenFactory{}, logger)
	issSide.dispatcher = issDispatcher

	iss.Run()

	logger.Info("transfer finished", "state", iss.State())
}

// side bundles the collaborators one station's dispatcher needs to
// register and run new IRS sessions discovered via ARQ_SESSION_OPEN.
type side struct {
	reg        *arq.Registry
	tq         *arq.TransmitQueue
	codec      arq.FrameCodec
	events     arq.EventBroadcaster
	cfg        arq.Config
	dispatcher *arq.Dispatcher
}

// irsFactory creates and launches a new IRS session on a validated open.
type irsFactory struct {
	reg    *arq.Registry
	tq     *arq.TransmitQueue
	codec  arq.FrameCodec
	events arq.EventBroadcaster
	cfg    arq.Config
}

func (fac *irsFactory) OnSessionOpen(f *arq.Frame, localCall string) {
	id, ok := f.Session()
	if !ok {
		id = 1
	}
	s := arq.NewIRSSession(id, localCall, f.Origin, f.SNR, fac.cfg, fac.tq, fac.codec, fac.events)
	if err := fac.reg.InsertIRS(s); err != nil {
		return
	}
	s.SetOnDone(func() { fac.reg.RemoveIRS(s.ID()) })
	go s.Run()
}

func (fac *irsFactory) OnPing(f *arq.Frame, localCall string) {}

// noOpenFactory is wired on the ISS side's dispatcher, which never
// receives ARQ_SESSION_OPEN frames in this demo's direction.
type noOpenFactory struct{}

func (noOpenFactory) OnSessionOpen(f *arq.Frame, localCall string) {}
func (noOpenFactory) OnPing(f *arq.Frame, localCall string)        {}

// lossyChannel simulates frame loss between the two dispatchers.
type lossyChannel struct {
	lossProbability float64
	codec           arq.FrameCodec
}

// channelModem adapts the transmit queue's drain side into a delivery to
// the other station's dispatcher, with simulated loss.
type channelModem struct {
	out          *lossyChannel
	toDispatcher *side
}

func (m *channelModem) Transmit(mode arq.TxMode, repeats int, delay time.Duration, payload []byte) error {
	if rand.Float64() < m.out.lossProbability {
		return nil
	}
	f, err := m.out.codec.Decode(payload)
	if err != nil {
		return err
	}
	m.toDispatcher.dispatcher.HandleFrame(f)
	return nil
}

// printingBroadcaster logs every broadcast event with a strftime-formatted
// timestamp, the demo's stand-in for a UI event stream, the same library
// and pattern the teacher's tq_append/xmit_thread use to stamp IGate and
// NetTNC frames.
type printingBroadcaster struct {
	log      *log.Logger
	tsFormat string
}

func (b *printingBroadcaster) format(ts int64) string {
	formatted, err := strftime.Format(b.tsFormat, time.Unix(ts, 0).UTC())
	if err != nil {
		return time.Unix(ts, 0).UTC().String()
	}
	return formatted
}

func (b *printingBroadcaster) BroadcastFrameHandler(ev arq.FrameHandlerEvent) {
	b.log.Debug("frame", "at", b.format(ev.Timestamp), "type", ev.Received, "from", ev.DXCallsign)
}

func (b *printingBroadcaster) Record(ev arq.FrameHandlerEvent) {
	b.log.Debug("activity", "at", b.format(ev.Timestamp), "type", ev.Received, "from", ev.DXCallsign)
}

func (b *printingBroadcaster) BroadcastOutbound(ev arq.TransferEvent) {
	b.log.Info("outbound transfer complete", "dxcall", ev.Dxcall, "success", ev.Success, "bytes", ev.Bytes)
}

func (b *printingBroadcaster) BroadcastInbound(ev arq.TransferEvent) {
	b.log.Info("inbound transfer complete", "dxcall", ev.Dxcall, "success", ev.Success, "bytes", ev.Bytes)
}
