package arq

/*------------------------------------------------------------------
 *
 * Purpose:	Engine configuration.
 *
 * Description:	A plain struct passed to constructors, in deliberate
 *		contrast to tnc/static.py's module-level globals: no
 *		process-wide configuration singleton exists anywhere in
 *		this package. Loading one of these from a file or flags is
 *		the caller's job (see internal/config for a YAML loader of
 *		just the SpeedTable, and cmd/arqdemo for flags).
 *
 *------------------------------------------------------------------*/

import (
	"strconv"
	"time"
)

// StationConfig names this station for addressing and enrichment
// purposes.
type StationConfig struct {
	MyCall            string
	MySSID            int
	SSIDList          []int
	MyGrid            string
	EnableBlacklist   bool
	CallsignBlacklist []string
}

// CallWithSSID renders "MYCALL-ssid" the way the destination-CRC check
// expects it.
func (s StationConfig) CallWithSSID(ssid int) string {
	return s.MyCall + "-" + strconv.Itoa(ssid)
}

// SessionDefaults are the per-session tunables §4.3/§4.4 name as
// constants; they are configuration here rather than compile-time
// constants so tests can shrink timeouts without touching the state
// machines.
type SessionDefaults struct {
	RetriesConnect  int
	RetriesTransfer int
	TimeoutConnect  time.Duration
	TimeoutData     time.Duration
	FramesPerBurst  int
	ProtocolVersion uint8
}

// DefaultSessionDefaults mirrors the constants named in §4.3/§4.4.
func DefaultSessionDefaults() SessionDefaults {
	return SessionDefaults{
		RetriesConnect:  3,
		RetriesTransfer: 3,
		TimeoutConnect:  6 * time.Second,
		TimeoutData:     6 * time.Second,
		FramesPerBurst:  3,
		ProtocolVersion: 1,
	}
}

// Config bundles everything the dispatcher and the session factories need.
type Config struct {
	Station    StationConfig
	Defaults   SessionDefaults
	SpeedTable SpeedTable
}
