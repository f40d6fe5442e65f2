package arq

/*------------------------------------------------------------------
 *
 * Purpose:	The ordered codec-mode table speed_level indexes into.
 *
 * Description:	§4.5 is explicit that "the SNR-margin table is a
 *		configuration input, not a constant of this spec" - so this
 *		is data, loadable from outside the engine (see
 *		internal/config for a YAML loader), not a hard-coded slice
 *		of numbers buried in the session state machines.
 *
 *------------------------------------------------------------------*/

// CodecMode describes one entry in the speed table: how many payload bytes
// a burst frame carries at this level, and the SNR margin above which two
// consecutive clean bursts justify stepping up to the next level.
type CodecMode struct {
	Name            string  `yaml:"name"`
	BytesPerFrame   int     `yaml:"bytes_per_frame"`
	SNRStepUpMargin float64 `yaml:"snr_step_up_margin"`
}

// SpeedTable is the ordered list of CodecModes speed_level indexes into;
// index 0 must be the most robust mode.
type SpeedTable struct {
	Modes []CodecMode `yaml:"modes"`
}

// Max is the highest valid speed_level in the table.
func (t SpeedTable) Max() int {
	if len(t.Modes) == 0 {
		return 0
	}
	return len(t.Modes) - 1
}

// Clamp bounds a speed_level to [0, Max()].
func (t SpeedTable) Clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > t.Max() {
		return t.Max()
	}
	return level
}

// BytesPerFrame returns the burst payload size at the given (clamped)
// speed_level.
func (t SpeedTable) BytesPerFrame(level int) int {
	if len(t.Modes) == 0 {
		return 0
	}
	return t.Modes[t.Clamp(level)].BytesPerFrame
}

// StepUpMargin returns the SNR margin threshold for stepping up from the
// given (clamped) speed_level.
func (t SpeedTable) StepUpMargin(level int) float64 {
	if len(t.Modes) == 0 {
		return 0
	}
	return t.Modes[t.Clamp(level)].SNRStepUpMargin
}

// DefaultSpeedTable is a reasonable built-in table for callers that don't
// load one from configuration, modeled after the narrowband/wideband split
// common to FreeDV-style signalling: slower modes need less margin to be
// considered reliable, faster ones need more headroom before stepping up.
func DefaultSpeedTable() SpeedTable {
	return SpeedTable{Modes: []CodecMode{
		{Name: "datac0", BytesPerFrame: 14, SNRStepUpMargin: 3},
		{Name: "datac1", BytesPerFrame: 32, SNRStepUpMargin: 6},
		{Name: "datac3", BytesPerFrame: 64, SNRStepUpMargin: 9},
		{Name: "datac4", BytesPerFrame: 128, SNRStepUpMargin: 12},
	}}
}
