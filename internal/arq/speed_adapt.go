package arq

/*------------------------------------------------------------------
 *
 * Purpose:	Stateful speed_level adaptation, shared by the IRS and ISS
 *		drivers per §4.5.
 *
 * Description:	The decrement rule is unambiguous in the original source.
 *		The increment rule was left as a TODO there; this
 *		implements the resolved contract from SPEC_FULL.md §9: two
 *		consecutive clean bursts with an SNR margin above the
 *		current mode's threshold step the level up by one.
 *
 *------------------------------------------------------------------*/

// speedController tracks one side's view of speed_level. It is not
// goroutine-safe; each session owns exactly one and touches it only from
// its own driver goroutine.
type speedController struct {
	table                SpeedTable
	level                int
	consecutiveSuccesses int
}

func newSpeedController(table SpeedTable) *speedController {
	return &speedController{table: table}
}

// Level returns the current speed_level.
func (c *speedController) Level() int {
	return c.level
}

// Adopt overwrites the level wholesale (the ISS adopting the IRS's
// published view, or the IRS taking its initial level from calibration).
func (c *speedController) Adopt(level int) {
	c.level = c.table.Clamp(level)
	c.consecutiveSuccesses = 0
}

// OnRetry applies the decrement rule: on the second consecutive retry
// within a phase, step down by one. retriesUsed is
// RETRIES_TRANSFER - retries_remaining, i.e. how many retries this phase
// has already burned.
func (c *speedController) OnRetry(retriesUsed int) {
	c.consecutiveSuccesses = 0
	if retriesUsed >= 2 {
		c.level = c.table.Clamp(c.level - 1)
	}
}

// OnSuccess applies the increment rule: a clean burst with SNR margin
// above the current mode's threshold counts toward stepping up; anything
// else (including a clean burst with insufficient margin) resets the
// streak so that two *consecutive* good bursts are required.
func (c *speedController) OnSuccess(snrMargin float64) {
	if snrMargin <= c.table.StepUpMargin(c.level) {
		c.consecutiveSuccesses = 0
		return
	}
	c.consecutiveSuccesses++
	if c.consecutiveSuccesses >= 2 {
		c.level = c.table.Clamp(c.level + 1)
		c.consecutiveSuccesses = 0
	}
}
