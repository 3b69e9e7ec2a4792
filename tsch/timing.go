package tsch

/*------------------------------------------------------------------
 *
 * Purpose:	Radio-timer timing constants driving the slot state
 *		machine (spec.md §6 "Constants").
 *
 * Description:	Exact values are radio/platform dependent per the spec;
 *		the defaults here use the same relative magnitudes as a
 *		typical 802.15.4e TSCH timing template (rtimer ticks at a
 *		32.768kHz radio clock) so the TX/RX offset choreography in
 *		spec.md §4.5 lands in the right order.
 *
 *------------------------------------------------------------------*/

// Timing holds one channel's set of slot-offset constants, all in Ticks.
type Timing struct {
	TsCCAOffset    Tick
	TsCCA          Tick
	TsTxOffset     Tick
	TsRxOffset     Tick
	TsTxAckDelay   Tick
	TsShortGT      Tick
	TsLongGT       Tick
	TsSlotDuration Tick
	DelayTx        Tick
	DelayRx        Tick
	WdDataDuration Tick
	WdAckDuration  Tick

	// BitsPerSecond is used only to estimate on-air transmission time
	// for simulated/reference radios; a real driver reports its own
	// transmission-complete event instead of relying on this.
	BitsPerSecond uint32
}

// DefaultTiming returns a timing template with the standard relative
// ordering/magnitude of a 802.15.4e TSCH timeslot.
func DefaultTiming() Timing {
	return Timing{
		TsCCAOffset:    1800,
		TsCCA:          128,
		TsTxOffset:     2120,
		TsRxOffset:     1460, // TsTxOffset - TsLongGT
		TsTxAckDelay:   1000,
		TsShortGT:      500,
		TsLongGT:       660,
		TsSlotDuration: 3300,
		// DelayTx must leave TsTxOffset-DelayTx at or after the CCA
		// window closes (TsCCAOffset+TsCCA=1928), since "hand frame to
		// radio" happens only after CCA passes.
		DelayTx: 180,
		DelayRx: 0,
		WdDataDuration: 2400,
		WdAckDuration:  400,
		BitsPerSecond:  250000,
	}
}

// txDurationTicks estimates on-air transmission time for a frame of the
// given length, capped at WdDataDuration (spec.md §4.5's TX-complete
// offset: "capped at wdDataDuration").
func (t Timing) txDurationTicks(frameLen int) Tick {
	bits := uint32(frameLen) * 8
	us := uint64(bits) * 1000000 / uint64(t.BitsPerSecond)
	ticks := Tick(us * TicksPerSecond / 1000000)
	if ticks > t.WdDataDuration {
		ticks = t.WdDataDuration
	}
	return ticks
}
