package tsch

import (
	"github.com/charmbracelet/log"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Slot state machine / "powercycle" (component C5).
 *
 * Description:	The heart of the MAC. Runs as a cooperative task driven
 *		entirely by Clock deadlines; each step method below is a
 *		yield_until(deadline) point from spec.md §4.5 — the
 *		"protothread" option from §9's Design Notes, implemented as
 *		an explicit per-call dispatch rather than a language-level
 *		coroutine, since Go has no stackful-coroutine yield. State
 *		that must persist across yields (timeslot, drift_acc,
 *		drift_count, start, asn) lives on the Powercycle struct and
 *		nowhere else, matching §3's ownership rule.
 *
 *		Grounded on xmit.go's slottime/persist decision loop
 *		(channel-clear check -> transmit-or-backoff), generalized
 *		from p-persistent CSMA to TSCH's per-cell TX/RX/OFF
 *		decision table, and on dlq.go's ISR<->task handoff pattern.
 *
 *------------------------------------------------------------------*/

// Decision is the per-slot choice computed in spec.md §4.5 step 5.
type Decision int

const (
	DecisionOff Decision = iota
	DecisionTX
	DecisionTXIdle
	DecisionTXBackoff
	DecisionRX
)

func (d Decision) String() string {
	switch d {
	case DecisionOff:
		return "OFF"
	case DecisionTX:
		return "TX"
	case DecisionTXIdle:
		return "TX_IDLE"
	case DecisionTXBackoff:
		return "TX_BACKOFF"
	case DecisionRX:
		return "RX"
	default:
		return "UNKNOWN"
	}
}

// Powercycle is the per-node slot state machine.
type Powercycle struct {
	clock  Clock
	radio  Radio
	sf     *Slotframe
	queues *QueueStore
	disp   *CallbackDispatcher
	timing Timing
	logger *log.Logger
	input  *InputPipeline

	// OnTimeSourceSync, if set, is invoked whenever a drift sample is
	// folded into the accumulator — used by tests/observability; not
	// part of the spec's required surface.
	OnTimeSourceSync func(addr Addr, driftTicks int32)

	// persistent across slots (owned exclusively by this struct,
	// per spec.md §3's ownership rule)
	timeslot   uint16
	asn        uint64
	driftAcc   int32
	driftCount uint16
	start      Tick

	keepRadioOn bool
	running     bool

	// per-slot scratch, reset at the top of every on-slot
	cell        *Cell
	pkt         *TxPacket
	neigh       *NeighborQueue
	decision    Decision
	needAck     bool
	rxEndTime   Tick
	rxFrame     []byte
	txCompleted Tick // offset (from start) of the most recent tx_complete
}

// NewPowercycle wires the slot state machine to its collaborators.
func NewPowercycle(clock Clock, radio Radio, sf *Slotframe, queues *QueueStore, disp *CallbackDispatcher, input *InputPipeline, timing Timing, logger *log.Logger) *Powercycle {
	return &Powercycle{
		clock:  clock,
		radio:  radio,
		sf:     sf,
		queues: queues,
		disp:   disp,
		input:  input,
		timing: timing,
		logger: logger,
	}
}

// ASN returns the current Absolute Slot Number.
func (p *Powercycle) ASN() uint64 { return p.asn }

// Timeslot returns the current slotframe-relative slot index.
func (p *Powercycle) Timeslot() uint16 { return p.timeslot }

// SetKeepRadioOn implements the "keep_radio_on" sticky flag honored by
// OFF decisions (spec.md §4.5 step 2).
func (p *Powercycle) SetKeepRadioOn(keep bool) { p.keepRadioOn = keep }

// Start begins slot-by-slot operation from the given anchor tick,
// timeslot 0, ASN 0. Called once by MAC.On.
func (p *Powercycle) Start(anchor Tick) {
	p.running = true
	p.timeslot = 0
	p.asn = 0
	p.start = anchor
	p.driftAcc = 0
	p.driftCount = 0
	p.beginSlot()
}

// Stop halts slot scheduling. Called by MAC.Off.
func (p *Powercycle) Stop() {
	p.running = false
	if !p.keepRadioOn {
		p.radio.Off()
	}
}

// beginSlot is the entry point for each slot (spec.md §4.5 steps 1-5).
func (p *Powercycle) beginSlot() {
	if !p.running {
		return
	}

	p.cell = p.sf.GetCell(p.timeslot)

	if p.cell == nil || p.queues.QueueBusy {
		p.decision = DecisionOff
		if !p.keepRadioOn {
			p.radio.Off()
		}
		p.endOfSlot()
		return
	}

	if err := p.radio.SetChannel(HopChannel(p.cell, p.asn)); err != nil {
		p.logger.Warn("hop_channel failed", "slot", p.timeslot, "err", err)
	}

	p.pkt = nil
	p.neigh = nil
	p.needAck = false
	p.rxFrame = nil

	p.decision = p.decideSlot()

	switch p.decision {
	case DecisionTX:
		p.beginTX()
	case DecisionRX:
		p.beginRX()
	default:
		// TX_IDLE / TX_BACKOFF / OFF: nothing to drive this slot.
		if !p.keepRadioOn {
			p.radio.Off()
		}
		p.endOfSlot()
	}
}

// decideSlot implements spec.md §4.5 steps 4-5 (TX selection + decision
// table).
func (p *Powercycle) decideSlot() Decision {
	hasTX := p.cell.Options.Has(CellTX)

	if hasTX && p.cell.Type != CellAdvertising {
		p.neigh = p.queues.Get(p.cell.Peer)
		if p.neigh != nil {
			p.pkt = p.neigh.Head()
		}
		if p.pkt == nil && p.cell.Peer.IsBroadcast() && p.cell.Options.Has(CellShared) {
			if pkt, addr := p.queues.RoundRobinNextPending(); pkt != nil {
				p.pkt = pkt
				p.neigh = p.queues.Get(addr)
			}
		}
	}

	var decision Decision
	switch {
	case hasTX && p.pkt != nil:
		if !p.cell.Options.Has(CellShared) || p.neigh.bw == 0 {
			decision = DecisionTX
		} else {
			p.neigh.bw--
			decision = DecisionTXBackoff
		}
	case hasTX && p.pkt == nil:
		decision = DecisionTXIdle
	default:
		decision = DecisionOff
	}

	if decision != DecisionTX && p.cell.Options.Has(CellRX) {
		decision = DecisionRX
	}
	return decision
}

// ---------------------------------------------------------------------
// TX path (spec.md §4.5 "TX path")
// ---------------------------------------------------------------------

func (p *Powercycle) beginTX() {
	p.scheduleRelative(p.timing.TsCCAOffset, p.txRadioOnForCCA)
}

func (p *Powercycle) txRadioOnForCCA() {
	p.radio.On()
	p.scheduleRelative(p.timing.TsCCAOffset+p.timing.TsCCA, p.txCheckCCA)
}

func (p *Powercycle) txCheckCCA() {
	if !p.radio.ChannelClear() {
		p.txOutcome(TxCollision, nil)
		return
	}
	p.scheduleRelative(p.timing.TsTxOffset-p.timing.DelayTx, p.txPrepare)
}

func (p *Powercycle) txPrepare() {
	if err := p.radio.Prepare(p.pkt.Frame); err != nil {
		p.txOutcome(TxErr, err)
		return
	}
	p.scheduleRelative(p.timing.TsTxOffset, p.txTransmit)
}

func (p *Powercycle) txTransmit() {
	result, err := p.radio.Transmit()
	if result != TxOK {
		p.txOutcome(result, err)
		return
	}
	dur := p.timing.txDurationTicks(len(p.pkt.Frame))
	p.txCompleted = p.timing.TsTxOffset + dur
	p.scheduleRelative(p.txCompleted, p.txComplete)
}

func (p *Powercycle) txComplete() {
	if p.pkt.Broadcast {
		p.txOutcome(TxOK, nil)
		return
	}
	d := p.txCompleted + p.timing.TsTxAckDelay - p.timing.TsShortGT - p.timing.DelayRx
	p.scheduleRelative(d, p.txAckListen)
}

func (p *Powercycle) txAckListen() {
	p.radio.On()
	p.scheduleRelative(p.txCompleted+p.timing.TsTxAckDelay+p.timing.TsShortGT, p.txAckDetect)
}

func (p *Powercycle) txAckDetect() {
	if !p.radio.ReceivingPacket() {
		p.txOutcome(TxNoACK, nil)
		return
	}
	p.scheduleRelative(p.txCompleted+p.timing.TsTxAckDelay+p.timing.TsShortGT+p.timing.WdAckDuration, p.txAckRead)
}

const (
	ackLen      = 3 // FCF (2 bytes) + seqno
	extraAckLen = 4 // sync IE
)

// txAckRead validates the received ACK per spec.md §4.5 "ACK validity"
// and finishes the TX outcome.
func (p *Powercycle) txAckRead() {
	ack, err := p.radio.ReadAck()
	if err != nil || len(ack) < ackLen {
		p.txOutcome(TxNoACK, nil)
		return
	}
	if ack[0] != 0x02 {
		p.txOutcome(TxNoACK, nil)
		return
	}
	if ack[2] != p.pkt.Seqno {
		p.txOutcome(TxNoACK, nil)
		return
	}

	if len(ack) >= ackLen+extraAckLen && ack[1]&0x02 != 0 &&
		len(ack) == ackLen+extraAckLen && ack[3] == 0x02 && ack[4] == 0x1e {
		driftTicks, nack := DecodeSyncIE(ack[3:7])
		_ = nack // MAC_TX_NOACK_WITH_SYNC is reserved for upper layers, spec.md §4.5
		if p.neigh != nil && p.neigh.TimeSource {
			p.driftAcc += ticksToMicros(driftTicks)
			p.driftCount++
			if p.OnTimeSourceSync != nil {
				p.OnTimeSourceSync(p.neigh.Addr, driftTicks)
			}
		}
	}

	p.txOutcome(TxOK, nil)
}

// txOutcome implements spec.md §4.5 "Outcome handling" and posts the
// packet to the TX callback dispatcher (C6).
func (p *Powercycle) txOutcome(result TxResult, err error) {
	if !p.keepRadioOn {
		p.radio.Off()
	}

	var status MacStatus
	switch result {
	case TxOK:
		status = MacOK
	case TxCollision:
		status = MacCollision
	case TxErr:
		status = MacErr
	case TxNoACK:
		status = MacNoACK
	}

	n := p.neigh
	pkt := p.pkt
	final := false

	if status == MacOK {
		pkt.Transmissions++
		p.queues.Pop(n.Addr)
		if n.Empty() {
			n.resetBackoff()
		} else {
			n.bw = 0
		}
		final = true
	} else {
		pkt.Transmissions++
		if pkt.Transmissions >= MaxRetries {
			p.queues.Pop(n.Addr)
			n.resetBackoff()
			final = true
		}
		if n != nil && p.cell.Options.Has(CellShared) && !pkt.Broadcast {
			window := uint16(1) << n.be
			n.bw = randByte() & byte(window-1)
			if n.be < MaxBE {
				n.be++
			}
		}
	}

	if p.logger != nil {
		p.logger.Debug("tx outcome", "slot", p.timeslot, "dest", pkt.Dest,
			"status", status, "transmissions", pkt.Transmissions, "err", err)
	}

	// Only the final outcome (success, or drop after MAX_RETRIES) is
	// posted upward; intermediate retries are silent, per spec.md §8
	// scenario 2 ("callback fires" once, after the retry sequence).
	if final {
		pkt.finish(status, p.disp)
	}
	p.endOfSlot()
}

// ---------------------------------------------------------------------
// RX path (spec.md §4.5 "RX path")
// ---------------------------------------------------------------------

func (p *Powercycle) beginRX() {
	p.scheduleRelative(p.timing.TsTxOffset-p.timing.TsLongGT, p.rxRadioOn)
}

func (p *Powercycle) rxRadioOn() {
	p.radio.On()
	p.scheduleRelative(p.timing.TsTxOffset+p.timing.TsLongGT, p.rxCheckActivity)
}

func (p *Powercycle) rxCheckActivity() {
	if !p.radio.PendingPacket() && !p.radio.ReceivingPacket() {
		if !p.keepRadioOn {
			p.radio.Off()
		}
		p.endOfSlot()
		return
	}

	frame, err := p.radio.Read()
	if err != nil {
		if !p.keepRadioOn {
			p.radio.Off()
		}
		p.endOfSlot()
		return
	}
	p.rxFrame = frame
	p.rxEndTime = p.radio.GetRxEndTime()

	meta, perr := p.input.Framer.Parse(frame)
	needAck := perr == nil && meta.AckReq

	if needAck {
		p.needAck = true
		// Anchored to the actual SFD-capture time, not p.start: this is
		// the one RX-phase deadline spec.md §4.5 ties to rx_end_time
		// rather than the nominal slot start, so it stays inside the
		// sender's TsShortGT guard even under clock drift.
		deadline := p.rxEndTime.Add(p.timing.TsTxAckDelay - p.timing.DelayTx)
		status := p.clock.ScheduleAt(deadline, p.rxSendAck)
		if status == ScheduleMissed && p.logger != nil {
			p.logger.Warn("missed intra-slot deadline", "slot", p.timeslot, "offset", p.timing.TsTxAckDelay-p.timing.DelayTx)
		}
		return
	}

	p.rxDeliver()
}

// rxSendAck synthesizes and sends the soft-ACK, per spec.md §4.5 RX path
// / §9's "Radio ISR soft-ACK" note. In this reference implementation the
// synthesis happens here rather than inside a separate radio ISR
// goroutine, since Radio is a plain interface rather than a hardware
// peripheral; real backends may instead invoke the MakeSyncAckFunc
// registered via Radio.SoftAckSubscribe from their own ISR context ahead
// of this deadline.
func (p *Powercycle) rxSendAck() {
	diff := int32(p.start.Add(p.timing.TsTxOffset).Sub(p.rxEndTime))
	ack := buildAck(p.lastRxSeqno(), diff, false)
	if err := p.radio.SendAck(ack); err != nil && p.logger != nil {
		p.logger.Warn("send_ack failed", "slot", p.timeslot, "err", err)
	}
	p.rxDeliver()
}

func (p *Powercycle) lastRxSeqno() uint8 {
	meta, err := p.input.Framer.Parse(p.rxFrame)
	if err != nil {
		return 0
	}
	return meta.Seqno
}

// buildAck constructs the ACK frame of spec.md §6: FCF/seqno plus an
// optional Sync IE.
func buildAck(seqno uint8, driftTicks int32, nack bool) []byte {
	ie := EncodeSyncIE(driftTicks, nack)
	frame := make([]byte, 0, ackLen+extraAckLen)
	frame = append(frame, 0x02, 0x22, seqno)
	frame = append(frame, ie[:]...)
	return frame
}

// rxDeliver hands the received frame to C7 and folds in any drift
// sample the soft-ack produced, then ends the slot.
func (p *Powercycle) rxDeliver() {
	meta, err := p.input.Framer.Parse(p.rxFrame)
	if err == nil {
		if n := p.queues.Get(meta.Src); n != nil && n.TimeSource {
			if lastDrift := p.lastSoftAckDrift(); lastDrift != 0 {
				// Receiver drift is the negation of the sender's
				// measurement (spec.md §4.5 RX path).
				p.driftAcc -= ticksToMicros(lastDrift)
				p.driftCount++
				if p.OnTimeSourceSync != nil {
					p.OnTimeSourceSync(meta.Src, -lastDrift)
				}
			}
		}
	}

	if p.input != nil {
		_ = p.input.HandleFrame(p.rxFrame)
	}

	if !p.keepRadioOn {
		p.radio.Off()
	}
	p.endOfSlot()
}

// lastSoftAckDrift returns the tick difference used to build the most
// recent soft ACK, recomputed from the same (start,rxEndTime) pair used
// in rxSendAck, so rxDeliver can credit it without a separate ISR
// channel in this reference implementation.
func (p *Powercycle) lastSoftAckDrift() int32 {
	if !p.needAck {
		return 0
	}
	return int32(p.start.Add(p.timing.TsTxOffset).Sub(p.rxEndTime))
}

// ---------------------------------------------------------------------
// End-of-slot accounting (spec.md §4.5 "End-of-slot accounting")
// ---------------------------------------------------------------------

func (p *Powercycle) endOfSlot() {
	nextTS := p.sf.NextOnSlot(p.timeslot)
	var dt uint16
	if nextTS != 0 {
		dt = nextTS - p.timeslot
	} else {
		dt = p.sf.Length - p.timeslot
	}
	duration := Tick(dt) * p.timing.TsSlotDuration

	if nextTS == 0 && p.driftCount > 0 {
		correction := Tick(int32(roundDiv(int64(p.driftAcc)*100, int64(3051)*int64(p.driftCount))))
		duration += correction
		p.driftAcc = 0
		p.driftCount = 0
	}

	p.asn += uint64(dt)
	p.start += duration
	p.timeslot = nextTS

	superseded := false
	status := p.clock.ScheduleAt(p.start, func() {
		if !superseded {
			p.resumeFromDeadline()
		}
	})
	if status == ScheduleMissed {
		// Skip one additional slot to keep slotframe alignment,
		// per spec.md §4.5's missed-deadline handling. The callback the
		// Clock queued at Now()+smallDelta for the missed deadline is
		// superseded by the re-schedule below and does nothing.
		superseded = true
		skipTS := p.sf.NextOnSlot(p.timeslot)
		var skipDt uint16
		if skipTS != 0 {
			skipDt = skipTS - p.timeslot
		} else {
			skipDt = p.sf.Length - p.timeslot
		}
		skipDuration := Tick(skipDt) * p.timing.TsSlotDuration

		p.asn += uint64(skipDt)
		p.start += skipDuration
		p.timeslot = skipTS

		if p.logger != nil {
			p.logger.Warn("missed slot deadline, skipping one slot",
				"asn", p.asn, "timeslot", p.timeslot)
		}
		p.clock.ScheduleAt(p.start, p.resumeFromDeadline)
	}
}

// roundDiv performs rounded integer division (round-half-away-from-zero)
// used by the drift-correction average in property P9.
func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	if (num < 0) != (den < 0) {
		return -roundDiv(-num, den)
	}
	return (num + den/2) / den
}

func (p *Powercycle) resumeFromDeadline() {
	p.beginSlot()
}

// scheduleRelative schedules cb at p.start + offset from the radio
// timer, the uniform "yield_until" helper used by every TX/RX phase
// transition above.
func (p *Powercycle) scheduleRelative(offset Tick, cb func()) {
	deadline := p.start.Add(offset)
	status := p.clock.ScheduleAt(deadline, cb)
	if status == ScheduleMissed && p.logger != nil {
		p.logger.Warn("missed intra-slot deadline", "slot", p.timeslot, "offset", offset)
	}
}
