package tsch

import (
	"github.com/charmbracelet/log"
)

/*------------------------------------------------------------------
 *
 * Purpose:	MAC driver facade (component C8).
 *
 * Description:	The operations a network stack actually calls:
 *		init/send/send_list/input/on/off. Owns the process-wide
 *		IEEE154E state (dsn/ebsn/join_priority/is_sync/state) and
 *		stamps outgoing frames before handing them to the neighbor
 *		queue store (C2).
 *
 *		Grounded on appserver.go's facade style and
 *		cmd/direwolf/main.go's top-level wiring of subsystems into
 *		one running instance.
 *
 *------------------------------------------------------------------*/

// NodeState is the coarse association state of §3's singleton E.
type NodeState int

const (
	StateOff NodeState = iota
	StateAssociated
)

// IEEE154EState is the process-wide singleton described in spec.md §3.
// Asn is not held here: the Powercycle is its sole writer, and callers
// read it through MAC.ASN().
type IEEE154EState struct {
	Dsn          uint8
	Ebsn         uint8
	IsSync       bool
	State        NodeState
	JoinPriority uint8
	CapturedTime Tick
}

// MAC is the driver facade exposed to the upper network stack.
type MAC struct {
	Self Addr

	queues *QueueStore
	disp   *CallbackDispatcher
	pc     *Powercycle
	framer Framer
	input  *InputPipeline
	logger *log.Logger

	e IEEE154EState
}

// MACConfig bundles everything needed to bring up a MAC instance.
type MACConfig struct {
	Self          Addr
	Radio         Radio
	Clock         Clock
	Slotframe     *Slotframe
	Timing        Timing
	Framer        Framer // defaults to RawFramer{} if nil
	FilterAddress bool
	JoinPriority  uint8
	Logger        *log.Logger
	DeliverUp     func(meta FrameMeta) // upper MAC input() hook
}

// NewMAC constructs a MAC driver with its component wiring, per spec.md
// §2's data-flow description (C8 -> C7 -> C2, C1 -> C5 -> C3/C2/C6).
func NewMAC(cfg MACConfig) *MAC {
	if cfg.Framer == nil {
		cfg.Framer = RawFramer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NewLogger()
	}

	queues := NewQueueStore()
	disp := NewCallbackDispatcher(64, cfg.Logger)
	input := NewInputPipeline(cfg.Framer, cfg.Self, cfg.FilterAddress, cfg.DeliverUp)
	pc := NewPowercycle(cfg.Clock, cfg.Radio, cfg.Slotframe, queues, disp, input, cfg.Timing, cfg.Logger)

	return &MAC{
		Self:   cfg.Self,
		queues: queues,
		disp:   disp,
		pc:     pc,
		framer: cfg.Framer,
		input:  input,
		logger: cfg.Logger,
		e: IEEE154EState{
			IsSync:       true, // association/scan is stubbed, spec.md §9
			State:        StateOff,
			JoinPriority: cfg.JoinPriority,
		},
	}
}

// Init prepares the MAC for operation. Association/scan is out of
// scope (spec.md §9): the node starts already synchronized.
func (m *MAC) Init() {
	m.e.IsSync = true
}

// On starts slot-by-slot operation from the given anchor tick.
func (m *MAC) On(anchor Tick) {
	m.e.State = StateAssociated
	m.pc.Start(anchor)
}

// Off stops slot operation. If keepRadioOn is true, the radio is left
// powered (sticky flag honored by the slot state machine's OFF
// decisions, spec.md §4.5 step 2).
func (m *MAC) Off(keepRadioOn bool) {
	m.pc.SetKeepRadioOn(keepRadioOn)
	m.pc.Stop()
	m.e.State = StateOff
}

// ChannelCheckInterval always returns 0: TSCH is not a channel-check
// protocol (spec.md §4.8).
func (m *MAC) ChannelCheckInterval() int { return 0 }

// ASN returns the current Absolute Slot Number.
func (m *MAC) ASN() uint64 { return m.pc.ASN() }

// State returns a copy of the process-wide IEEE154E state.
func (m *MAC) State() IEEE154EState { return m.e }

// nextSeq advances a sequence counter (dsn or ebsn), skipping zero on
// rollover (spec.md §3: "never zero on the wire — incremented twice if
// rollover lands on zero").
func nextSeq(cur *uint8) uint8 {
	*cur++
	if *cur == 0 {
		*cur++
	}
	return *cur
}

// Send stamps, frames, and enqueues one packet for addr. Returns false
// (the spec's "return 0 to upper layer") on queue-full or allocation
// failure; the upper layer is expected to retry.
func (m *MAC) Send(dest Addr, payload []byte, cb SentCallback, ctx any) bool {
	seqno := nextSeq(&m.e.Dsn)

	ackReq := !dest.IsBroadcast()
	frame, err := m.framer.Create(FrameMeta{
		Src:     m.Self,
		Dest:    dest,
		Seqno:   seqno,
		AckReq:  ackReq,
		Payload: payload,
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Error("framer create failed", "dest", dest, "err", err)
		}
		return false
	}

	m.queues.QueueBusy = true
	_, err = m.queues.Enqueue(dest, frame, dest.IsBroadcast(), seqno, cb, ctx)
	m.queues.QueueBusy = false

	if err != nil {
		if m.logger != nil {
			m.logger.Warn("send: queue full", "dest", dest, "err", err)
		}
		return false
	}
	return true
}

// SendList sends a burst of payloads to the same destination, aborting
// on the first failure so the upper layer can retry the whole burst
// rather than producing out-of-order fragments (spec.md §4.8).
func (m *MAC) SendList(dest Addr, payloads [][]byte, cb SentCallback, ctx any) bool {
	for _, payload := range payloads {
		if !m.Send(dest, payload, cb, ctx) {
			return false
		}
	}
	return true
}

// Input hands a raw received frame (already decrypted, per spec.md §1)
// to the packet input path (C7).
func (m *MAC) Input(raw []byte) error {
	return m.input.HandleFrame(raw)
}

// Powercycle exposes the underlying slot state machine, for callers
// that need to inspect per-slot decisions directly.
func (m *MAC) Powercycle() *Powercycle { return m.pc }

// Queues exposes the neighbor queue store, mainly for tests.
func (m *MAC) Queues() *QueueStore { return m.queues }
