package tsch

/*------------------------------------------------------------------
 *
 * Purpose:	Radio driver contract consumed by the slot state machine
 *		(spec.md §6, "Radio driver contract (consumed)").
 *
 * Description:	This is a collaborator interface, not core: spec.md §1
 *		explicitly scopes the physical radio driver out of this
 *		module. Concrete implementations live in the sibling
 *		radio package (radio.Loopback, radio.Hamlib,
 *		radio.SerialKISS, radio.GPIOTick) so that tsch itself never
 *		imports a hardware-adjacent dependency.
 *
 *------------------------------------------------------------------*/

// TxResult is the outcome of a radio Transmit call.
type TxResult int

const (
	TxOK TxResult = iota
	TxCollision
	TxErr
	TxNoACK
)

// SoftAckContext is handed to the pre-registered make-sync-ack callback
// (spec.md §4.5 RX path / §9 "Radio ISR soft-ACK") so it can compute the
// ACK's Sync IE without needing access to the whole MAC state. The radio
// driver calls MakeAck from its own ISR context ahead of the ACK
// transmit deadline.
type SoftAckContext struct {
	// SlotStart is the anchor tick ("start") of the slot currently
	// being serviced.
	SlotStart Tick
	// TsTxOffset is the configured TX offset within the slot, needed
	// to compute the timing-correction difference in spec.md §4.5.
	TsTxOffset Tick
	// RxEndTime is the SFD timestamp of the frame being acknowledged.
	RxEndTime Tick
	// Nack requests that the NACK flag be set on the synthesized ACK.
	Nack bool
}

// MakeSyncAckFunc synthesizes a Sync-IE-bearing ACK payload given the
// current soft-ack context. It returns the encoded drift it used, so
// the caller can later credit it to drift_acc if the acknowledged
// neighbor is a time source (spec.md §4.5).
type MakeSyncAckFunc func(ctx SoftAckContext) (ackFrame []byte, driftTicks int32)

// Radio is the driver contract the slot state machine drives through a
// choreographed sequence of offsets, per spec.md §6.
type Radio interface {
	On()
	Off()

	// SetChannel requests the radio retune to ch (11-26).
	SetChannel(ch int) error

	// Prepare hands a frame to the radio ahead of a later Transmit.
	Prepare(frame []byte) error

	// Transmit sends the previously prepared frame.
	Transmit() (TxResult, error)

	// ReceivingPacket reports whether the radio is mid-reception.
	ReceivingPacket() bool

	// PendingPacket reports whether a fully received packet is
	// waiting to be read.
	PendingPacket() bool

	// ChannelClear performs a CCA sample.
	ChannelClear() bool

	// Read retrieves the most recently received frame.
	Read() ([]byte, error)

	// ReadAck retrieves the most recently received ACK frame.
	ReadAck() ([]byte, error)

	// GetRxEndTime returns the SFD timestamp of the last received
	// frame.
	GetRxEndTime() Tick

	// ReadSFDTimer returns the current SFD capture timer value.
	ReadSFDTimer() Tick

	// SendAck instructs the radio to transmit the given ACK frame
	// (Powercycle builds it with its Sync IE before the call).
	SendAck(frame []byte) error

	// SoftAckSubscribe registers the callback the radio's ISR invokes
	// to synthesize a Sync-IE ACK ahead of the transmit deadline, and
	// a resume callback the radio uses to wake the slot state machine
	// (spec.md §9's "Interrupt <-> task handoff").
	SoftAckSubscribe(make MakeSyncAckFunc, resume func())

	// PendingIRQ reports whether the radio has an unserviced
	// interrupt condition.
	PendingIRQ() bool
}
