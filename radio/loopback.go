package radio

import (
	"sync"

	"github.com/doismellburning/tsch/tsch"
)

/*------------------------------------------------------------------
 *
 * Purpose:	In-process simulated Radio, for tests and the demo
 *		harness (cmd/tsch-node -sim).
 *
 * Description:	Two Loopback radios can be Linked to each other to form
 *		a simulated point-to-point channel: whatever one Transmits
 *		becomes the other's pending/receiving frame, on the same
 *		channel number only (an unmatched channel is silently
 *		dropped, modeling a missed reception). Grounded on the
 *		teacher's per-channel "medium" selection in tq.go
 *		(MEDIUM_RADIO/MEDIUM_IGATE/MEDIUM_NETTNC) generalized from
 *		a string constant to a concrete Radio implementation.
 *
 *------------------------------------------------------------------*/

// Loopback is a software-only Radio for simulation and tests.
type Loopback struct {
	mu      sync.Mutex
	channel int
	on      bool

	preparedFrame []byte

	pendingFrame []byte
	pendingAck   []byte
	rxEndTime    tsch.Tick

	peer *Loopback

	makeAck tsch.MakeSyncAckFunc
	resume  func()

	// NextChannelClear, if set, overrides ChannelClear's result once
	// and is reset to nil, letting tests script a busy channel.
	NextChannelClear func() bool
	// NextTxResult, if set, overrides Transmit's result once.
	NextTxResult *tsch.TxResult
}

// NewLoopback creates an unconnected simulated radio.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Link connects two Loopback radios so frames transmitted by one
// arrive at the other.
func Link(a, b *Loopback) {
	a.peer = b
	b.peer = a
}

func (r *Loopback) On()  { r.mu.Lock(); r.on = true; r.mu.Unlock() }
func (r *Loopback) Off() { r.mu.Lock(); r.on = false; r.mu.Unlock() }

func (r *Loopback) SetChannel(ch int) error {
	r.mu.Lock()
	r.channel = ch
	r.mu.Unlock()
	return nil
}

func (r *Loopback) Prepare(frame []byte) error {
	r.mu.Lock()
	r.preparedFrame = frame
	r.mu.Unlock()
	return nil
}

func (r *Loopback) Transmit() (tsch.TxResult, error) {
	r.mu.Lock()
	if r.NextTxResult != nil {
		res := *r.NextTxResult
		r.NextTxResult = nil
		r.mu.Unlock()
		return res, nil
	}
	frame := r.preparedFrame
	channel := r.channel
	peer := r.peer
	r.mu.Unlock()

	if peer != nil {
		peer.deliver(frame, channel)
	}
	return tsch.TxOK, nil
}

// deliver is called on the receiving side when the peer transmits.
func (r *Loopback) deliver(frame []byte, channel int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.on || channel != r.channel {
		return
	}
	r.pendingFrame = frame
	r.rxEndTime = tsch.Tick(len(frame)) // arbitrary monotonic stand-in
}

func (r *Loopback) ReceivingPacket() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingFrame != nil
}

func (r *Loopback) PendingPacket() bool {
	return r.ReceivingPacket()
}

func (r *Loopback) ChannelClear() bool {
	r.mu.Lock()
	fn := r.NextChannelClear
	r.NextChannelClear = nil
	r.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return true
}

func (r *Loopback) Read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.pendingFrame
	r.pendingFrame = nil
	return f, nil
}

func (r *Loopback) ReadAck() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingAck, nil
}

func (r *Loopback) GetRxEndTime() tsch.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxEndTime
}

func (r *Loopback) ReadSFDTimer() tsch.Tick {
	return r.GetRxEndTime()
}

// SendAck delivers an ACK frame directly to the peer's ack buffer,
// simulating an over-the-air soft-ACK.
func (r *Loopback) SendAck(frame []byte) error {
	r.mu.Lock()
	peer := r.peer
	r.mu.Unlock()
	if peer != nil {
		peer.mu.Lock()
		peer.pendingAck = frame
		peer.mu.Unlock()
	}
	return nil
}

func (r *Loopback) SoftAckSubscribe(make tsch.MakeSyncAckFunc, resume func()) {
	r.mu.Lock()
	r.makeAck = make
	r.resume = resume
	r.mu.Unlock()
}

func (r *Loopback) PendingIRQ() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingFrame != nil || r.pendingAck != nil
}
