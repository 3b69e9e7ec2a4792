package tsch

/*------------------------------------------------------------------
 *
 * Purpose:	TxPacket — an outbound frame owned by a neighbor queue.
 *
 * Description:	Created on enqueue (MAC.Send/SendList), destroyed when
 *		either it is acknowledged/sent successfully or its
 *		transmission count reaches MaxRetries, per spec.md §3.
 *
 *------------------------------------------------------------------*/

// MacStatus is the final completion status delivered to the upper
// layer's sent callback.
type MacStatus int

const (
	MacDeferred MacStatus = iota
	MacOK
	MacNoACK
	MacCollision
	MacErr
)

func (s MacStatus) String() string {
	switch s {
	case MacDeferred:
		return "DEFERRED"
	case MacOK:
		return "OK"
	case MacNoACK:
		return "NOACK"
	case MacCollision:
		return "COLLISION"
	case MacErr:
		return "ERR"
	default:
		return "UNKNOWN"
	}
}

// MaxRetries is the maximum number of transmission attempts for a single
// packet before it is dropped, per spec.md §3/§6.
const MaxRetries = 4

// SentCallback is invoked (asynchronously, via the TX callback
// dispatcher, component C6) when a packet's fate is decided.
type SentCallback func(ctx any, status MacStatus, transmissions uint8)

// TxPacket is one outbound frame sitting in a NeighborQueue's ring.
type TxPacket struct {
	Frame         []byte // serialized link-layer frame, framer output
	Seqno         uint8  // data sequence number stamped at send time
	Dest          Addr
	Broadcast     bool
	Transmissions uint8 // attempts made so far

	Callback SentCallback
	Ctx      any

	Status MacStatus
}

// finish marks the packet's final status and posts it to the given
// dispatcher (component C6) rather than invoking the callback inline —
// the slot state machine that calls finish runs in a time-critical
// context and must never block on upper-layer code.
func (p *TxPacket) finish(status MacStatus, disp *CallbackDispatcher) {
	p.Status = status
	if disp != nil {
		disp.Post(p)
	}
}
