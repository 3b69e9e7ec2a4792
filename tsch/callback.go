package tsch

import "github.com/charmbracelet/log"

/*------------------------------------------------------------------
 *
 * Purpose:	TX callback dispatcher (component C6).
 *
 * Description:	The slot state machine runs in a time-critical context
 *		driven by the radio timer and must never call arbitrary
 *		upper-layer code inline — a slow or misbehaving callback
 *		would blow the next slot's deadline. Completed packets are
 *		posted here and a separate goroutine invokes the upper
 *		layer's sent-callback, exactly as dlq.go decouples received
 *		frames from the receive ISR in the teacher.
 *
 *------------------------------------------------------------------*/

// dispatchEvent is one posted completion.
type dispatchEvent struct {
	packet *TxPacket
}

// CallbackDispatcher decouples C5's time-critical completion reporting
// from the upper layer's callback invocation.
type CallbackDispatcher struct {
	events chan dispatchEvent
	done   chan struct{}
	logger *log.Logger
}

// NewCallbackDispatcher creates a dispatcher with the given event
// backlog capacity and starts its processing goroutine.
func NewCallbackDispatcher(capacity int, logger *log.Logger) *CallbackDispatcher {
	d := &CallbackDispatcher{
		events: make(chan dispatchEvent, capacity),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

// Post enqueues a completed packet for asynchronous callback delivery.
// It never blocks the caller for longer than filling the backlog;  if
// the backlog is saturated (the upper layer is badly behind) the event
// is dropped and logged rather than stalling the slot state machine.
func (d *CallbackDispatcher) Post(p *TxPacket) {
	select {
	case d.events <- dispatchEvent{packet: p}:
	default:
		if d.logger != nil {
			d.logger.Warn("tx callback backlog full, dropping completion event",
				"dest", p.Dest, "status", p.Status)
		}
	}
}

func (d *CallbackDispatcher) run() {
	for {
		// Check done first so that, once Close has been called, no
		// queued event is delivered even if one is already waiting.
		select {
		case <-d.done:
			return
		default:
		}
		select {
		case ev := <-d.events:
			p := ev.packet
			if p.Callback != nil {
				p.Callback(p.Ctx, p.Status, p.Transmissions)
			}
		case <-d.done:
			return
		}
	}
}

// Close stops the dispatcher goroutine. Pending events are dropped.
func (d *CallbackDispatcher) Close() {
	close(d.done)
}
