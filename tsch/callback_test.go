package tsch

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackDispatcherDeliversAsync(t *testing.T) {
	disp := NewCallbackDispatcher(4, log.New(io.Discard))
	t.Cleanup(disp.Close)

	done := make(chan struct{})
	var gotStatus MacStatus
	var gotTx uint8

	pkt := &TxPacket{
		Dest: addrN(1),
		Callback: func(ctx any, status MacStatus, transmissions uint8) {
			gotStatus = status
			gotTx = transmissions
			close(done)
		},
		Transmissions: 3,
	}

	pkt.finish(MacOK, disp)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never delivered")
	}
	assert.Equal(t, MacOK, gotStatus)
	assert.Equal(t, uint8(3), gotTx)
}

func TestCallbackDispatcherNilCallbackIsSafe(t *testing.T) {
	disp := NewCallbackDispatcher(4, log.New(io.Discard))
	t.Cleanup(disp.Close)

	pkt := &TxPacket{Dest: addrN(1)}
	require.NotPanics(t, func() { pkt.finish(MacErr, disp) })

	// Give the goroutine a chance to process the nil-callback event
	// before the test ends.
	time.Sleep(10 * time.Millisecond)
}

// TestCallbackDispatcherDropsOnFullBacklog exercises Post's documented
// drop-and-log behavior: a saturated backlog must not block the caller.
func TestCallbackDispatcherDropsOnFullBacklog(t *testing.T) {
	disp := NewCallbackDispatcher(1, log.New(io.Discard))
	t.Cleanup(disp.Close)

	// Block the dispatcher goroutine inside a slow callback so the
	// backlog channel fills up and stays full.
	release := make(chan struct{})
	blocker := &TxPacket{Callback: func(ctx any, status MacStatus, transmissions uint8) {
		<-release
	}}
	disp.Post(blocker)
	time.Sleep(10 * time.Millisecond) // let run() pick up blocker and block

	delivered := make(chan struct{}, 4)
	fillerCb := func(ctx any, status MacStatus, transmissions uint8) { delivered <- struct{}{} }

	// Backlog capacity is 1 and the goroutine is stuck on blocker; these
	// posts must all return immediately rather than hang the test.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			disp.Post(&TxPacket{Callback: fillerCb})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post blocked on a full backlog instead of dropping")
	}

	close(release)
}

func TestCallbackDispatcherCloseStopsDelivery(t *testing.T) {
	disp := NewCallbackDispatcher(4, log.New(io.Discard))
	disp.Close()

	// Posting after Close must not panic; the event is simply never
	// picked up since run()'s goroutine has returned.
	delivered := make(chan struct{}, 1)
	pkt := &TxPacket{Callback: func(ctx any, status MacStatus, transmissions uint8) {
		delivered <- struct{}{}
	}}
	require.NotPanics(t, func() { disp.Post(pkt) })

	select {
	case <-delivered:
		t.Fatal("callback delivered after dispatcher Close")
	case <-time.After(50 * time.Millisecond):
	}
}
