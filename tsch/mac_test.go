package tsch

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMAC(t *testing.T, sf *Slotframe) (*MAC, Clock, *fakeRadio) {
	t.Helper()
	clock := NewFakeClock(0)
	radio := newFakeRadio()
	m := NewMAC(MACConfig{
		Self:          addrN(0xAA),
		Radio:         radio,
		Clock:         clock,
		Slotframe:     sf,
		Timing:        DefaultTiming(),
		FilterAddress: true,
		Logger:        log.New(io.Discard),
	})
	return m, clock, radio
}

// TestNextSeqNeverZero is property P6.
func TestNextSeqNeverZero(t *testing.T) {
	var cur uint8 = 0xFE
	got := nextSeq(&cur)
	assert.Equal(t, uint8(0xFF), got)

	got = nextSeq(&cur) // rolls over 0xFF -> 0x00 -> bumped to 0x01
	assert.Equal(t, uint8(1), got)
	assert.NotEqual(t, uint8(0), got)
}

func TestNextSeqSequential(t *testing.T) {
	var cur uint8
	var seen []uint8
	for i := 0; i < 10; i++ {
		seen = append(seen, nextSeq(&cur))
	}
	for i, v := range seen {
		assert.Equal(t, uint8(i+1), v)
	}
}

func TestMACSendEnqueuesAndClearsQueueBusy(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)

	ok := m.Send(addrN(1), []byte("hello"), nil, nil)
	assert.True(t, ok)
	assert.False(t, m.Queues().QueueBusy, "QueueBusy must be cleared once Enqueue returns")

	n := m.Queues().Get(addrN(1))
	require.NotNil(t, n)
	assert.False(t, n.Empty())
}

func TestMACSendStampsAckReqForUnicastNotBroadcast(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)

	require.True(t, m.Send(addrN(1), []byte("x"), nil, nil))
	pkt := m.Queues().Head(addrN(1))
	require.NotNil(t, pkt)
	meta, err := RawFramer{}.Parse(pkt.Frame)
	require.NoError(t, err)
	assert.True(t, meta.AckReq)

	require.True(t, m.Send(NullAddr, []byte("beacon"), nil, nil))
	bpkt := m.Queues().Head(NullAddr)
	require.NotNil(t, bpkt)
	bmeta, err := RawFramer{}.Parse(bpkt.Frame)
	require.NoError(t, err)
	assert.False(t, bmeta.AckReq)
}

func TestMACSendFailsWhenQueueFull(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)

	for i := 0; i < QueueSize-1; i++ {
		require.True(t, m.Send(addrN(1), []byte("x"), nil, nil))
	}
	assert.False(t, m.Send(addrN(1), []byte("overflow"), nil, nil))
}

func TestMACSendListAbortsOnFirstFailure(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)

	payloads := make([][]byte, QueueSize+2)
	for i := range payloads {
		payloads[i] = []byte("x")
	}
	ok := m.SendList(addrN(1), payloads, nil, nil)
	assert.False(t, ok, "a burst bigger than the ring must fail rather than partially enqueue forever")
}

func TestMACOnOffTogglesState(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)

	assert.Equal(t, StateOff, m.State().State)
	m.On(0)
	assert.Equal(t, StateAssociated, m.State().State)
	m.Off(false)
	assert.Equal(t, StateOff, m.State().State)
}

func TestMACInitStartsSynced(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)
	m.Init()
	assert.True(t, m.State().IsSync)
}

func TestMACChannelCheckIntervalAlwaysZero(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	m, _, _ := testMAC(t, sf)
	assert.Equal(t, 0, m.ChannelCheckInterval())
}

func TestMACInputDelivers(t *testing.T) {
	sf := unicastTXSlotframe(addrN(1), false)
	var delivered []FrameMeta
	clock := NewFakeClock(0)
	radio := newFakeRadio()
	m := NewMAC(MACConfig{
		Self:          addrN(0xAA),
		Radio:         radio,
		Clock:         clock,
		Slotframe:     sf,
		Timing:        DefaultTiming(),
		FilterAddress: true,
		Logger:        log.New(io.Discard),
		DeliverUp: func(meta FrameMeta) {
			delivered = append(delivered, meta)
		},
	})

	frame, err := RawFramer{}.Create(FrameMeta{Src: addrN(2), Dest: addrN(0xAA), Seqno: 4})
	require.NoError(t, err)
	require.NoError(t, m.Input(frame))
	require.Len(t, delivered, 1)
	assert.Equal(t, uint8(4), delivered[0].Seqno)
}

func TestMACSendDeliversViaCallback(t *testing.T) {
	sf := unicastTXSlotframe(addrN(9), false)
	m, clock, radio := testMAC(t, sf)

	done := make(chan MacStatus, 1)
	require.True(t, m.Send(addrN(9), []byte("hi"), func(ctx any, status MacStatus, tx uint8) {
		done <- status
	}, nil))

	radio.Receiving = true
	radio.AckFrame = []byte{0x02, 0x00, 1}

	m.On(0)
	clock.(*FakeClock).Advance(20000)

	select {
	case status := <-done:
		assert.Equal(t, MacOK, status)
	case <-time.After(2 * time.Second):
		t.Fatal("sent callback never fired")
	}
}
