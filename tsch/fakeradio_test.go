package tsch

import "sync"

/*------------------------------------------------------------------
 *
 * Purpose:	Scriptable fake Radio for deterministic Powercycle tests.
 *
 * Description:	Grounded on the teacher's *_test_shim.go convention of a
 *		separate, test-only stand-in for a hardware dependency
 *		(ais_test_shim.go, digipeater_test_shim.go): every method
 *		call and return value here is driven by the test rather
 *		than by real hardware, so scenario/property tests in
 *		powercycle_test.go can script exact CCA/transmit/ack
 *		outcomes against a FakeClock.
 *
 *------------------------------------------------------------------*/

type fakeRadio struct {
	mu sync.Mutex

	on      bool
	channel int

	prepared []byte
	txCount  int

	// Scripted results, returned on every call until changed; zero value means
	// "succeed with the obvious default".
	ChannelClearResult bool
	TransmitResult     TxResult
	TransmitErr        error
	PrepareErr         error

	Receiving  bool
	HasPending bool
	ReadFrame  []byte
	ReadErr    error
	AckFrame   []byte
	ReadAckErr error
	RxEnd      Tick
	SFDTime    Tick

	SentAcks [][]byte

	OnCount, OffCount int
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{ChannelClearResult: true}
}

func (f *fakeRadio) On() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = true
	f.OnCount++
}

func (f *fakeRadio) Off() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = false
	f.OffCount++
}

func (f *fakeRadio) SetChannel(ch int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = ch
	return nil
}

func (f *fakeRadio) Prepare(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PrepareErr != nil {
		return f.PrepareErr
	}
	f.prepared = frame
	return nil
}

func (f *fakeRadio) Transmit() (TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCount++
	if f.TransmitErr != nil {
		return TxErr, f.TransmitErr
	}
	return f.TransmitResult, nil
}

func (f *fakeRadio) ReceivingPacket() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Receiving
}

func (f *fakeRadio) PendingPacket() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HasPending
}

func (f *fakeRadio) ChannelClear() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ChannelClearResult
}

func (f *fakeRadio) Read() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReadFrame, f.ReadErr
}

func (f *fakeRadio) ReadAck() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AckFrame, f.ReadAckErr
}

func (f *fakeRadio) GetRxEndTime() Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RxEnd
}

func (f *fakeRadio) ReadSFDTimer() Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SFDTime
}

func (f *fakeRadio) SendAck(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentAcks = append(f.SentAcks, frame)
	return nil
}

func (f *fakeRadio) SoftAckSubscribe(make MakeSyncAckFunc, resume func()) {}

func (f *fakeRadio) PendingIRQ() bool { return f.HasPending }
