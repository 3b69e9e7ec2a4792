package radio

import (
	"fmt"
	"sync"

	hl "github.com/xylo04/goHamlib"

	"github.com/doismellburning/tsch/tsch"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Radio backend driving a CAT-controlled transceiver via
 *		hamlib, for channel hopping and PTT.
 *
 * Description:	Maps tsch.Radio's SetChannel/Transmit/On/Off onto
 *		hamlib's SetFreq/SetPTT. Grounded on the teacher's
 *		ptt.go rig_set_ptt channel/PTT model (src/ptt.go, the
 *		cgo hamlib/rig.h path), reimplemented here against the
 *		pure-Go github.com/xylo04/goHamlib binding instead of cgo,
 *		since the Go module surface is what this package can
 *		depend on without a C toolchain.
 *
 *		Framing/ack/CCA are not part of hamlib's job: Hamlib wraps
 *		a software modem (e.g. over an audio loop or a KISS TNC
 *		already bridged to this process) for the actual data path,
 *		and only owns frequency and PTT keying here. ChannelClear
 *		always reports true since hamlib rigs expose no generic CCA
 *		primitive; a future IC-level squelch read could replace it.
 *
 *------------------------------------------------------------------*/

// ChannelFreqs maps a hop channel number (11-26 under spec.md §3's
// HopChannelBase/HopChannelCount) to a VFO frequency in Hz.
type ChannelFreqs map[int]uint64

// Hamlib is a Radio backed by a hamlib-controlled rig.
type Hamlib struct {
	mu     sync.Mutex
	rig    *hl.Rig
	vfo    hl.Vfo
	freqs  ChannelFreqs
	on     bool
	ptt    bool
	modem  Modem
	chanNo int
}

// Modem is the actual data-plane device multiplexed behind the rig's
// audio path (e.g. a software TNC, or another Radio implementation
// providing frame buffering). Hamlib itself never sees frame bytes.
type Modem interface {
	Prepare(frame []byte) error
	Transmit() (tsch.TxResult, error)
	ReceivingPacket() bool
	PendingPacket() bool
	Read() ([]byte, error)
	ReadAck() ([]byte, error)
	SendAck(frame []byte) error
	GetRxEndTime() tsch.Tick
	ReadSFDTimer() tsch.Tick
}

// NewHamlib opens a hamlib rig of the given model over port, and binds
// it to modem for the actual frame data path.
func NewHamlib(model int, port string, freqs ChannelFreqs, modem Modem) (*Hamlib, error) {
	rig := hl.RigInit(model)
	if rig == nil {
		return nil, fmt.Errorf("radio: hamlib unknown rig model %d", model)
	}
	rig.SetConf("rig_pathname", port)
	if err := rig.Open(); err != nil {
		return nil, fmt.Errorf("radio: hamlib open %s: %w", port, err)
	}
	return &Hamlib{
		rig:   rig,
		vfo:   hl.VfoCurrent,
		freqs: freqs,
		modem: modem,
	}, nil
}

func (h *Hamlib) On() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.on = true
}

func (h *Hamlib) Off() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ptt {
		_ = h.rig.SetPTT(h.vfo, false)
		h.ptt = false
	}
	h.on = false
}

func (h *Hamlib) SetChannel(ch int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	freq, ok := h.freqs[ch]
	if !ok {
		return fmt.Errorf("%w: no frequency mapped for channel %d", tsch.ErrRadioErr, ch)
	}
	if err := h.rig.SetFreq(h.vfo, freq); err != nil {
		return fmt.Errorf("%w: hamlib set_freq: %v", tsch.ErrRadioErr, err)
	}
	h.chanNo = ch
	return nil
}

func (h *Hamlib) Prepare(frame []byte) error { return h.modem.Prepare(frame) }

func (h *Hamlib) Transmit() (tsch.TxResult, error) {
	h.mu.Lock()
	if err := h.rig.SetPTT(h.vfo, true); err != nil {
		h.mu.Unlock()
		return tsch.TxErr, fmt.Errorf("%w: hamlib set_ptt on: %v", tsch.ErrRadioErr, err)
	}
	h.ptt = true
	h.mu.Unlock()

	result, err := h.modem.Transmit()

	h.mu.Lock()
	_ = h.rig.SetPTT(h.vfo, false)
	h.ptt = false
	h.mu.Unlock()

	return result, err
}

func (h *Hamlib) ReceivingPacket() bool    { return h.modem.ReceivingPacket() }
func (h *Hamlib) PendingPacket() bool      { return h.modem.PendingPacket() }
func (h *Hamlib) ChannelClear() bool       { return true }
func (h *Hamlib) Read() ([]byte, error)    { return h.modem.Read() }
func (h *Hamlib) ReadAck() ([]byte, error) { return h.modem.ReadAck() }
func (h *Hamlib) GetRxEndTime() tsch.Tick  { return h.modem.GetRxEndTime() }
func (h *Hamlib) ReadSFDTimer() tsch.Tick  { return h.modem.ReadSFDTimer() }
func (h *Hamlib) SendAck(frame []byte) error {
	return h.modem.SendAck(frame)
}

// SoftAckSubscribe is not honored by this backend: hamlib owns no
// receive-interrupt path, so soft-ACK synthesis stays in Powercycle.
func (h *Hamlib) SoftAckSubscribe(make tsch.MakeSyncAckFunc, resume func()) {}

func (h *Hamlib) PendingIRQ() bool { return h.modem.ReceivingPacket() }

// Close releases the underlying rig handle.
func (h *Hamlib) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rig.Close()
}
