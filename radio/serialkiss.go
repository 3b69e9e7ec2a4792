package radio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/creack/pty"
	"github.com/pkg/term"

	"github.com/doismellburning/tsch/tsch"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Radio backend speaking the KISS TNC protocol over a real
 *		serial port (or a pty, for local testing), for external
 *		half-duplex radio modems that already do their own framing.
 *
 * Description:	Frame escaping (FEND/FESC/TFEND/TFESC) follows the
 *		teacher's kiss_frame.go byte-stuffing exactly; port open
 *		follows serial_port.go's use of github.com/pkg/term. Unlike
 *		kiss.go's virtual-TNC server role (an application connects
 *		to *us*), SerialKISS is a client: it drives an external TNC
 *		that performs CCA/transmit itself, so ChannelClear and
 *		SetChannel are not meaningful and are no-ops; timing is
 *		still owned by Powercycle, which only asks this backend to
 *		move already-timed bytes.
 *
 *------------------------------------------------------------------*/

const (
	kissFEND  byte = 0xC0
	kissFESC  byte = 0xDB
	kissTFEND byte = 0xDC
	kissTFESC byte = 0xDD
)

const (
	kissCmdData byte = 0x00
)

func kissEncode(port byte, frame []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kissFEND)
	buf.WriteByte((port << 4) | kissCmdData)
	for _, b := range frame {
		switch b {
		case kissFEND:
			buf.WriteByte(kissFESC)
			buf.WriteByte(kissTFEND)
		case kissFESC:
			buf.WriteByte(kissFESC)
			buf.WriteByte(kissTFESC)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(kissFEND)
	return buf.Bytes()
}

func kissDecode(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: kiss frame too short", tsch.ErrParseFail)
	}
	in := raw
	if in[0] == kissFEND {
		in = in[1:]
	}
	if len(in) > 0 && in[len(in)-1] == kissFEND {
		in = in[:len(in)-1]
	}
	if len(in) < 1 {
		return nil, fmt.Errorf("%w: kiss frame empty after trim", tsch.ErrParseFail)
	}
	in = in[1:] // drop port/command byte

	out := make([]byte, 0, len(in))
	escaped := false
	for _, b := range in {
		if escaped {
			switch b {
			case kissTFEND:
				out = append(out, kissFEND)
			case kissTFESC:
				out = append(out, kissFESC)
			default:
				out = append(out, b)
			}
			escaped = false
			continue
		}
		if b == kissFESC {
			escaped = true
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// SerialPort is the subset of *term.Term used here, so tests can
// substitute an in-memory fake.
type SerialPort interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// SerialKISS is a Radio backend that moves KISS-framed data over a
// serial port to an external TNC/modem.
type SerialKISS struct {
	mu   sync.Mutex
	port SerialPort

	prepared []byte
	pending  []byte
	pendAck  []byte
	rxEnd    tsch.Tick
}

// OpenSerialKISS opens devicename at baud and wraps it as a Radio.
func OpenSerialKISS(devicename string, baud int) (*SerialKISS, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("%w: opening serial port %s: %v", tsch.ErrRadioErr, devicename, err)
	}
	if baud != 0 {
		if err := fd.SetSpeed(baud); err != nil {
			return nil, fmt.Errorf("%w: setting speed %d: %v", tsch.ErrRadioErr, baud, err)
		}
	}
	return NewSerialKISS(fd), nil
}

// NewSerialKISS wraps an already-open SerialPort (real or fake).
func NewSerialKISS(port SerialPort) *SerialKISS {
	return &SerialKISS{port: port}
}

// OpenSerialKISSPty creates a pseudo-terminal pair and returns a
// SerialKISS bound to the master side, plus the slave's device path
// for a test client (e.g. another process's KISS stack) to open. Used
// by cmd/tsch-node's -radio=serial and -radio=hamlib when no
// -serial-device is given,
// mirroring kiss.go's pty.Open() virtual-TNC path.
func OpenSerialKISSPty() (*SerialKISS, string, error) {
	ptmx, pts, err := pty.Open()
	if err != nil {
		return nil, "", fmt.Errorf("%w: opening pty: %v", tsch.ErrRadioErr, err)
	}
	_ = pts.Close() // the slave fd itself isn't needed, only its path
	return NewSerialKISS(ptmx), pts.Name(), nil
}

func (s *SerialKISS) On()  {}
func (s *SerialKISS) Off() {}

// SetChannel is a no-op: an external TNC/radio already picked up its
// channel via its own RF front end, not via this KISS link.
func (s *SerialKISS) SetChannel(ch int) error { return nil }

func (s *SerialKISS) Prepare(frame []byte) error {
	s.mu.Lock()
	s.prepared = frame
	s.mu.Unlock()
	return nil
}

func (s *SerialKISS) Transmit() (tsch.TxResult, error) {
	s.mu.Lock()
	frame := s.prepared
	s.mu.Unlock()

	encoded := kissEncode(0, frame)
	if _, err := s.port.Write(encoded); err != nil {
		return tsch.TxErr, fmt.Errorf("%w: serial write: %v", tsch.ErrRadioErr, err)
	}
	return tsch.TxOK, nil
}

func (s *SerialKISS) ReceivingPacket() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *SerialKISS) PendingPacket() bool { return s.ReceivingPacket() }

// ChannelClear always reports true: CCA is the external TNC's job.
func (s *SerialKISS) ChannelClear() bool { return true }

func (s *SerialKISS) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.pending
	s.pending = nil
	return f, nil
}

func (s *SerialKISS) ReadAck() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.pendAck
	s.pendAck = nil
	return a, nil
}

func (s *SerialKISS) GetRxEndTime() tsch.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxEnd
}

func (s *SerialKISS) ReadSFDTimer() tsch.Tick { return s.GetRxEndTime() }

func (s *SerialKISS) SendAck(frame []byte) error {
	encoded := kissEncode(0, frame)
	_, err := s.port.Write(encoded)
	if err != nil {
		return fmt.Errorf("%w: serial write ack: %v", tsch.ErrRadioErr, err)
	}
	return nil
}

// SoftAckSubscribe is not honored: this backend has no receive-ISR
// context of its own, only a blocking Read loop the caller must drive
// (see Poll).
func (s *SerialKISS) SoftAckSubscribe(make tsch.MakeSyncAckFunc, resume func()) {}

func (s *SerialKISS) PendingIRQ() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil || s.pendAck != nil
}

// Poll performs one blocking read of the serial port, decodes the bytes
// that read returned as one KISS frame, and buffers it for Read (ACKs
// are not separated out, so ReadAck never sees it).
// Callers (e.g. cmd/tsch-node's radio goroutine) are expected to loop
// on this, mirroring the teacher's kissserial.go read thread.
func (s *SerialKISS) Poll(buf []byte) error {
	n, err := s.port.Read(buf)
	if err != nil {
		return fmt.Errorf("%w: serial read: %v", tsch.ErrRadioErr, err)
	}
	frame, err := kissDecode(buf[:n])
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = frame
	s.rxEnd += tsch.Tick(len(frame))
	s.mu.Unlock()
	return nil
}

// Close releases the underlying serial port.
func (s *SerialKISS) Close() error { return s.port.Close() }
