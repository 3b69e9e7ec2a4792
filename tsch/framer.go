package tsch

/*------------------------------------------------------------------
 *
 * Purpose:	802.15.4 framer contract consumed by C7/C8 (spec.md §6).
 *
 * Description:	Out of scope per spec.md §1 ("the 802.15.4 framer");
 *		this is the interface the MAC driver calls. A minimal
 *		reference implementation (RawFramer) is provided for tests
 *		and the simulated demo harness; a real deployment would
 *		supply one matching its security/IE requirements.
 *
 *------------------------------------------------------------------*/

// FrameMeta is the subset of packetbuf attributes the framer needs, per
// spec.md §4.8 (MAC driver facade's Send).
type FrameMeta struct {
	Src       Addr
	Dest      Addr
	Seqno     uint8
	AckReq    bool
	Payload   []byte
}

// Framer serializes/deserializes link frames.
type Framer interface {
	// Create serializes meta into a wire frame. A negative-equivalent
	// failure is reported via error (spec.md §6: "both return signed
	// status (negative on failure)").
	Create(meta FrameMeta) ([]byte, error)

	// Parse deserializes a received wire frame.
	Parse(frame []byte) (FrameMeta, error)
}

// RawFramer is a minimal reference Framer: a fixed header (flags,
// seqno, dest, src) followed by the payload. It exists so the core
// package and its tests do not need an external 802.15.4 codec
// dependency; grounded on the teacher's own framer being a thin
// wrapper (ax25_pad.go) around a fixed address+control header.
type RawFramer struct{}

const rawFrameHeaderLen = 1 + 1 + 8 + 8 // flags, seqno, dest, src

func (RawFramer) Create(meta FrameMeta) ([]byte, error) {
	frame := make([]byte, rawFrameHeaderLen, rawFrameHeaderLen+len(meta.Payload))
	if meta.AckReq {
		frame[0] |= 0x01
	}
	frame[1] = meta.Seqno
	copy(frame[2:10], meta.Dest[:])
	copy(frame[10:18], meta.Src[:])
	return append(frame, meta.Payload...), nil
}

func (RawFramer) Parse(frame []byte) (FrameMeta, error) {
	if len(frame) < rawFrameHeaderLen {
		return FrameMeta{}, ErrParseFail
	}
	var meta FrameMeta
	meta.AckReq = frame[0]&0x01 != 0
	meta.Seqno = frame[1]
	copy(meta.Dest[:], frame[2:10])
	copy(meta.Src[:], frame[10:18])
	meta.Payload = frame[rawFrameHeaderLen:]
	return meta, nil
}
