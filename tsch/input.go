package tsch

/*------------------------------------------------------------------
 *
 * Purpose:	Packet input path: parse, filter, dedupe, deliver
 *		(component C7).
 *
 * Description:	Mirrors the teacher's digipeater dedupe-history check
 *		(digipeater.go) generalized from AX.25 addressing to the
 *		Addr/seqno model of spec.md §3. The ring is fixed-size,
 *		most-recent-first, and used solely for duplicate
 *		suppression (property P7) — it has no other role.
 *
 *------------------------------------------------------------------*/

// SeqnoHistory is the default depth of the duplicate-suppression ring.
const SeqnoHistory = 8

type seqnoEntry struct {
	sender Addr
	seqno  uint8
	valid  bool
}

// DupSuppressor is the fixed-size received-(sender,seqno) history used
// to drop duplicate deliveries.
type DupSuppressor struct {
	history [SeqnoHistory]seqnoEntry
}

// NewDupSuppressor creates an empty duplicate-suppression ring.
func NewDupSuppressor() *DupSuppressor {
	return &DupSuppressor{}
}

// seen reports whether (sender, seqno) is already in the history.
func (d *DupSuppressor) seen(sender Addr, seqno uint8) bool {
	for _, e := range d.history {
		if e.valid && e.sender == sender && e.seqno == seqno {
			return true
		}
	}
	return false
}

// record shifts the oldest entry out and inserts (sender, seqno) at
// the head (index 0), per spec.md §4.7 step 5.
func (d *DupSuppressor) record(sender Addr, seqno uint8) {
	for i := len(d.history) - 1; i > 0; i-- {
		d.history[i] = d.history[i-1]
	}
	d.history[0] = seqnoEntry{sender: sender, seqno: seqno, valid: true}
}

// InputPipeline wires together frame parsing, address filtering,
// duplicate suppression, and delivery to the upper MAC (component C7).
type InputPipeline struct {
	Framer        Framer
	Self          Addr
	FilterAddress bool // drop frames not addressed to Self or broadcast
	Dedupe        *DupSuppressor
	Deliver       func(meta FrameMeta)
}

// NewInputPipeline constructs a pipeline with a fresh dedupe ring.
func NewInputPipeline(framer Framer, self Addr, filterAddress bool, deliver func(meta FrameMeta)) *InputPipeline {
	return &InputPipeline{
		Framer:        framer,
		Self:          self,
		FilterAddress: filterAddress,
		Dedupe:        NewDupSuppressor(),
		Deliver:       deliver,
	}
}

// HandleFrame runs one received frame through the input path, per
// spec.md §4.7. Decryption is delegated (out of scope, spec.md §1) and
// assumed already applied to raw before this call.
func (p *InputPipeline) HandleFrame(raw []byte) error {
	meta, err := p.Framer.Parse(raw)
	if err != nil {
		return ErrParseFail
	}

	if p.FilterAddress && meta.Dest != p.Self && !meta.Dest.IsBroadcast() {
		return nil
	}

	if p.Dedupe.seen(meta.Src, meta.Seqno) {
		return nil
	}
	p.Dedupe.record(meta.Src, meta.Seqno)

	if p.Deliver != nil {
		p.Deliver(meta)
	}
	return nil
}
