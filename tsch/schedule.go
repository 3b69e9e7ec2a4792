package tsch

/*------------------------------------------------------------------
 *
 * Purpose:	Slotframe / cell schedule model and channel hopping
 *		(component C3).
 *
 *------------------------------------------------------------------*/

// CellOptions is a bitset of per-cell link options.
type CellOptions uint8

const (
	CellTX CellOptions = 1 << iota
	CellRX
	CellShared
	CellTimeKeeping
)

func (o CellOptions) Has(f CellOptions) bool { return o&f != 0 }

// CellType distinguishes normal data cells from advertising cells (EBs
// are not transmitted via the TX-selection path, per spec.md §4.5 step 4).
type CellType int

const (
	CellNormal CellType = iota
	CellAdvertising
)

// Cell is one entry in a slotframe.
type Cell struct {
	SlotOffset    uint16
	ChannelOffset uint16
	Options       CellOptions
	Type          CellType
	Peer          Addr // NullAddr means broadcast
}

// Slotframe is a repeating cycle of timeslots. Only the first OnSize
// entries of Cells are populated ("on"); slots not represented sleep.
type Slotframe struct {
	Handle  uint16
	Length  uint16
	OnSize  uint16
	Cells   []*Cell // len(Cells) == OnSize
}

// GetCell returns the cell at the given on-slot index, or nil if
// slotIdx is out of range (an "off" slot), per spec.md §4.3.
func (s *Slotframe) GetCell(slotIdx uint16) *Cell {
	if slotIdx >= s.OnSize {
		return nil
	}
	return s.Cells[slotIdx]
}

// NextOnSlot returns the index of the next on-slot after slotIdx,
// wrapping to 0 once the last on-slot has been passed.
func (s *Slotframe) NextOnSlot(slotIdx uint16) uint16 {
	next := slotIdx + 1
	if next >= s.OnSize {
		return 0
	}
	return next
}

// HopChannelBase is the lowest channel number in the 2.4GHz 802.15.4
// channel table (channel 11).
const HopChannelBase = 11

// HopChannelCount is the number of channels in the table (11-26).
const HopChannelCount = 16

// HopChannel computes the channel to use for cell at the given ASN,
// per spec.md §4.3: channel = 11 + ((cell.channel_offset + asn) mod 16).
// Given identical asn and schedule, every node computes the same
// channel (property P5).
func HopChannel(cell *Cell, asn uint64) int {
	offset := (uint64(cell.ChannelOffset) + asn) % HopChannelCount
	return HopChannelBase + int(offset)
}
