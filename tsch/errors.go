package tsch

import "errors"

/*------------------------------------------------------------------
 *
 * Purpose:	Error taxonomy for the TSCH MAC layer.
 *
 * Description:	None of these are ever panicked. The slot state machine
 *		and MAC facade surface them as return values or, where the
 *		spec calls for a silent drop, log at Debug/Warn instead.
 *
 *------------------------------------------------------------------*/

var (
	// ErrMissedDeadline names a requested deadline that could not be
	// honored. Clock implementations report that case as the
	// ScheduleMissed status, not through this error.
	ErrMissedDeadline = errors.New("tsch: missed scheduling deadline")

	// ErrQueueFull is returned by QueueStore.Enqueue when a neighbor's
	// ring buffer has no free slot.
	ErrQueueFull = errors.New("tsch: neighbor queue full")

	// ErrAllocFail covers neighbor-table or framer allocation failure.
	ErrAllocFail = errors.New("tsch: allocation failed")

	// ErrNoCell names a slot index with no populated cell.
	// Slotframe.GetCell reports that case by returning nil.
	ErrNoCell = errors.New("tsch: slot index has no cell")

	// ErrParseFail is returned by a Framer when it cannot parse a frame.
	ErrParseFail = errors.New("tsch: frame parse failed")

	// ErrRadioErr wraps a radio operation failure (RADIO_ERR in spec's
	// §7 taxonomy).
	ErrRadioErr = errors.New("tsch: radio operation failed")

	// ErrNotAssociated names an operation attempted before Init/On.
	// MAC operations do not check association state, so none of them
	// returns it.
	ErrNotAssociated = errors.New("tsch: node is not associated")
)
