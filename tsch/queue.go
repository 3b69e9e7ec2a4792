package tsch

import (
	"sync"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Per-neighbor transmit queues with CSMA backoff state
 *		(component C2).
 *
 * Description:	Each neighbor gets a fixed-capacity power-of-two ring of
 *		pending TxPacket entries plus its own backoff exponent/
 *		counter. MAC.Send brackets its Enqueue call with QueueBusy,
 *		a cooperative flag rather than a lock (Add, Remove and Pop
 *		do not touch it): while it is set, the
 *		slot state machine treats the current slot as OFF, matching
 *		tq.go's queue_head mutation discipline in the teacher.
 *
 *------------------------------------------------------------------*/

// MinBE and MaxBE bound the CSMA backoff exponent, per spec.md §3/§6.
const (
	MinBE = 1
	MaxBE = 4
)

// QueueSize is the ring capacity; must be a power of two (one slot is
// always reserved empty, classic circular-buffer discipline).
const QueueSize = 8

// NeighborQueue is the outbound ring for one neighbor plus its CSMA
// backoff state.
type NeighborQueue struct {
	Addr       Addr
	TimeSource bool // participates in drift averaging if true

	be uint8 // backoff exponent, MinBE <= be <= MaxBE
	bw uint8 // backoff window counter, bw < 2^be

	ring     [QueueSize]*TxPacket
	put, get uint32 // head/tail indices, mod QueueSize
}

// occupancy returns the number of packets currently queued.
func (n *NeighborQueue) occupancy() uint32 {
	return (n.put - n.get) & (QueueSize - 1)
}

// Full reports whether the ring has no free slot (one slot reserved).
func (n *NeighborQueue) Full() bool {
	return n.occupancy() == QueueSize-1
}

// Empty reports whether the ring holds no packets.
func (n *NeighborQueue) Empty() bool {
	return n.put == n.get
}

// Head returns the oldest queued packet without removing it, or nil.
func (n *NeighborQueue) Head() *TxPacket {
	if n.Empty() {
		return nil
	}
	return n.ring[n.get&(QueueSize-1)]
}

// push appends a packet to the tail of the ring. Caller must have
// checked Full() first.
func (n *NeighborQueue) push(p *TxPacket) {
	n.ring[n.put&(QueueSize-1)] = p
	n.put++
}

// pop removes and returns the head packet, or nil if empty.
func (n *NeighborQueue) pop() *TxPacket {
	if n.Empty() {
		return nil
	}
	p := n.ring[n.get&(QueueSize-1)]
	n.ring[n.get&(QueueSize-1)] = nil
	n.get++
	return p
}

// resetBackoff restores be/bw to their minimal state, done when a
// successful transmission empties the queue or a packet is dropped after
// MaxRetries, per spec.md §4.5.
func (n *NeighborQueue) resetBackoff() {
	n.be = MinBE
	n.bw = 0
}

// BE returns the current backoff exponent.
func (n *NeighborQueue) BE() uint8 { return n.be }

// BW returns the current backoff window counter.
func (n *NeighborQueue) BW() uint8 { return n.bw }

// randByte supplies the single random byte needed by the backoff window
// draw in spec.md §4.5; overridable in tests for determinism.
var randByte = defaultRandByte

// QueueStore is the process-wide map from neighbor address to its
// NeighborQueue, plus the round-robin cursor used by shared broadcast
// slots and the cooperative QueueBusy exclusion flag.
type QueueStore struct {
	mu        sync.Mutex
	neighbors map[Addr]*NeighborQueue
	order     []Addr // insertion order, for round-robin fairness (P10)
	cursor    int

	// QueueBusy is raised by MAC.Send for the duration of its Enqueue
	// call (see spec.md §5). While raised, C5 treats the current slot
	// as OFF.
	QueueBusy bool
}

// NewQueueStore creates an empty queue store.
func NewQueueStore() *QueueStore {
	return &QueueStore{neighbors: make(map[Addr]*NeighborQueue)}
}

// Get returns the neighbor queue for addr, or nil if none exists.
func (s *QueueStore) Get(addr Addr) *NeighborQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neighbors[addr]
}

// Add creates (if absent) and returns the neighbor queue for addr.
func (s *QueueStore) Add(addr Addr) *NeighborQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.neighbors[addr]; ok {
		return n
	}
	n := &NeighborQueue{Addr: addr, be: MinBE}
	s.neighbors[addr] = n
	s.order = append(s.order, addr)
	return n
}

// Remove deletes the neighbor queue for addr, if present.
func (s *QueueStore) Remove(addr Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.neighbors[addr]; !ok {
		return
	}
	delete(s.neighbors, addr)
	for i, a := range s.order {
		if a == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			break
		}
	}
}

// Enqueue appends a new outbound packet to addr's ring, creating the
// neighbor queue if necessary. Returns ErrQueueFull if the ring has no
// free slot (the caller — MAC.Send — must surface that as "return 0").
func (s *QueueStore) Enqueue(addr Addr, frame []byte, broadcast bool, seqno uint8, cb SentCallback, ctx any) (*TxPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.neighbors[addr]
	if !ok {
		n = &NeighborQueue{Addr: addr, be: MinBE}
		s.neighbors[addr] = n
		s.order = append(s.order, addr)
	}
	if n.Full() {
		return nil, ErrQueueFull
	}

	p := &TxPacket{
		Frame:     frame,
		Seqno:     seqno,
		Dest:      addr,
		Broadcast: broadcast,
		Callback:  cb,
		Ctx:       ctx,
		Status:    MacDeferred,
	}
	n.push(p)
	return p, nil
}

// Head returns the head packet of addr's queue, or nil.
func (s *QueueStore) Head(addr Addr) *TxPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.neighbors[addr]
	if !ok {
		return nil
	}
	return n.Head()
}

// Pop removes and returns the head packet of addr's queue, or nil.
func (s *QueueStore) Pop(addr Addr) *TxPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.neighbors[addr]
	if !ok {
		return nil
	}
	return n.pop()
}

// RoundRobinNextPending scans neighbors starting at the persistent
// cursor (one past the neighbor served last) and returns the first with
// a non-empty queue,
// advancing the cursor past it so the next call resumes fairly
// (property P10). Returns (nil, NullAddr) if no neighbor has pending
// traffic.
func (s *QueueStore) RoundRobinNextPending() (*TxPacket, Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	if n == 0 {
		return nil, NullAddr
	}
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		addr := s.order[idx]
		nq := s.neighbors[addr]
		if nq != nil && !nq.Empty() {
			s.cursor = (idx + 1) % n
			return nq.Head(), addr
		}
	}
	return nil, NullAddr
}
