package group

import (
	"time"

	"github.com/multipathsrt/srt/conn"
	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// RawArrival is a member's raw per-packet arrival as seen by the group's
// cross-member Reassembler (spec §4.J).
type RawArrival = conn.RawArrival

// reassemblerSlot is one entry in the sliding-window bitmap (spec §4.J
// "Reassembler — seen-bitmap indexed by seq within a sliding window").
type reassemblerSlot struct {
	seq       seq.Value
	payload   []byte
	boundary  wire.Boundary
	msgNumber uint32
	occupied  bool
	arrivedAt time.Time
}

// Reassembler aggregates raw data-packet arrivals from every member of a
// Group, drawn from the shared group-wide sequence space, into one ordered,
// duplicate-free byte stream (spec §4.J).
type Reassembler struct {
	ring            []reassemblerSlot
	mask            uint32
	deliveredCursor seq.Value
	largestSeen     seq.Value
	sawAny          bool
	firstGapAt      time.Time

	reorderWindow time.Duration

	duplicates   uint64
	stale        uint64
	reportedLoss uint64
	deliveredLen uint64

	out [][]byte
}

// NewReassembler builds a Reassembler whose window holds windowSize seqs
// (rounded up to a power of two) starting at the group's initial sequence.
func NewReassembler(windowSize int, initialSeq seq.Value, reorderWindow time.Duration) *Reassembler {
	c := nextPow2(windowSize)
	return &Reassembler{
		ring:            make([]reassemblerSlot, c),
		mask:            uint32(c - 1),
		deliveredCursor: initialSeq,
		largestSeen:     initialSeq,
		reorderWindow:   reorderWindow,
	}
}

func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (r *Reassembler) index(s seq.Value) uint32 { return uint32(s) & r.mask }

// SetReorderWindow updates the reorder window, recomputed every second by
// the ingress coordinator from current member RTT/RTT-variance (spec §4.J
// "recomputed each second").
func (r *Reassembler) SetReorderWindow(d time.Duration) { r.reorderWindow = d }

// Arrive processes one raw packet arrival (spec §4.J steps 1-3):
// stale/duplicate arrivals are dropped and counted; a fresh arrival is
// recorded and an immediate delivery attempt is made so the common
// in-order, no-loss case has no added latency.
func (r *Reassembler) Arrive(a RawArrival, now time.Time) {
	s := a.Seq
	if !r.deliveredCursor.IsComparable(s) || r.deliveredCursor.Distance(s) < 0 {
		// Already delivered (or skipped) past this seq, or too stale to
		// compare meaningfully.
		r.stale++
		return
	}
	if uint32(r.deliveredCursor.Distance(s)) >= uint32(len(r.ring)) {
		r.stale++
		return
	}
	idx := r.index(s)
	if r.ring[idx].occupied && r.ring[idx].seq == s {
		r.duplicates++
		return
	}
	// A slot occupied by a different, older seq that fell out of the
	// window without being advanced past (shouldn't normally happen once
	// the periodic advance keeps up) is simply overwritten.
	r.ring[idx] = reassemblerSlot{
		seq: s, payload: a.Payload, boundary: a.Boundary, msgNumber: a.MsgNumber,
		occupied: true, arrivedAt: now,
	}
	if !r.sawAny || r.largestSeen.Less(s) {
		r.largestSeen = s
		r.sawAny = true
	}
	r.advance(now)
}

// Advance is the periodic sweep (spec §4.J step 4): deliver any contiguous
// prefix now present, or skip past a prefix seq that has been missing
// longer than the reorder window, declaring it lost to the application.
func (r *Reassembler) Advance(now time.Time) {
	r.advance(now)
}

func (r *Reassembler) advance(now time.Time) {
	for {
		if r.deliveredCursor == r.largestSeen && !r.slotAt(r.deliveredCursor) {
			return
		}
		n, ok := r.messageSpan()
		if ok {
			r.deliverMessage(n)
			r.firstGapAt = time.Time{}
			continue
		}
		// Nothing deliverable at the cursor. Decide whether to keep
		// waiting or declare the gap expired.
		if r.firstGapAt.IsZero() {
			r.firstGapAt = now
		}
		if now.Sub(r.firstGapAt) < r.reorderWindow {
			return
		}
		r.skipOne()
		r.firstGapAt = now
	}
}

func (r *Reassembler) slotAt(s seq.Value) bool {
	slot := r.ring[r.index(s)]
	return slot.occupied && slot.seq == s
}

// messageSpan mirrors rbuf's contiguous-message scan, but across the
// group's ring instead of a single connection's receive buffer.
func (r *Reassembler) messageSpan() (n int, ok bool) {
	first := r.ring[r.index(r.deliveredCursor)]
	if !first.occupied || first.seq != r.deliveredCursor {
		return 0, false
	}
	switch first.boundary {
	case wire.BoundarySolo:
		return 1, true
	case wire.BoundaryFirst:
	default:
		return 0, false
	}
	for i := 1; i <= len(r.ring); i++ {
		s := r.deliveredCursor.Add(int32(i))
		slot := r.ring[r.index(s)]
		if !slot.occupied || slot.seq != s {
			return 0, false
		}
		switch slot.boundary {
		case wire.BoundaryMiddle:
			continue
		case wire.BoundaryLast:
			return i + 1, true
		default:
			return 0, false
		}
	}
	return 0, false
}

func (r *Reassembler) deliverMessage(n int) {
	total := 0
	for i := 0; i < n; i++ {
		s := r.deliveredCursor.Add(int32(i))
		total += len(r.ring[r.index(s)].payload)
	}
	msg := make([]byte, 0, total)
	for i := 0; i < n; i++ {
		s := r.deliveredCursor.Add(int32(i))
		idx := r.index(s)
		msg = append(msg, r.ring[idx].payload...)
		r.ring[idx] = reassemblerSlot{}
	}
	r.deliveredCursor = r.deliveredCursor.Add(int32(n))
	r.deliveredLen += uint64(len(msg))
	r.out = append(r.out, msg)
}

// skipOne declares the seq at deliveredCursor permanently lost and moves
// past it, freeing the slot if one happened to be occupied by stray
// non-message-starting data.
func (r *Reassembler) skipOne() {
	idx := r.index(r.deliveredCursor)
	r.ring[idx] = reassemblerSlot{}
	r.deliveredCursor = r.deliveredCursor.Add(1)
	r.reportedLoss++
}

// Drain returns and clears every message delivered since the last call.
func (r *Reassembler) Drain() [][]byte {
	out := r.out
	r.out = nil
	return out
}

// Stats snapshots the reassembler's counters (SPEC_FULL §4.I/4.J addition).
type ReassemblerStats struct {
	Duplicates   uint64
	Stale        uint64
	ReportedLoss uint64
	DeliveredBytes uint64
	DeliveredCursor seq.Value
	ReorderWindow   time.Duration
}

func (r *Reassembler) Stats() ReassemblerStats {
	return ReassemblerStats{
		Duplicates: r.duplicates, Stale: r.stale, ReportedLoss: r.reportedLoss,
		DeliveredBytes: r.deliveredLen, DeliveredCursor: r.deliveredCursor,
		ReorderWindow: r.reorderWindow,
	}
}
