// Package sbuf implements the sender's seq-indexed circular store of
// in-flight packets (spec §3 "Send-buffer slot", §4.D): push assigns a new
// seq, get retrieves a slot for retransmission, acknowledge_up_to/
// flush_acknowledged release acknowledged slots, and drop_expired enforces
// the TTL policy that lets live media outrun a hopelessly lossy link.
package sbuf

import (
	"errors"
	"time"

	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// ErrFull is returned by Push when the buffer already holds Capacity
// unacknowledged packets.
var ErrFull = errors.New("sbuf: buffer full")

// Slot is one stored, possibly-in-flight packet (spec §3).
type Slot struct {
	Seq            seq.Value
	Payload        []byte
	SubmitTime     time.Time
	SendCount      int
	LastSendTime   time.Time
	MsgNumber      uint32
	Boundary       wire.Boundary
	InOrder        bool
	occupied       bool
	droppedForTTL  bool
}

// Buffer is the sender's circular store, indexed by seq mod Capacity.
// Capacity must be a power of two (spec §3 "capacity is power of two").
type Buffer struct {
	slots      []Slot
	mask       uint32
	nextSeq    seq.Value
	ackCursor  seq.Value
	started    bool
}

// New constructs a Buffer with room for capacity unacknowledged packets.
// capacity is rounded up to the next power of two if it is not one already.
func New(capacity int, initialSeq seq.Value) *Buffer {
	c := nextPow2(capacity)
	return &Buffer{
		slots:     make([]Slot, c),
		mask:      uint32(c - 1),
		nextSeq:   initialSeq,
		ackCursor: initialSeq,
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

// Capacity returns the number of slots (always a power of two).
func (b *Buffer) Capacity() int { return len(b.slots) }

func (b *Buffer) index(s seq.Value) uint32 { return uint32(s) & b.mask }

// inFlight returns the number of occupied slots, i.e. seqs in
// [ackCursor, nextSeq).
func (b *Buffer) inFlight() int {
	if !b.started {
		return 0
	}
	d := b.ackCursor.Distance(b.nextSeq)
	if d < 0 {
		d = 0
	}
	return int(d)
}

// Push appends payload at the next sequence number and returns the assigned
// seq. It fails with ErrFull if the buffer already holds Capacity
// unacknowledged packets (spec §4.D).
func (b *Buffer) Push(payload []byte, msgNumber uint32, boundary wire.Boundary, inOrder bool, now time.Time) (seq.Value, error) {
	if b.inFlight() >= len(b.slots) {
		return 0, ErrFull
	}
	s := b.nextSeq
	idx := b.index(s)
	b.slots[idx] = Slot{
		Seq:        s,
		Payload:    payload,
		SubmitTime: now,
		MsgNumber:  msgNumber,
		Boundary:   boundary,
		InOrder:    inOrder,
		occupied:   true,
	}
	b.nextSeq = b.nextSeq.Add(1)
	b.started = true
	return s, nil
}

// PushAt stores payload at the explicit sequence s rather than the buffer's
// own auto-incrementing cursor, advancing NextSeq past s if s is not yet
// behind it. A bonding group's egress coordinator uses this to place a
// member's slot at a seq drawn from the group-wide sequence space (spec §9
// "the member-local send buffer must still be indexed by seq and tolerate
// gaps"), rather than the member originating its own.
func (b *Buffer) PushAt(s seq.Value, payload []byte, msgNumber uint32, boundary wire.Boundary, inOrder bool, now time.Time) error {
	idx := b.index(s)
	if b.slots[idx].occupied && b.slots[idx].Seq != s {
		return ErrFull
	}
	b.slots[idx] = Slot{
		Seq:        s,
		Payload:    payload,
		SubmitTime: now,
		MsgNumber:  msgNumber,
		Boundary:   boundary,
		InOrder:    inOrder,
		occupied:   true,
	}
	if !b.started || b.nextSeq.LessOrEqual(s) {
		b.nextSeq = s.Add(1)
	}
	b.started = true
	return nil
}

// Get returns the slot for seq s for retransmission, and whether it was
// found. It returns false silently if the slot has already been flushed
// (spec §4.D: "fails silently... if the slot has been flushed").
func (b *Buffer) Get(s seq.Value) (*Slot, bool) {
	idx := b.index(s)
	slot := &b.slots[idx]
	if !slot.occupied || slot.Seq != s {
		return nil, false
	}
	return slot, true
}

// MarkSent records that slot s was (re)transmitted at now, bumping its send
// count.
func (b *Buffer) MarkSent(s seq.Value, now time.Time) {
	if slot, ok := b.Get(s); ok {
		slot.SendCount++
		slot.LastSendTime = now
	}
}

// AckCursor returns the current ack cursor (first seq not yet acknowledged).
func (b *Buffer) AckCursor() seq.Value { return b.ackCursor }

// NextSeq returns the seq that the next Push will assign.
func (b *Buffer) NextSeq() seq.Value { return b.nextSeq }

// AcknowledgeUpTo advances the ack cursor to s (exclusive): every seq in
// [old ackCursor, s) is now considered acknowledged. It does not itself free
// slots; call FlushAcknowledged for that (spec §4.D keeps these separate so
// a caller can inspect newly-acked slots, e.g. for RTT sampling, before they
// are recycled).
func (b *Buffer) AcknowledgeUpTo(s seq.Value) {
	if !b.ackCursor.IsComparable(s) {
		return
	}
	if b.ackCursor.Less(s) || b.ackCursor == s {
		b.ackCursor = s
	}
}

// FlushAcknowledged frees every slot strictly older than the ack cursor.
func (b *Buffer) FlushAcknowledged() {
	for i := range b.slots {
		s := &b.slots[i]
		if s.occupied && !s.Seq.InWindow(b.ackCursor, uint32(b.ackCursor.Distance(b.nextSeq))) {
			*s = Slot{}
		}
	}
}

// DropExpired marks every occupied slot older than ttl as dropped and
// returns their seqs, so the caller can inform the receiver via a DROPREQ
// control packet (spec §4.D).
func (b *Buffer) DropExpired(now time.Time, ttl time.Duration) []seq.Value {
	var dropped []seq.Value
	for i := range b.slots {
		s := &b.slots[i]
		if s.occupied && !s.droppedForTTL && now.Sub(s.SubmitTime) >= ttl {
			s.droppedForTTL = true
			dropped = append(dropped, s.Seq)
		}
	}
	return dropped
}

// InFlight returns the number of seqs in [AckCursor, NextSeq). After PushAt
// leaves gaps, the unoccupied seqs in that span are counted too.
func (b *Buffer) InFlight() int { return b.inFlight() }
