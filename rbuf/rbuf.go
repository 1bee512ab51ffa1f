// Package rbuf implements the receiver's out-of-order circular store,
// message reassembly, and in-order pop (spec §3 "Receive-buffer slot",
// §4.E).
package rbuf

import (
	"errors"
	"time"

	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// ErrDuplicate is returned by Push for a seq already held in the buffer.
var ErrDuplicate = errors.New("rbuf: duplicate sequence number")

// ErrOutOfWindow is returned by Push for a seq outside
// [read_cursor, read_cursor+Capacity).
var ErrOutOfWindow = errors.New("rbuf: sequence number out of window")

// Slot is one stored, possibly out-of-order packet (spec §3).
type Slot struct {
	Seq         seq.Value
	Payload     []byte
	MsgNumber   uint32
	Boundary    wire.Boundary
	ArrivalTime time.Time
	occupied    bool
}

// Buffer is the receiver's circular store, indexed by seq mod Capacity.
type Buffer struct {
	slots       []Slot
	mask        uint32
	readCursor  seq.Value
	largestSeen seq.Value
	sawAny      bool
}

// New constructs a Buffer of the given capacity (rounded up to a power of
// two) whose application read cursor starts at initialReadCursor.
func New(capacity int, initialReadCursor seq.Value) *Buffer {
	c := nextPow2(capacity)
	return &Buffer{
		slots:       make([]Slot, c),
		mask:        uint32(c - 1),
		readCursor:  initialReadCursor,
		largestSeen: initialReadCursor,
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

// Capacity returns the number of slots.
func (b *Buffer) Capacity() int { return len(b.slots) }

// ReadCursor returns the next seq the application expects to consume.
func (b *Buffer) ReadCursor() seq.Value { return b.readCursor }

// LargestSeen returns the largest seq ever accepted by Push.
func (b *Buffer) LargestSeen() seq.Value { return b.largestSeen }

func (b *Buffer) index(s seq.Value) uint32 { return uint32(s) & b.mask }

// Push inserts pkt at seq mod Capacity. It rejects seqs outside
// [read_cursor, read_cursor+Capacity) as ErrOutOfWindow and seqs already
// held as ErrDuplicate.
func (b *Buffer) Push(pkt wire.DataPacket, now time.Time) error {
	if !pkt.Seq.InWindow(b.readCursor, uint32(len(b.slots))) {
		return ErrOutOfWindow
	}
	idx := b.index(pkt.Seq)
	if b.slots[idx].occupied && b.slots[idx].Seq == pkt.Seq {
		return ErrDuplicate
	}
	b.slots[idx] = Slot{
		Seq:         pkt.Seq,
		Payload:     pkt.Payload,
		MsgNumber:   pkt.MsgNumber,
		Boundary:    pkt.Boundary,
		ArrivalTime: now,
		occupied:    true,
	}
	if !b.sawAny || b.largestSeen.Less(pkt.Seq) {
		b.largestSeen = pkt.Seq
		b.sawAny = true
	}
	return nil
}

// HasReady reports whether a complete message starts at ReadCursor.
func (b *Buffer) HasReady() bool {
	_, ok := b.messageSpan()
	return ok
}

// messageSpan returns the number of contiguous slots (starting at
// readCursor) that make up the next complete message, or ok=false if the
// message at readCursor is not yet fully present.
func (b *Buffer) messageSpan() (n int, ok bool) {
	first := b.slots[b.index(b.readCursor)]
	if !first.occupied || first.Seq != b.readCursor {
		return 0, false
	}
	switch first.Boundary {
	case wire.BoundarySolo:
		return 1, true
	case wire.BoundaryFirst:
		// fall through to scan
	default:
		// Middle/Last cannot start a message; the slot at readCursor is
		// stale/misordered data we cannot yet deliver.
		return 0, false
	}
	for i := 1; i <= len(b.slots); i++ {
		s := b.readCursor.Add(int32(i))
		slot := b.slots[b.index(s)]
		if !slot.occupied || slot.Seq != s {
			return 0, false
		}
		switch slot.Boundary {
		case wire.BoundaryMiddle:
			continue
		case wire.BoundaryLast:
			return i + 1, true
		default:
			return 0, false // malformed sequence of boundaries
		}
	}
	return 0, false
}

// PopMessage returns the next fully-present in-order message, concatenating
// slots with boundary flags First→Middle*→Last (or a single Solo slot),
// advances ReadCursor past the message, and frees its slots.
func (b *Buffer) PopMessage() ([]byte, bool) {
	n, ok := b.messageSpan()
	if !ok {
		return nil, false
	}
	total := 0
	for i := 0; i < n; i++ {
		s := b.readCursor.Add(int32(i))
		total += len(b.slots[b.index(s)].Payload)
	}
	out := make([]byte, 0, total)
	for i := 0; i < n; i++ {
		s := b.readCursor.Add(int32(i))
		idx := b.index(s)
		out = append(out, b.slots[idx].Payload...)
		b.slots[idx] = Slot{}
	}
	b.readCursor = b.readCursor.Add(int32(n))
	return out, true
}

// AdvancePast moves the read cursor forward to s (exclusive), freeing any
// slots skipped over. Used when a DROPREQ tells the receiver to give up on
// a range the sender has stopped retransmitting (spec §4.G "DROPREQ
// advances the receiver's read_cursor past the dropped range").
func (b *Buffer) AdvancePast(s seq.Value) {
	if !b.readCursor.IsComparable(s) || !b.readCursor.Less(s) {
		return
	}
	for cur := b.readCursor; cur != s; cur = cur.Add(1) {
		b.slots[b.index(cur)] = Slot{}
	}
	b.readCursor = s
	if b.largestSeen.Less(s.Sub(1)) {
		b.largestSeen = s.Sub(1)
	}
}

// Gaps reports the sequence ranges between ReadCursor and LargestSeen that
// are neither held in the buffer nor yet delivered, for the loss tracker to
// drive NAK generation (spec §4.E, §4.F).
func (b *Buffer) Gaps() []wire.Range {
	var out []wire.Range
	if b.readCursor == b.largestSeen {
		return nil
	}
	var runStart seq.Value
	inGap := false
	for cur := b.readCursor; ; cur = cur.Add(1) {
		idx := b.index(cur)
		held := b.slots[idx].occupied && b.slots[idx].Seq == cur
		if !held {
			if !inGap {
				runStart = cur
				inGap = true
			}
		} else if inGap {
			out = append(out, wire.Range{Start: runStart, End: cur.Sub(1)})
			inGap = false
		}
		if cur == b.largestSeen {
			break
		}
	}
	if inGap {
		out = append(out, wire.Range{Start: runStart, End: b.largestSeen})
	}
	return out
}
