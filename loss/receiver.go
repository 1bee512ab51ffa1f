package loss

import (
	"time"

	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// DefaultMinNAKInterval is the floor on how often a given held range is
// re-reported, even at very low RTT (spec §4.F).
const DefaultMinNAKInterval = 20 * time.Millisecond

// MaxNAKPerRange bounds how many times a given gap is re-announced before
// the receiver gives up nagging the sender about it; the sender's own TTL
// drop (sbuf.DropExpired) is what ultimately resolves a gap nobody answers.
const MaxNAKPerRange = 3

type heldRange struct {
	r        wire.Range
	lastNAK  time.Time
	nakCount int
	sentOnce bool
}

// ReceiverList tracks gaps in the receiver's sequence space that have not
// yet been filled, and decides when each is due for another NAK (spec
// §3 "Receiver loss list", §4.F).
type ReceiverList struct {
	ranges []heldRange
}

// NewReceiverList constructs an empty receiver loss list.
func NewReceiverList() *ReceiverList {
	return &ReceiverList{}
}

// Add records [start, end] as missing, merging with any adjacent or
// overlapping held ranges.
func (l *ReceiverList) Add(start, end seq.Value) {
	merged := heldRange{r: wire.Range{Start: start, End: end}}
	out := l.ranges[:0]
	for _, h := range l.ranges {
		if adjacentOrOverlapping(h.r, merged.r) {
			merged.r = union(h.r, merged.r)
			if h.lastNAK.After(merged.lastNAK) {
				merged.lastNAK = h.lastNAK
			}
			if h.nakCount > merged.nakCount {
				merged.nakCount = h.nakCount
			}
			merged.sentOnce = merged.sentOnce || h.sentOnce
			continue
		}
		out = append(out, h)
	}
	out = append(out, merged)
	l.ranges = out
	l.sortRanges()
}

func adjacentOrOverlapping(a, b wire.Range) bool {
	// a and b overlap or touch if neither strictly precedes the other with a
	// gap in between.
	return !(a.End.Add(1).Less(b.Start)) && !(b.End.Add(1).Less(a.Start))
}

func union(a, b wire.Range) wire.Range {
	out := a
	if b.Start.Less(out.Start) {
		out.Start = b.Start
	}
	if out.End.Less(b.End) {
		out.End = b.End
	}
	return out
}

func (l *ReceiverList) sortRanges() {
	for i := 1; i < len(l.ranges); i++ {
		for j := i; j > 0 && l.ranges[j].r.Start.Less(l.ranges[j-1].r.Start); j-- {
			l.ranges[j], l.ranges[j-1] = l.ranges[j-1], l.ranges[j]
		}
	}
}

// Remove clears s from every held range it falls in, splitting a range into
// two if s is an interior seq.
func (l *ReceiverList) Remove(s seq.Value) {
	out := make([]heldRange, 0, len(l.ranges)+1)
	for _, h := range l.ranges {
		if !s.InWindow(h.r.Start, uint32(h.r.Start.Distance(h.r.End))+1) {
			out = append(out, h)
			continue
		}
		switch {
		case h.r.Single():
			// s was the whole range; drop it.
		case s == h.r.Start:
			h.r.Start = s.Add(1)
			out = append(out, h)
		case s == h.r.End:
			h.r.End = s.Add(-1)
			out = append(out, h)
		default:
			left := h
			left.r.End = s.Add(-1)
			right := h
			right.r.Start = s.Add(1)
			out = append(out, left, right)
		}
	}
	l.ranges = out
}

// Len returns the number of distinct held ranges.
func (l *ReceiverList) Len() int { return len(l.ranges) }

// GetNAKRanges returns the held ranges due for a NAK at now, given the
// current RTT estimate. A range is eligible if it has never been NAKed, or
// at least max(rtt*4, DefaultMinNAKInterval) has passed since its last NAK,
// and it has not already been NAKed MaxNAKPerRange times (spec §4.F).
// Eligible ranges are marked as NAKed as of now.
func (l *ReceiverList) GetNAKRanges(now time.Time, rtt time.Duration) []wire.Range {
	interval := rtt * 4
	if interval < DefaultMinNAKInterval {
		interval = DefaultMinNAKInterval
	}
	var out []wire.Range
	for i := range l.ranges {
		h := &l.ranges[i]
		if h.nakCount >= MaxNAKPerRange {
			continue
		}
		if h.sentOnce && now.Sub(h.lastNAK) < interval {
			continue
		}
		out = append(out, h.r)
		h.lastNAK = now
		h.nakCount++
		h.sentOnce = true
	}
	return out
}

// Ranges returns a snapshot of every currently held range, in ascending
// order. Intended for tests and diagnostics.
func (l *ReceiverList) Ranges() []wire.Range {
	out := make([]wire.Range, len(l.ranges))
	for i, h := range l.ranges {
		out[i] = h.r
	}
	return out
}
