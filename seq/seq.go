// Package seq implements the 31-bit wraparound sequence-number arithmetic
// that underpins the wire codec, the send/receive buffers, and the loss
// lists (spec §3 "Sequence number", §4.A).
//
// A Value is always masked to 31 bits: bit 31 is reserved by the wire format
// as the data/control discriminator (spec §3 "Data packet" / "Control
// packet") and must never be set on a sequence number in memory.
package seq

import "fmt"

// mask keeps a Value within the 31-bit sequence space.
const mask = 1<<31 - 1

// halfSpan is 2**30, the threshold beyond which circular comparison is
// indeterminate (spec §3 "Sequence algebra").
const halfSpan = 1 << 30

// Value is a 31-bit sequence number. Comparisons between two Values are only
// defined when they are within halfSpan of each other; see Distance and
// Compare.
type Value uint32

// New masks v to the 31-bit sequence space.
func New(v uint32) Value { return Value(v & mask) }

// Add returns the sequence number n positions ahead of v, wrapping modulo
// 2**31. n may be negative to move backwards.
func (v Value) Add(n int32) Value {
	return Value((uint32(v) + uint32(n)) & mask)
}

// Sub is equivalent to v.Add(-n).
func (v Value) Sub(n int32) Value { return v.Add(-n) }

// Distance returns the signed circular distance from v to other: the number
// of steps forward from v to reach other, in [-2**30, 2**30). The result is
// only meaningful when the true separation between v and other is less than
// 2**30; see IsComparable.
func (v Value) Distance(other Value) int32 {
	d := (uint32(other) - uint32(v)) & mask
	if d >= halfSpan {
		// Interpret as a negative step by unmasking into the int32 range.
		return int32(int64(d) - (1 << 31))
	}
	return int32(d)
}

// IsComparable reports whether v and other are close enough (circular
// distance strictly less than 2**30) for Compare/Less/LessOrEqual to return
// a meaningful answer. The protocol must reject packets for which this is
// false as indicating a severely stale or hostile peer (spec §3).
func (v Value) IsComparable(other Value) bool {
	d := (uint32(other) - uint32(v)) & mask
	return d != halfSpan
}

// Compare returns -1, 0, or +1 as v is less than, equal to, or greater than
// other, using circular distance. The result is undefined (but still one of
// -1/0/1) when !v.IsComparable(other); callers that care must check
// IsComparable first.
func (v Value) Compare(other Value) int {
	if v == other {
		return 0
	}
	d := v.Distance(other)
	if d > 0 {
		return -1 // v is "before" other
	}
	return 1
}

// Less reports whether v precedes other in circular order.
func (v Value) Less(other Value) bool { return v != other && v.Compare(other) < 0 }

// LessOrEqual reports whether v precedes or equals other in circular order.
func (v Value) LessOrEqual(other Value) bool { return v == other || v.Less(other) }

// InWindow reports whether v lies in the half-open circular window
// [start, start+size).
func (v Value) InWindow(start Value, size uint32) bool {
	if size == 0 {
		return false
	}
	d := start.Distance(v)
	return d >= 0 && uint32(d) < size
}

func (v Value) String() string { return fmt.Sprintf("%d", uint32(v)) }

// Uint32 returns the underlying 31-bit value.
func (v Value) Uint32() uint32 { return uint32(v) }
