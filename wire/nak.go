package wire

import "github.com/multipathsrt/srt/seq"

// Range is an inclusive sequence range [Start, End].
type Range struct {
	Start, End seq.Value
}

// Single reports whether the range covers exactly one sequence number.
func (r Range) Single() bool { return r.Start == r.End }

// rangeMarkerBit flags an entry as the first word of a two-word range
// encoding (start | rangeMarkerBit, end). A lone lost seq is encoded as a
// single word with the bit clear. The sequence space is 31 bits so bit 31 of
// each NAK word is free to use as this marker, same trick as the packet
// discriminator.
const rangeMarkerBit = 1 << 31

// EncodeNAK serializes ranges into a compact NAK body: each single-seq loss
// is one 4-byte word, each multi-seq range is two 4-byte words (start with
// the marker bit set, then end). An empty ranges list encodes to an empty
// body — a no-op NAK, not an error (spec §8 boundary behaviors).
//
// Ranges too large to fit under an MTU-bounded body must be split by the
// caller into multiple NAK packets before calling EncodeNAK on each chunk;
// this function does not itself enforce an MTU.
func EncodeNAK(ranges []Range) []byte {
	n := 0
	for _, r := range ranges {
		if r.Single() {
			n += 4
		} else {
			n += 8
		}
	}
	dst := make([]byte, n)
	off := 0
	for _, r := range ranges {
		if r.Single() {
			putBE32(dst[off:off+4], uint32(r.Start))
			off += 4
		} else {
			putBE32(dst[off:off+4], uint32(r.Start)|rangeMarkerBit)
			putBE32(dst[off+4:off+8], uint32(r.End))
			off += 8
		}
	}
	return dst
}

// DecodeNAK parses a NAK body produced by EncodeNAK. An empty body decodes
// to a nil/empty slice, not an error.
func DecodeNAK(body []byte) ([]Range, error) {
	if len(body)%4 != 0 {
		return nil, newDecodeErr(PayloadTruncated, "NAK body not word-aligned")
	}
	var out []Range
	for off := 0; off < len(body); off += 4 {
		w := be32(body[off : off+4])
		if w&rangeMarkerBit != 0 {
			if off+8 > len(body) {
				return nil, newDecodeErr(PayloadTruncated, "NAK range missing end word")
			}
			end := be32(body[off+4 : off+8])
			out = append(out, Range{Start: seq.New(w &^ rangeMarkerBit), End: seq.New(end)})
			off += 4
		} else {
			out = append(out, Range{Start: seq.New(w), End: seq.New(w)})
		}
	}
	return out, nil
}
