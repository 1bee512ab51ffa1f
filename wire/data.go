package wire

import (
	"github.com/multipathsrt/srt/seq"
)

// Boundary encodes which part of a fragmented message a data packet carries
// (spec §3 "Message number").
type Boundary uint8

const (
	BoundaryMiddle Boundary = 0b00
	BoundaryLast   Boundary = 0b01
	BoundaryFirst  Boundary = 0b10
	BoundarySolo   Boundary = 0b11
)

func (b Boundary) String() string {
	switch b {
	case BoundaryMiddle:
		return "middle"
	case BoundaryLast:
		return "last"
	case BoundaryFirst:
		return "first"
	case BoundarySolo:
		return "solo"
	default:
		return "invalid"
	}
}

// KeyFlag selects the encryption key epoch a data packet was (or would be)
// encrypted under. Encryption itself is future work (spec §1); the field is
// carried so the wire format is forward compatible.
type KeyFlag uint8

const (
	KeyNone KeyFlag = 0b00
	KeyEven KeyFlag = 0b01
	KeyOdd  KeyFlag = 0b10
)

func (k KeyFlag) String() string {
	switch k {
	case KeyNone:
		return "none"
	case KeyEven:
		return "even"
	case KeyOdd:
		return "odd"
	default:
		return "reserved"
	}
}

// DataPacket is a decoded (or to-be-encoded) data packet. Payload, when
// produced by Decode, is a slice of the original input buffer: callers must
// copy it before reusing or mutating that buffer.
type DataPacket struct {
	Seq           seq.Value
	Boundary      Boundary
	Key           KeyFlag
	InOrder       bool
	Retransmitted bool
	MsgNumber     uint32 // 26-bit, wraps
	TimestampUs   uint32
	DestSocketID  uint32
	Payload       []byte
}

const msgNumberMask = 1<<26 - 1

// EncodedLen returns the number of bytes Encode will write for p.
func (p *DataPacket) EncodedLen() int { return HeaderSize + len(p.Payload) }

// Encode serializes p into dst, which must be at least p.EncodedLen() bytes,
// and returns the number of bytes written. Encode is total: it never fails
// on a DataPacket with a MsgNumber/Boundary/Key already within their valid
// ranges (out-of-range values are masked to their field width, not rejected).
func (p *DataPacket) Encode(dst []byte) (int, error) {
	n := p.EncodedLen()
	if len(dst) < n {
		return 0, newDecodeErr(TooShort, "destination buffer smaller than packet")
	}
	word0 := uint32(p.Seq) & (discriminatorBit - 1) // bit31 stays 0
	putBE32(dst[0:4], word0)

	word1 := uint32(p.Boundary&0b11) << 30
	word1 |= uint32(p.Key&0b11) << 28
	if p.InOrder {
		word1 |= 1 << 27
	}
	if p.Retransmitted {
		word1 |= 1 << 26
	}
	word1 |= p.MsgNumber & msgNumberMask
	putBE32(dst[4:8], word1)

	putBE32(dst[8:12], p.TimestampUs)
	putBE32(dst[12:16], p.DestSocketID)
	copy(dst[16:n], p.Payload)
	return n, nil
}

// DecodeData decodes buf as a data packet. The caller must already know
// (e.g. by going through Decode) that buf encodes a data packet; DecodeData does
// not re-check the discriminator bit.
//
// The returned DataPacket.Payload aliases buf: it is a zero-copy view, not a
// copy.
func DecodeData(buf []byte) (DataPacket, error) {
	if len(buf) < HeaderSize {
		return DataPacket{}, newDecodeErr(TooShort, "data header")
	}
	word0 := be32(buf[0:4])
	word1 := be32(buf[4:8])

	p := DataPacket{
		Seq:           seq.New(word0),
		Boundary:      Boundary(word1 >> 30 & 0b11),
		Key:           KeyFlag(word1 >> 28 & 0b11),
		InOrder:       word1&(1<<27) != 0,
		Retransmitted: word1&(1<<26) != 0,
		MsgNumber:     word1 & msgNumberMask,
		TimestampUs:   be32(buf[8:12]),
		DestSocketID:  be32(buf[12:16]),
	}
	if p.Key == 0b11 {
		return DataPacket{}, newDecodeErr(BadFlagCombination, "key flag 0b11 is reserved")
	}
	p.Payload = buf[HeaderSize:]
	return p, nil
}

// Equal reports whether p and other decode/encode identically, including
// payload bytes (but not payload backing-array identity).
func (p DataPacket) Equal(other DataPacket) bool {
	return p.Seq == other.Seq && p.Boundary == other.Boundary && p.Key == other.Key &&
		p.InOrder == other.InOrder && p.Retransmitted == other.Retransmitted &&
		p.MsgNumber == other.MsgNumber && p.TimestampUs == other.TimestampUs &&
		p.DestSocketID == other.DestSocketID && bytesEqual(p.Payload, other.Payload)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
