package wire

// ControlType is the 15-bit control packet type field (spec §3).
type ControlType uint16

const (
	CtrlHandshake      ControlType = 0
	CtrlKeepalive      ControlType = 1
	CtrlACK            ControlType = 2
	CtrlNAK            ControlType = 3
	CtrlCongestionWarn ControlType = 4
	CtrlShutdown       ControlType = 5
	CtrlACKACK         ControlType = 6
	CtrlDropReq        ControlType = 7
	CtrlPeerError      ControlType = 8
	CtrlUserDefined    ControlType = 0x7FFF
)

func (t ControlType) String() string {
	switch t {
	case CtrlHandshake:
		return "HANDSHAKE"
	case CtrlKeepalive:
		return "KEEPALIVE"
	case CtrlACK:
		return "ACK"
	case CtrlNAK:
		return "NAK"
	case CtrlCongestionWarn:
		return "CONGESTION_WARN"
	case CtrlShutdown:
		return "SHUTDOWN"
	case CtrlACKACK:
		return "ACKACK"
	case CtrlDropReq:
		return "DROPREQ"
	case CtrlPeerError:
		return "PEERERROR"
	case CtrlUserDefined:
		return "USER_DEFINED"
	default:
		return "UNKNOWN"
	}
}

// knownControlType reports whether t is one of the types spec §3 names.
// USER_DEFINED and anything else is intentionally excluded: DecodeControl
// rejects them with an UnknownControlType DecodeError rather than decoding
// them as a known shape.
func knownControlType(t ControlType) bool {
	switch t {
	case CtrlHandshake, CtrlKeepalive, CtrlACK, CtrlNAK, CtrlCongestionWarn,
		CtrlShutdown, CtrlACKACK, CtrlDropReq, CtrlPeerError:
		return true
	default:
		return false
	}
}

// ControlPacket is a decoded (or to-be-encoded) control packet. Body is the
// type-specific payload following the 16-byte header; it aliases the input
// buffer when produced by Decode. Handshake bodies are further parsed by
// package handshake; ACK/NAK bodies by EncodeACK/DecodeACK and
// EncodeNAK/DecodeNAK in this package.
type ControlPacket struct {
	Type         ControlType
	Subtype      uint16
	Info         uint32
	TimestampUs  uint32
	DestSocketID uint32
	Body         []byte
}

// EncodedLen returns the number of bytes Encode will write for p.
func (p *ControlPacket) EncodedLen() int { return HeaderSize + len(p.Body) }

func (p *ControlPacket) Encode(dst []byte) (int, error) {
	n := p.EncodedLen()
	if len(dst) < n {
		return 0, newDecodeErr(TooShort, "destination buffer smaller than packet")
	}
	word0 := discriminatorBit | uint32(p.Type&0x7FFF)<<16 | uint32(p.Subtype)
	putBE32(dst[0:4], word0)
	putBE32(dst[4:8], p.Info)
	putBE32(dst[8:12], p.TimestampUs)
	putBE32(dst[12:16], p.DestSocketID)
	copy(dst[16:n], p.Body)
	return n, nil
}

// DecodeControl decodes buf as a control packet. Like DecodeData, it does
// not re-check the discriminator bit; use Decode if the packet kind is not
// already known.
func DecodeControl(buf []byte) (ControlPacket, error) {
	if len(buf) < HeaderSize {
		return ControlPacket{}, newDecodeErr(TooShort, "control header")
	}
	word0 := be32(buf[0:4])
	typ := ControlType(word0 >> 16 & 0x7FFF)
	if !knownControlType(typ) {
		return ControlPacket{}, newDecodeErr(UnknownControlType, typ.String())
	}
	p := ControlPacket{
		Type:         typ,
		Subtype:      uint16(word0),
		Info:         be32(buf[4:8]),
		TimestampUs:  be32(buf[8:12]),
		DestSocketID: be32(buf[12:16]),
		Body:         buf[HeaderSize:],
	}
	return p, nil
}

// Packet is implemented by DataPacket and ControlPacket. Decode returns one
// of the two, wrapped in this interface, so callers can discriminate with a
// type switch.
type Packet interface {
	isWirePacket()
}

func (DataPacket) isWirePacket()    {}
func (ControlPacket) isWirePacket() {}

// Decode inspects the discriminator bit of buf and dispatches to DecodeData
// or DecodeControl. decode(encode(p)) == p for every legal p (spec §4.B).
func Decode(buf []byte) (Packet, error) {
	if len(buf) < 4 {
		return nil, newDecodeErr(TooShort, "packet")
	}
	word0 := be32(buf[0:4])
	if isControlWord(word0) {
		return DecodeControl(buf)
	}
	return DecodeData(buf)
}
