package wire

import "github.com/multipathsrt/srt/seq"

// AckBody is the body of a full ACK control packet (spec §4.G obligation 1).
// The control header's Info field carries the ACK sequence number: a
// monotonically increasing id (distinct from data seq) that ACKACK echoes
// back so the sender can measure RTT.
type AckBody struct {
	LastAckedSeq   seq.Value // largest contiguously received seq, exclusive
	RTTUs          uint32
	RTTVarUs       uint32
	AvailBufPkts   uint32
	RecvRatePps    uint32
	EstimatedBwBps uint32
}

const ackBodyLen = 24

// EncodeACK serializes b into a ControlPacket body.
func EncodeACK(b AckBody) []byte {
	dst := make([]byte, ackBodyLen)
	putBE32(dst[0:4], uint32(b.LastAckedSeq))
	putBE32(dst[4:8], b.RTTUs)
	putBE32(dst[8:12], b.RTTVarUs)
	putBE32(dst[12:16], b.AvailBufPkts)
	putBE32(dst[16:20], b.RecvRatePps)
	putBE32(dst[20:24], b.EstimatedBwBps)
	return dst
}

// DecodeACK parses an ACK control packet body.
func DecodeACK(body []byte) (AckBody, error) {
	if len(body) < ackBodyLen {
		return AckBody{}, newDecodeErr(PayloadTruncated, "ACK body")
	}
	return AckBody{
		LastAckedSeq:   seq.New(be32(body[0:4])),
		RTTUs:          be32(body[4:8]),
		RTTVarUs:       be32(body[8:12]),
		AvailBufPkts:   be32(body[12:16]),
		RecvRatePps:    be32(body[16:20]),
		EstimatedBwBps: be32(body[20:24]),
	}, nil
}
