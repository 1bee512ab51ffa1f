package conn

import (
	"sort"
	"time"

	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// sendCursor tracks the next seq in the send buffer that has never been
// transmitted, distinct from sbuf's ack_cursor/next_seq (spec §4.D keeps
// "pushed" and "sent" as separate concerns; push assigns a seq, the
// connection's tick loop is what actually calls send_to).
func (c *Connection) drainUnsent(now time.Time) [][]byte {
	var out [][]byte
	for c.sendCursor != c.sendBuf.NextSeq() {
		slot, ok := c.sendBuf.Get(c.sendCursor)
		if !ok {
			// Already flushed (acknowledged and recycled) without ever
			// being observed here; skip past it.
			c.sendCursor = c.sendCursor.Add(1)
			continue
		}
		pkt := wire.DataPacket{
			Seq:          slot.Seq,
			Boundary:     slot.Boundary,
			InOrder:      slot.InOrder,
			MsgNumber:    slot.MsgNumber,
			TimestampUs:  c.nowMicro(),
			DestSocketID: c.remoteSID,
			Payload:      slot.Payload,
		}
		dst := make([]byte, pkt.EncodedLen())
		if _, err := pkt.Encode(dst); err != nil {
			c.sendCursor = c.sendCursor.Add(1)
			continue
		}
		if c.pacer != nil && !c.pacer.Consume(len(dst)) {
			break
		}
		c.sendBuf.MarkSent(c.sendCursor, now)
		out = append(out, dst)
		c.sendCursor = c.sendCursor.Add(1)
	}
	return out
}

// Tick runs the per-tick obligations for a CONNECTED connection (spec
// §4.G) and returns every outbound wire packet produced. Callers (a group's
// TX worker, or a single-connection driver) are responsible for actually
// writing these to the socket.
func (c *Connection) Tick(now time.Time) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateInduction || c.state == StateConclusion {
		return c.tickHandshake(now)
	}
	if c.state != StateConnected {
		if c.state == StateClosing {
			return c.tickClosing(now)
		}
		return nil
	}

	var out [][]byte

	// Obligation 1: periodic ACK.
	if now.Sub(c.lastAckSentTime) >= c.cfg.AckInterval {
		out = append(out, c.buildACK(now))
		c.lastAckSentTime = now
	}

	// Obligation 2: NAK for eligible loss ranges.
	nakRanges := c.receiverLoss.GetNAKRanges(now, time.Duration(c.rttUs)*time.Microsecond)
	if len(nakRanges) > 0 {
		out = append(out, c.buildNAKs(nakRanges)...)
	}

	// Obligation 3: retransmit sender loss list.
	out = append(out, c.tickRetransmit(now)...)

	// New, never-yet-sent data.
	out = append(out, c.drainUnsent(now)...)

	// Obligation 4: keepalive.
	if now.Sub(c.lastRxTime) >= c.cfg.KeepaliveInterval {
		pkt := wire.ControlPacket{Type: wire.CtrlKeepalive, TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID}
		dst := make([]byte, pkt.EncodedLen())
		pkt.Encode(dst)
		out = append(out, dst)
	}

	// Obligation 5: peer idle timeout.
	if now.Sub(c.lastRxTime) >= c.cfg.PeerIdleTimeout {
		c.state = StateClosing
		c.closingSince = now
		c.closeReason = ReasonPeerTimeout
	}

	if c.cfg.SendTTL > 0 {
		for _, s := range c.sendBuf.DropExpired(now, c.cfg.SendTTL) {
			c.senderLoss.Remove(s)
			out = append(out, c.buildDropReq(s, s))
		}
	}

	return out
}

func (c *Connection) tickRetransmit(now time.Time) [][]byte {
	var out [][]byte
	minInterval := c.rttInterval() / 2
	if minInterval < 10*time.Millisecond {
		minInterval = 10 * time.Millisecond
	}
	pending := c.senderLoss.Snapshot()
	for _, s := range pending {
		slot, ok := c.sendBuf.Get(s)
		if !ok {
			c.senderLoss.Remove(s)
			continue
		}
		if now.Sub(slot.LastSendTime) < minInterval {
			continue
		}
		if slot.SendCount > c.cfg.MaxRetx {
			c.senderLoss.Remove(s)
			out = append(out, c.buildDropReq(s, s))
			continue
		}
		pkt := wire.DataPacket{
			Seq: slot.Seq, Boundary: slot.Boundary, InOrder: slot.InOrder,
			Retransmitted: true, MsgNumber: slot.MsgNumber, TimestampUs: c.nowMicro(),
			DestSocketID: c.remoteSID, Payload: slot.Payload,
		}
		dst := make([]byte, pkt.EncodedLen())
		if _, err := pkt.Encode(dst); err != nil {
			continue
		}
		if c.pacer != nil && !c.pacer.Consume(len(dst)) {
			break
		}
		c.sendBuf.MarkSent(s, now)
		c.stats.PacketsRetransmitted++
		out = append(out, dst)
	}
	return out
}

func (c *Connection) rttInterval() time.Duration {
	if c.rttUs == 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.rttUs) * time.Microsecond
}

func (c *Connection) buildACK(now time.Time) []byte {
	body := wire.AckBody{
		LastAckedSeq:   c.recvBuf.ReadCursor(),
		RTTUs:          c.rttUs,
		RTTVarUs:       c.rttVarUs,
		AvailBufPkts:   uint32(c.recvBuf.Capacity()),
		RecvRatePps:    0,
		EstimatedBwBps: c.estimatedBw(),
	}
	c.nextAckID++
	c.pendingAckID = c.nextAckID
	c.pendingAckSendTime = now
	c.pendingAckValid = true
	pkt := wire.ControlPacket{
		Type: wire.CtrlACK, Info: c.pendingAckID,
		TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID, Body: wire.EncodeACK(body),
	}
	dst := make([]byte, pkt.EncodedLen())
	pkt.Encode(dst)
	return dst
}

func (c *Connection) buildNAKs(ranges []wire.Range) [][]byte {
	var out [][]byte
	const maxRangesPerNAK = 32 // MTU-bounded: 32 ranges * 8B = 256B, well under a 1316B MTU.
	for start := 0; start < len(ranges); start += maxRangesPerNAK {
		end := start + maxRangesPerNAK
		if end > len(ranges) {
			end = len(ranges)
		}
		pkt := wire.ControlPacket{
			Type: wire.CtrlNAK, TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID,
			Body: wire.EncodeNAK(ranges[start:end]),
		}
		dst := make([]byte, pkt.EncodedLen())
		pkt.Encode(dst)
		out = append(out, dst)
	}
	return out
}

func (c *Connection) buildDropReq(start, end seq.Value) []byte {
	pkt := wire.ControlPacket{
		Type: wire.CtrlDropReq, Info: uint32(start), TimestampUs: c.nowMicro(),
		DestSocketID: c.remoteSID, Body: wire.EncodeNAK([]wire.Range{{Start: start, End: end}}),
	}
	dst := make([]byte, pkt.EncodedLen())
	pkt.Encode(dst)
	return dst
}

func (c *Connection) tickClosing(now time.Time) [][]byte {
	drained := c.sendBuf == nil || c.sendBuf.InFlight() == 0
	if drained || now.Sub(c.closingSince) >= c.cfg.LingerTimeout {
		c.state = StateClosed
	}
	return nil
}

func (c *Connection) tickHandshake(now time.Time) [][]byte {
	if c.retryPolicy.Exceeded() {
		c.state = StateClosing
		c.closingSince = now
		c.closeReason = ReasonHandshakeTimeout
		return nil
	}
	if now.Sub(c.lastHandshakeSend) < c.retryPolicy.NextDelay() {
		return nil
	}
	c.retryPolicy.Miss()
	c.lastHandshakeSend = now
	if c.lastHandshakePacket == nil {
		return nil
	}
	return [][]byte{c.lastHandshakePacket}
}

// estimatedBw returns the median packet-pair arrival interval converted to
// a bits-per-second estimate over the rolling window (spec §4.G).
func (c *Connection) estimatedBw() uint32 {
	if c.bwSampleN == 0 {
		return 0
	}
	samples := make([]uint32, c.bwSampleN)
	copy(samples, c.bwSamples[:c.bwSampleN])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	medianUs := samples[len(samples)/2]
	if medianUs == 0 {
		return 0
	}
	return uint32((uint64(c.cfg.MTU) * 8 * 1_000_000) / uint64(medianUs))
}

func (c *Connection) recordArrival(now time.Time) {
	if !c.lastArrival.IsZero() {
		interval := uint32(now.Sub(c.lastArrival).Microseconds())
		c.bwSamples[c.bwSampleNext] = interval
		c.bwSampleNext = (c.bwSampleNext + 1) % bwSampleWindow
		if c.bwSampleN < bwSampleWindow {
			c.bwSampleN++
		}
	}
	c.lastArrival = now
}

func (c *Connection) updateRTT(sampleUs uint32) {
	if c.rttUs == 0 {
		c.rttUs = sampleUs
		c.rttVarUs = sampleUs / 2
		return
	}
	diff := int64(sampleUs) - int64(c.rttUs)
	if diff < 0 {
		diff = -diff
	}
	c.rttVarUs = uint32((int64(c.rttVarUs)*3 + diff) / 4)
	c.rttUs = uint32((int64(c.rttUs)*7 + int64(sampleUs)) / 8)
}
