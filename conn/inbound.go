package conn

import (
	"time"

	"github.com/multipathsrt/srt/handshake"
	"github.com/multipathsrt/srt/wire"
)

const decodeErrMinSample = 10

// HandleInbound decodes and dispatches one received datagram, returning any
// packets that must be sent back immediately (handshake responses,
// ACKACK). A non-nil error is always a *FatalError: the connection has
// already transitioned to CLOSING (spec §4.G failure semantics).
func (c *Connection) HandleInbound(buf []byte, now time.Time) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkt, err := wire.Decode(buf)
	if err != nil {
		ratio, n := c.decodeErrs.record(now, true)
		c.stats.DecodeErrors++
		if n >= decodeErrMinSample && ratio > 0.5 {
			c.state = StateClosing
			c.closingSince = now
			c.closeReason = ReasonProtocolError
			return nil, fatal(ReasonProtocolError)
		}
		return nil, nil
	}
	c.decodeErrs.record(now, false)
	c.lastRxTime = now
	c.stats.PacketsReceived++

	switch p := pkt.(type) {
	case wire.DataPacket:
		return c.handleData(p, now)
	case wire.ControlPacket:
		return c.handleControl(p, now)
	default:
		return nil, nil
	}
}

func (c *Connection) handleData(p wire.DataPacket, now time.Time) ([][]byte, error) {
	if c.state != StateConnected {
		c.stats.PacketsRejectedNoHandshake++
		return nil, nil
	}
	c.recordArrival(now)
	before := c.recvBuf.ReadCursor()
	err := c.recvBuf.Push(p, now)
	switch err {
	case nil:
		c.receiverLoss.Remove(p.Seq)
		c.stats.BytesReceived += uint64(len(p.Payload))
		c.recordRaw(p)
	default:
		// ErrOutOfWindow or ErrDuplicate: count and drop, never fatal
		// (spec §4.G "Out-of-window data packets are counted and dropped").
		c.stats.PacketsDropped++
		return nil, nil
	}
	// Any gap newly opened between the old read cursor and the freshly
	// observed largest seq feeds the receiver loss list for NAK generation.
	for _, g := range c.recvBuf.Gaps() {
		if g.Start.InWindow(before, uint32(before.Distance(c.recvBuf.LargestSeen()))+1) {
			c.receiverLoss.Add(g.Start, g.End)
		}
	}
	return nil, nil
}

// Deliver pops every complete, in-order message currently available.
// Exposed separately from HandleInbound so the caller can drain delivered
// application bytes outside the packet-processing hot path.
func (c *Connection) Deliver() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvBuf == nil {
		return nil
	}
	var out [][]byte
	for {
		msg, ok := c.recvBuf.PopMessage()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

func (c *Connection) handleControl(p wire.ControlPacket, now time.Time) ([][]byte, error) {
	switch p.Type {
	case wire.CtrlHandshake:
		return c.handleHandshake(p, now)
	case wire.CtrlACK:
		return c.handleACK(p, now)
	case wire.CtrlACKACK:
		c.handleACKACK(p, now)
		return nil, nil
	case wire.CtrlNAK:
		c.handleNAK(p)
		return nil, nil
	case wire.CtrlKeepalive:
		return nil, nil
	case wire.CtrlDropReq:
		c.handleDropReq(p)
		return nil, nil
	case wire.CtrlShutdown:
		c.state = StateClosing
		c.closingSince = now
		c.closeReason = ReasonPeerShutdown
		return nil, nil
	case wire.CtrlPeerError:
		c.state = StateClosing
		c.closingSince = now
		c.closeReason = ReasonProtocolError
		return nil, fatal(ReasonProtocolError)
	default:
		// CONGESTION_WARN is ignored. Unknown and user-defined control types
		// never reach here: Decode rejects them and HandleInbound counts them
		// as decode errors.
		return nil, nil
	}
}

func (c *Connection) handleACK(p wire.ControlPacket, now time.Time) ([][]byte, error) {
	body, err := wire.DecodeACK(p.Body)
	if err != nil {
		return nil, nil
	}
	if !c.sendBuf.AckCursor().IsComparable(body.LastAckedSeq) {
		return nil, nil
	}
	if c.sendBuf.NextSeq().Less(body.LastAckedSeq) {
		c.state = StateClosing
		c.closingSince = now
		c.closeReason = ReasonAckForUnsentSeq
		return nil, fatal(ReasonAckForUnsentSeq)
	}
	for cur := c.sendBuf.AckCursor(); cur.Less(body.LastAckedSeq); cur = cur.Add(1) {
		c.senderLoss.Remove(cur)
	}
	c.sendBuf.AcknowledgeUpTo(body.LastAckedSeq)
	c.sendBuf.FlushAcknowledged()

	ackack := wire.ControlPacket{
		Type: wire.CtrlACKACK, Info: p.Info, TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID,
	}
	dst := make([]byte, ackack.EncodedLen())
	ackack.Encode(dst)
	return [][]byte{dst}, nil
}

func (c *Connection) handleACKACK(p wire.ControlPacket, now time.Time) {
	if !c.pendingAckValid || p.Info != c.pendingAckID {
		return
	}
	sampleUs := uint32(now.Sub(c.pendingAckSendTime).Microseconds())
	c.updateRTT(sampleUs)
	c.pendingAckValid = false
}

func (c *Connection) handleNAK(p wire.ControlPacket) {
	ranges, err := wire.DecodeNAK(p.Body)
	if err != nil {
		return
	}
	for _, r := range ranges {
		c.senderLoss.AddRange(r.Start, r.End)
	}
}

func (c *Connection) handleDropReq(p wire.ControlPacket) {
	ranges, err := wire.DecodeNAK(p.Body)
	if err != nil || len(ranges) == 0 {
		return
	}
	for _, r := range ranges {
		c.receiverLoss.Remove(r.Start)
		if r.End != r.Start {
			c.receiverLoss.Remove(r.End)
		}
		c.recvBuf.AdvancePast(r.End.Add(1))
	}
}

func (c *Connection) handleHandshake(p wire.ControlPacket, now time.Time) ([][]byte, error) {
	if len(p.Body) < handshake.BodyLen {
		return nil, nil
	}
	body, err := handshake.Decode(p.Body[:handshake.BodyLen])
	if err != nil {
		return nil, nil
	}
	ext := handshake.DecodeExtBlocks(p.Body[handshake.BodyLen:])

	switch {
	case c.isListener && c.state == StateInit && body.Type == handshake.ConnInduction:
		return c.respondInduction(body, now)
	case c.isCaller && c.state == StateInduction && body.Type == handshake.ConnInduction:
		return c.sendConclusion(body, now)
	case c.isListener && c.state == StateInduction && body.Type == handshake.ConnConclusion:
		return c.respondConclusion(body, ext, now)
	case c.isCaller && c.state == StateConclusion && body.Type == handshake.ConnAgreement:
		c.remoteSID = body.SocketID
		c.peerISN = body.InitialSeq
		c.recvBuf.AdvancePast(c.peerISN)
		c.sendCursor = c.ownISN
		for _, b := range ext {
			if b.Type == handshake.ExtBlockHSRSP {
				if caps, err := handshake.DecodeHSReqCaps(b.Content); err == nil {
					c.tsbpdLatencyMs = caps.RecvLatencyMs
				}
			}
		}
		c.state = StateConnected
		return nil, nil
	default:
		return nil, nil
	}
}

func (c *Connection) respondInduction(peer handshake.Body, now time.Time) ([][]byte, error) {
	c.remoteSID = peer.SocketID
	c.peerISN = peer.InitialSeq
	var cookie uint32
	if c.cookieJar != nil {
		cookie = c.cookieJar.Make(c.remoteAddr, now.Unix())
	}
	resp := handshake.Body{
		Version: handshake.VersionCurrent, Encryption: handshake.EncryptionNone,
		ExtensionFlags: 0, InitialSeq: c.ownISN, MTU: uint32(c.cfg.MTU),
		FlightFlagSize: uint32(c.cfg.RecvWindow), Type: handshake.ConnInduction,
		SocketID: c.localSID, SynCookie: cookie,
	}
	dst, err := c.encodeHandshake(resp, nil)
	if err != nil {
		return nil, nil
	}
	c.state = StateInduction
	return [][]byte{dst}, nil
}

func (c *Connection) sendConclusion(peer handshake.Body, now time.Time) ([][]byte, error) {
	c.remoteSID = peer.SocketID
	c.peerISN = peer.InitialSeq
	c.allocateRecvBuffer()
	caps := handshake.HSReqCaps{
		SRTVersion: uint32(handshake.VersionCurrent), Capabilities: handshake.CapTSBPD,
		SendLatencyMs: c.cfg.TSBPDLatencyMs, RecvLatencyMs: c.cfg.TSBPDLatencyMs,
	}
	body := handshake.Body{
		Version: handshake.VersionCurrent, ExtensionFlags: handshake.ExtHSREQ,
		InitialSeq: c.ownISN, MTU: uint32(c.cfg.MTU), FlightFlagSize: uint32(c.cfg.SendWindow),
		Type: handshake.ConnConclusion, SocketID: c.localSID, SynCookie: peer.SynCookie,
	}
	blocks := []handshake.ExtBlock{{Type: handshake.ExtBlockHSREQ, Content: caps.Encode()}}
	dst, err := c.encodeHandshake(body, blocks)
	if err != nil {
		return nil, nil
	}
	c.state = StateConclusion
	c.lastHandshakePacket = dst
	c.lastHandshakeSend = now
	return [][]byte{dst}, nil
}

func (c *Connection) respondConclusion(peer handshake.Body, ext []handshake.ExtBlock, now time.Time) ([][]byte, error) {
	if c.cookieJar != nil && !c.cookieJar.Validate(c.remoteAddr, now.Unix(), peer.SynCookie) {
		return nil, nil // silent rejection on cookie mismatch (spec §4.C)
	}
	c.remoteSID = peer.SocketID
	c.peerISN = peer.InitialSeq
	c.allocateSendBuffer()
	c.allocateRecvBuffer()

	peerCaps := handshake.HSReqCaps{SendLatencyMs: c.cfg.TSBPDLatencyMs, RecvLatencyMs: c.cfg.TSBPDLatencyMs}
	for _, b := range ext {
		if b.Type == handshake.ExtBlockHSREQ {
			if caps, err := handshake.DecodeHSReqCaps(b.Content); err == nil {
				peerCaps = caps
			}
		}
	}
	localParams := handshake.Params{Version: handshake.VersionCurrent, Capabilities: handshake.CapTSBPD, LatencyMs: c.cfg.TSBPDLatencyMs}
	peerParams := handshake.Params{Version: peer.Version, Capabilities: peerCaps.Capabilities, LatencyMs: peerCaps.SendLatencyMs}
	result, err := handshake.Negotiate(localParams, peerParams)
	if err != nil {
		pkt := wire.ControlPacket{Type: wire.CtrlPeerError, TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID}
		dst := make([]byte, pkt.EncodedLen())
		pkt.Encode(dst)
		c.state = StateClosing
		c.closingSince = now
		c.closeReason = ReasonProtocolError
		return [][]byte{dst}, fatal(ReasonProtocolError)
	}

	resp := handshake.Body{
		Version: result.Version, ExtensionFlags: handshake.ExtHSREQ,
		InitialSeq: c.ownISN, MTU: uint32(c.cfg.MTU), FlightFlagSize: uint32(c.cfg.RecvWindow),
		Type: handshake.ConnAgreement, SocketID: c.localSID,
	}
	respCaps := handshake.HSReqCaps{SRTVersion: uint32(result.Version), Capabilities: result.Capabilities, SendLatencyMs: result.LatencyMs, RecvLatencyMs: result.LatencyMs}
	blocks := []handshake.ExtBlock{{Type: handshake.ExtBlockHSRSP, Content: respCaps.Encode()}}
	dst, encErr := c.encodeHandshake(resp, blocks)
	if encErr != nil {
		return nil, nil
	}
	c.sendCursor = c.ownISN
	c.tsbpdLatencyMs = result.LatencyMs
	c.state = StateConnected
	return [][]byte{dst}, nil
}
