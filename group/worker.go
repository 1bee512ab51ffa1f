package group

import (
	"log/slog"
	"net"
	"time"

	"github.com/multipathsrt/srt/conn"
	"github.com/multipathsrt/srt/handshake"
	"github.com/multipathsrt/srt/wire"
)

// payloadBudget returns how many application bytes fit in one data packet
// given the configured MTU, mirroring the teacher's MTU-minus-header
// chunking convention.
func (g *Group) payloadBudget() int {
	budget := g.cfg.Conn.MTU - wire.HeaderSize
	if budget < 1 {
		budget = 1
	}
	return budget
}

// Send chunks payload into MTU-sized data packets and fans each one out
// according to the Group's Mode (spec §4.I).
func (g *Group) Send(payload []byte) (int, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0, &ClosedError{Reason: g.closeReason}
	}
	g.mu.Unlock()

	budget := g.payloadBudget()
	if len(payload) == 0 {
		return 0, nil
	}
	g.msgNum++
	msgNumber := g.msgNum
	sent := 0
	for off := 0; off < len(payload); off += budget {
		end := off + budget
		if end > len(payload) {
			end = len(payload)
		}
		boundary := wire.BoundaryMiddle
		switch {
		case off == 0 && end == len(payload):
			boundary = wire.BoundarySolo
		case off == 0:
			boundary = wire.BoundaryFirst
		case end == len(payload):
			boundary = wire.BoundaryLast
		}
		if err := g.sendChunk(payload[off:end], boundary, msgNumber); err != nil {
			return sent, err
		}
		sent += end - off
	}
	return sent, nil
}

// sendChunk assigns one group-wide seq and dispatches it per mode.
func (g *Group) sendChunk(chunk []byte, boundary wire.Boundary, msgNumber uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.mode {
	case Broadcast:
		return g.sendBroadcastLocked(chunk, boundary, msgNumber)
	case Backup:
		return g.sendBackupLocked(chunk, boundary, msgNumber)
	default:
		return g.sendBalancingLocked(chunk, boundary, msgNumber)
	}
}

// sendBroadcastLocked hands the identical payload, at the identical seq, to
// every healthy member (spec §4.I "Broadcast").
func (g *Group) sendBroadcastLocked(chunk []byte, boundary wire.Boundary, msgNumber uint32) error {
	healthy := g.healthyMembersLocked()
	if len(healthy) == 0 {
		return ErrNoActiveMembers
	}
	s := g.seqr.nextValue()
	var sent int
	for _, i := range healthy {
		m := g.members[i]
		out, err := m.conn.SendAt(chunk, s, boundary, true, msgNumber)
		if err != nil {
			continue
		}
		select {
		case m.txQueue <- out:
			sent++
		default:
			// Slow member TX queue; drop this copy rather than block the
			// whole group's send path.
		}
	}
	if sent == 0 {
		return ErrWouldBlock
	}
	return nil
}

// sendBackupLocked sends only through the current primary, failing the
// member over if it's stale (spec §4.I "Backup").
func (g *Group) sendBackupLocked(chunk []byte, boundary wire.Boundary, msgNumber uint32) error {
	if g.primary < 0 || !g.members[g.primary].healthy() {
		next := g.promoteNextPrimaryLocked(g.primary)
		if next < 0 {
			return ErrNoActiveMembers
		}
		g.primary = next
	}
	s := g.seqr.nextValue()
	m := g.members[g.primary]
	out, err := m.conn.SendAt(chunk, s, boundary, true, msgNumber)
	if err != nil {
		next := g.promoteNextPrimaryLocked(g.primary)
		if next < 0 {
			return ErrNoActiveMembers
		}
		g.primary = next
		m = g.members[g.primary]
		out, err = m.conn.SendAt(chunk, s, boundary, true, msgNumber)
		if err != nil {
			return ErrWouldBlock
		}
	}
	select {
	case m.txQueue <- out:
	default:
		return ErrWouldBlock
	}
	return nil
}

// sendBalancingLocked picks one healthy member weighted by
// estimated_bw/(1+inflight) (spec §4.I "Balancing") and assigns it the
// sparse group-wide seq via SendAt.
func (g *Group) sendBalancingLocked(chunk []byte, boundary wire.Boundary, msgNumber uint32) error {
	healthy := g.healthyMembersLocked()
	if len(healthy) == 0 {
		return ErrNoActiveMembers
	}
	best := -1
	var bestScore float64
	for _, i := range healthy {
		st := g.members[i].conn.Stats()
		score := float64(st.EstimatedBwBps) / float64(1+g.members[i].conn.InFlight())
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	s := g.seqr.nextValue()
	m := g.members[best]
	out, err := m.conn.SendAt(chunk, s, boundary, true, msgNumber)
	if err != nil {
		return ErrWouldBlock
	}
	select {
	case m.txQueue <- out:
	default:
		return ErrWouldBlock
	}
	return nil
}

// Recv returns the next reassembled application message, blocking up to
// the Group's poll interval while waiting (spec §4.I "recv()").
func (g *Group) Recv() ([]byte, error) {
	for attempt := 0; ; attempt++ {
		g.mu.Lock()
		if len(g.recvQueue) > 0 {
			msg := g.recvQueue[0]
			g.recvQueue = g.recvQueue[1:]
			g.mu.Unlock()
			return msg, nil
		}
		if g.closed {
			reason := g.closeReason
			g.mu.Unlock()
			return nil, &ClosedError{Reason: reason}
		}
		g.mu.Unlock()
		if attempt > 0 {
			return nil, ErrRecvWouldBlock
		}
		select {
		case <-g.stopCh:
			return nil, &ClosedError{Reason: ReasonLocalClose}
		case <-time.After(g.cfg.PollInterval):
		}
	}
}

// runMember drives one caller-mode member's own socket: polling for
// inbound datagrams, ticking its retransmit/ACK/keepalive timers, and
// draining its TX queue (spec §5 "per-Connection RX/TX/timer workers").
func (g *Group) runMember(m *member) {
	defer g.wg.Done()
	buf := make([]byte, g.cfg.Conn.MTU)
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case out := <-m.txQueue:
			m.sock.SendTo(out, m.remoteAddr)
		case <-ticker.C:
			now := g.cfg.Conn.Clock.Now()
			g.serviceMember(m, now)
			g.pollMemberOnce(m, buf)
		}
	}
}

// pollMemberOnce performs one non-blocking recv attempt and, on success,
// feeds the resulting raw arrivals to the ingress coordinator.
func (g *Group) pollMemberOnce(m *member, buf []byte) {
	n, _, err := m.sock.RecvFrom(buf)
	if err != nil {
		return
	}
	now := g.cfg.Conn.Clock.Now()
	out, herr := m.conn.HandleInbound(buf[:n], now)
	m.lastRx = now
	for _, b := range out {
		select {
		case m.txQueue <- b:
		default:
		}
	}
	if herr != nil {
		g.markFailed(m, now)
	}
	if arrivals := m.conn.DrainRaw(); len(arrivals) > 0 {
		select {
		case g.ingressCh <- ingressBatch{arrivals: arrivals}:
		default:
			// Ingress coordinator is behind; drop this batch rather than
			// block the member's own poll loop.
		}
	}
}

// serviceMember runs one Connection.Tick and forwards anything it produced,
// marking the member failed if Tick reports the connection closed. In backup
// mode, an active primary that has gone quiet for longer than
// FailoverThreshold loses the primary role without being marked failed
// (spec §4.I "Backup — failover on staleness").
func (g *Group) serviceMember(m *member, now time.Time) {
	out := m.conn.Tick(now)
	for _, b := range out {
		select {
		case m.txQueue <- b:
		default:
		}
	}
	if m.conn.State().IsClosed() {
		g.markFailed(m, now)
		return
	}
	if g.mode == Backup && now.Sub(m.lastRx) > g.cfg.FailoverThreshold {
		g.promoteIfStalePrimary(m, now)
	}
}

// promoteIfStalePrimary switches the active primary away from m without
// marking it permanently failed, so it remains eligible once it recovers
// and becomes primary again on the next failure (spec §4.I "Backup").
func (g *Group) promoteIfStalePrimary(m *member, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.primary < 0 || g.members[g.primary] != m {
		return
	}
	next := g.promoteNextPrimaryLocked(g.primary)
	if next >= 0 && next != g.primary {
		g.log.Info("backup primary stale, promoting",
			slog.String("from", m.id.String()), slog.String("to", g.members[next].id.String()))
		g.primary = next
	}
}

func (g *Group) markFailed(m *member, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m.failed {
		return
	}
	m.failed = true
	m.failedAt = now
	g.log.Warn("member failed", slog.String("member", m.id.String()), slog.String("addr", m.remoteAddr.String()))
	if g.mode == Backup && g.primary >= 0 && g.members[g.primary] == m {
		g.primary = g.promoteNextPrimaryLocked(g.primary)
	}
}

// ingressLoop owns the Reassembler: every arrival from every member's poll
// loop (or the listener's acceptLoop) funnels through here, keeping the
// sliding-window bitmap single-threaded (spec §5 "ingress coordinator").
func (g *Group) ingressLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	reorderTick := time.NewTicker(time.Second)
	defer reorderTick.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case batch := <-g.ingressCh:
			now := g.cfg.Conn.Clock.Now()
			g.mu.Lock()
			for _, a := range batch.arrivals {
				g.reassembler.Arrive(a, now)
			}
			g.recvQueue = append(g.recvQueue, g.reassembler.Drain()...)
			g.mu.Unlock()
		case <-ticker.C:
			now := g.cfg.Conn.Clock.Now()
			g.mu.Lock()
			g.reassembler.Advance(now)
			g.recvQueue = append(g.recvQueue, g.reassembler.Drain()...)
			g.mu.Unlock()
		case <-reorderTick.C:
			g.recomputeReorderWindow()
		}
	}
}

// acceptLoop is the single shared RX/demux loop a listener-mode Group uses,
// since every member rides the same bound socket (spec §5, §6
// "Group::bind_listen").
func (g *Group) acceptLoop() {
	defer g.wg.Done()
	buf := make([]byte, g.cfg.Conn.MTU)
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	cookieJar, err := handshake.NewCookieJar()
	if err != nil {
		return
	}
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			now := g.cfg.Conn.Clock.Now()
			g.mu.Lock()
			members := append([]*member(nil), g.members...)
			g.mu.Unlock()
			for _, m := range members {
				g.serviceMember(m, now)
				for _, b := range drainTxQueueNonBlocking(m) {
					m.sock.SendTo(b, m.remoteAddr)
				}
			}
			n, addr, err := g.listenSock.RecvFrom(buf)
			if err != nil {
				continue
			}
			m := g.memberForAddr(addr, cookieJar, buf[:n])
			if m == nil {
				continue
			}
			out, herr := m.conn.HandleInbound(buf[:n], now)
			m.lastRx = now
			for _, b := range out {
				g.listenSock.SendTo(b, addr)
			}
			if herr != nil {
				g.markFailed(m, now)
			}
			if arrivals := m.conn.DrainRaw(); len(arrivals) > 0 {
				select {
				case g.ingressCh <- ingressBatch{arrivals: arrivals}:
				default:
				}
			}
		}
	}
}

func drainTxQueueNonBlocking(m *member) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-m.txQueue:
			out = append(out, b)
		default:
			return out
		}
	}
}

// memberForAddr returns the existing member for addr. For an unrecognized
// address it allocates a new listener-mode member only if buf itself
// decodes as an induction HANDSHAKE and a path slot remains — spec.md:251
// "listener does not allocate state until the caller proves address
// ownership". Anything else (garbage, off-path control/data packets, a
// HANDSHAKE once numPaths is exhausted) is counted and dropped without ever
// constructing a Connection, so a flood of unsolicited datagrams cannot
// exhaust the group's path budget (spec §8 scenario 6).
func (g *Group) memberForAddr(addr *net.UDPAddr, cookieJar *handshake.CookieJar, buf []byte) *member {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m.remoteAddr.String() == addr.String() {
			return m
		}
	}
	if !isInductionHandshake(buf) {
		g.rejectedBeforeHandshake++
		return nil
	}
	if len(g.members) >= g.numPaths {
		g.rejectedBeforeHandshake++
		return nil
	}
	c := conn.NewListener(g.cfg.Conn, cookieJar)
	c.SetRemoteAddr(addr.AddrPort())
	m := newMember(c, g.listenSock, addr, len(g.members))
	g.members = append(g.members, m)
	if g.primary < 0 {
		g.primary = len(g.members) - 1
	}
	return m
}

// isInductionHandshake reports whether buf decodes as a control packet
// carrying an induction-type handshake body, the only datagram shape
// allowed to bring a brand-new member into existence.
func isInductionHandshake(buf []byte) bool {
	pkt, err := wire.Decode(buf)
	if err != nil {
		return false
	}
	cp, ok := pkt.(wire.ControlPacket)
	if !ok || cp.Type != wire.CtrlHandshake || len(cp.Body) < handshake.BodyLen {
		return false
	}
	body, err := handshake.Decode(cp.Body[:handshake.BodyLen])
	if err != nil {
		return false
	}
	return body.Type == handshake.ConnInduction
}
