package group

import (
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/multipathsrt/srt/conn"
	"github.com/multipathsrt/srt/internal/logx"
	"github.com/multipathsrt/srt/nettime"
	"github.com/multipathsrt/srt/seq"
)

// Target names one path a caller-mode Group should dial (spec §6
// "Group::connect(mode, [(addr, local_bind?)]+)").
type Target struct {
	RemoteAddr string
	LocalAddr  string // "" binds an ephemeral local port
	Priority   int    // lower is preferred as backup-mode primary
}

// Config configures a Group and the conn.Config every member inherits.
type Config struct {
	Conn              conn.Config
	FailoverThreshold time.Duration // backup mode; default 500ms
	ReorderWindowMs   uint16        // 0 selects the dynamic spec §4.J default
	PollInterval      time.Duration // per-member run-loop cadence; default 5ms
	Logger            *logx.Logger
}

// DefaultConfig returns the spec's documented group-level defaults.
func DefaultConfig() Config {
	return Config{
		Conn:              conn.DefaultConfig(),
		FailoverThreshold: 500 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.FailoverThreshold == 0 {
		c.FailoverThreshold = d.FailoverThreshold
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Conn.MTU == 0 {
		c.Conn.MTU = d.Conn.MTU
	}
	if c.Conn.Clock == nil {
		c.Conn.Clock = nettime.NewSystemClock()
	}
}

type ingressBatch struct {
	arrivals []conn.RawArrival
}

// Group owns 1..N member Connections sharing one logical stream (spec §3
// "Group", §4.I, §4.J).
type Group struct {
	mu     sync.Mutex
	mode   Mode
	cfg    Config
	log    logx.Logger
	members []*member

	isListener bool
	listenSock *nettime.Socket
	numPaths   int

	primary int // index into members; -1 if none (backup mode)
	seqr    sequencer
	msgNum  uint32

	reassembler *Reassembler
	recvQueue   [][]byte

	closed      bool
	closeReason string

	// rejectedBeforeHandshake counts datagrams from unrecognized addresses
	// dropped because they did not decode as an induction HANDSHAKE, or
	// arrived once numPaths was already exhausted (spec.md:251 "listener
	// does not allocate state until the caller proves address ownership").
	// Only touched under g.mu, by acceptLoop's single demux goroutine.
	rejectedBeforeHandshake uint64

	stopCh    chan struct{}
	wg        sync.WaitGroup
	ingressCh chan ingressBatch
}

func newGroup(mode Mode, cfg Config) *Group {
	g := &Group{
		mode:    mode,
		cfg:     cfg,
		primary: -1,
		stopCh:  make(chan struct{}),
		ingressCh: make(chan ingressBatch, 256),
	}
	if cfg.Logger != nil {
		g.log = *cfg.Logger
	}
	windowPackets := 2 * cfg.Conn.SendWindow
	g.reassembler = NewReassembler(windowPackets, 0, reorderWindowDefault(cfg))
	return g
}

func reorderWindowDefault(cfg Config) time.Duration {
	if cfg.ReorderWindowMs != 0 {
		return time.Duration(cfg.ReorderWindowMs) * time.Millisecond
	}
	return 50 * time.Millisecond
}

// Connect dials every target as a caller-mode member and returns once every
// induction handshake has been sent (not necessarily completed — member
// run loops carry the handshake forward; spec §6 "Group::connect").
func Connect(mode Mode, cfg Config, targets []Target) (*Group, error) {
	cfg.setDefaults()
	g := newGroup(mode, cfg)
	for _, t := range targets {
		if err := g.dial(t); err != nil {
			g.Close()
			return nil, err
		}
	}
	if len(g.members) > 0 {
		g.seqr.reset(seq.New(g.members[0].conn.LocalSocketID()))
	}
	g.start()
	return g, nil
}

func (g *Group) dial(t Target) error {
	sock, err := nettime.Bind(t.LocalAddr)
	if err != nil {
		return err
	}
	raddr, err := net.ResolveUDPAddr("udp", t.RemoteAddr)
	if err != nil {
		sock.Close()
		return err
	}
	c := conn.NewCaller(g.cfg.Conn, raddr.AddrPort())
	induction, err := c.Connect()
	if err != nil {
		sock.Close()
		return err
	}
	if err := sock.SendTo(induction, raddr); err != nil {
		sock.Close()
		return err
	}
	m := newMember(c, sock, raddr, t.Priority)
	g.members = append(g.members, m)
	if g.primary < 0 {
		g.primary = len(g.members) - 1
	}
	return nil
}

// Listen binds one socket and demultiplexes up to numPaths concurrent
// member connections by source address (spec §6
// "Group::bind_listen(addr, mode)").
func Listen(mode Mode, cfg Config, addr string, numPaths int) (*Group, error) {
	cfg.setDefaults()
	sock, err := nettime.Bind(addr)
	if err != nil {
		return nil, err
	}
	g := newGroup(mode, cfg)
	g.isListener = true
	g.listenSock = sock
	g.numPaths = numPaths
	g.wg.Add(2)
	go g.acceptLoop()
	go g.ingressLoop()
	return g, nil
}

func (g *Group) start() {
	g.wg.Add(1)
	go g.ingressLoop()
	g.mu.Lock()
	members := append([]*member(nil), g.members...)
	g.mu.Unlock()
	for _, m := range members {
		g.wg.Add(1)
		go g.runMember(m)
	}
}

// AddMember dials an additional caller-mode path at runtime (spec §4.I
// "add_member(addr, config)").
func (g *Group) AddMember(t Target) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return &ClosedError{Reason: ReasonLocalClose}
	}
	if err := g.dial(t); err != nil {
		g.mu.Unlock()
		return err
	}
	m := g.members[len(g.members)-1]
	g.mu.Unlock()
	g.wg.Add(1)
	go g.runMember(m)
	return nil
}

// RemoveMember closes and drops the member with the given id (spec §4.I
// "remove_member(id)").
func (g *Group) RemoveMember(id xid.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m.id == id && !m.closed {
			m.closed = true
			if shutdown := m.conn.Close(); shutdown != nil {
				m.sock.SendTo(shutdown, m.remoteAddr)
			}
			if !g.isListener {
				m.sock.Close()
			}
		}
	}
}

// Close tears the Group and every member down (spec §4.I "close()").
func (g *Group) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.closeReason = ReasonLocalClose
	for _, m := range g.members {
		if m.closed {
			continue
		}
		m.closed = true
		if shutdown := m.conn.Close(); shutdown != nil {
			m.sock.SendTo(shutdown, m.remoteAddr)
		}
	}
	if g.isListener {
		if g.listenSock != nil {
			g.listenSock.Close()
		}
	} else {
		for _, m := range g.members {
			m.sock.Close()
		}
	}
	g.mu.Unlock()
	close(g.stopCh)
	g.wg.Wait()
	return nil
}

// ListenAddr returns the local address a listener-mode Group is bound to,
// for callers to dial. Empty for caller-mode groups.
func (g *Group) ListenAddr() string {
	if g.listenSock == nil {
		return ""
	}
	return g.listenSock.LocalAddr().String()
}

// Stats snapshots every member's counters plus the reassembler's (spec §6
// "group.stats()").
func (g *Group) Stats() GroupStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := GroupStats{Mode: g.mode, Reassembler: g.reassembler.Stats(), RejectedBeforeHandshake: g.rejectedBeforeHandshake}
	for i, m := range g.members {
		out.Members = append(out.Members, MemberStats{
			ID: m.id, Addr: m.remoteAddr.String(), Healthy: m.healthy(),
			Primary: g.mode == Backup && i == g.primary, Stats: m.conn.Stats(),
		})
	}
	return out
}

// healthyMembersLocked returns the indices of members able to carry
// traffic right now. Caller must hold g.mu.
func (g *Group) healthyMembersLocked() []int {
	var out []int
	for i, m := range g.members {
		if m.healthy() {
			out = append(out, i)
		}
	}
	return out
}

// recomputeReorderWindow implements spec §4.J's dynamic default: max(member
// RTT) + 2*max(member RTT variance) + 50ms, recomputed each second by the
// ingress coordinator loop; the cfg override always wins if set.
func (g *Group) recomputeReorderWindow() {
	if g.cfg.ReorderWindowMs != 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var maxRTT, maxRTTVar uint32
	for _, m := range g.members {
		s := m.conn.Stats()
		if s.RTTUs > maxRTT {
			maxRTT = s.RTTUs
		}
		if s.RTTVarUs > maxRTTVar {
			maxRTTVar = s.RTTVarUs
		}
	}
	window := time.Duration(maxRTT)*time.Microsecond + 2*time.Duration(maxRTTVar)*time.Microsecond + 50*time.Millisecond
	g.reassembler.SetReorderWindow(window)
}

// promoteNextPrimaryLocked selects the next backup-mode primary by lowest
// priority, then lowest RTT, among healthy members (spec §4.I "Backup").
// Caller must hold g.mu.
func (g *Group) promoteNextPrimaryLocked(exclude int) int {
	candidates := g.healthyMembersLocked()
	best := -1
	for _, i := range candidates {
		if i == exclude {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		a, b := g.members[i], g.members[best]
		if a.priority != b.priority {
			if a.priority < b.priority {
				best = i
			}
			continue
		}
		if a.conn.Stats().RTTUs < b.conn.Stats().RTTUs {
			best = i
		}
	}
	return best
}
