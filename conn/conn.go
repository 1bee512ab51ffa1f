package conn

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync"
	"time"

	"github.com/multipathsrt/srt/handshake"
	"github.com/multipathsrt/srt/internal/logx"
	"github.com/multipathsrt/srt/loss"
	"github.com/multipathsrt/srt/nettime"
	"github.com/multipathsrt/srt/rbuf"
	"github.com/multipathsrt/srt/sbuf"
	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// Config configures a Connection. Every field has a documented zero value;
// DefaultConfig returns the spec's documented defaults (spec §2 ambient
// stack: "No environment variables; every constructor takes a Config
// struct").
type Config struct {
	SendWindow        int // packets; rounded up to a power of two
	RecvWindow        int // packets; rounded up to a power of two
	MTU               int
	AckInterval       time.Duration
	KeepaliveInterval time.Duration
	PeerIdleTimeout   time.Duration
	LingerTimeout     time.Duration
	MaxRetx           int
	MaxNAKPerRange    int
	SendTTL           time.Duration
	TSBPDLatencyMs    uint16
	PacerRateBps      float64
	PacerBurstBytes   int
	HandshakeRetries  int
	HandshakeBackoff  time.Duration
	Clock             nettime.Clock
	Logger            *logx.Logger
}

// DefaultConfig returns the spec's documented per-tick defaults (spec §4.G,
// §4.F).
func DefaultConfig() Config {
	return Config{
		SendWindow:        4096,
		RecvWindow:        4096,
		MTU:               nettime.DefaultMTU,
		AckInterval:       10 * time.Millisecond,
		KeepaliveInterval: 1 * time.Second,
		PeerIdleTimeout:   5 * time.Second,
		LingerTimeout:     3 * time.Second,
		MaxRetx:           16,
		MaxNAKPerRange:    loss.MaxNAKPerRange,
		SendTTL:           0, // 0 disables TTL-based drop
		TSBPDLatencyMs:    120,
		PacerRateBps:      0, // 0 disables pacing
		PacerBurstBytes:   0,
		HandshakeRetries:  handshake.DefaultRetries,
		HandshakeBackoff:  handshake.DefaultBackoffStart,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.SendWindow == 0 {
		c.SendWindow = d.SendWindow
	}
	if c.RecvWindow == 0 {
		c.RecvWindow = d.RecvWindow
	}
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.AckInterval == 0 {
		c.AckInterval = d.AckInterval
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = d.KeepaliveInterval
	}
	if c.PeerIdleTimeout == 0 {
		c.PeerIdleTimeout = d.PeerIdleTimeout
	}
	if c.LingerTimeout == 0 {
		c.LingerTimeout = d.LingerTimeout
	}
	if c.MaxRetx == 0 {
		c.MaxRetx = d.MaxRetx
	}
	if c.MaxNAKPerRange == 0 {
		c.MaxNAKPerRange = d.MaxNAKPerRange
	}
	if c.TSBPDLatencyMs == 0 {
		c.TSBPDLatencyMs = d.TSBPDLatencyMs
	}
	if c.HandshakeRetries == 0 {
		c.HandshakeRetries = d.HandshakeRetries
	}
	if c.HandshakeBackoff == 0 {
		c.HandshakeBackoff = d.HandshakeBackoff
	}
	if c.Clock == nil {
		c.Clock = nettime.NewSystemClock()
	}
}

// decodeErrWindow tracks the 1-second sliding window used to decide whether
// the inbound decode-error ratio has exceeded 50% (spec §4.G failure
// semantics).
type decodeErrWindow struct {
	windowStart  time.Time
	total        int
	errs         int
}

func (w *decodeErrWindow) record(now time.Time, isErr bool) (ratio float64, sampleSize int) {
	if now.Sub(w.windowStart) > time.Second {
		w.windowStart = now
		w.total = 0
		w.errs = 0
	}
	w.total++
	if isErr {
		w.errs++
	}
	return float64(w.errs) / float64(w.total), w.total
}

// bwSampleWindow is the number of packet-pair arrival-interval samples
// feeding the rolling bandwidth estimate (spec §4.G: "packet-pair arrival-interval median over
// a rolling window of 16 samples").
const bwSampleWindow = 16

// Connection is the per-connection protocol state machine (spec §3
// "Connection", §4.G).
type Connection struct {
	mu sync.Mutex

	cfg Config

	localSID  uint32
	remoteSID uint32
	remoteAddr netip.AddrPort

	state State

	peerISN seq.Value
	ownISN  seq.Value

	sendBuf      *sbuf.Buffer
	recvBuf      *rbuf.Buffer
	senderLoss   *loss.SenderList
	receiverLoss *loss.ReceiverList

	stats Stats

	lastAckSentTime time.Time
	lastNakSentTime time.Time
	lastRxTime      time.Time
	connStart       time.Time
	closingSince    time.Time

	sendCursor seq.Value

	lastHandshakeSend   time.Time
	lastHandshakePacket []byte

	nextAckID        uint32
	pendingAckID      uint32
	pendingAckSendTime time.Time
	pendingAckValid    bool

	rttUs    uint32
	rttVarUs uint32

	bwSamples    [bwSampleWindow]uint32
	bwSampleN    int
	bwSampleNext int
	lastArrival  time.Time

	pacer *nettime.Pacer

	retryPolicy *handshake.RetryPolicy
	cookieJar   *handshake.CookieJar
	isCaller    bool
	isListener  bool

	tsbpdLatencyMs uint16

	msgNumber uint32

	decodeErrs decodeErrWindow

	closeReason string

	rawArrivals []RawArrival
}

// outbound is a packet queued for delivery by whatever transport owns this
// Connection (a nettime.Socket directly, or a group's member TX worker).
type outbound struct {
	Bytes []byte
}

func randomUint32() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:]) | 1 // never zero (spec §4.C: "own socket id ... random, non-zero")
}

func randomISN() seq.Value {
	var b [4]byte
	rand.Read(b[:])
	return seq.New(binary.BigEndian.Uint32(b[:]))
}

// NewCaller constructs a Connection that will actively dial remoteAddr.
func NewCaller(cfg Config, remoteAddr netip.AddrPort) *Connection {
	cfg.setDefaults()
	c := newConnection(cfg)
	c.remoteAddr = remoteAddr
	c.isCaller = true
	return c
}

// NewListener constructs a Connection that will respond to an inbound
// induction handshake. cookieJar validates SYN cookies on conclusion.
func NewListener(cfg Config, cookieJar *handshake.CookieJar) *Connection {
	cfg.setDefaults()
	c := newConnection(cfg)
	c.isListener = true
	c.cookieJar = cookieJar
	return c
}

func newConnection(cfg Config) *Connection {
	now := cfg.Clock.Now()
	c := &Connection{
		cfg:       cfg,
		localSID:  randomUint32(),
		ownISN:    randomISN(),
		state:     StateInit,
		connStart: now,
		lastRxTime: now,
		senderLoss:   loss.NewSenderList(),
		receiverLoss: loss.NewReceiverList(),
		retryPolicy:  handshake.NewRetryPolicy(cfg.HandshakeRetries, cfg.HandshakeBackoff, handshake.DefaultBackoffMax),
	}
	if cfg.PacerRateBps > 0 {
		c.pacer = nettime.NewPacer(cfg.PacerRateBps, cfg.PacerBurstBytes)
	}
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the connection's counters (spec §4.G
// addition).
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.RTTUs = c.rttUs
	s.RTTVarUs = c.rttVarUs
	s.EstimatedBwBps = c.estimatedBw()
	return s
}

// LocalSocketID returns this connection's own socket id.
func (c *Connection) LocalSocketID() uint32 { return c.localSID }

// InFlight returns the number of data packets sent but not yet
// acknowledged, used by balancing-mode load scoring (spec §4.I
// "estimated_bw/(1+inflight)").
func (c *Connection) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendBuf == nil {
		return 0
	}
	return c.sendBuf.InFlight()
}

// SetRemoteAddr records the address this connection is demuxed from. A
// listener-side Connection (created by a Group/listener demultiplexing
// inbound datagrams by source address) must call this before its first
// HandleInbound so SYN-cookie validation has an address to bind to (spec
// §4.C: "HMAC of (caller_addr, time/64s, secret)").
func (c *Connection) SetRemoteAddr(addr netip.AddrPort) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteAddr = addr
}

func (c *Connection) nowMicro() uint32 {
	return uint32(c.cfg.Clock.Now().Sub(c.connStart).Microseconds())
}

// Connect begins the caller-side handshake, initializing send/recv buffers
// and returning the induction HANDSHAKE bytes to transmit (spec §4.C).
func (c *Connection) Connect() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInit {
		return nil, errWrongState
	}
	c.allocateSendBuffer()
	c.state = StateInduction
	body := handshake.Body{
		Version:        handshake.VersionCurrent,
		Encryption:     handshake.EncryptionNone,
		InitialSeq:     c.ownISN,
		MTU:            uint32(c.cfg.MTU),
		FlightFlagSize: uint32(c.cfg.SendWindow),
		Type:           handshake.ConnInduction,
		SocketID:       c.localSID,
		SynCookie:      0,
	}
	dst, err := c.encodeHandshake(body, nil)
	if err != nil {
		return nil, err
	}
	c.lastHandshakePacket = dst
	c.lastHandshakeSend = c.cfg.Clock.Now()
	return dst, nil
}

func (c *Connection) allocateSendBuffer() {
	if c.sendBuf == nil {
		c.sendBuf = sbuf.New(c.cfg.SendWindow, c.ownISN)
	}
}

// allocateRecvBuffer must only be called once peerISN is known (spec §3
// "read_cursor is the next seq the application expects to consume" —
// meaningless before the handshake establishes the peer's ISN).
func (c *Connection) allocateRecvBuffer() {
	if c.recvBuf == nil {
		c.recvBuf = rbuf.New(c.cfg.RecvWindow, c.peerISN)
	}
}

func (c *Connection) encodeHandshake(body handshake.Body, blocks []handshake.ExtBlock) ([]byte, error) {
	hsBuf := make([]byte, handshake.BodyLen)
	if _, err := body.Encode(hsBuf); err != nil {
		return nil, err
	}
	extBuf := handshake.EncodeExtBlocks(blocks)
	pkt := wire.ControlPacket{
		Type:         wire.CtrlHandshake,
		TimestampUs:  c.nowMicro(),
		DestSocketID: c.remoteSID,
		Body:         append(hsBuf, extBuf...),
	}
	dst := make([]byte, pkt.EncodedLen())
	if _, err := pkt.Encode(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Close begins cooperative shutdown (spec §4.G "any→CLOSING on local
// close()"). It returns a SHUTDOWN control packet to send, or nil if the
// connection was never connected.
func (c *Connection) Close() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsClosing() {
		return nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateClosing
	c.closingSince = c.cfg.Clock.Now()
	c.closeReason = ReasonLocalClose
	if !wasConnected {
		return nil
	}
	pkt := wire.ControlPacket{Type: wire.CtrlShutdown, TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID}
	dst := make([]byte, pkt.EncodedLen())
	pkt.Encode(dst)
	return dst
}

// Send submits payload for transmission, chunked by the caller into
// MTU-sized pieces and tagged with boundary flags (spec §4.D). It fails
// with ErrWouldBlock (never silently drops, spec §7) if the send buffer is
// at capacity.
func (c *Connection) Send(payload []byte, boundary wire.Boundary, inOrder bool) (seq.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return 0, errNotConnected
	}
	if boundary == wire.BoundarySolo || boundary == wire.BoundaryFirst {
		c.msgNumber++
	}
	s, err := c.sendBuf.Push(payload, c.msgNumber&0x3FFFFFF, boundary, inOrder, c.cfg.Clock.Now())
	if err != nil {
		return 0, ErrWouldBlock
	}
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(len(payload))
	return s, nil
}

// AdoptSequenceSpace re-homes this connection's send/receive cursors onto
// base, discarding its independently-negotiated ISN. A bonding group calls
// this immediately after a member reaches CONNECTED and before any data
// flows, so every member shares one absolute sequence space (spec §9 "this
// spec standardises on a single group-wide sequence space assigned by the
// egress coordinator"). It is a no-op once either buffer has handled data.
func (c *Connection) AdoptSequenceSpace(base seq.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendBuf != nil && c.sendBuf.InFlight() == 0 {
		c.sendBuf = sbuf.New(c.cfg.SendWindow, base)
		c.sendCursor = base
	}
	if c.recvBuf != nil && c.recvBuf.ReadCursor() == c.recvBuf.LargestSeen() {
		c.recvBuf = rbuf.New(c.cfg.RecvWindow, base)
	}
}

// SendAt pushes payload at the explicit group-wide sequence s instead of
// this connection's own auto-incrementing cursor (spec §9, balancing mode:
// "a member connection's next_seq is not monotonic-per-member"), and
// immediately returns the encoded wire bytes to transmit — unlike Send, it
// does not wait for the next Tick's drainUnsent sweep, since a sparse,
// group-assigned seq is not necessarily contiguous with what this member
// has sent before.
func (c *Connection) SendAt(payload []byte, s seq.Value, boundary wire.Boundary, inOrder bool, msgNumber uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, errNotConnected
	}
	now := c.cfg.Clock.Now()
	if err := c.sendBuf.PushAt(s, payload, msgNumber&0x3FFFFFF, boundary, inOrder, now); err != nil {
		return nil, ErrWouldBlock
	}
	if c.sendCursor.LessOrEqual(s) {
		c.sendCursor = s.Add(1)
	}
	pkt := wire.DataPacket{
		Seq: s, Boundary: boundary, InOrder: inOrder, MsgNumber: msgNumber & 0x3FFFFFF,
		TimestampUs: c.nowMicro(), DestSocketID: c.remoteSID, Payload: payload,
	}
	dst := make([]byte, pkt.EncodedLen())
	if _, err := pkt.Encode(dst); err != nil {
		return nil, err
	}
	c.sendBuf.MarkSent(s, now)
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(len(payload))
	return dst, nil
}
