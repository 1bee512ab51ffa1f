package group

import (
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/multipathsrt/srt/conn"
	"github.com/multipathsrt/srt/nettime"
)

// member is one bonded path (spec §3 "Group — members: ordered set of
// member-id→Connection"). id is a human-readable identifier for logs and
// stats, distinct from the wire-format 32-bit socket id conn.Connection
// carries internally.
type member struct {
	id   xid.ID
	conn *conn.Connection
	sock *nettime.Socket

	remoteAddr *net.UDPAddr

	priority int // lower is preferred; backup-mode failover order
	weight   float64

	failed    bool
	failedAt  time.Time
	lastRx    time.Time
	closed    bool

	txQueue chan []byte
}

const memberTxQueueSize = 64

func newMember(c *conn.Connection, sock *nettime.Socket, remote *net.UDPAddr, priority int) *member {
	return &member{
		id:         xid.New(),
		conn:       c,
		sock:       sock,
		remoteAddr: remote,
		priority:   priority,
		lastRx:     time.Now(),
		txQueue:    make(chan []byte, memberTxQueueSize),
	}
}

// healthy reports whether m can currently carry traffic.
func (m *member) healthy() bool {
	return !m.closed && !m.failed && m.conn.State() == conn.StateConnected
}

func (m *member) staleFor(now time.Time) time.Duration {
	if m.failedAt.IsZero() {
		return 0
	}
	return now.Sub(m.failedAt)
}
