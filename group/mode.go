// Package group implements the bonding layer: a Group fans a single logical
// byte stream out over several member Connections in broadcast, backup, or
// balancing mode, and reassembles/dedups the inbound side into one ordered
// stream (spec §4.I, §4.J).
package group

// Mode selects how a Group fans outbound data across its members (spec
// §3 "Group", §4.I).
type Mode uint8

const (
	// Broadcast duplicates every packet to every member.
	Broadcast Mode = iota
	// Backup sends only via the current primary, failing over to the next
	// member (by priority, then lowest RTT) on primary failure.
	Backup
	// Balancing spreads packets across members weighted by estimated
	// bandwidth over (1 + inflight).
	Balancing
)

func (m Mode) String() string {
	switch m {
	case Broadcast:
		return "broadcast"
	case Backup:
		return "backup"
	case Balancing:
		return "balancing"
	default:
		return "unknown"
	}
}
