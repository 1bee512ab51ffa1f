package group

import (
	"github.com/rs/xid"

	"github.com/multipathsrt/srt/conn"
)

// MemberStats is one member's identity plus its connection-level counters
// (spec §6 "group.stats() → GroupStats (per-member counters: sent,
// received, retransmitted, dropped, rtt, estimated_bw)").
type MemberStats struct {
	ID      xid.ID
	Addr    string
	Healthy bool
	Primary bool
	conn.Stats
}

// GroupStats is the full stats surface exposed by Group.Stats(), read by
// the optional metrics.Collector.
type GroupStats struct {
	Mode    Mode
	Members []MemberStats
	Reassembler ReassemblerStats
	// RejectedBeforeHandshake counts datagrams from addresses with no
	// registered member that were dropped before any Connection was
	// allocated for them (spec §8 scenario 6, listener-mode demux path).
	RejectedBeforeHandshake uint64
}
