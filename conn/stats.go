package conn

// Stats is the per-member counter surface referenced by spec §6
// group.stats() and read by the optional metrics.Collector (spec §4.G
// addition).
type Stats struct {
	PacketsSent          uint64
	PacketsReceived      uint64
	PacketsRetransmitted uint64
	PacketsDropped       uint64
	// PacketsRejectedNoHandshake counts data packets received before the
	// connection reached CONNECTED — dropped silently, never delivered
	// (spec §8 scenario 6).
	PacketsRejectedNoHandshake uint64
	BytesSent                  uint64
	BytesReceived              uint64
	DecodeErrors               uint64
	RTTUs                      uint32
	RTTVarUs                   uint32
	EstimatedBwBps             uint32
}
