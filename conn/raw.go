package conn

import (
	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

// rawArrivalCap bounds the backlog of undrained raw arrivals. A bonding
// group is expected to drain promptly via its ingress coordinator; this cap
// only guards against unbounded growth if nothing drains it.
const rawArrivalCap = 4096

// RawArrival is one data packet as it was actually received on the wire,
// independent of this connection's own in-order reassembly. A bonding
// group's reassembler (spec §4.J) reads these directly rather than going
// through Deliver, since the group-wide sequence space may be sparse from
// any single member's point of view (balancing mode) or duplicated across
// members (broadcast mode) — either way, per-member in-order delivery is
// the wrong tool for group-level reassembly.
type RawArrival struct {
	Seq       seq.Value
	Boundary  wire.Boundary
	MsgNumber uint32
	Payload   []byte
}

func (c *Connection) recordRaw(p wire.DataPacket) {
	if len(c.rawArrivals) >= rawArrivalCap {
		c.rawArrivals = c.rawArrivals[1:]
	}
	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)
	c.rawArrivals = append(c.rawArrivals, RawArrival{
		Seq: p.Seq, Boundary: p.Boundary, MsgNumber: p.MsgNumber, Payload: payload,
	})
}

// DrainRaw returns and clears every raw arrival captured since the last
// call. Safe to call whether or not anything is grouped; standalone callers
// that never call it simply let the bounded backlog roll over.
func (c *Connection) DrainRaw() []RawArrival {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.rawArrivals
	c.rawArrivals = nil
	return out
}
