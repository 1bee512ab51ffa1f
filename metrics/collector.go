// Package metrics exposes a Group's per-member and reassembler counters as
// a prometheus.Collector, grounded on the sockstats/conniver exporter
// packages' conn-keyed Collect pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/multipathsrt/srt/group"
)

// Collector adapts a *group.Group to prometheus.Collector. It holds no
// state of its own beyond the Group reference: every Collect call re-reads
// Group.Stats(), so there is nothing to keep in sync and nothing to leak
// when members come and go.
type Collector struct {
	g      *group.Group
	prefix string

	sent              *prometheus.Desc
	received          *prometheus.Desc
	retransmitted     *prometheus.Desc
	dropped           *prometheus.Desc
	rejectedNoHandshake *prometheus.Desc
	bytesSent         *prometheus.Desc
	bytesRecv         *prometheus.Desc
	decodeErrors      *prometheus.Desc
	rttUs             *prometheus.Desc
	rttVarUs          *prometheus.Desc
	estimatedBw       *prometheus.Desc
	healthy           *prometheus.Desc
	primary           *prometheus.Desc

	reassemblerDuplicates *prometheus.Desc
	reassemblerStale      *prometheus.Desc
	reassemblerLoss       *prometheus.Desc
	reassemblerDelivered  *prometheus.Desc
	reorderWindowMs       *prometheus.Desc
	rejectedBeforeHandshake *prometheus.Desc
}

// New builds a Collector for g. prefix namespaces every metric name (e.g.
// "srt" yields "srt_member_packets_sent_total").
func New(g *group.Group, prefix string) *Collector {
	memberLabels := []string{"member_id", "addr"}
	c := &Collector{g: g, prefix: prefix}
	c.sent = prometheus.NewDesc(prefix+"_member_packets_sent_total", "Data packets sent on this member.", memberLabels, nil)
	c.received = prometheus.NewDesc(prefix+"_member_packets_received_total", "Data packets received on this member.", memberLabels, nil)
	c.retransmitted = prometheus.NewDesc(prefix+"_member_packets_retransmitted_total", "Data packets retransmitted on this member.", memberLabels, nil)
	c.dropped = prometheus.NewDesc(prefix+"_member_packets_dropped_total", "Data packets dropped on this member.", memberLabels, nil)
	c.rejectedNoHandshake = prometheus.NewDesc(prefix+"_member_packets_rejected_no_handshake_total", "Data packets rejected because the connection had not reached Connected.", memberLabels, nil)
	c.bytesSent = prometheus.NewDesc(prefix+"_member_bytes_sent_total", "Payload bytes sent on this member.", memberLabels, nil)
	c.bytesRecv = prometheus.NewDesc(prefix+"_member_bytes_received_total", "Payload bytes received on this member.", memberLabels, nil)
	c.decodeErrors = prometheus.NewDesc(prefix+"_member_decode_errors_total", "Packets that failed to decode on this member.", memberLabels, nil)
	c.rttUs = prometheus.NewDesc(prefix+"_member_rtt_microseconds", "Smoothed RTT estimate for this member.", memberLabels, nil)
	c.rttVarUs = prometheus.NewDesc(prefix+"_member_rtt_variance_microseconds", "Smoothed RTT variance for this member.", memberLabels, nil)
	c.estimatedBw = prometheus.NewDesc(prefix+"_member_estimated_bandwidth_bps", "Packet-pair bandwidth estimate for this member.", memberLabels, nil)
	c.healthy = prometheus.NewDesc(prefix+"_member_healthy", "1 if this member is currently able to carry traffic.", memberLabels, nil)
	c.primary = prometheus.NewDesc(prefix+"_member_primary", "1 if this member is the active backup-mode primary.", memberLabels, nil)

	c.reassemblerDuplicates = prometheus.NewDesc(prefix+"_reassembler_duplicates_total", "Cross-member duplicate arrivals dropped.", nil, nil)
	c.reassemblerStale = prometheus.NewDesc(prefix+"_reassembler_stale_total", "Arrivals dropped as already-delivered or out of window.", nil, nil)
	c.reassemblerLoss = prometheus.NewDesc(prefix+"_reassembler_reported_loss_total", "Sequence gaps declared permanently lost after the reorder window expired.", nil, nil)
	c.reassemblerDelivered = prometheus.NewDesc(prefix+"_reassembler_delivered_bytes_total", "Bytes delivered to the application.", nil, nil)
	c.reorderWindowMs = prometheus.NewDesc(prefix+"_reassembler_reorder_window_milliseconds", "Current reorder window.", nil, nil)
	c.rejectedBeforeHandshake = prometheus.NewDesc(prefix+"_rejected_before_handshake_total", "Datagrams from unrecognized addresses dropped before a Connection was allocated.", nil, nil)
	return c
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.sent
	descs <- c.received
	descs <- c.retransmitted
	descs <- c.dropped
	descs <- c.rejectedNoHandshake
	descs <- c.bytesSent
	descs <- c.bytesRecv
	descs <- c.decodeErrors
	descs <- c.rttUs
	descs <- c.rttVarUs
	descs <- c.estimatedBw
	descs <- c.healthy
	descs <- c.primary
	descs <- c.reassemblerDuplicates
	descs <- c.reassemblerStale
	descs <- c.reassemblerLoss
	descs <- c.reassemblerDelivered
	descs <- c.reorderWindowMs
	descs <- c.rejectedBeforeHandshake
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.g.Stats()
	for _, m := range stats.Members {
		labels := []string{m.ID.String(), m.Addr}
		ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(m.PacketsSent), labels...)
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(m.PacketsReceived), labels...)
		ch <- prometheus.MustNewConstMetric(c.retransmitted, prometheus.CounterValue, float64(m.PacketsRetransmitted), labels...)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(m.PacketsDropped), labels...)
		ch <- prometheus.MustNewConstMetric(c.rejectedNoHandshake, prometheus.CounterValue, float64(m.PacketsRejectedNoHandshake), labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(m.BytesSent), labels...)
		ch <- prometheus.MustNewConstMetric(c.bytesRecv, prometheus.CounterValue, float64(m.BytesReceived), labels...)
		ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(m.DecodeErrors), labels...)
		ch <- prometheus.MustNewConstMetric(c.rttUs, prometheus.GaugeValue, float64(m.RTTUs), labels...)
		ch <- prometheus.MustNewConstMetric(c.rttVarUs, prometheus.GaugeValue, float64(m.RTTVarUs), labels...)
		ch <- prometheus.MustNewConstMetric(c.estimatedBw, prometheus.GaugeValue, float64(m.EstimatedBwBps), labels...)
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolToFloat(m.Healthy), labels...)
		ch <- prometheus.MustNewConstMetric(c.primary, prometheus.GaugeValue, boolToFloat(m.Primary), labels...)
	}
	r := stats.Reassembler
	ch <- prometheus.MustNewConstMetric(c.reassemblerDuplicates, prometheus.CounterValue, float64(r.Duplicates))
	ch <- prometheus.MustNewConstMetric(c.reassemblerStale, prometheus.CounterValue, float64(r.Stale))
	ch <- prometheus.MustNewConstMetric(c.reassemblerLoss, prometheus.CounterValue, float64(r.ReportedLoss))
	ch <- prometheus.MustNewConstMetric(c.reassemblerDelivered, prometheus.CounterValue, float64(r.DeliveredBytes))
	ch <- prometheus.MustNewConstMetric(c.reorderWindowMs, prometheus.GaugeValue, float64(r.ReorderWindow.Milliseconds()))
	ch <- prometheus.MustNewConstMetric(c.rejectedBeforeHandshake, prometheus.CounterValue, float64(stats.RejectedBeforeHandshake))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
