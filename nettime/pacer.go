package nettime

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultMTU is the safe payload size used when the source is unknown
// (spec §6): 7 MPEG-TS packets of 188 bytes.
const DefaultMTU = 1316

// Pacer is the sender's token bucket, refilled at rate_bps/8 bytes per
// second and capped at burst (default MTU*16, spec §4.H). It wraps
// golang.org/x/time/rate rather than hand-rolling a bucket.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer constructs a Pacer allowing rateBps bits per second, bursting up
// to burstBytes.
func NewPacer(rateBps float64, burstBytes int) *Pacer {
	if burstBytes <= 0 {
		burstBytes = DefaultMTU * 16
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rateBps/8), burstBytes)}
}

// Consume reports whether n bytes may be sent now, deducting them from the
// bucket if so. It never blocks (spec §4.H: consume(n_bytes) → bool).
func (p *Pacer) Consume(n int) bool {
	return p.limiter.AllowN(time.Now(), n)
}

// SetRate adjusts the refill rate in bits per second, e.g. in response to a
// fresh bandwidth estimate.
func (p *Pacer) SetRate(rateBps float64) {
	p.limiter.SetLimit(rate.Limit(rateBps / 8))
}

// SetBurst adjusts the bucket's burst capacity in bytes.
func (p *Pacer) SetBurst(burstBytes int) {
	p.limiter.SetBurst(burstBytes)
}
