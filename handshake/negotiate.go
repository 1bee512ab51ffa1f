package handshake

import (
	"errors"
	"time"

	"github.com/multipathsrt/srt/internal/backoff"
)

// ErrVersionTooOld is returned when neither side speaks a version this spec
// supports (spec §4.C: "must be ≥ 4; otherwise reject with PEERERROR").
var ErrVersionTooOld = errors.New("handshake: negotiated version below 4")

// ErrHandshakeTimeout is the error for a handshake whose retry budget is
// spent, which RetryPolicy.Exceeded reports as true (spec §4.C).
var ErrHandshakeTimeout = errors.New("handshake: timed out after exhausting retries")

// Params is one side's locally-configured handshake parameters.
type Params struct {
	Version      Version
	Capabilities Capability
	LatencyMs    uint16
}

// Result is the negotiated outcome both sides must converge to (spec §4.C;
// spec §8 "commutative-in-capability": the same Result must be produced
// regardless of which side is local/peer).
type Result struct {
	Version      Version
	Capabilities Capability
	LatencyMs    uint16
}

// Negotiate applies the three negotiation rules of spec §4.C: version is
// the min of both sides (rejected below 4), capabilities are bitwise AND,
// latency is the max applied symmetrically.
func Negotiate(local, peer Params) (Result, error) {
	version := local.Version
	if peer.Version < version {
		version = peer.Version
	}
	if version < VersionLegacy {
		return Result{}, ErrVersionTooOld
	}
	latency := local.LatencyMs
	if peer.LatencyMs > latency {
		latency = peer.LatencyMs
	}
	return Result{
		Version:      version,
		Capabilities: local.Capabilities & peer.Capabilities,
		LatencyMs:    latency,
	}, nil
}

// DefaultRetries and DefaultBackoffStart are the handshake retry defaults
// of spec §4.C.
const (
	DefaultRetries      = 5
	DefaultBackoffStart = 250 * time.Millisecond
	DefaultBackoffMax   = DefaultBackoffStart << DefaultRetries
)

// RetryPolicy drives the handshake's retransmit-until-timeout loop. It
// itself performs no I/O or sleeping; the caller (the conn state machine)
// calls NextDelay/Miss in its own timer loop so the policy stays free of
// global state (spec §9 "Global state: none").
type RetryPolicy struct {
	b        backoff.Backoff
	attempts int
	max      int
}

// NewRetryPolicy returns a policy allowing maxRetries retransmissions of the
// induction/conclusion packet, starting at start and doubling up to max.
func NewRetryPolicy(maxRetries int, start, max time.Duration) *RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = DefaultRetries
	}
	b := backoff.New(start, max)
	return &RetryPolicy{b: b, max: maxRetries}
}

// NextDelay returns how long to wait before the next retransmission.
func (p *RetryPolicy) NextDelay() time.Duration { return p.b.Wait() }

// Miss records that a retry elapsed without a response, advancing the
// backoff and the attempt counter.
func (p *RetryPolicy) Miss() {
	p.attempts++
	p.b.Miss()
}

// Exceeded reports whether the retry budget has been spent; the caller
// should fail the connection attempt with ErrHandshakeTimeout.
func (p *RetryPolicy) Exceeded() bool { return p.attempts >= p.max }

// Attempts returns the number of Miss calls so far.
func (p *RetryPolicy) Attempts() int { return p.attempts }
