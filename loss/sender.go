// Package loss implements both sides' loss tracking: the sender's
// retransmission queue (spec §3 "Sender loss list", §4.F) and the
// receiver's held-range tracker that drives NAK generation (spec §3
// "Receiver loss list", §4.F).
package loss

import (
	"sort"

	"github.com/multipathsrt/srt/seq"
)

// SenderList holds the set of seqs the sender believes are lost and owes a
// retransmission, ordered so PopNext always yields the smallest pending seq
// first (spec §4.F: "retransmission proceeds in ascending seq order").
type SenderList struct {
	pending map[seq.Value]struct{}
}

// NewSenderList constructs an empty sender loss list.
func NewSenderList() *SenderList {
	return &SenderList{pending: make(map[seq.Value]struct{})}
}

// Add records s as lost and owed a retransmission. Adding a seq already
// present is a no-op.
func (l *SenderList) Add(s seq.Value) {
	l.pending[s] = struct{}{}
}

// AddRange records every seq in [start, end] as lost.
func (l *SenderList) AddRange(start, end seq.Value) {
	n := start.Distance(end)
	if n < 0 {
		return
	}
	for s := start; ; s = s.Add(1) {
		l.Add(s)
		if s == end {
			break
		}
	}
}

// Remove clears s, typically once the sender has seen an ACK covering it or
// successfully retransmitted it.
func (l *SenderList) Remove(s seq.Value) {
	delete(l.pending, s)
}

// PopNext removes and returns the smallest pending seq, or ok=false if the
// list is empty.
func (l *SenderList) PopNext() (s seq.Value, ok bool) {
	if len(l.pending) == 0 {
		return 0, false
	}
	first := true
	for cand := range l.pending {
		if first || cand.Less(s) {
			s = cand
			first = false
		}
	}
	delete(l.pending, s)
	return s, true
}

// Len returns the number of seqs currently pending retransmission.
func (l *SenderList) Len() int { return len(l.pending) }

// Contains reports whether s is currently pending retransmission.
func (l *SenderList) Contains(s seq.Value) bool {
	_, ok := l.pending[s]
	return ok
}

// Snapshot returns every pending seq in ascending order. Intended for tests
// and diagnostics, not the hot retransmission path.
func (l *SenderList) Snapshot() []seq.Value {
	out := make([]seq.Value, 0, len(l.pending))
	for s := range l.pending {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
