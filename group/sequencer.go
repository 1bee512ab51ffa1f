package group

import (
	"sync/atomic"

	"github.com/multipathsrt/srt/seq"
)

// sequencer is the group's single group-wide sequence counter (spec §5
// "The sequence space in the Group egress is a single atomic counter"). Its
// zero value starts at seq 0; callers needing a random ISN-like baseline
// call reset once, before any data flows.
type sequencer struct {
	next atomic.Uint32
}

func (s *sequencer) reset(base seq.Value) { s.next.Store(uint32(base)) }

// nextValue atomically assigns and returns the next group-wide sequence.
func (s *sequencer) nextValue() seq.Value {
	v := s.next.Add(1) - 1
	return seq.New(v)
}

// peek returns the seq that nextValue would assign next, without consuming
// it.
func (s *sequencer) peek() seq.Value { return seq.New(s.next.Load()) }
