package loss_test

import (
	"testing"
	"time"

	"github.com/multipathsrt/srt/loss"
	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

func TestSenderListPopsSmallestFirst(t *testing.T) {
	l := loss.NewSenderList()
	l.Add(seq.New(5))
	l.Add(seq.New(2))
	l.Add(seq.New(8))
	want := []uint32{2, 5, 8}
	for _, w := range want {
		s, ok := l.PopNext()
		if !ok || s != seq.New(w) {
			t.Fatalf("expected %d, got %v ok=%v", w, s, ok)
		}
	}
	if _, ok := l.PopNext(); ok {
		t.Fatal("expected empty list")
	}
}

func TestSenderListRemove(t *testing.T) {
	l := loss.NewSenderList()
	l.Add(seq.New(1))
	l.Add(seq.New(2))
	l.Remove(seq.New(1))
	if l.Contains(seq.New(1)) {
		t.Fatal("expected seq 1 removed")
	}
	if !l.Contains(seq.New(2)) {
		t.Fatal("expected seq 2 still present")
	}
}

func TestSenderListAddRange(t *testing.T) {
	l := loss.NewSenderList()
	l.AddRange(seq.New(10), seq.New(13))
	if l.Len() != 4 {
		t.Fatalf("expected 4 pending, got %d", l.Len())
	}
	snap := l.Snapshot()
	for i, want := range []uint32{10, 11, 12, 13} {
		if snap[i] != seq.New(want) {
			t.Fatalf("snapshot[%d] = %v, want %d", i, snap[i], want)
		}
	}
}

func TestReceiverListMergesAdjacentRanges(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(5), seq.New(5))
	l.Add(seq.New(6), seq.New(6))
	if l.Len() != 1 {
		t.Fatalf("expected adjacent ranges merged into 1, got %d", l.Len())
	}
	got := l.Ranges()[0]
	if got.Start != seq.New(5) || got.End != seq.New(6) {
		t.Fatalf("expected merged range [5,6], got %+v", got)
	}
}

func TestReceiverListMergesOverlapping(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(1), seq.New(5))
	l.Add(seq.New(3), seq.New(8))
	if l.Len() != 1 {
		t.Fatalf("expected 1 merged range, got %d: %+v", l.Len(), l.Ranges())
	}
	got := l.Ranges()[0]
	if got.Start != seq.New(1) || got.End != seq.New(8) {
		t.Fatalf("expected [1,8], got %+v", got)
	}
}

func TestReceiverListKeepsDisjointRangesSeparate(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(1), seq.New(2))
	l.Add(seq.New(10), seq.New(12))
	if l.Len() != 2 {
		t.Fatalf("expected 2 disjoint ranges, got %d", l.Len())
	}
}

func TestReceiverListRemoveSplitsRange(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(1), seq.New(5))
	l.Remove(seq.New(3))
	got := l.Ranges()
	if len(got) != 2 {
		t.Fatalf("expected split into 2 ranges, got %+v", got)
	}
	if got[0] != (wire.Range{Start: seq.New(1), End: seq.New(2)}) {
		t.Fatalf("left range wrong: %+v", got[0])
	}
	if got[1] != (wire.Range{Start: seq.New(4), End: seq.New(5)}) {
		t.Fatalf("right range wrong: %+v", got[1])
	}
}

func TestReceiverListRemoveAtBoundaryShrinks(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(1), seq.New(5))
	l.Remove(seq.New(1))
	got := l.Ranges()
	if len(got) != 1 || got[0].Start != seq.New(2) || got[0].End != seq.New(5) {
		t.Fatalf("expected [2,5], got %+v", got)
	}
}

func TestReceiverListRemoveSingleClearsRange(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(7), seq.New(7))
	l.Remove(seq.New(7))
	if l.Len() != 0 {
		t.Fatalf("expected range fully cleared, got %+v", l.Ranges())
	}
}

func TestGetNAKRangesRespectsInterval(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(1), seq.New(1))
	base := time.Now()

	first := l.GetNAKRanges(base, 5*time.Millisecond)
	if len(first) != 1 {
		t.Fatalf("expected first NAK to fire immediately, got %v", first)
	}
	// rtt*4 = 20ms equals the floor; well within that should not re-fire.
	second := l.GetNAKRanges(base.Add(5*time.Millisecond), 5*time.Millisecond)
	if len(second) != 0 {
		t.Fatalf("expected no re-fire before interval elapses, got %v", second)
	}
	third := l.GetNAKRanges(base.Add(25*time.Millisecond), 5*time.Millisecond)
	if len(third) != 1 {
		t.Fatalf("expected re-fire once interval elapses, got %v", third)
	}
}

func TestGetNAKRangesCapsRetries(t *testing.T) {
	l := loss.NewReceiverList()
	l.Add(seq.New(1), seq.New(1))
	now := time.Now()
	for i := 0; i < loss.MaxNAKPerRange; i++ {
		now = now.Add(time.Second)
		if got := l.GetNAKRanges(now, time.Millisecond); len(got) != 1 {
			t.Fatalf("attempt %d: expected 1 NAK, got %v", i, got)
		}
	}
	now = now.Add(time.Second)
	if got := l.GetNAKRanges(now, time.Millisecond); len(got) != 0 {
		t.Fatalf("expected no NAK after MaxNAKPerRange reached, got %v", got)
	}
}
