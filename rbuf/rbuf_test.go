package rbuf_test

import (
	"testing"
	"time"

	"github.com/multipathsrt/srt/rbuf"
	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

func pkt(s uint32, b wire.Boundary, payload string) wire.DataPacket {
	return wire.DataPacket{Seq: seq.New(s), Boundary: b, Payload: []byte(payload)}
}

func TestPushRejectsOutOfWindow(t *testing.T) {
	buf := rbuf.New(8, seq.New(0))
	if err := buf.Push(pkt(8, wire.BoundarySolo, "x"), time.Now()); err != rbuf.ErrOutOfWindow {
		t.Fatalf("expected ErrOutOfWindow at read_cursor+C, got %v", err)
	}
	if err := buf.Push(pkt(7, wire.BoundarySolo, "x"), time.Now()); err != nil {
		t.Fatalf("expected read_cursor+C-1 accepted, got %v", err)
	}
}

func TestPushRejectsDuplicate(t *testing.T) {
	buf := rbuf.New(8, seq.New(0))
	if err := buf.Push(pkt(2, wire.BoundarySolo, "a"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := buf.Push(pkt(2, wire.BoundarySolo, "b"), time.Now()); err != rbuf.ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestPopMessageSolo(t *testing.T) {
	buf := rbuf.New(8, seq.New(0))
	buf.Push(pkt(0, wire.BoundarySolo, "hello"), time.Now())
	if !buf.HasReady() {
		t.Fatal("expected ready message")
	}
	msg, ok := buf.PopMessage()
	if !ok || string(msg) != "hello" {
		t.Fatalf("got %q ok=%v", msg, ok)
	}
	if buf.ReadCursor() != seq.New(1) {
		t.Fatalf("expected read cursor advanced to 1, got %v", buf.ReadCursor())
	}
}

func TestPopMessageFirstMiddleLast(t *testing.T) {
	buf := rbuf.New(8, seq.New(0))
	// Insert out of order.
	buf.Push(pkt(2, wire.BoundaryLast, "C"), time.Now())
	if buf.HasReady() {
		t.Fatal("should not be ready: First slot missing")
	}
	buf.Push(pkt(1, wire.BoundaryMiddle, "B"), time.Now())
	if buf.HasReady() {
		t.Fatal("should not be ready: First slot still missing")
	}
	buf.Push(pkt(0, wire.BoundaryFirst, "A"), time.Now())
	if !buf.HasReady() {
		t.Fatal("expected ready once First/Middle/Last all present")
	}
	msg, ok := buf.PopMessage()
	if !ok || string(msg) != "ABC" {
		t.Fatalf("got %q ok=%v", msg, ok)
	}
	if buf.ReadCursor() != seq.New(3) {
		t.Fatalf("expected read cursor 3, got %v", buf.ReadCursor())
	}
}

func TestGapsReportsMissingRanges(t *testing.T) {
	buf := rbuf.New(16, seq.New(0))
	buf.Push(pkt(0, wire.BoundarySolo, "a"), time.Now())
	buf.Push(pkt(3, wire.BoundarySolo, "d"), time.Now())
	buf.Push(pkt(4, wire.BoundarySolo, "e"), time.Now())
	buf.Push(pkt(7, wire.BoundarySolo, "h"), time.Now())
	gaps := buf.Gaps()
	want := []wire.Range{
		{Start: seq.New(1), End: seq.New(2)},
		{Start: seq.New(5), End: seq.New(6)},
	}
	if len(gaps) != len(want) {
		t.Fatalf("got %v want %v", gaps, want)
	}
	for i := range want {
		if gaps[i] != want[i] {
			t.Fatalf("gap %d: got %+v want %+v", i, gaps[i], want[i])
		}
	}
}

func TestAdvancePastSkipsGapAndFreesSlots(t *testing.T) {
	buf := rbuf.New(16, seq.New(0))
	buf.Push(pkt(5, wire.BoundarySolo, "f"), time.Now())
	buf.AdvancePast(seq.New(5))
	if buf.ReadCursor() != seq.New(5) {
		t.Fatalf("expected read cursor at 5, got %v", buf.ReadCursor())
	}
	if !buf.HasReady() {
		t.Fatal("expected slot 5 still poppable after advancing read cursor to it")
	}
}

func TestNoTwoSlotsHoldSameSeq(t *testing.T) {
	buf := rbuf.New(8, seq.New(0))
	for _, s := range []uint32{0, 1, 2} {
		if err := buf.Push(pkt(s, wire.BoundarySolo, "x"), time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	// Re-pushing any of them must be rejected as duplicate, never silently
	// overwrite a different slot.
	for _, s := range []uint32{0, 1, 2} {
		if err := buf.Push(pkt(s, wire.BoundarySolo, "y"), time.Now()); err != rbuf.ErrDuplicate {
			t.Fatalf("seq %d: expected ErrDuplicate, got %v", s, err)
		}
	}
}
