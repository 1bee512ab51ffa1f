package seq_test

import (
	"testing"

	"github.com/multipathsrt/srt/seq"
)

func TestAddSubMaskTo31Bits(t *testing.T) {
	v := seq.New(1<<31 - 1) // max valid value
	if v.Add(1) != seq.New(0) {
		t.Fatalf("wraparound add: got %v want 0", v.Add(1))
	}
	if seq.New(0).Sub(1) != v {
		t.Fatalf("wraparound sub: got %v want %v", seq.New(0).Sub(1), v)
	}
}

func TestNewMasksDiscriminatorBit(t *testing.T) {
	v := seq.New(1 << 31) // discriminator bit set
	if v != seq.New(0) {
		t.Fatalf("expected bit 31 masked off, got %v", v)
	}
}

func TestCompareNearWraparound(t *testing.T) {
	near := seq.New(1<<31 - 1)
	zero := seq.New(0)
	if !near.Less(zero) {
		t.Fatalf("expected %v < %v across wraparound", near, zero)
	}
	if !zero.LessOrEqual(zero) {
		t.Fatal("a value must be <= itself")
	}
	if zero.Less(zero) {
		t.Fatal("a value must not be < itself")
	}
}

func TestCompareExactlyOneHolds(t *testing.T) {
	cases := []struct{ a, b seq.Value }{
		{seq.New(10), seq.New(20)},
		{seq.New(20), seq.New(10)},
		{seq.New(5), seq.New(5)},
		{seq.New(1<<31 - 1), seq.New(5)},
	}
	for _, c := range cases {
		lt := c.a.Less(c.b)
		eq := c.a == c.b
		gt := c.b.Less(c.a)
		n := 0
		for _, b := range []bool{lt, eq, gt} {
			if b {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("%v vs %v: expected exactly one of </==/>, got lt=%v eq=%v gt=%v", c.a, c.b, lt, eq, gt)
		}
	}
}

func TestIsComparableRejectsFarApart(t *testing.T) {
	a := seq.New(0)
	b := a.Add(1 << 30) // exactly half the space away: indeterminate
	if a.IsComparable(b) {
		t.Fatalf("expected %v and %v to be incomparable at exactly 2**30 apart", a, b)
	}
	c := a.Add(1<<30 - 1)
	if !a.IsComparable(c) {
		t.Fatalf("expected %v and %v to be comparable just under 2**30 apart", a, c)
	}
}

func TestDistanceRoundTrip(t *testing.T) {
	a := seq.New(100)
	b := a.Add(37)
	if d := a.Distance(b); d != 37 {
		t.Fatalf("distance a->b = %d, want 37", d)
	}
	if d := b.Distance(a); d != -37 {
		t.Fatalf("distance b->a = %d, want -37", d)
	}
}

func TestInWindow(t *testing.T) {
	start := seq.New(1000)
	if !start.InWindow(start, 16) {
		t.Fatal("window start must be in its own window")
	}
	if !start.Add(15).InWindow(start, 16) {
		t.Fatal("last slot of window must be included")
	}
	if start.Add(16).InWindow(start, 16) {
		t.Fatal("one past window must be excluded")
	}
	if start.Sub(1).InWindow(start, 16) {
		t.Fatal("one before window must be excluded")
	}
}

func TestCompareCommutesWithReversedArguments(t *testing.T) {
	a, b := seq.New(42), seq.New(4200)
	if a.Less(b) == b.Less(a) {
		t.Fatalf("a<b and b<a must not both hold (or both fail) for distinct comparable values")
	}
}
