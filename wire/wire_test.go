package wire_test

import (
	"testing"

	"github.com/multipathsrt/srt/seq"
	"github.com/multipathsrt/srt/wire"
)

func TestDataPacketRoundTrip(t *testing.T) {
	cases := []wire.DataPacket{
		{Seq: seq.New(0), Boundary: wire.BoundarySolo, Key: wire.KeyNone, Payload: []byte("x")},
		{Seq: seq.New(1<<31 - 1), Boundary: wire.BoundaryFirst, Key: wire.KeyEven, InOrder: true,
			MsgNumber: 1<<26 - 1, TimestampUs: 123456, DestSocketID: 0xdeadbeef, Payload: []byte("hello world")},
		{Seq: seq.New(42), Boundary: wire.BoundaryMiddle, Retransmitted: true, Payload: nil},
		{Seq: seq.New(42), Boundary: wire.BoundaryLast, Key: wire.KeyOdd, Payload: make([]byte, 1316)},
	}
	for i, p := range cases {
		buf := make([]byte, p.EncodedLen())
		n, err := p.Encode(buf)
		if err != nil {
			t.Fatalf("case %d: encode: %v", i, err)
		}
		got, err := wire.DecodeData(buf[:n])
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if !got.Equal(p) {
			t.Fatalf("case %d: round trip mismatch: got %+v want %+v", i, got, p)
		}
	}
}

func TestDecodeDataZeroCopyPayload(t *testing.T) {
	p := wire.DataPacket{Seq: seq.New(7), Boundary: wire.BoundarySolo, Payload: []byte("payload")}
	buf := make([]byte, p.EncodedLen())
	p.Encode(buf)
	got, err := wire.DecodeData(buf)
	if err != nil {
		t.Fatal(err)
	}
	buf[wire.HeaderSize] = 'X' // mutate through the original buffer
	if got.Payload[0] != 'X' {
		t.Fatal("expected decoded payload to alias the input buffer (zero-copy)")
	}
}

func TestControlPacketRoundTrip(t *testing.T) {
	cases := []wire.ControlPacket{
		{Type: wire.CtrlKeepalive, TimestampUs: 1, DestSocketID: 2},
		{Type: wire.CtrlShutdown, Subtype: 0, Info: 0, DestSocketID: 99},
		{Type: wire.CtrlACK, Info: 5, Body: wire.EncodeACK(wire.AckBody{LastAckedSeq: seq.New(1000), RTTUs: 20000})},
		{Type: wire.CtrlNAK, Body: wire.EncodeNAK([]wire.Range{{Start: seq.New(10), End: seq.New(10)}})},
	}
	for i, p := range cases {
		buf := make([]byte, p.EncodedLen())
		n, err := p.Encode(buf)
		if err != nil {
			t.Fatalf("case %d: encode: %v", i, err)
		}
		got, err := wire.DecodeControl(buf[:n])
		if err != nil {
			t.Fatalf("case %d: decode: %v", i, err)
		}
		if got.Type != p.Type || got.Subtype != p.Subtype || got.Info != p.Info ||
			got.TimestampUs != p.TimestampUs || got.DestSocketID != p.DestSocketID || string(got.Body) != string(p.Body) {
			t.Fatalf("case %d: round trip mismatch: got %+v want %+v", i, got, p)
		}
	}
}

func TestDecodeDispatchesOnDiscriminator(t *testing.T) {
	d := wire.DataPacket{Seq: seq.New(1), Boundary: wire.BoundarySolo, Payload: []byte("a")}
	buf := make([]byte, d.EncodedLen())
	d.Encode(buf)
	pkt, err := wire.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pkt.(wire.DataPacket); !ok {
		t.Fatalf("expected DataPacket, got %T", pkt)
	}

	c := wire.ControlPacket{Type: wire.CtrlKeepalive}
	buf2 := make([]byte, c.EncodedLen())
	c.Encode(buf2)
	pkt2, err := wire.Decode(buf2)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pkt2.(wire.ControlPacket); !ok {
		t.Fatalf("expected ControlPacket, got %T", pkt2)
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, err := wire.Decode([]byte{1, 2, 3})
	de, ok := err.(*wire.DecodeError)
	if !ok || de.Kind != wire.TooShort {
		t.Fatalf("expected TooShort, got %v", err)
	}
}

func TestDecodeUnknownControlType(t *testing.T) {
	c := wire.ControlPacket{Type: 0x7FFF} // USER_DEFINED is rejected too; this test uses a value with no name at all
	buf := make([]byte, c.EncodedLen())
	c.Encode(buf)
	// Overwrite the type field with a value not in spec's named set (and not USER_DEFINED).
	buf[0] = 0x80 // discriminator + high bits of type
	buf[1] = 0x09 // type = 0x0009, unknown
	_, err := wire.DecodeControl(buf)
	de, ok := err.(*wire.DecodeError)
	if !ok || de.Kind != wire.UnknownControlType {
		t.Fatalf("expected UnknownControlType, got %v", err)
	}
}

func TestDecodeBadKeyFlagCombination(t *testing.T) {
	p := wire.DataPacket{Seq: seq.New(1), Boundary: wire.BoundarySolo, Key: 0b11, Payload: []byte("a")}
	buf := make([]byte, p.EncodedLen())
	p.Encode(buf)
	_, err := wire.DecodeData(buf)
	de, ok := err.(*wire.DecodeError)
	if !ok || de.Kind != wire.BadFlagCombination {
		t.Fatalf("expected BadFlagCombination, got %v", err)
	}
}

func TestNAKEmptyRangesIsNoOp(t *testing.T) {
	body := wire.EncodeNAK(nil)
	if len(body) != 0 {
		t.Fatalf("expected empty body for empty ranges, got %d bytes", len(body))
	}
	ranges, err := wire.DecodeNAK(body)
	if err != nil || len(ranges) != 0 {
		t.Fatalf("expected no-op decode, got %v err=%v", ranges, err)
	}
}

func TestNAKRangeRoundTrip(t *testing.T) {
	in := []wire.Range{
		{Start: seq.New(5), End: seq.New(5)},
		{Start: seq.New(100), End: seq.New(150)},
		{Start: seq.New(1<<31 - 2), End: seq.New(1)}, // wraps around
	}
	body := wire.EncodeNAK(in)
	out, err := wire.DecodeNAK(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d ranges, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("range %d: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestACKBodyTruncated(t *testing.T) {
	_, err := wire.DecodeACK(make([]byte, 4))
	de, ok := err.(*wire.DecodeError)
	if !ok || de.Kind != wire.PayloadTruncated {
		t.Fatalf("expected PayloadTruncated, got %v", err)
	}
}
