package handshake_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/multipathsrt/srt/handshake"
	"github.com/multipathsrt/srt/seq"
)

func TestBodyRoundTrip(t *testing.T) {
	b := handshake.Body{
		Version:        handshake.VersionCurrent,
		Encryption:     handshake.EncryptionNone,
		ExtensionFlags: handshake.ExtHSREQ | handshake.ExtGroup,
		InitialSeq:     seq.New(123456),
		MTU:            1500,
		FlightFlagSize: 25600,
		Type:           handshake.ConnConclusion,
		SocketID:       0xaabbccdd,
		SynCookie:      42,
		PeerAddr:       netip.MustParseAddr("192.0.2.1"),
	}
	buf := make([]byte, handshake.BodyLen)
	n, err := b.Encode(buf)
	if err != nil || n != handshake.BodyLen {
		t.Fatalf("encode: n=%d err=%v", n, err)
	}
	got, err := handshake.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != b {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, b)
	}
}

func TestExtensionBlockRoundTrip(t *testing.T) {
	hsreq := handshake.HSReqCaps{SRTVersion: 0x010502, Capabilities: handshake.CapTSBPD | handshake.CapGroups, SendLatencyMs: 120, RecvLatencyMs: 200}
	group := handshake.GroupExt{GroupID: 7, Mode: handshake.GroupModeBackup, Priority: 1, Weight: 0}
	blocks := []handshake.ExtBlock{
		{Type: handshake.ExtBlockHSREQ, Content: hsreq.Encode()},
		{Type: handshake.ExtBlockGroup, Content: group.Encode()},
	}
	buf := handshake.EncodeExtBlocks(blocks)
	got := handshake.DecodeExtBlocks(buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got))
	}
	gotHSReq, err := handshake.DecodeHSReqCaps(got[0].Content)
	if err != nil || gotHSReq != hsreq {
		t.Fatalf("hsreq round trip: got %+v err=%v want %+v", gotHSReq, err, hsreq)
	}
	gotGroup, err := handshake.DecodeGroupExt(got[1].Content)
	if err != nil || gotGroup != group {
		t.Fatalf("group round trip: got %+v err=%v want %+v", gotGroup, err, group)
	}
}

func TestNegotiateVersionClampedToMin(t *testing.T) {
	local := handshake.Params{Version: handshake.VersionCurrent, Capabilities: 0xF}
	peer := handshake.Params{Version: handshake.VersionLegacy, Capabilities: 0xF}
	res, err := handshake.Negotiate(local, peer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Version != handshake.VersionLegacy {
		t.Fatalf("expected version clamped to 4, got %d", res.Version)
	}
}

func TestNegotiateRejectsTooOld(t *testing.T) {
	local := handshake.Params{Version: 3}
	peer := handshake.Params{Version: handshake.VersionCurrent}
	_, err := handshake.Negotiate(local, peer)
	if err != handshake.ErrVersionTooOld {
		t.Fatalf("expected ErrVersionTooOld, got %v", err)
	}
}

func TestNegotiateCommutativeInCapability(t *testing.T) {
	a := handshake.Params{Version: handshake.VersionCurrent, Capabilities: handshake.CapTSBPD | handshake.CapGroups, LatencyMs: 120}
	b := handshake.Params{Version: handshake.VersionCurrent, Capabilities: handshake.CapTSBPD | handshake.CapStreamID, LatencyMs: 200}

	asCaller, err := handshake.Negotiate(a, b)
	if err != nil {
		t.Fatal(err)
	}
	asListener, err := handshake.Negotiate(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if asCaller.Capabilities != asListener.Capabilities {
		t.Fatalf("capabilities not commutative: %v vs %v", asCaller.Capabilities, asListener.Capabilities)
	}
	if asCaller.Capabilities != handshake.CapTSBPD {
		t.Fatalf("expected only shared CapTSBPD, got %v", asCaller.Capabilities)
	}
	if asCaller.LatencyMs != 200 || asListener.LatencyMs != 200 {
		t.Fatalf("expected max latency 200 both ways, got %d/%d", asCaller.LatencyMs, asListener.LatencyMs)
	}
}

func TestCookieValidateAcceptsRecentEpoch(t *testing.T) {
	jar := handshake.NewCookieJarFromSeed([32]byte{1, 2, 3})
	addr := netip.MustParseAddrPort("203.0.113.7:4000")
	now := int64(1_000_000)
	cookie := jar.Make(addr, now)
	if !jar.Validate(addr, now, cookie) {
		t.Fatal("expected cookie to validate at the same epoch")
	}
	if !jar.Validate(addr, now+64, cookie) {
		t.Fatal("expected cookie to validate one epoch later (tolerance window)")
	}
	if jar.Validate(addr, now+128, cookie) {
		t.Fatal("expected cookie to be rejected two epochs later")
	}
}

func TestCookieRejectsWrongAddress(t *testing.T) {
	jar := handshake.NewCookieJarFromSeed([32]byte{9})
	a := netip.MustParseAddrPort("203.0.113.7:4000")
	other := netip.MustParseAddrPort("203.0.113.8:4000")
	cookie := jar.Make(a, 1000)
	if jar.Validate(other, 1000, cookie) {
		t.Fatal("expected cookie bound to source address to reject a different address")
	}
}

func TestRetryPolicyExceeded(t *testing.T) {
	p := handshake.NewRetryPolicy(3, time.Millisecond, time.Second)
	for i := 0; i < 3; i++ {
		if p.Exceeded() {
			t.Fatalf("should not be exceeded after %d misses", i)
		}
		p.Miss()
	}
	if !p.Exceeded() {
		t.Fatal("expected policy to be exceeded after 3 misses with max=3")
	}
}

func TestRetryPolicyBackoffDoublesAndSaturates(t *testing.T) {
	p := handshake.NewRetryPolicy(10, 10*time.Millisecond, 50*time.Millisecond)
	if p.NextDelay() != 10*time.Millisecond {
		t.Fatalf("initial delay = %v, want 10ms", p.NextDelay())
	}
	p.Miss()
	if p.NextDelay() != 20*time.Millisecond {
		t.Fatalf("delay after 1 miss = %v, want 20ms", p.NextDelay())
	}
	p.Miss()
	if p.NextDelay() != 40*time.Millisecond {
		t.Fatalf("delay after 2 misses = %v, want 40ms", p.NextDelay())
	}
	p.Miss()
	if p.NextDelay() != 50*time.Millisecond {
		t.Fatalf("delay after 3 misses = %v, want saturated 50ms", p.NextDelay())
	}
}

func TestRendezvousCookieIssuerIsLowerISN(t *testing.T) {
	low, high := seq.New(100), seq.New(200)
	if !handshake.IsRendezvousCookieIssuer(low, high) {
		t.Fatal("expected lower ISN to be cookie issuer")
	}
	if handshake.IsRendezvousCookieIssuer(high, low) {
		t.Fatal("expected higher ISN to not be cookie issuer")
	}
}
