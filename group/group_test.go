package group_test

import (
	"net"
	"testing"
	"time"

	"github.com/multipathsrt/srt/conn"
	"github.com/multipathsrt/srt/group"
)

func testGroupConfig() group.Config {
	cfg := group.DefaultConfig()
	cfg.Conn = conn.DefaultConfig()
	cfg.Conn.SendWindow = 256
	cfg.Conn.RecvWindow = 256
	cfg.Conn.MTU = 1500
	cfg.Conn.AckInterval = 5 * time.Millisecond
	cfg.Conn.KeepaliveInterval = 200 * time.Millisecond
	cfg.Conn.PeerIdleTimeout = 2 * time.Second
	cfg.PollInterval = 2 * time.Millisecond
	return cfg
}

// waitForAllHealthy polls until every member of g reports healthy, or fails
// the test after timeout.
func waitForAllHealthy(t *testing.T, g *group.Group, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s := g.Stats()
		healthy := 0
		for _, m := range s.Members {
			if m.Healthy {
				healthy++
			}
		}
		if healthy >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d healthy members", n)
}

func recvWithTimeout(t *testing.T, g *group.Group, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, err := g.Recv()
		if err == nil {
			return msg
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a delivered message")
	return nil
}

// dualPathGroups spins up a two-path broadcast (or other mode) sender and
// receiver pair on loopback, grounded on spec §8's "two-path broadcast, no
// loss" scenario.
func dualPathGroups(t *testing.T, mode group.Mode, numPaths int) (sender, receiver *group.Group) {
	t.Helper()
	cfg := testGroupConfig()

	recv, err := group.Listen(mode, cfg, "127.0.0.1:0", numPaths)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	// Listen binds one shared socket; discover its address for dialing.
	addr := recv.ListenAddr()

	var targets []group.Target
	for i := 0; i < numPaths; i++ {
		targets = append(targets, group.Target{RemoteAddr: addr, Priority: i})
	}
	snd, err := group.Connect(mode, cfg, targets)
	if err != nil {
		recv.Close()
		t.Fatalf("Connect: %v", err)
	}
	return snd, recv
}

func TestBroadcastTwoPathNoLossDelivers(t *testing.T) {
	snd, recv := dualPathGroups(t, group.Broadcast, 2)
	defer snd.Close()
	defer recv.Close()

	waitForAllHealthy(t, snd, 2, 2*time.Second)
	waitForAllHealthy(t, recv, 2, 2*time.Second)

	payload := []byte("broadcast over two independent paths")
	if _, err := snd.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := recvWithTimeout(t, recv, 2*time.Second)
	if string(msg) != string(payload) {
		t.Fatalf("got %q, want %q", msg, payload)
	}

	stats := recv.Stats()
	if stats.Reassembler.Duplicates == 0 {
		t.Fatalf("expected at least one duplicate arrival from the second path, got 0")
	}
}

func TestBalancingSpreadsAcrossMembers(t *testing.T) {
	snd, recv := dualPathGroups(t, group.Balancing, 2)
	defer snd.Close()
	defer recv.Close()

	waitForAllHealthy(t, snd, 2, 2*time.Second)
	waitForAllHealthy(t, recv, 2, 2*time.Second)

	for i := 0; i < 20; i++ {
		if _, err := snd.Send([]byte("balanced payload chunk")); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	delivered := 0
	deadline := time.Now().Add(2 * time.Second)
	for delivered < 20 && time.Now().Before(deadline) {
		if _, err := recv.Recv(); err == nil {
			delivered++
			continue
		}
		time.Sleep(2 * time.Millisecond)
	}
	if delivered != 20 {
		t.Fatalf("delivered %d of 20 messages", delivered)
	}

	s := snd.Stats()
	for _, m := range s.Members {
		if m.PacketsSent == 0 {
			t.Errorf("member %s never carried any traffic under balancing mode", m.ID)
		}
	}
}

func TestBackupFailsOverToSecondaryOnPrimaryClose(t *testing.T) {
	cfg := testGroupConfig()
	cfg.FailoverThreshold = 50 * time.Millisecond

	recv, err := group.Listen(group.Backup, cfg, "127.0.0.1:0", 2)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer recv.Close()
	addr := recv.ListenAddr()

	snd, err := group.Connect(group.Backup, cfg, []group.Target{
		{RemoteAddr: addr, Priority: 0},
		{RemoteAddr: addr, Priority: 1},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer snd.Close()

	waitForAllHealthy(t, snd, 2, 2*time.Second)

	if _, err := snd.Send([]byte("before failover")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	recvWithTimeout(t, recv, 2*time.Second)

	primaryBefore := snd.Stats().Members[0]
	snd.RemoveMember(primaryBefore.ID)

	deadline := time.Now().Add(2 * time.Second)
	var sendErr error
	for time.Now().Before(deadline) {
		if _, sendErr = snd.Send([]byte("after failover")); sendErr == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sendErr != nil {
		t.Fatalf("Send after failover: %v", sendErr)
	}
	recvWithTimeout(t, recv, 2*time.Second)
}

// TestListenerRejectsRawDatagramsBeforeHandshake exercises spec §8 scenario
// 6 at the Group level: a listener that has never completed a handshake
// with a given source address must drop every datagram from it without
// allocating a member/Connection, so a flood of unsolicited traffic cannot
// exhaust numPaths and lock out legitimate peers.
func TestListenerRejectsRawDatagramsBeforeHandshake(t *testing.T) {
	cfg := testGroupConfig()
	recv, err := group.Listen(group.Broadcast, cfg, "127.0.0.1:0", 1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer recv.Close()
	addr := recv.ListenAddr()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	sock, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer sock.Close()

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := sock.Write([]byte("not a handshake")); err != nil {
			t.Fatalf("Write #%d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recv.Stats().RejectedBeforeHandshake >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := recv.Stats()
	if stats.RejectedBeforeHandshake != n {
		t.Fatalf("RejectedBeforeHandshake = %d, want %d", stats.RejectedBeforeHandshake, n)
	}
	if len(stats.Members) != 0 {
		t.Fatalf("expected no member allocated for pre-handshake garbage, got %d", len(stats.Members))
	}

	// The single path slot must still be available to a legitimate caller.
	snd, err := group.Connect(group.Broadcast, cfg, []group.Target{{RemoteAddr: addr}})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer snd.Close()
	waitForAllHealthy(t, snd, 1, 2*time.Second)
}

func TestGroupCloseIsIdempotentAndUnblocksRecv(t *testing.T) {
	cfg := testGroupConfig()
	recv, err := group.Listen(group.Broadcast, cfg, "127.0.0.1:0", 1)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := recv.ListenAddr()
	snd, err := group.Connect(group.Broadcast, cfg, []group.Target{{RemoteAddr: addr}})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForAllHealthy(t, snd, 1, 2*time.Second)

	if err := recv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := recv.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := recv.Recv(); err == nil {
		t.Fatalf("expected Recv to report closed after Close")
	}
	snd.Close()
}
