package conn

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelnet/kestrel/config"
	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

func testConfig(appID string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.AppIdentifier = appID
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ConnectionTimeout = 500 * time.Millisecond
	cfg.ResendHandshakeInterval = 20 * time.Millisecond
	cfg.MaximumHandshakeAttempts = 3
	return cfg
}

func addr(s string) net.Addr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return a
}

func deliver(t *testing.T, from, to *Connection, frames []OutboundFrame, now time.Time) {
	t.Helper()
	for _, f := range frames {
		hdr := wire.FrameHeader{MessageType: f.Type, Sequence: f.Seq, IsFragment: f.IsFragment}
		f.Payload.Buffer.Rewind()
		in := &message.IncomingMessage{Buffer: f.Payload.Buffer}
		to.Receive(now, hdr, in)
	}
}

// TestHandshakeRoundTrip drives a full local-initiated handshake between
// two simulated Connections and checks both land on Connected.
func TestHandshakeRoundTrip(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")

	client := New(addr("127.0.0.1:9001"), cfg, pool, logger)
	server := New(addr("127.0.0.1:9000"), cfg, pool, logger)

	now := time.Now()
	client.RequestConnect(42, cfg.AppIdentifier, []byte("hail"))

	var clientOut []OutboundFrame
	client.Tick(now, &clientOut)
	if client.Status() != InitiatedConnect {
		t.Fatalf("client status = %v, want InitiatedConnect", client.Status())
	}
	if len(clientOut) != 1 || clientOut[0].Type != wire.Connect {
		t.Fatalf("expected one Connect frame, got %+v", clientOut)
	}

	deliver(t, client, server, clientOut, now)
	if server.Status() != RespondedConnect {
		t.Fatalf("server status = %v, want RespondedConnect", server.Status())
	}

	var serverOut []OutboundFrame
	server.Tick(now, &serverOut)
	if len(serverOut) != 1 || serverOut[0].Type != wire.ConnectResponse {
		t.Fatalf("expected one ConnectResponse frame, got %+v", serverOut)
	}

	deliver(t, server, client, serverOut, now)
	if client.Status() != Connected {
		t.Fatalf("client status = %v, want Connected", client.Status())
	}

	var clientOut2 []OutboundFrame
	client.Tick(now, &clientOut2)
	var established []OutboundFrame
	for _, f := range clientOut2 {
		if f.Type == wire.ConnectionEstablished {
			established = append(established, f)
		}
	}
	if len(established) != 1 {
		t.Fatalf("expected one ConnectionEstablished frame, got %+v", clientOut2)
	}

	deliver(t, client, server, established, now)
	if server.Status() != Connected {
		t.Fatalf("server status = %v, want Connected", server.Status())
	}
}

// TestHandshakeWrongAppIdentifierDisconnects is spec.md's S5 scenario: a
// client handshakes with a mismatched app_identifier and the server sends
// a Disconnect naming the reason, reporting its own status as Disconnected.
func TestHandshakeWrongAppIdentifierDisconnects(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()

	clientCfg := testConfig("client-app")
	serverCfg := testConfig("server-app")

	client := New(addr("127.0.0.1:9001"), clientCfg, pool, logger)
	server := New(addr("127.0.0.1:9000"), serverCfg, pool, logger)

	now := time.Now()
	client.RequestConnect(1, clientCfg.AppIdentifier, nil)

	var clientOut []OutboundFrame
	client.Tick(now, &clientOut)

	deliver(t, client, server, clientOut, now)

	if server.Status() != Disconnected {
		t.Fatalf("server status = %v, want Disconnected", server.Status())
	}

	changes := server.DrainStatusChanges()
	found := false
	for _, c := range changes {
		if c.Status == Disconnected && c.Reason == "Wrong application identifier!" {
			found = true
		}
	}
	if !found {
		t.Fatalf("server status changes = %+v, missing Disconnected/\"Wrong application identifier!\"", changes)
	}

	var serverOut []OutboundFrame
	server.Tick(now, &serverOut)
	if len(serverOut) != 1 || serverOut[0].Type != wire.Disconnect {
		t.Fatalf("expected server to send one Disconnect frame, got %+v", serverOut)
	}

	deliver(t, server, client, serverOut, now)
	if client.Status() != Disconnected {
		t.Fatalf("client status = %v, want Disconnected", client.Status())
	}
}

// TestPingUpdatesRTTAndOffset exercises one Ping/Pong exchange on a pair of
// Connected connections: the first RTT sample seeds the EWMA, and
// remote_time_offset is set to remote_now + rtt/2 - now.
func TestPingUpdatesRTTAndOffset(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")

	client := New(addr("127.0.0.1:9001"), cfg, pool, logger)
	server := New(addr("127.0.0.1:9000"), cfg, pool, logger)

	forceConnected(client)
	forceConnected(server)

	t0 := time.Now()
	var clientOut []OutboundFrame
	client.Tick(t0, &clientOut)

	var pings []OutboundFrame
	for _, f := range clientOut {
		if f.Type == wire.Ping {
			pings = append(pings, f)
		}
	}
	if len(pings) != 1 {
		t.Fatalf("expected one Ping frame, got %+v", clientOut)
	}

	t1 := t0.Add(40 * time.Millisecond)
	deliver(t, client, server, pings, t1)

	var serverOut []OutboundFrame
	server.Tick(t1, &serverOut)
	var pongs []OutboundFrame
	for _, f := range serverOut {
		if f.Type == wire.Pong {
			pongs = append(pongs, f)
		}
	}
	if len(pongs) != 1 {
		t.Fatalf("expected one Pong frame, got %+v", serverOut)
	}

	t2 := t1.Add(40 * time.Millisecond)
	deliver(t, server, client, pongs, t2)

	rtt := client.AverageRTT()
	wantRTT := t2.Sub(t0)
	if rtt != wantRTT {
		t.Fatalf("AverageRTT = %v, want %v (first sample seeds the EWMA)", rtt, wantRTT)
	}

	// Both sides share one clock and the Pong left the server at t1, exactly
	// half-way through the round trip, so the offset is zero up to the 100ns
	// tick resolution of the wire timestamp.
	client.mu.Lock()
	offset := client.remoteTimeOffset
	client.mu.Unlock()
	if offset > 0 || offset <= -100*time.Nanosecond {
		t.Fatalf("remoteTimeOffset = %v, want 0 within one 100ns tick", offset)
	}
}

// forceConnected parks a freshly-constructed Connection directly in
// Connected without running the handshake, for tests that only care about
// post-handshake behavior.
func forceConnected(c *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = Connected
	c.lastPacketRecv = time.Time{}
}

// TestHandshakeTimesOutAfterMaxAttempts drives tickHandshakeRetransmit past
// MaximumHandshakeAttempts with no reply and checks the connection gives up.
func TestHandshakeTimesOutAfterMaxAttempts(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")
	cfg.MaximumHandshakeAttempts = 2

	client := New(addr("127.0.0.1:9001"), cfg, pool, logger)

	now := time.Now()
	client.RequestConnect(1, cfg.AppIdentifier, nil)

	var out []OutboundFrame
	client.Tick(now, &out) // attempt 1, InitiatedConnect

	now = now.Add(cfg.ResendHandshakeInterval * 2)
	out = nil
	client.Tick(now, &out) // attempt 2

	now = now.Add(cfg.ResendHandshakeInterval * 2)
	out = nil
	client.Tick(now, &out) // exceeds MaximumHandshakeAttempts

	if client.Status() != Disconnected {
		t.Fatalf("status = %v, want Disconnected after exhausting handshake attempts", client.Status())
	}
}

// TestRequestDisconnectSendsDisconnectFrame checks the local graceful-close
// path sends a Disconnect frame and lands on Disconnected.
func TestRequestDisconnectSendsDisconnectFrame(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")

	client := New(addr("127.0.0.1:9001"), cfg, pool, logger)
	forceConnected(client)

	client.RequestDisconnect("bye")

	var out []OutboundFrame
	client.Tick(time.Now(), &out)

	var disconnects []OutboundFrame
	for _, f := range out {
		if f.Type == wire.Disconnect {
			disconnects = append(disconnects, f)
		}
	}
	if len(disconnects) != 1 {
		t.Fatalf("expected one Disconnect frame, got %+v", out)
	}
	if client.Status() != Disconnected {
		t.Fatalf("status = %v, want Disconnected", client.Status())
	}
}

// TestMTUProbeRoundTripExpandsMTU drives a full MTUProbe/MTUProbeResponse
// exchange between two Connected connections and checks the prober's
// current_mtu widens without deadlocking on the response.
func TestMTUProbeRoundTripExpandsMTU(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")
	cfg.AutoExpandMTU = true

	client := New(addr("127.0.0.1:9001"), cfg, pool, logger)
	server := New(addr("127.0.0.1:9000"), cfg, pool, logger)
	forceConnected(client)
	forceConnected(server)

	startMTU := client.CurrentMTU()

	now := time.Now()
	var clientOut []OutboundFrame
	client.Tick(now, &clientOut)

	var probes []OutboundFrame
	for _, f := range clientOut {
		if f.Type == wire.MTUProbe {
			probes = append(probes, f)
		}
	}
	if len(probes) != 1 {
		t.Fatalf("expected one MTUProbe frame, got %+v", clientOut)
	}

	deliver(t, client, server, probes, now)

	var serverOut []OutboundFrame
	server.Tick(now, &serverOut)
	var responses []OutboundFrame
	for _, f := range serverOut {
		if f.Type == wire.MTUProbeResponse {
			responses = append(responses, f)
		}
	}
	if len(responses) != 1 {
		t.Fatalf("expected one MTUProbeResponse frame, got %+v", serverOut)
	}

	deliver(t, server, client, responses, now)

	if client.CurrentMTU() <= startMTU {
		t.Fatalf("CurrentMTU = %d, want > %d after a successful probe", client.CurrentMTU(), startMTU)
	}
}

// TestEnqueueRequiresConnected checks user data can't be queued before the
// handshake completes.
func TestEnqueueRequiresConnected(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")

	client := New(addr("127.0.0.1:9001"), cfg, pool, logger)
	msg := pool.GetOutgoing(wire.Unreliable)

	if err := client.Enqueue(msg); err != ErrNotConnected {
		t.Fatalf("Enqueue before handshake = %v, want ErrNotConnected", err)
	}
}

// TestRequireConnectionApprovalGatesHandshake checks a connection configured
// to require approval parks in RespondedAwaitingApproval until Approve is
// called, then sends ConnectResponse on the next Tick.
func TestRequireConnectionApprovalGatesHandshake(t *testing.T) {
	pool := message.NewPool()
	logger := zap.NewNop()
	cfg := testConfig("kestrel-test")
	cfg.RequireConnectionApproval = true

	server := New(addr("127.0.0.1:9000"), cfg, pool, logger)

	now := time.Now()
	msg := pool.GetOutgoing(wire.Connect)
	encodeHandshake(msg.Buffer, handshakePayload{AppIdentifier: cfg.AppIdentifier, UniqueID: 7, SentAt: now})
	msg.Buffer.Rewind()
	hdr := wire.FrameHeader{MessageType: wire.Connect}
	server.Receive(now, hdr, &message.IncomingMessage{Buffer: msg.Buffer})

	if server.Status() != RespondedAwaitingApproval {
		t.Fatalf("status = %v, want RespondedAwaitingApproval", server.Status())
	}

	var out []OutboundFrame
	server.Tick(now, &out)
	for _, f := range out {
		if f.Type == wire.ConnectResponse {
			t.Fatalf("ConnectResponse sent before Approve: %+v", out)
		}
	}

	server.Approve()
	if server.Status() != RespondedConnect {
		t.Fatalf("status after Approve = %v, want RespondedConnect", server.Status())
	}

	out = nil
	server.Tick(now, &out)
	found := false
	for _, f := range out {
		if f.Type == wire.ConnectResponse {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ConnectResponse after Approve, got %+v", out)
	}
}
