package discovery

import (
	"net"
	"testing"

	"github.com/kestrelnet/kestrel/message"
	"github.com/kestrelnet/kestrel/wire"
)

func TestClassifyRaisingRules(t *testing.T) {
	cases := []struct {
		t    wire.MessageType
		want message.IncomingKind
	}{
		{wire.Discovery, message.KindDiscoveryRequest},
		{wire.DiscoveryResponse, message.KindDiscoveryResponse},
		{wire.Unconnected, message.KindUnconnectedData},
	}
	for _, c := range cases {
		if got := Classify(c.t); got != c.want {
			t.Errorf("Classify(%d) = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestQueueDrainEmptiesPending(t *testing.T) {
	var q Queue
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
	q.Send(addr, message.NewOutgoingMessage(wire.Discovery))
	q.Send(addr, message.NewOutgoingMessage(wire.Unconnected))

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("drained %d entries, want 2", len(drained))
	}
	if again := q.Drain(); len(again) != 0 {
		t.Errorf("second drain returned %d entries, want 0", len(again))
	}
}
