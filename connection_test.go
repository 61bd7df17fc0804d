package quicp2p

import "testing"

func TestNewConnectionsStartAtNoConnection(t *testing.T) {
	out := newOutboundConnection(nil)
	if out.to.state != toPeerNoConnection || out.from.state != fromPeerNoConnection {
		t.Fatalf("expected a fresh outbound record to start at NoConnection/NoConnection, got %v/%v", out.to.state, out.from.state)
	}

	in := newInboundConnection(nil)
	if in.to.state != toPeerNoConnection || in.from.state != fromPeerNoConnection {
		t.Fatalf("expected a fresh inbound record to start at NoConnection/NoConnection, got %v/%v", in.to.state, in.from.state)
	}
}

func TestMarkConnectedFiresOnlyOnce(t *testing.T) {
	c := newOutboundConnection(nil)

	if !c.markConnected() {
		t.Fatal("expected the first markConnected call to report true")
	}
	if c.markConnected() {
		t.Fatal("expected a second markConnected call to report false")
	}
}
