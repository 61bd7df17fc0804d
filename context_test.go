package quicp2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, ourType OurType) *Context {
	t.Helper()
	ctx, err := New(Config{
		IP:      "127.0.0.1",
		OurType: ourType,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

func waitForEvent(t *testing.T, ctx *Context, want EventType, timeout time.Duration) *Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ctx.Events():
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// TestConnectToFiresConnectedToOnBothEnds covers a plain one-directional
// Node-to-Node dial: only B calls ConnectTo, yet both B (the dialer, which
// already knows A's NodeInfo) and A (the acceptor, which learns B's
// identity from the Handshake frame on the session it just accepted)
// observe ConnectedTo, and only the dialer's contact gets cached.
func TestConnectToFiresConnectedToOnBothEnds(t *testing.T) {
	nodeA := newTestNode(t, TypeNode)
	nodeB := newTestNode(t, TypeNode)

	infoA, err := nodeA.OurConnectionInfo()
	require.NoError(t, err)
	infoB, err := nodeB.OurConnectionInfo()
	require.NoError(t, err)

	require.NoError(t, nodeB.ConnectTo(infoA))

	evB := waitForEvent(t, nodeB, EventConnectedTo, 5*time.Second)
	require.Equal(t, infoA.PeerAddr.String(), evB.Peer.Addr().String())

	evA := waitForEvent(t, nodeA, EventConnectedTo, 5*time.Second)
	require.Equal(t, infoB.PeerAddr.String(), evA.Peer.Addr().String())

	cacheB := nodeB.BootstrapCache()
	require.Len(t, cacheB, 1)
	require.Equal(t, infoA.PeerAddr.String(), cacheB[0].PeerAddr.String())

	require.Empty(t, nodeA.BootstrapCache())
}

// TestSendDeliversAfterEstablished exercises the delivery-ordering
// invariant in both directions over a single one-directional dial: once
// the session is up, the dialer can send to the acceptor and the acceptor
// can send back on the very same session it was handed.
func TestSendDeliversAfterEstablished(t *testing.T) {
	nodeA := newTestNode(t, TypeNode)
	nodeB := newTestNode(t, TypeNode)

	infoA, err := nodeA.OurConnectionInfo()
	require.NoError(t, err)
	infoB, err := nodeB.OurConnectionInfo()
	require.NoError(t, err)

	require.NoError(t, nodeB.ConnectTo(infoA))
	waitForEvent(t, nodeB, EventConnectedTo, 5*time.Second)
	waitForEvent(t, nodeA, EventConnectedTo, 5*time.Second)

	nodeB.Send(NodePeer(infoA), []byte("hello from B"))
	ev := waitForEvent(t, nodeA, EventNewMessage, 5*time.Second)
	require.Equal(t, "hello from B", string(ev.Payload))
	require.Equal(t, infoB.PeerAddr.String(), ev.Peer.Addr().String())

	nodeA.Send(NodePeer(infoB), []byte("hello back from A"))
	ev = waitForEvent(t, nodeB, EventNewMessage, 5*time.Second)
	require.Equal(t, "hello back from A", string(ev.Payload))
	require.Equal(t, infoA.PeerAddr.String(), ev.Peer.Addr().String())
}

// TestDuplicateConnectToIsRejectedWithoutTeardown covers the duplicate-
// connect scenario: a second connect_to against an in-flight or
// established outbound half fails without destroying the existing record.
func TestDuplicateConnectToIsRejectedWithoutTeardown(t *testing.T) {
	nodeA := newTestNode(t, TypeNode)
	nodeB := newTestNode(t, TypeNode)

	infoA, err := nodeA.OurConnectionInfo()
	require.NoError(t, err)

	require.NoError(t, nodeB.ConnectTo(infoA))
	waitForEvent(t, nodeB, EventConnectedTo, 5*time.Second)
	waitForEvent(t, nodeA, EventConnectedTo, 5*time.Second)

	err = nodeB.ConnectTo(infoA)
	require.True(t, IsKind(err, ErrDuplicateConnectionToPeer), "expected ErrDuplicateConnectionToPeer, got %v", err)

	// The existing record must still work: sending should still succeed.
	nodeB.Send(NodePeer(infoA), []byte("still alive"))
	waitForEvent(t, nodeA, EventNewMessage, 5*time.Second)
}

// TestClientNeverAcceptsInbound covers a Client's defining restriction: it
// never starts an accept loop, so a Node trying to dial it simply fails
// to connect at the transport level.
func TestClientNeverAcceptsInbound(t *testing.T) {
	client, err := New(Config{IP: "127.0.0.1", OurType: TypeClient})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	node, err := New(Config{IP: "127.0.0.1", OurType: TypeNode, IdleTimeoutMsec: 1500})
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })

	infoClient, err := client.OurConnectionInfo()
	require.NoError(t, err)

	if err := node.ConnectTo(infoClient); err != nil {
		// A synchronous CertificateParse/Duplicate failure would be wrong
		// here; any other failure (most likely ErrQuicConnect once the dial
		// times out) is consistent with "nothing is listening".
		require.False(t, IsKind(err, ErrCertificateParse) || IsKind(err, ErrDuplicateConnectionToPeer),
			"unexpected synchronous failure kind: %v", err)
	}

	ev := waitForEvent(t, node, EventConnectionFailure, 15*time.Second)
	require.NotNil(t, ev.Err)
}
