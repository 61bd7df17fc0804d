package quicp2p

import (
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dirvine/quic-p2p/wire"
)

// toPeerState is the outbound half of a connection record: an explicit
// state machine rather than a single connected/ready bool pair, since a
// session has two independently-progressing halves instead of one
// symmetric socket.
type toPeerState int

const (
	toPeerNoConnection toPeerState = iota
	toPeerNotNeeded
	toPeerInitiated
	toPeerEstablished
)

// toPeer is the outbound half of a connection record.
type toPeer struct {
	state toPeerState

	// Initiated fields.
	terminator   chan struct{}
	expectedCert []byte
	pendingSends []wire.Msg
	startedAt    time.Time

	// Established fields.
	peerCert []byte
	session  quic.Connection
}

// fromPeerState is the inbound half of a connection record.
type fromPeerState int

const (
	fromPeerNoConnection fromPeerState = iota
	fromPeerNotNeeded
	fromPeerEstablished
)

// fromPeer is the inbound half of a connection record.
type fromPeer struct {
	state fromPeerState

	session quic.Connection
}

// connection is the per-remote-address composite state: a dual-half
// record tracking the outbound and inbound sessions to one peer address
// independently. Every field is touched only from the Context's single
// event-loop goroutine; there is deliberately no mutex here.
type connection struct {
	addr net.Addr

	to   toPeer
	from fromPeer

	group           *bootstrapGroup
	weContactedPeer bool

	// remotePeer is filled in as soon as the remote's identity is known:
	// immediately for an outbound record (we dialed an exact NodeInfo), or
	// upon the first inbound Handshake message for an inbound-only record.
	remotePeer  Peer
	remoteKnown bool

	// connectedFired latches once ConnectedTo/BootstrappedTo has been
	// emitted for this record, since either half reaching a usable state
	// can be the one that learns the remote's identity first.
	connectedFired bool
}

func newOutboundConnection(addr net.Addr) *connection {
	return &connection{addr: addr}
}

func newInboundConnection(addr net.Addr) *connection {
	return &connection{addr: addr}
}

// markConnected latches the one-time transition to "identity known",
// reporting true only the first time it is called for this record. A
// dialer's own to_peer reaching Established and an acceptor's first
// Handshake frame both race to call this; whichever gets there first is
// the one that actually fires the success event.
func (c *connection) markConnected() bool {
	if c.connectedFired {
		return false
	}
	c.connectedFired = true
	return true
}
