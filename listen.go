package quicp2p

import (
	"context"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/dirvine/quic-p2p/wire"
)

// handleInboundArrival upserts the record for a newly-arrived session,
// silently drops a duplicate arrival on an already-live from_peer, and
// otherwise installs the inbound half and opens a reply stream on it if
// we don't already have one of our own (a pure acceptor that never dials
// out must still be able to send on the session it just received). The
// remote's identity, and the success event that goes with it, is learned
// from the Handshake frame this session is about to deliver, unless we
// already know it because we dialed this exact remote ourselves.
func (ctx *Context) handleInboundArrival(addr net.Addr, session quic.Connection) {
	addrKey := addr.String()
	c, exists := ctx.connections[addrKey]
	if !exists {
		c = newInboundConnection(addr)
		ctx.connections[addrKey] = c
	}

	if c.from.state != fromPeerNoConnection {
		ctx.log.WithField("peer", addrKey).Debug("dropping duplicate inbound session")
		session.CloseWithError(0, "duplicate session")
		return
	}

	c.from = fromPeer{state: fromPeerEstablished, session: session}
	ctx.wg.Add(1)
	go ctx.superviseSession(addrKey, session)
	ctx.wg.Add(1)
	go ctx.acceptStreams(addrKey, session)
	go sendSpontaneousEcho(session)

	if _, ok := ctx.sendChannels[addrKey]; !ok {
		if _, err := ctx.openSendStream(addrKey, session); err != nil {
			ctx.log.WithError(err).WithField("peer", addrKey).Warn("failed to open a reply stream on an inbound session")
		}
	}
}

// sendSpontaneousEcho opens a throwaway stream to tell a freshly-arrived
// peer the address we observed it connecting from. It is a courtesy, not
// part of the handshake: failure here is not reported anywhere.
func sendSpontaneousEcho(session quic.Connection) {
	stream, err := session.OpenStreamSync(context.Background())
	if err != nil {
		return
	}
	defer stream.Close()
	wire.WriteTo(stream, &wire.EndpointEcho{Addr: session.RemoteAddr().String()})
}

// superviseSession is the session's error driver: it waits for the QUIC
// connection to end for any reason and reports a failure so the event
// loop can sever whatever half of the record this session backed.
func (ctx *Context) superviseSession(addrKey string, session quic.Connection) {
	defer ctx.wg.Done()

	<-session.Context().Done()
	err := context.Cause(session.Context())

	select {
	case ctx.failures <- &sessionFailure{addrKey: addrKey, err: newError(ErrQuicProtocol, nil, err)}:
	case <-ctx.quit:
	}
}
