package quicp2p

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dirvine/quic-p2p/wire"
)

// connectTo starts an outbound session to info. It always runs on the
// event-loop goroutine. group is nil for a plain ConnectTo and non-nil
// when the attempt is one member of a Bootstrap race.
func (ctx *Context) connectTo(info NodeInfo, preQueued wire.Msg, group *bootstrapGroup) error {
	if _, err := x509.ParseCertificate(info.PeerCertificate); err != nil {
		perr := newError(ErrCertificateParse, info.PeerAddr, err)
		ctx.emit(&Event{Type: EventConnectionFailure, PeerAddr: info.PeerAddr, Err: perr})
		return perr
	}
	tlsConf := ctx.id.clientTLSConfig(info.PeerCertificate)

	addrKey := info.PeerAddr.String()
	c, exists := ctx.connections[addrKey]
	if !exists {
		c = newOutboundConnection(info.PeerAddr)
		ctx.connections[addrKey] = c
	}

	if c.to.state != toPeerNoConnection {
		return newError(ErrDuplicateConnectionToPeer, info.PeerAddr, nil)
	}

	if ctx.cfg.OurType == TypeClient && c.from.state != fromPeerNoConnection {
		// A Client never accepts inbound sessions, so its own from_peer
		// should never have left NoConnection before we get here. If it
		// somehow has, fail the record cleanly rather than assert: sever
		// it and report the failure instead of building on top of an
		// inconsistent record.
		delete(ctx.connections, addrKey)
		err := newError(ErrQuicProtocol, info.PeerAddr, errors.New("client from_peer was already live before connect_to"))
		ctx.emit(&Event{Type: EventConnectionFailure, PeerAddr: info.PeerAddr, Err: err})
		return err
	}

	terminator := make(chan struct{})
	if group != nil {
		if !group.addMember(addrKey, terminator) {
			return newError(ErrConnectionCancelled, info.PeerAddr, errors.New("bootstrap group already finished"))
		}
	}

	pending := c.to.pendingSends
	if preQueued != nil {
		pending = append(pending, preQueued)
	}

	c.to = toPeer{
		state:        toPeerInitiated,
		terminator:   terminator,
		expectedCert: info.PeerCertificate,
		pendingSends: pending,
		startedAt:    time.Now(),
	}
	if ctx.cfg.OurType == TypeClient {
		c.from.state = fromPeerNotNeeded
	}
	c.group = group
	c.weContactedPeer = true
	c.remotePeer = NodePeer(info)
	c.remoteKnown = true

	ctx.spawnDial(info.PeerAddr, tlsConf, terminator)
	return nil
}

// spawnDial races a QUIC dial against the attempt's terminator channel,
// reporting exactly one outcome back to the event loop. This is the only
// place an outbound handshake attempt actually blocks on the network.
func (ctx *Context) spawnDial(addr net.Addr, tlsConf *tls.Config, terminator chan struct{}) {
	go func() {
		dialCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan *dialOutcome, 1)
		go func() {
			session, err := ctx.transport.Dial(dialCtx, addr, tlsConf, ctx.quicConfig)
			done <- &dialOutcome{addr: addr, session: session, err: err}
		}()

		select {
		case res := <-done:
			ctx.dialResults <- res
		case <-terminator:
			cancel()
			<-done // let the dial goroutine unwind before we report
			ctx.dialResults <- &dialOutcome{addr: addr, cancelled: true}
		}
	}()
}

// handleDialResult processes the one outcome spawnDial ever reports for an
// attempt: a live session, a failure, or a cancellation raised by a
// bootstrap-group winner elsewhere.
func (ctx *Context) handleDialResult(res *dialOutcome) {
	addrKey := res.addr.String()
	c := ctx.connections[addrKey]
	if c == nil || c.to.state != toPeerInitiated {
		if res.session != nil {
			res.session.CloseWithError(0, "stale dial result")
		}
		return
	}

	switch {
	case res.cancelled:
		ctx.failConnect(c, addrKey, newError(ErrConnectionCancelled, res.addr, nil))
	case res.err != nil:
		ctx.failConnect(c, addrKey, newError(ErrQuicConnect, res.addr, res.err))
	default:
		if g := c.group; g != nil {
			// Another member already won the race after this dial had
			// completed but before its terminator was observed.
			g.mu.Lock()
			lost := g.finished
			g.mu.Unlock()
			if lost {
				res.session.CloseWithError(0, "bootstrap group already finished")
				ctx.failConnect(c, addrKey, newError(ErrConnectionCancelled, res.addr, nil))
				return
			}
		}
		ctx.completeOutboundHandshake(c, addrKey, res.session)
	}
}

// failConnect tears down a failed outbound attempt: the record is always
// removed, ErrDuplicateConnectionToPeer is the sole exception (it never
// reaches here since connectTo returns before creating a terminator), and
// a live from_peer on the doomed record is logged and severed too.
func (ctx *Context) failConnect(c *connection, addrKey string, err error) {
	hadLiveFrom := c.from.state == fromPeerEstablished
	delete(ctx.connections, addrKey)

	if hadLiveFrom {
		ctx.log.WithField("peer", addrKey).Warn("outbound attempt failed on a peer that had already reached us inbound; severing the inbound half too")
		if c.from.session != nil {
			c.from.session.CloseWithError(0, "outbound half failed")
		}
	}

	for _, m := range c.to.pendingSends {
		if um, ok := m.(*wire.UserMsg); ok {
			ctx.emit(&Event{Type: EventUnsentUserMessage, PeerAddr: c.addr, Payload: um.Content})
		}
	}
	ctx.emit(&Event{Type: EventConnectionFailure, PeerAddr: c.addr, Err: err})
}

// completeOutboundHandshake opens the write stream, inserts the cache
// entry if we initiated the contact, sends our own handshake and flushes
// any buffered sends, commits to_peer = Established, then fires the
// success event (we already hold the full NodeInfo we dialed, so there is
// nothing left to learn).
func (ctx *Context) completeOutboundHandshake(c *connection, addrKey string, session quic.Connection) {
	sendCh, err := ctx.openSendStream(addrKey, session)
	if err != nil {
		ctx.failConnect(c, addrKey, newError(ErrQuicProtocol, c.addr, err))
		return
	}
	ctx.wg.Add(1)
	go ctx.superviseSession(addrKey, session)
	ctx.wg.Add(1)
	go ctx.acceptStreams(addrKey, session)

	if c.weContactedPeer {
		ctx.cache.Put(addrKey, c.to.expectedCert)
	}

	var handshake wire.Msg
	if ctx.cfg.OurType == TypeNode {
		handshake = &wire.HandshakeNode{CertDER: ctx.id.certDER}
	} else {
		handshake = &wire.HandshakeClient{}
	}
	sendCh <- handshake

	pending := c.to.pendingSends
	for _, m := range pending {
		sendCh <- m
		if um, ok := m.(*wire.UserMsg); ok {
			ctx.emit(&Event{Type: EventSentUserMessage, PeerAddr: c.addr, Payload: um.Content})
		}
	}

	c.to.state = toPeerEstablished
	c.to.peerCert = c.to.expectedCert
	c.to.session = session
	c.to.pendingSends = nil
	c.to.terminator = nil

	ctx.fireSuccessEvent(c)
}

// openSendStream opens a fresh write stream on session and starts its
// writer goroutine, registering the resulting channel under addrKey. Used
// both by a completed outbound dial and by a freshly accepted inbound
// session, since either can be the side that ends up holding the session
// the host actually writes on.
func (ctx *Context) openSendStream(addrKey string, session quic.Connection) (chan wire.Msg, error) {
	stream, err := session.OpenStreamSync(context.Background())
	if err != nil {
		return nil, err
	}
	sendCh := make(chan wire.Msg, 64)
	ctx.sendChannels[addrKey] = sendCh
	go ctx.writeLoop(addrKey, stream, sendCh)
	return sendCh, nil
}

// fireSuccessEvent emits ConnectedTo/BootstrappedTo exactly once for a
// record's lifetime and terminates its bootstrap group, if any, in the
// same step, so a group is only declared won when the event it promised
// actually fires. Whichever path first learns the remote's identity calls
// this: a dialer's own to_peer reaching Established, or an acceptor's
// first Handshake frame arriving on an inbound session.
func (ctx *Context) fireSuccessEvent(c *connection) {
	if !c.markConnected() {
		return
	}

	if c.group != nil {
		group := c.group
		c.group = nil
		group.terminateGroup(c.addr.String(), true)
		ctx.emit(&Event{
			Type: EventBootstrappedTo,
			Node: NodeInfo{PeerAddr: c.addr, PeerCertificate: c.to.expectedCert},
		})
		return
	}
	ctx.emit(&Event{Type: EventConnectedTo, Peer: c.remotePeer})
}
