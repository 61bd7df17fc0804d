package quicp2p

import (
	"bufio"
	"context"
	"errors"
	"net"

	"github.com/quic-go/quic-go"

	"github.com/dirvine/quic-p2p/wire"
)

// acceptStreams accepts every stream the remote opens on session and
// spawns a reader for each one. It runs for the lifetime of the session on both the dialer
// and the listener side: either end may open a fresh stream to push a
// later message, so both must keep accepting.
func (ctx *Context) acceptStreams(addrKey string, session quic.Connection) {
	defer ctx.wg.Done()

	for {
		stream, err := session.AcceptStream(context.Background())
		if err != nil {
			return
		}
		go ctx.readFrames(addrKey, stream)
	}
}

// readFrames reads length-prefixed tagged wire messages off one stream
// until EOF or a decode error, forwarding each to the event loop. A
// stream ending does not by itself mean the session has failed; that is
// superviseSession's job.
func (ctx *Context) readFrames(addrKey string, stream quic.Stream) {
	r := bufio.NewReader(stream)
	for {
		msg, err := wire.ReadFromLimited(r, ctx.cfg.MaxMsgSizeAllowed)
		if err != nil {
			return
		}
		select {
		case ctx.frames <- &frameArrival{addrKey: addrKey, msg: msg}:
		case <-ctx.quit:
			return
		}
	}
}

// writeLoop serializes every outbound wire message for one session,
// preserving FIFO order. A write failure
// severs the whole record and stops the loop; sendCh being closed (on
// disconnect or context teardown) stops it cleanly.
func (ctx *Context) writeLoop(addrKey string, stream quic.Stream, sendCh chan wire.Msg) {
	for m := range sendCh {
		if err := wire.WriteTo(stream, m); err != nil {
			select {
			case ctx.failures <- &sessionFailure{addrKey: addrKey, err: newError(ErrIO, nil, err)}:
			case <-ctx.quit:
			}
			return
		}
	}
}

// severConnection removes a record after a mid-session read/write/driver
// failure, closing whatever sessions and send channel it
// still holds and reporting ConnectionFailure exactly once.
func (ctx *Context) severConnection(addrKey string, err error) {
	c := ctx.connections[addrKey]
	if c == nil {
		return // already severed by the other half's failure, or never existed
	}
	delete(ctx.connections, addrKey)

	if c.to.session != nil {
		c.to.session.CloseWithError(0, "session failure")
	}
	if c.from.session != nil && c.from.session != c.to.session {
		c.from.session.CloseWithError(0, "session failure")
	}
	if ch, ok := ctx.sendChannels[addrKey]; ok {
		close(ch)
		delete(ctx.sendChannels, addrKey)
	}

	ctx.emit(&Event{Type: EventConnectionFailure, PeerAddr: c.addr, Err: err})
}

// handleFrame is the read-side entry point: every decoded frame is
// dispatched as soon as it arrives. A QUIC session is bidirectional
// regardless of which side dialed it, so there is nothing to wait for
// here — the Handshake frame that identifies the remote is itself one of
// the messages this dispatches.
func (ctx *Context) handleFrame(addrKey string, msg wire.Msg) {
	c := ctx.connections[addrKey]
	if c == nil {
		return // record already gone; drop the late frame
	}
	ctx.dispatch(c, addrKey, msg)
}

// dispatch handles one decoded frame according to its message type.
func (ctx *Context) dispatch(c *connection, addrKey string, msg wire.Msg) {
	switch m := msg.(type) {
	case *wire.HandshakeNode:
		if c.remoteKnown {
			ctx.severConnection(addrKey, newError(ErrQuicProtocol, c.addr, errors.New("duplicate handshake message")))
			return
		}
		c.remotePeer = NodePeer(NodeInfo{PeerAddr: c.addr, PeerCertificate: m.CertDER})
		c.remoteKnown = true
		ctx.fireSuccessEvent(c)

	case *wire.HandshakeClient:
		if c.remoteKnown {
			ctx.severConnection(addrKey, newError(ErrQuicProtocol, c.addr, errors.New("duplicate handshake message")))
			return
		}
		c.remotePeer = ClientPeer(c.addr)
		c.remoteKnown = true
		ctx.fireSuccessEvent(c)

	case *wire.EndpointEchoReq:
		if sendCh, ok := ctx.sendChannels[addrKey]; ok {
			select {
			case sendCh <- &wire.EndpointEchoResp{Addr: c.addr.String()}:
			default:
				ctx.log.WithField("peer", addrKey).Warn("dropping endpoint echo reply, send queue full")
			}
		}

	case *wire.EndpointEcho:
		if ctx.externalAddr == "" {
			ctx.externalAddr = m.Addr
		}

	case *wire.EndpointEchoResp:
		if ctx.externalAddr == "" {
			ctx.externalAddr = m.Addr
		}

	case *wire.UserMsg:
		peer := c.remotePeer
		if !c.remoteKnown {
			// Defensive fallback: the protocol guarantees a handshake
			// precedes any user message, so this should not happen.
			peer = ClientPeer(c.addr)
		}
		ctx.emit(&Event{Type: EventNewMessage, Peer: peer, Payload: m.Content})
	}
}

// doSend is the write-side counterpart to handleFrame: queue while the
// outbound half is still Initiated, send immediately once a write stream
// exists, else report the message as unsendable.
func (ctx *Context) doSend(addr net.Addr, payload []byte) {
	addrKey := addr.String()
	c := ctx.connections[addrKey]
	msg := &wire.UserMsg{Content: payload}

	if c == nil {
		ctx.emit(&Event{Type: EventUnsentUserMessage, PeerAddr: addr, Payload: payload})
		return
	}

	if sendCh, ok := ctx.sendChannels[addrKey]; ok {
		select {
		case sendCh <- msg:
			ctx.emit(&Event{Type: EventSentUserMessage, PeerAddr: addr, Payload: payload})
		default:
			ctx.emit(&Event{Type: EventUnsentUserMessage, PeerAddr: addr, Payload: payload})
		}
		return
	}

	if c.to.state == toPeerInitiated {
		c.to.pendingSends = append(c.to.pendingSends, msg)
		return
	}

	ctx.emit(&Event{Type: EventUnsentUserMessage, PeerAddr: addr, Payload: payload})
}

// doDisconnect implements disconnect_from: both halves of the record, if
// any, are torn down and the record is discarded.
func (ctx *Context) doDisconnect(addr net.Addr) {
	addrKey := addr.String()
	c := ctx.connections[addrKey]
	if c == nil {
		return
	}
	delete(ctx.connections, addrKey)

	if c.to.state == toPeerInitiated && c.to.terminator != nil {
		close(c.to.terminator)
	}
	if c.to.session != nil {
		c.to.session.CloseWithError(0, "disconnect requested")
	}
	if c.from.session != nil && c.from.session != c.to.session {
		c.from.session.CloseWithError(0, "disconnect requested")
	}
	if ch, ok := ctx.sendChannels[addrKey]; ok {
		close(ch)
		delete(ctx.sendChannels, addrKey)
	}
}

// doBootstrap races connectTo across every
// candidate (explicit, or the current cache contents if none were
// given) under one bootstrapGroup.
func (ctx *Context) doBootstrap(candidates []NodeInfo) error {
	if len(candidates) == 0 {
		candidates = ctx.cacheAsNodeInfos()
	}
	if len(candidates) == 0 {
		return newError(ErrNoEndpointEchoServerFound, nil, errors.New("no bootstrap candidates available"))
	}

	group := newBootstrapGroup(ctx.log)
	started := 0
	for _, info := range candidates {
		if err := ctx.connectTo(info, nil, group); err != nil {
			ctx.log.WithError(err).WithField("candidate", info.String()).Debug("bootstrap candidate failed to start")
			continue
		}
		started++
	}
	if started == 0 {
		return newError(ErrConnectionCancelled, nil, errors.New("every bootstrap candidate failed to start"))
	}
	return nil
}
