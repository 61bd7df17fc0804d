package quicp2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/dirvine/quic-p2p/bootstrapcache"
	"github.com/dirvine/quic-p2p/wire"
)

// Context is the single process-wide owner of the local QUIC endpoint,
// our_type, our_complete_cert, the connections table, the bootstrap cache
// and the event sink. Every state transition happens on its single
// event-loop goroutine (run): public methods submit work over channels
// instead of taking a lock, so the critical sections stay non-blocking.
type Context struct {
	cfg Config
	log *logrus.Entry
	id  *identity

	udpConn    *net.UDPConn
	transport  *quic.Transport
	listener   *quic.Listener // nil for a Client; Clients never accept
	quicConfig *quic.Config

	commands    chan *apiCmd
	dialResults chan *dialOutcome
	arrivals    chan *inboundArrival
	frames      chan *frameArrival
	failures    chan *sessionFailure

	events chan *Event

	quit chan struct{}
	wg   sync.WaitGroup

	// Everything below is only ever touched from run().
	connections  map[string]*connection
	sendChannels map[string]chan wire.Msg
	externalAddr string
	cache        *bootstrapcache.Cache
	store        *bootstrapcache.Store
}

type apiCmdKind int

const (
	cmdConnectTo apiCmdKind = iota
	cmdSend
	cmdDisconnect
	cmdBootstrapCache
	cmdBootstrap
	cmdOurInfo
	cmdRequestEcho
	cmdClose
)

type apiCmd struct {
	kind       apiCmdKind
	nodeInfo   NodeInfo
	addr       net.Addr
	payload    []byte
	candidates []NodeInfo
	resp       chan apiResult
}

type apiResult struct {
	err      error
	nodeInfo NodeInfo
	cache    []NodeInfo
}

// New creates a Context, binds the local QUIC endpoint and, for a Node,
// starts accepting inbound sessions. The event loop and (for a Node) the
// accept loop are both running by the time New returns, the way
// zeromq-gyre.NewNode starts node.inboxHandler()/node.handler() before
// returning.
func New(cfg Config) (*Context, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, err
	}

	id, err := newIdentity()
	if err != nil {
		return nil, err
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.IP), Port: int(cfg.Port)})
	if err != nil {
		return nil, newError(ErrIO, nil, fmt.Errorf("bind local endpoint: %w", err))
	}

	ctx := &Context{
		cfg: cfg,
		log: logrus.WithFields(logrus.Fields{
			"component": "quicp2p",
			"our_type":  cfg.OurType.String(),
		}),
		id:      id,
		udpConn: udpConn,
		transport: &quic.Transport{
			Conn: udpConn,
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  cfg.idleTimeout(),
			KeepAlivePeriod: cfg.keepAliveInterval(),
		},
		commands:     make(chan *apiCmd, 256),
		dialResults:  make(chan *dialOutcome, 64),
		arrivals:     make(chan *inboundArrival, 64),
		frames:       make(chan *frameArrival, 1024),
		failures:     make(chan *sessionFailure, 64),
		events:       make(chan *Event, 4096),
		quit:         make(chan struct{}),
		connections:  make(map[string]*connection),
		sendChannels: make(map[string]chan wire.Msg),
	}

	if cfg.IP != "" {
		ctx.externalAddr = net.JoinHostPort(cfg.IP, fmt.Sprintf("%d", ctx.localPort()))
	}

	if cfg.BootstrapCachePath != "" {
		store, err := bootstrapcache.OpenStore(cfg.BootstrapCachePath)
		if err != nil {
			udpConn.Close()
			return nil, newError(ErrIO, nil, err)
		}
		ctx.store = store
		cache, err := store.Load(cfg.BootstrapCacheCapacity)
		if err != nil {
			udpConn.Close()
			store.Close()
			return nil, newError(ErrIO, nil, err)
		}
		ctx.cache = cache
	} else {
		ctx.cache = bootstrapcache.New(cfg.BootstrapCacheCapacity)
	}
	for _, contact := range cfg.HardCodedContacts {
		ctx.cache.Put(contact.PeerAddr.String(), contact.PeerCertificate)
	}

	if cfg.OurType == TypeNode {
		listener, err := ctx.transport.Listen(ctx.id.serverTLSConfig(), ctx.quicConfig)
		if err != nil {
			udpConn.Close()
			return nil, newError(ErrIO, nil, fmt.Errorf("listen: %w", err))
		}
		ctx.listener = listener
		ctx.wg.Add(1)
		go ctx.acceptSessions()
	}

	ctx.wg.Add(1)
	go ctx.run()

	return ctx, nil
}

func (ctx *Context) localPort() uint16 {
	if addr, ok := ctx.udpConn.LocalAddr().(*net.UDPAddr); ok {
		return uint16(addr.Port)
	}
	return ctx.cfg.Port
}

// Events returns the channel the host reads lifecycle and message events
// from. The last value ever sent on it is an EventFinish.
func (ctx *Context) Events() <-chan *Event {
	return ctx.events
}

// OurConnectionInfo returns our own NodeInfo, failing with
// ErrNoEndpointEchoServerFound if our externally-visible address has not
// yet been learned.
func (ctx *Context) OurConnectionInfo() (NodeInfo, error) {
	return ctx.roundTrip(&apiCmd{kind: cmdOurInfo})
}

// ConnectTo idempotently requests an outbound session to info. A failure
// detected before the dial starts is returned synchronously; every failure
// except ErrDuplicateConnectionToPeer is also emitted as a
// ConnectionFailure event (a failed dial is reported only as the event).
func (ctx *Context) ConnectTo(info NodeInfo) error {
	_, err := ctx.roundTrip(&apiCmd{kind: cmdConnectTo, nodeInfo: info})
	return err
}

// Send enqueues a user message to peer, buffering it if the session is
// not yet Established. Send never blocks waiting on the network; delivery
// outcome is reported asynchronously via SentUserMessage/UnsentUserMessage.
func (ctx *Context) Send(peer Peer, payload []byte) {
	ctx.commands <- &apiCmd{kind: cmdSend, addr: peer.Addr(), payload: payload}
}

// DisconnectFrom tears down both halves of the record for addr, if any.
func (ctx *Context) DisconnectFrom(addr net.Addr) {
	ctx.commands <- &apiCmd{kind: cmdDisconnect, addr: addr}
}

// BootstrapCache returns a snapshot copy of the cache contents.
func (ctx *Context) BootstrapCache() []NodeInfo {
	res, _ := ctx.roundTrip(&apiCmd{kind: cmdBootstrapCache})
	return res.cache
}

// Bootstrap attempts to reach any member of candidates (or, if none are
// given, of the current bootstrap cache), emitting BootstrappedTo on the
// first success and cancelling the rest.
func (ctx *Context) Bootstrap(candidates ...NodeInfo) error {
	_, err := ctx.roundTrip(&apiCmd{kind: cmdBootstrap, candidates: candidates})
	return err
}

// RequestEndpointEcho asks an already-established peer to report the
// address it observed us connecting from. The answer, if any, arrives
// asynchronously and fills the one-shot external-address slot that
// OurConnectionInfo reads from.
func (ctx *Context) RequestEndpointEcho(addr net.Addr) error {
	_, err := ctx.roundTrip(&apiCmd{kind: cmdRequestEcho, addr: addr})
	return err
}

// Close stops the event loop, closes the QUIC endpoint, flushes the
// bootstrap cache to disk if persistence is configured, and discards every
// connection record, the way zeromq-gyre's Gyre.Stop/Node.Disconnect tear
// the node down. The event channel receives a final EventFinish and is
// then closed.
func (ctx *Context) Close() error {
	res, err := ctx.roundTrip(&apiCmd{kind: cmdClose})
	_ = res
	ctx.wg.Wait()
	return err
}

func (ctx *Context) roundTrip(cmd *apiCmd) (apiResult, error) {
	cmd.resp = make(chan apiResult, 1)
	select {
	case ctx.commands <- cmd:
	case <-ctx.quit:
		return apiResult{}, errors.New("quicp2p: context is closed")
	}
	select {
	case res := <-cmd.resp:
		return res, res.err
	case <-ctx.quit:
		return apiResult{}, errors.New("quicp2p: context is closed")
	}
}

// emit is the sole path every component uses to notify the host. A full
// event channel is treated as a non-fatal send failure: log and continue.
func (ctx *Context) emit(ev *Event) {
	select {
	case ctx.events <- ev:
	default:
		ctx.log.WithField("event", ev.Type.String()).Warn("event channel full, dropping event")
	}
}

// run is the single cooperative event loop. Every branch here is a pure
// state transition over ctx.connections/ctx.cache/ctx.sendChannels; any
// actual I/O (dialing, stream reads/writes) happens in goroutines spawned
// elsewhere that report back onto one of these channels, so the loop
// itself only ever suspends at a channel receive.
func (ctx *Context) run() {
	defer ctx.wg.Done()

	for {
		select {
		case cmd := <-ctx.commands:
			if ctx.handleCommand(cmd) {
				return
			}

		case res := <-ctx.dialResults:
			ctx.handleDialResult(res)

		case arr := <-ctx.arrivals:
			ctx.handleInboundArrival(arr.addr, arr.session)

		case fr := <-ctx.frames:
			ctx.handleFrame(fr.addrKey, fr.msg)

		case f := <-ctx.failures:
			ctx.severConnection(f.addrKey, f.err)
		}
	}
}

// handleCommand dispatches one host-submitted command. It returns true
// when the loop should stop (cmdClose).
func (ctx *Context) handleCommand(cmd *apiCmd) bool {
	switch cmd.kind {
	case cmdConnectTo:
		err := ctx.connectTo(cmd.nodeInfo, nil, nil)
		cmd.resp <- apiResult{err: err}

	case cmdSend:
		ctx.doSend(cmd.addr, cmd.payload)

	case cmdDisconnect:
		ctx.doDisconnect(cmd.addr)

	case cmdBootstrapCache:
		cmd.resp <- apiResult{cache: ctx.cacheAsNodeInfos()}

	case cmdBootstrap:
		err := ctx.doBootstrap(cmd.candidates)
		cmd.resp <- apiResult{err: err}

	case cmdOurInfo:
		if ctx.externalAddr == "" {
			cmd.resp <- apiResult{err: newError(ErrNoEndpointEchoServerFound, nil, nil)}
			return false
		}
		addr, err := net.ResolveUDPAddr("udp", ctx.externalAddr)
		if err != nil {
			cmd.resp <- apiResult{err: newError(ErrIO, nil, err)}
			return false
		}
		cmd.resp <- apiResult{nodeInfo: NodeInfo{PeerAddr: addr, PeerCertificate: ctx.id.certDER}}

	case cmdRequestEcho:
		err := ctx.doRequestEndpointEcho(cmd.addr)
		cmd.resp <- apiResult{err: err}

	case cmdClose:
		ctx.teardown()
		cmd.resp <- apiResult{}
		return true
	}
	return false
}

func (ctx *Context) cacheAsNodeInfos() []NodeInfo {
	entries := ctx.cache.Snapshot()
	out := make([]NodeInfo, 0, len(entries))
	for _, e := range entries {
		addr, err := net.ResolveUDPAddr("udp", e.Key)
		if err != nil {
			continue
		}
		out = append(out, NodeInfo{PeerAddr: addr, PeerCertificate: e.Value})
	}
	return out
}

func (ctx *Context) doRequestEndpointEcho(addr net.Addr) error {
	addrKey := addr.String()
	sendCh, ok := ctx.sendChannels[addrKey]
	if !ok {
		return newError(ErrNoEndpointEchoServerFound, addr, nil)
	}
	select {
	case sendCh <- &wire.EndpointEchoReq{}:
		return nil
	default:
		return newError(ErrIO, addr, errors.New("send queue full"))
	}
}

// teardown stops accepting new work, closes every live session, flushes
// the bootstrap cache if persisted, and sends the terminal EventFinish,
// the way Gyre.Stop closes the beacon and Node.Disconnect closes every
// peer mailbox before the socket itself.
func (ctx *Context) teardown() {
	close(ctx.quit)

	if ctx.listener != nil {
		ctx.listener.Close()
	}
	for addrKey, c := range ctx.connections {
		if c.to.session != nil {
			c.to.session.CloseWithError(0, "context closing")
		}
		if c.from.session != nil && c.from.session != c.to.session {
			c.from.session.CloseWithError(0, "context closing")
		}
		if ch, ok := ctx.sendChannels[addrKey]; ok {
			close(ch)
		}
	}
	ctx.connections = nil
	ctx.sendChannels = nil

	ctx.transport.Close()
	ctx.udpConn.Close()

	if ctx.store != nil {
		if err := ctx.store.Save(ctx.cache); err != nil {
			ctx.log.WithError(err).Warn("failed to persist bootstrap cache on close")
		}
		ctx.store.Close()
	}

	ctx.emit(&Event{Type: EventFinish})
	close(ctx.events)
}

type dialOutcome struct {
	addr      net.Addr
	session   quic.Connection
	err       error
	cancelled bool
}

type inboundArrival struct {
	addr    net.Addr
	session quic.Connection
}

type frameArrival struct {
	addrKey string
	msg     wire.Msg
}

type sessionFailure struct {
	addrKey string
	err     error
}

// acceptSessions is the Node-only QUIC accept loop: one goroutine calling
// Listener.Accept in a loop and handing each inbound session to the event
// loop, the way zeromq-gyre's inboxHandler forwards ROUTER frames into
// node.inboxChan.
func (ctx *Context) acceptSessions() {
	defer ctx.wg.Done()

	for {
		conn, err := ctx.listener.Accept(context.Background())
		if err != nil {
			return
		}
		select {
		case ctx.arrivals <- &inboundArrival{addr: conn.RemoteAddr(), session: conn}:
		case <-ctx.quit:
			conn.CloseWithError(0, "context closing")
			return
		}
	}
}
