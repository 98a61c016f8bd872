// Package network implements the peer exchange layer: the per-connection
// message loop (Peer), the bounded set of live connections (ConnMgr), the
// inbound/outbound connection plumbing (PeerServer), and the top-level
// lifecycle and autoconnect loop (Manager).
package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

const (
	// outgoingQueueLen is the capacity of a peer's bounded send channel.
	// Enqueue on a full channel drops the message rather than blocking
	// the caller.
	outgoingQueueLen = 100

	// pingInterval is how often a peer sends a keepalive ping. A ping goes
	// out on every interval, whether or not other outbound traffic was
	// sent in the meantime.
	pingInterval = 60 * time.Second

	// idleTimeout is how long a peer tolerates silence from the remote
	// side before dropping the connection.
	idleTimeout = 180 * time.Second

	// handshakeTimeout bounds how long the version/verack exchange may
	// take before the connection is abandoned.
	handshakeTimeout = 30 * time.Second

	// dropLogInterval throttles the "send queue full" log line to at
	// most once per peer per this interval.
	dropLogInterval = 10 * time.Second

	localVersion = 1

	userAgent = "/squeaknode:0.1.0/"
)

// peerState is the Peer session's lifecycle state machine, per spec §4.B:
// Connecting -> HandshakeSent -> HandshakeComplete -> Active -> Stopping ->
// Stopped. Stopped is terminal.
type peerState int32

const (
	stateConnecting peerState = iota
	stateHandshakeSent
	stateHandshakeComplete
	stateActive
	stateStopping
	stateStopped
)

func (s peerState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateHandshakeSent:
		return "handshake-sent"
	case stateHandshakeComplete:
		return "handshake-complete"
	case stateActive:
		return "active"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// outgoingMsg pairs a wire message with an optional channel that is closed
// once the message has been written, letting a caller synchronize with the
// write if it needs to.
type outgoingMsg struct {
	msg      wire.Message
	sentChan chan struct{}
}

// Handlers is the set of callbacks a Peer invokes for inbound application
// messages. NetworkManager wires these to the SqueakController collaborator
// (out of scope here, §1); tests can substitute stub handlers.
type Handlers struct {
	// OnGetAddr is invoked on an inbound getaddr; the return value is
	// sent back as a single addr message (capped at wire.MaxAddrPerMsg).
	OnGetAddr func(p *Peer) []wire.PeerAddress

	// OnAddr is invoked with a batch of addresses learned from a peer.
	OnAddr func(p *Peer, addrs []wire.PeerAddress)

	// OnInv is invoked with inventory advertised by a peer.
	OnInv func(p *Peer, items []wire.InvVect)

	// OnGetSqueaks is invoked for each requested inventory item; the
	// handler streams back squeak messages itself via p.QueueMessage.
	OnGetSqueaks func(p *Peer, items []wire.InvVect)

	// OnSqueak is invoked with a downloaded squeak.
	OnSqueak func(p *Peer, squeak *wire.Squeak)

	// OnGetOffer is invoked for an inbound getoffer request.
	OnGetOffer func(p *Peer, hash wire.SqueakHash)

	// OnOffer is invoked with a downloaded offer.
	OnOffer func(p *Peer, offer *wire.OfferPayload)

	// OnSubscribe/OnUnsubscribe manage the peer's subscription over the
	// connection.
	OnSubscribe   func(p *Peer, filter wire.SubscribeFilter)
	OnUnsubscribe func(p *Peer, filter wire.SubscribeFilter)

	// OnGetSqueakLocator answers a locator query (the server side of a
	// sync lookup); the handler replies with the hashes it has matching
	// the query via p.QueueMessage.
	OnGetSqueakLocator func(p *Peer, req *wire.MsgGetSqueakLocatorPayload)
}

// Peer owns one TCP socket to a remote squeak node and runs the squeak wire
// protocol's message loop against it. Its lifecycle is: created on socket
// accept/dial, active while the socket is open, destroyed on stop or socket
// closure. A Peer must not outlive its underlying socket.
type Peer struct {
	// state must be accessed atomically.
	state int32

	// bytesReceived/bytesSent are updated atomically for metrics.
	bytesReceived uint64
	bytesSent     uint64

	conn    net.Conn
	address wire.PeerAddress
	local   wire.PeerAddress
	network wire.Network
	outgoingConn bool

	handlers Handlers
	hub      *subscription.Hub

	localNonce  uint64
	remoteNonce uint64

	// lastMsgReceivedAt/lastPingNonce are guarded by mu.
	mu                sync.Mutex
	lastMsgReceivedAt time.Time
	lastPingNonce     uint64
	lastDropLogAt     time.Time

	// sendQueue is the bounded channel writeHandler drains. QueueMessage
	// enqueues onto it without blocking and drops the message when it is
	// full (spec §4.B: never block the sender). outgoing is an unbounded
	// staging queue that stageHandler drains into sendQueue; QueueMessage
	// does not stage through it.
	sendQueue chan outgoingMsg
	outgoing  *queue.ConcurrentQueue

	pingTicker     ticker.Ticker
	idleTimeoutDur time.Duration

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPeer constructs a Peer around an already-connected socket. Outgoing is
// true when this side initiated the connection (dialed), false when it was
// accepted.
func NewPeer(conn net.Conn, local, remote wire.PeerAddress, network wire.Network,
	outgoing bool, handlers Handlers, hub *subscription.Hub) *Peer {

	return &Peer{
		conn:           conn,
		address:        remote,
		local:          local,
		network:        network,
		outgoingConn:   outgoing,
		handlers:       handlers,
		hub:            hub,
		sendQueue:      make(chan outgoingMsg, outgoingQueueLen),
		outgoing:       queue.NewConcurrentQueue(outgoingQueueLen),
		pingTicker:     ticker.New(pingInterval),
		idleTimeoutDur: idleTimeout,
		quit:           make(chan struct{}),
		state:          int32(stateConnecting),
	}
}

// SetPingTicker overrides the keepalive ping ticker, letting tests force
// ticks deterministically instead of waiting out the real pingInterval.
// Must be called before Start.
func (p *Peer) SetPingTicker(t ticker.Ticker) {
	p.pingTicker = t
}

// SetIdleTimeout overrides the keepalive idle-disconnect timeout, letting
// tests shrink it below the 180s default instead of waiting it out in real
// time. Must be called before Start.
func (p *Peer) SetIdleTimeout(d time.Duration) {
	p.idleTimeoutDur = d
}

// Address returns the peer's remote address.
func (p *Peer) Address() wire.PeerAddress { return p.address }

// Outbound reports whether this side dialed the connection.
func (p *Peer) Outbound() bool { return p.outgoingConn }

// String implements fmt.Stringer for logging.
func (p *Peer) String() string {
	dir := "inbound"
	if p.outgoingConn {
		dir = "outbound"
	}
	return fmt.Sprintf("%s(%s)", p.address, dir)
}

func (p *Peer) setState(s peerState) {
	atomic.StoreInt32(&p.state, int32(s))
}

func (p *Peer) getState() peerState {
	return peerState(atomic.LoadInt32(&p.state))
}

// Stopped reports whether the peer has fully torn down.
func (p *Peer) Stopped() bool {
	return p.getState() == stateStopped
}

// Start performs the handshake and, on success, launches the read/write/
// keepalive goroutines. It blocks until the handshake completes or times
// out; the message loop itself runs in the background after Start returns.
func (p *Peer) Start() error {
	if err := p.handshake(); err != nil {
		p.conn.Close()
		p.setState(stateStopped)
		return errors.WrapPrefix(err, "handshake failed with "+p.String(), 0)
	}

	p.setState(stateActive)
	p.touchLastMsg()

	p.pingTicker.Resume()
	p.outgoing.Start()

	p.wg.Add(4)
	go p.readHandler()
	go p.writeHandler()
	go p.pingHandler()
	go p.stageHandler()

	return nil
}

// handshake implements the version/verack exchange described in spec §4.B.
// It must complete within handshakeTimeout or the connection is abandoned.
func (p *Peer) handshake() error {
	nonce, err := wire.NewNonce()
	if err != nil {
		return err
	}
	p.localNonce = nonce

	p.setState(stateHandshakeSent)

	deadline := time.Now().Add(handshakeTimeout)
	p.conn.SetDeadline(deadline)
	defer p.conn.SetDeadline(time.Time{})

	versionMsg := &wire.MsgVersionPayload{
		LocalVersion: localVersion,
		Timestamp:    time.Now().Unix(),
		AddrRecv:     p.address,
		AddrFrom:     p.local,
		Nonce:        nonce,
		UserAgent:    userAgent,
		Relay:        true,
	}
	if _, err := wire.WriteMessage(p.conn, p.network, versionMsg); err != nil {
		return err
	}

	var gotVersion, sentVerAck, gotVerAck bool
	for !(gotVersion && sentVerAck && gotVerAck) {
		msg, _, err := wire.ReadMessage(p.conn, p.network)
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *wire.MsgVersionPayload:
			p.remoteNonce = m.Nonce
			gotVersion = true
			if !sentVerAck {
				if _, err := wire.WriteMessage(p.conn, p.network, &wire.MsgVerAckPayload{}); err != nil {
					return err
				}
				sentVerAck = true
			}
		case *wire.MsgVerAckPayload:
			gotVerAck = true
		default:
			return fmt.Errorf("unexpected message %q during handshake", msg.Command())
		}
	}

	p.setState(stateHandshakeComplete)
	return nil
}

// touchLastMsg records that traffic was just seen from the peer, resetting
// the idle timer used by IdleFor.
func (p *Peer) touchLastMsg() {
	p.mu.Lock()
	p.lastMsgReceivedAt = time.Now()
	p.mu.Unlock()
}

// IdleFor returns how long it has been since the peer last sent anything.
func (p *Peer) IdleFor() time.Duration {
	p.mu.Lock()
	last := p.lastMsgReceivedAt
	p.mu.Unlock()
	return time.Since(last)
}

// QueueMessage enqueues msg on the bounded sendQueue without blocking the
// caller, whether or not the peer's writeHandler is running. If sendQueue
// is full the message is dropped and, at most once per dropLogInterval for
// this peer, a warning is logged; this is the backpressure policy required
// by spec §4.B (never block the sender).
func (p *Peer) QueueMessage(msg wire.Message) {
	p.queueMessage(msg, nil)
}

func (p *Peer) queueMessage(msg wire.Message, sentChan chan struct{}) {
	select {
	case p.sendQueue <- outgoingMsg{msg: msg, sentChan: sentChan}:
	default:
		p.mu.Lock()
		shouldLog := time.Since(p.lastDropLogAt) > dropLogInterval
		if shouldLog {
			p.lastDropLogAt = time.Now()
		}
		p.mu.Unlock()
		if shouldLog {
			log.Warnf("send queue full for %v, dropping %s message", p, msg.Command())
		}
		if sentChan != nil {
			close(sentChan)
		}
	}
}

// stageHandler drains the unbounded outgoing staging queue into the
// bounded sendQueue writeHandler reads from, applying the same drop-and-log
// policy as QueueMessage at that boundary. QueueMessage writes to sendQueue
// directly, so nothing in this package pushes onto the staging queue.
func (p *Peer) stageHandler() {
	defer p.wg.Done()

	for {
		select {
		case item, ok := <-p.outgoing.ChanOut():
			if !ok {
				return
			}
			out := item.(outgoingMsg)

			select {
			case p.sendQueue <- out:
			default:
				p.mu.Lock()
				shouldLog := time.Since(p.lastDropLogAt) > dropLogInterval
				if shouldLog {
					p.lastDropLogAt = time.Now()
				}
				p.mu.Unlock()
				if shouldLog {
					log.Warnf("send queue full for %v, dropping %s message", p, out.msg.Command())
				}
				if out.sentChan != nil {
					close(out.sentChan)
				}
			}

		case <-p.quit:
			return
		}
	}
}

// Stop cooperatively shuts the peer down: it signals the background
// goroutines to exit and closes the socket, guaranteeing the socket is
// closed once Stop returns. Safe to call more than once.
func (p *Peer) Stop() {
	if p.getState() == stateStopped {
		return
	}
	p.setState(stateStopping)

	select {
	case <-p.quit:
		// already stopping
	default:
		close(p.quit)
	}
	p.conn.Close()
	p.pingTicker.Stop()
	p.wg.Wait()
	p.setState(stateStopped)
}

func (p *Peer) readHandler() {
	// Stop is deferred first so wg.Done (LIFO, runs before it) has already
	// released this goroutine's waitgroup slot by the time Stop waits on
	// the others.
	defer p.Stop()
	defer p.wg.Done()

	for {
		msg, _, err := wire.ReadMessage(p.conn, p.network)
		if err != nil {
			log.Infof("closing %v: %v", p, err)
			return
		}
		p.touchLastMsg()
		atomic.AddUint64(&p.bytesReceived, 1)

		log.Tracef("read from %v: %v", p, newLogClosure(func() string {
			return spew.Sdump(msg)
		}))

		p.dispatch(msg)
	}
}

// dispatch routes a decoded application message to the appropriate handler.
// A protocol reject (unknown message, bad item) is logged and otherwise
// ignored; it never propagates as a fatal error past the peer boundary.
func (p *Peer) dispatch(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgPingPayload:
		p.queueMessage(&wire.MsgPongPayload{Nonce: m.Nonce}, nil)

	case *wire.MsgPongPayload:
		// latency tracking omitted; present for protocol completeness.

	case *wire.MsgGetAddrPayload:
		if p.handlers.OnGetAddr == nil {
			return
		}
		addrs := p.handlers.OnGetAddr(p)
		if len(addrs) > wire.MaxAddrPerMsg {
			addrs = addrs[:wire.MaxAddrPerMsg]
		}
		p.queueMessage(&wire.MsgAddrPayload{Addresses: addrs}, nil)

	case *wire.MsgAddrPayload:
		if p.handlers.OnAddr != nil {
			p.handlers.OnAddr(p, m.Addresses)
		}

	case *wire.MsgInvPayload:
		if p.handlers.OnInv != nil {
			p.handlers.OnInv(p, m.Items)
		}

	case *wire.MsgGetSqueaksPayload:
		if p.handlers.OnGetSqueaks != nil {
			p.handlers.OnGetSqueaks(p, m.Items)
		}

	case *wire.MsgSqueakPayload:
		if p.handlers.OnSqueak != nil {
			p.handlers.OnSqueak(p, &m.Squeak)
		}

	case *wire.MsgGetOfferPayload:
		if p.handlers.OnGetOffer != nil {
			p.handlers.OnGetOffer(p, m.SqueakHash)
		}

	case *wire.MsgOfferPayload:
		if p.handlers.OnOffer != nil {
			p.handlers.OnOffer(p, &m.Offer)
		}

	case *wire.MsgSubscribePayload:
		if p.handlers.OnSubscribe != nil {
			p.handlers.OnSubscribe(p, m.Filter)
		}

	case *wire.MsgUnsubscribePayload:
		if p.handlers.OnUnsubscribe != nil {
			p.handlers.OnUnsubscribe(p, m.Filter)
		}

	case *wire.MsgGetSqueakLocatorPayload:
		if p.handlers.OnGetSqueakLocator != nil {
			p.handlers.OnGetSqueakLocator(p, m)
		}

	case *wire.MsgSqueakLocatorPayload:
		// Only the short-lived sync-RPC client issues locator queries;
		// an unsolicited locator on the gossip loop is ignored.

	default:
		log.Warnf("%v sent unhandled message %s", p, msg.Command())
	}
}

func (p *Peer) writeHandler() {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeoutDur)
	defer idle.Stop()

	for {
		select {
		case out := <-p.sendQueue:
			_, err := wire.WriteMessage(p.conn, p.network, out.msg)
			if out.sentChan != nil {
				close(out.sentChan)
			}
			if err != nil {
				log.Errorf("write to %v failed: %v", p, err)
				go p.Stop()
				return
			}
			atomic.AddUint64(&p.bytesSent, 1)

		case <-p.idleCheck(idle):
			if p.IdleFor() >= p.idleTimeoutDur {
				log.Infof("%v idle for %v, disconnecting", p, p.idleTimeoutDur)
				go p.Stop()
				return
			}
			idle.Reset(p.idleTimeoutDur)

		case <-p.quit:
			return
		}
	}
}

// idleCheck returns the timer's channel; split out so writeHandler's select
// reads cleanly.
func (p *Peer) idleCheck(t *time.Timer) <-chan time.Time {
	return t.C
}

// pingHandler sends a keepalive ping every pingInterval. It ticks off
// p.pingTicker (lnd's ticker.Ticker, matching Autoconnect's loop) rather
// than a stdlib time.Ticker directly, so SetPingTicker lets a test swap in
// a ticker.Ticker that ticks on command instead of sleeping through real
// time.
func (p *Peer) pingHandler() {
	defer p.wg.Done()

	for {
		select {
		case <-p.pingTicker.Ticks():
			nonce, err := wire.NewNonce()
			if err != nil {
				log.Errorf("unable to generate ping nonce for %v: %v", p, err)
				continue
			}
			p.mu.Lock()
			p.lastPingNonce = nonce
			p.mu.Unlock()
			p.queueMessage(&wire.MsgPingPayload{Nonce: nonce}, nil)

		case <-p.quit:
			return
		}
	}
}
