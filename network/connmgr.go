package network

import (
	"errors"
	"sync"

	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

// ErrAlreadyConnected is returned by ConnMgr.Add when a peer for the given
// address is already present.
var ErrAlreadyConnected = errors.New("network: already connected to this address")

// ConnMgr holds the mapping of PeerAddress to live Peer sessions. It
// generalizes the teacher's server.peers map plus newPeers/donePeers
// channel handoff (lnd's server.go) into an explicit, directly callable
// add/remove API guarded by a single mutex. Reads return a snapshot so the
// lock is never held during I/O, per spec §5's deadlock rule: ConnMgr's
// lock must never be held while calling into SubscriptionHub or any peer's
// socket.
type ConnMgr struct {
	mu       sync.Mutex
	peers    map[wire.PeerAddress]*Peer
	sequence uint64

	hub *subscription.Hub
}

// NewConnMgr creates an empty ConnMgr that publishes connect/disconnect
// events to hub.
func NewConnMgr(hub *subscription.Hub) *ConnMgr {
	return &ConnMgr{
		peers: make(map[wire.PeerAddress]*Peer),
		hub:   hub,
	}
}

// Add registers a newly-handshaked peer. It fails with ErrAlreadyConnected
// if a peer for the same address is already present, per the "at most one
// Peer per PeerAddress" invariant in spec §3.
func (c *ConnMgr) Add(p *Peer) error {
	key := p.Address().Key()

	c.mu.Lock()
	if _, exists := c.peers[key]; exists {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.peers[key] = p
	c.sequence++
	seq := c.sequence
	c.mu.Unlock()

	cmgrLog.Infof("added peer %v (seq %d)", p, seq)

	// Published outside the lock: SubscriptionHub must never be touched
	// while holding ConnMgr's mutex (spec §5 lock-order rule).
	if c.hub != nil {
		c.hub.Publish(subscription.KindPeers, subscription.Event{
			Kind: subscription.EventPeerConnected,
			Peer: p.Address(),
		})
	}
	return nil
}

// Remove extracts the peer for address, if present, stops it (guaranteeing
// socket closure), and publishes a disconnect event. It is a no-op if no
// peer is registered for address.
func (c *ConnMgr) Remove(address wire.PeerAddress) {
	key := address.Key()

	c.mu.Lock()
	p, exists := c.peers[key]
	if exists {
		delete(c.peers, key)
		c.sequence++
	}
	c.mu.Unlock()

	if !exists {
		return
	}

	p.Stop()
	cmgrLog.Infof("removed peer %v", p)

	if c.hub != nil {
		c.hub.Publish(subscription.KindPeers, subscription.Event{
			Kind: subscription.EventPeerDisconnected,
			Peer: address,
		})
	}
}

// Get returns the live peer for address, or nil if none is connected.
func (c *ConnMgr) Get(address wire.PeerAddress) *Peer {
	key := address.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[key]
}

// Has reports whether a peer for address is currently connected.
func (c *ConnMgr) Has(address wire.PeerAddress) bool {
	return c.Get(address) != nil
}

// Peers returns a snapshot slice of the currently connected peers. Callers
// may iterate it freely without holding any lock.
func (c *ConnMgr) Peers() []*Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	return out
}

// OutboundCount returns the number of currently connected outbound peers,
// used by the autoconnect loop to compute its deficit/surplus.
func (c *ConnMgr) OutboundCount() int {
	n := 0
	for _, p := range c.Peers() {
		if p.Outbound() {
			n++
		}
	}
	return n
}

// Broadcast sends msg to every connected peer on a best-effort basis.
// Per-peer send failures (a full queue) are handled by Peer.QueueMessage's
// own backpressure policy and never abort the broadcast.
func (c *ConnMgr) Broadcast(msg wire.Message) {
	for _, p := range c.Peers() {
		p.QueueMessage(msg)
	}
}

// StopAll stops every connected peer and blocks until each has reached the
// Stopped state.
func (c *ConnMgr) StopAll() {
	peers := c.Peers()

	c.mu.Lock()
	c.peers = make(map[wire.PeerAddress]*Peer)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *Peer) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
}
