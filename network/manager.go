package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

// Config holds the tunables NetworkManager needs, lifted out of the
// package-level MIN_PEERS/MAX_PEERS/UPDATE_THREAD_SLEEP_TIME globals the
// original Python source used (REDESIGN FLAG, spec §9).
type Config struct {
	Network          wire.Network
	BindAddr         string
	MinPeers         int
	MaxPeers         int
	UpdateInterval   time.Duration
}

// DefaultConfig returns the defaults the original implementation hardcoded
// (MIN_PEERS=5, MAX_PEERS=10, UPDATE_THREAD_SLEEP_TIME=10s).
func DefaultConfig() Config {
	return Config{
		MinPeers:       5,
		MaxPeers:       10,
		UpdateInterval: 10 * time.Second,
	}
}

// Manager is the top-level NetworkManager: it owns the ConnMgr, the
// inbound PeerServer, and the Autoconnect loop, and exposes the operations
// the rest of the node (admin RPC, sync) call into. It replaces the
// original `socket.gethostbyname('localhost')` bind-address resolution
// (REDESIGN FLAG, spec §9) with an explicit configured bind address.
type Manager struct {
	cfg Config

	connMgr     *ConnMgr
	peerServer  *PeerServer
	autoconnect *Autoconnect
	hub         *subscription.Hub

	handlers Handlers

	localAddr wire.PeerAddress
}

// NewManager constructs a Manager. handlers is the application-level
// message dispatch (wired to the out-of-scope SqueakController
// collaborator in the full node); hub is the process-wide subscription
// router. The AddressSource used for autoconnect candidates is supplied
// to Start, since it is typically only available once the store is open.
func NewManager(cfg Config, handlers Handlers, hub *subscription.Hub) *Manager {
	return &Manager{
		cfg:      cfg,
		connMgr:  NewConnMgr(hub),
		hub:      hub,
		handlers: handlers,
	}
}

// ConnMgr exposes the connection manager for admin RPC / sync callers that
// need to look up or broadcast to live peers.
func (m *Manager) ConnMgr() *ConnMgr { return m.connMgr }

// LocalAddr returns this node's own listening address, as advertised in the
// version handshake. Only valid after Start.
func (m *Manager) LocalAddr() wire.PeerAddress { return m.localAddr }

// Start binds the inbound listener and begins accepting connections and
// autoconnecting, per spec §4.E.
func (m *Manager) Start(source AddressSource) error {
	host, portStr, err := net.SplitHostPort(m.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("invalid bind address %q: %w", m.cfg.BindAddr, err)
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	m.localAddr = wire.PeerAddress{Network: m.cfg.Network, Host: host, Port: port}

	srv, err := NewPeerServer(m.cfg.BindAddr, m.handleConnection)
	if err != nil {
		return err
	}
	m.peerServer = srv
	m.peerServer.Start()

	ac, err := NewAutoconnect(
		m.cfg.Network, m.cfg.MinPeers, m.cfg.MaxPeers, m.cfg.UpdateInterval,
		m.connMgr, source, m.handleConnection,
	)
	if err != nil {
		m.peerServer.Stop()
		return err
	}
	m.autoconnect = ac
	m.autoconnect.Start()

	cmgrLog.Infof("network manager started, listening on %v", srv.Addr())
	return nil
}

// Stop tears the manager down: stops accepting, stops autoconnecting, and
// stops every connected peer.
func (m *Manager) Stop() {
	if m.autoconnect != nil {
		m.autoconnect.Stop()
	}
	if m.peerServer != nil {
		m.peerServer.Stop()
	}
	m.connMgr.StopAll()
	cmgrLog.Infof("network manager stopped")
}

// ConnectPeer dials address if not already connected. Connect is
// idempotent: dialing an already-connected address is a no-op, per spec
// §4.E.
func (m *Manager) ConnectPeer(address wire.PeerAddress) error {
	address = address.NormalizePort()
	if m.connMgr.Has(address) {
		return nil
	}

	var dialer net.Dialer
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		return fmt.Errorf("dial %v: %w", address, err)
	}

	go m.handleConnection(conn, address, true)
	return nil
}

const dialTimeout = 10 * time.Second

// DisconnectPeer stops and removes the peer for address, if connected.
func (m *Manager) DisconnectPeer(address wire.PeerAddress) {
	m.connMgr.Remove(address.NormalizePort())
}

// GetConnectedPeer returns the live Peer for address, or nil.
func (m *Manager) GetConnectedPeer(address wire.PeerAddress) *Peer {
	return m.connMgr.Get(address.NormalizePort())
}

// GetConnectedPeers returns a snapshot of all connected peers.
func (m *Manager) GetConnectedPeers() []*Peer {
	return m.connMgr.Peers()
}

// BroadcastMsg sends msg to every connected peer, best-effort.
func (m *Manager) BroadcastMsg(msg wire.Message) {
	m.connMgr.Broadcast(msg)
}

// SubscribeConnectedPeers opens a streaming subscription over connect/
// disconnect events, for the admin RPC's ConnectedPeers/ConnectedPeer
// server-streaming methods (spec §6).
func (m *Manager) SubscribeConnectedPeers(ctx context.Context) *subscription.Subscription {
	return m.hub.Subscribe(ctx, subscription.KindPeers)
}

// handleConnection owns one connection's full lifecycle end to end,
// directly mirroring NetworkManager.handle_connection in the original
// Python source: build the Peer, run its handshake, register it, wait out
// its message loop, and guarantee deregistration on exit.
func (m *Manager) handleConnection(conn net.Conn, address wire.PeerAddress, outgoing bool) {
	defer func() {
		if r := recover(); r != nil {
			cmgrLog.Errorf("recovered panic handling connection to %v: %v", address, r)
			conn.Close()
		}
	}()

	p := NewPeer(conn, m.localAddr, address, m.cfg.Network, outgoing, m.handlers, m.hub)

	if err := p.Start(); err != nil {
		cmgrLog.Infof("peer connection to %v failed: %v", address, err)
		return
	}

	if err := m.connMgr.Add(p); err != nil {
		cmgrLog.Debugf("not registering duplicate connection to %v: %v", address, err)
		p.Stop()
		return
	}
	defer m.connMgr.Remove(address)

	<-peerDone(p)
}

// peerDone returns a channel that closes once the peer reaches the
// Stopped state, used to block handleConnection for the connection's
// lifetime without busy-waiting.
func peerDone(p *Peer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for !p.Stopped() {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()
	return done
}
