package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/wire"
)

// dummyPeer returns a Peer wired to one end of an in-memory socket, good
// enough for ConnMgr bookkeeping tests that never exercise the wire
// protocol itself. The caller is responsible for Stop()ing it (directly or
// via ConnMgr.Remove/StopAll).
func dummyPeer(address wire.PeerAddress, outbound bool) (*Peer, net.Conn) {
	connA, connB := net.Pipe()
	p := NewPeer(connA, wire.PeerAddress{}, address, wire.SimNet, outbound, Handlers{}, nil)
	return p, connB
}

func TestConnMgrAddGetHasRoundTrip(t *testing.T) {
	cm := NewConnMgr(nil)
	addr := wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.1", Port: 18555}

	p, other := dummyPeer(addr, true)
	defer other.Close()
	defer p.Stop()

	require.False(t, cm.Has(addr))
	require.Nil(t, cm.Get(addr))

	require.NoError(t, cm.Add(p))

	require.True(t, cm.Has(addr))
	require.Same(t, p, cm.Get(addr))
}

func TestConnMgrAddRejectsDuplicateAddress(t *testing.T) {
	cm := NewConnMgr(nil)
	addr := wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.2", Port: 18555}

	p1, other1 := dummyPeer(addr, true)
	defer other1.Close()
	defer p1.Stop()
	p2, other2 := dummyPeer(addr, false)
	defer other2.Close()
	defer p2.Stop()

	require.NoError(t, cm.Add(p1))
	require.ErrorIs(t, cm.Add(p2), ErrAlreadyConnected)

	// The first-registered peer for the address is unaffected by the
	// rejected second Add.
	require.Same(t, p1, cm.Get(addr))
}

func TestConnMgrAddIsNonEmptyAfterConnectAndEmptyAfterDisconnect(t *testing.T) {
	// Mirrors the spec property: for all addresses, after a successful
	// connect and before any disconnect, Get(address) is non-empty.
	cm := NewConnMgr(nil)
	addr := wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.3", Port: 18555}

	p, other := dummyPeer(addr, true)
	defer other.Close()

	require.NoError(t, cm.Add(p))
	require.NotNil(t, cm.Get(addr))

	cm.Remove(addr)

	require.Nil(t, cm.Get(addr))
	require.False(t, cm.Has(addr))
	require.True(t, p.Stopped(), "Remove must stop the peer, guaranteeing socket closure")
}

func TestConnMgrRemoveIsNoopForUnknownAddress(t *testing.T) {
	cm := NewConnMgr(nil)
	addr := wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.4", Port: 18555}

	require.NotPanics(t, func() {
		cm.Remove(addr)
	})
}

func TestConnMgrOutboundCountCountsOnlyOutboundPeers(t *testing.T) {
	cm := NewConnMgr(nil)

	out, outOther := dummyPeer(wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.5", Port: 18555}, true)
	defer outOther.Close()
	defer out.Stop()
	in, inOther := dummyPeer(wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.6", Port: 18555}, false)
	defer inOther.Close()
	defer in.Stop()

	require.NoError(t, cm.Add(out))
	require.NoError(t, cm.Add(in))

	require.Equal(t, 1, cm.OutboundCount())
	require.Len(t, cm.Peers(), 2)
}

func TestConnMgrStopAllStopsEveryPeerAndClearsTheSet(t *testing.T) {
	cm := NewConnMgr(nil)

	p1, other1 := dummyPeer(wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.7", Port: 18555}, true)
	defer other1.Close()
	p2, other2 := dummyPeer(wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.8", Port: 18555}, true)
	defer other2.Close()

	require.NoError(t, cm.Add(p1))
	require.NoError(t, cm.Add(p2))

	cm.StopAll()

	require.True(t, p1.Stopped())
	require.True(t, p2.Stopped())
	require.Empty(t, cm.Peers())
}

func TestConnMgrAddPublishesPeerConnectedEvent(t *testing.T) {
	hub := subscription.NewHub()
	cm := NewConnMgr(hub)
	addr := wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.9", Port: 18555}

	sub := hub.Subscribe(context.Background(), subscription.KindPeers)
	defer sub.Close()

	p, other := dummyPeer(addr, true)
	defer other.Close()
	defer p.Stop()

	require.NoError(t, cm.Add(p))

	select {
	case ev := <-sub.Events():
		require.Equal(t, subscription.EventPeerConnected, ev.Kind)
		require.True(t, addr.Equal(ev.Peer))
	case <-time.After(time.Second):
		t.Fatal("did not receive a peer-connected event")
	}
}

func TestConnMgrRemovePublishesPeerDisconnectedEvent(t *testing.T) {
	hub := subscription.NewHub()
	cm := NewConnMgr(hub)
	addr := wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.10", Port: 18555}

	p, other := dummyPeer(addr, true)
	defer other.Close()
	require.NoError(t, cm.Add(p))

	sub := hub.Subscribe(context.Background(), subscription.KindPeers)
	defer sub.Close()

	cm.Remove(addr)

	select {
	case ev := <-sub.Events():
		require.Equal(t, subscription.EventPeerDisconnected, ev.Kind)
		require.True(t, addr.Equal(ev.Peer))
	case <-time.After(time.Second):
		t.Fatal("did not receive a peer-disconnected event")
	}
}

func TestConnMgrBroadcastSendsToEveryPeer(t *testing.T) {
	cm := NewConnMgr(nil)

	p1, other1 := dummyPeer(wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.11", Port: 18555}, true)
	defer other1.Close()
	defer p1.Stop()
	p2, other2 := dummyPeer(wire.PeerAddress{Network: wire.SimNet, Host: "10.0.0.12", Port: 18555}, true)
	defer other2.Close()
	defer p2.Stop()

	require.NoError(t, cm.Add(p1))
	require.NoError(t, cm.Add(p2))

	cm.Broadcast(&wire.MsgPingPayload{Nonce: 7})

	require.Len(t, p1.sendQueue, 1)
	require.Len(t, p2.sendQueue, 1)
}
