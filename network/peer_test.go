package network

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squeaknode/squeaknode/wire"
)

// fakeTicker is a minimal ticker.Ticker a test can fire on command, instead
// of waiting out a real pingInterval.
type fakeTicker struct {
	c chan time.Time
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{c: make(chan time.Time, 1)}
}

func (f *fakeTicker) Ticks() <-chan time.Time { return f.c }
func (f *fakeTicker) Resume()                 {}
func (f *fakeTicker) Stop()                   {}

func (f *fakeTicker) fire() {
	f.c <- time.Now()
}

func testAddresses() (local, remote wire.PeerAddress) {
	local = wire.PeerAddress{Network: wire.SimNet, Host: "127.0.0.1", Port: 18555}
	remote = wire.PeerAddress{Network: wire.SimNet, Host: "127.0.0.1", Port: 18556}
	return local, remote
}

// connectedPeerPair returns two Peers wired to opposite ends of an in-memory
// net.Pipe connection and drives both handshakes to completion concurrently
// (net.Pipe is unbuffered, so a single-goroutine Start/Start sequence would
// deadlock on the first WriteMessage).
func connectedPeerPair(t *testing.T) (a, b *Peer) {
	t.Helper()

	connA, connB := net.Pipe()
	localA, localB := testAddresses()

	a = NewPeer(connA, localA, localB, wire.SimNet, true, Handlers{}, nil)
	b = NewPeer(connB, localB, localA, wire.SimNet, false, Handlers{}, nil)

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = a.Start()
	}()
	go func() {
		defer wg.Done()
		errB = b.Start()
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)

	return a, b
}

func TestPeerHandshakeReachesActiveState(t *testing.T) {
	a, b := connectedPeerPair(t)
	defer a.Stop()
	defer b.Stop()

	require.Equal(t, stateActive, a.getState())
	require.Equal(t, stateActive, b.getState())
	require.True(t, a.Outbound())
	require.False(t, b.Outbound())
}

func TestPeerKeepalivePingFiresOnForcedTick(t *testing.T) {
	connA, connB := net.Pipe()
	localA, localB := testAddresses()

	a := NewPeer(connA, localA, localB, wire.SimNet, true, Handlers{}, nil)
	// b never Starts, so nothing but this test reads connB: a's ping, once
	// written by its writeHandler, can be read back deterministically
	// without racing a second reader.
	b := NewPeer(connB, localB, localA, wire.SimNet, false, Handlers{}, nil)
	defer a.Stop()
	defer connB.Close()

	tkr := newFakeTicker()
	a.SetPingTicker(tkr)

	startErr := make(chan error, 1)
	go func() { startErr <- a.Start() }()

	require.NoError(t, b.handshake())
	require.NoError(t, <-startErr)

	tkr.fire()

	msg, _, err := wire.ReadMessage(b.conn, wire.SimNet)
	require.NoError(t, err)

	ping, ok := msg.(*wire.MsgPingPayload)
	require.True(t, ok, "expected a ping message, got %T", msg)
	require.NotZero(t, ping.Nonce)
}

func TestPeerIdleTimeoutDisconnects(t *testing.T) {
	connA, connB := net.Pipe()
	localA, localB := testAddresses()

	a := NewPeer(connA, localA, localB, wire.SimNet, true, Handlers{}, nil)
	b := NewPeer(connB, localB, localA, wire.SimNet, false, Handlers{}, nil)
	defer b.Stop()

	a.SetIdleTimeout(20 * time.Millisecond)

	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() { defer wg.Done(); errA = a.Start() }()
	go func() { defer wg.Done(); errB = b.Start() }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)

	require.Eventually(t, func() bool {
		return a.Stopped()
	}, time.Second, 5*time.Millisecond, "peer did not disconnect after its idle timeout elapsed")
}

func TestPeerStopIsIdempotentAndClosesSocket(t *testing.T) {
	a, b := connectedPeerPair(t)
	defer b.Stop()

	a.Stop()
	a.Stop() // must not panic or block a second time

	require.True(t, a.Stopped())

	_, _, err := wire.ReadMessage(a.conn, wire.SimNet)
	require.Error(t, err, "expected reads on a stopped peer's socket to fail")
}

func TestPeerQueueMessageDropsWhenSendQueueFull(t *testing.T) {
	connA, connB := net.Pipe()
	localA, localB := testAddresses()

	// a is deliberately never Started, so nothing ever drains sendQueue;
	// this verifies QueueMessage itself never blocks the caller once the
	// queue is full, regardless of whether a writeHandler is running.
	a := NewPeer(connA, localA, localB, wire.SimNet, true, Handlers{}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < outgoingQueueLen+10; i++ {
			a.QueueMessage(&wire.MsgPingPayload{Nonce: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("QueueMessage blocked instead of dropping once the send queue filled")
	}

	a.conn.Close()
	connB.Close()
}
