package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDeliversInOrder(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(context.Background(), KindPeers)
	defer sub.Close()

	hub.Publish(KindPeers, Event{Kind: EventPeerConnected})
	hub.Publish(KindPeers, Event{Kind: EventPeerDisconnected})

	first := <-sub.Events()
	require.Equal(t, EventPeerConnected, first.Kind)

	second := <-sub.Events()
	require.Equal(t, EventPeerDisconnected, second.Kind)
}

func TestPublishNonBlockingWhenFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(context.Background(), KindOffers)
	defer sub.Close()

	// Fill the channel beyond capacity; none of these sends should
	// block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < channelCapacity+10; i++ {
			hub.Publish(KindOffers, Event{Kind: EventOfferReceived})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestLaggedMarkerOnOverflow(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(context.Background(), KindOffers)
	defer sub.Close()

	// Fill the channel exactly to capacity, then overflow it once; the
	// overflowing publish is dropped and the subscriber is marked
	// lagged.
	for i := 0; i < channelCapacity; i++ {
		hub.Publish(KindOffers, Event{Kind: EventOfferReceived})
	}
	hub.Publish(KindOffers, Event{Kind: EventOfferReceived})

	// Draining one slot makes room; the next publish should land a
	// Lagged marker in that freed slot instead of a plain event.
	<-sub.Events()
	hub.Publish(KindOffers, Event{Kind: EventOfferReceived})

	var sawLagged bool
	for i := 0; i < channelCapacity; i++ {
		ev := <-sub.Events()
		if ev.Kind == EventLagged {
			sawLagged = true
		}
	}
	require.True(t, sawLagged, "expected a Lagged marker after overflow")
}

func TestCloseReleasesChannelOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx, KindPeers)

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription was not cancelled promptly")
	}

	// Publishing after cancellation must not panic or deadlock; the
	// subscription should have been removed from the hub's shard.
	require.NotPanics(t, func() {
		hub.Publish(KindPeers, Event{Kind: EventPeerConnected})
	})
}

func TestSubscriptionsAreShardedByKind(t *testing.T) {
	hub := NewHub()
	peerSub := hub.Subscribe(context.Background(), KindPeers)
	defer peerSub.Close()
	offerSub := hub.Subscribe(context.Background(), KindOffers)
	defer offerSub.Close()

	hub.Publish(KindPeers, Event{Kind: EventPeerConnected})

	select {
	case <-offerSub.Events():
		t.Fatal("offer subscriber should not see a peer-kind event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case ev := <-peerSub.Events():
		require.Equal(t, EventPeerConnected, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("peer subscriber did not receive its event")
	}
}
