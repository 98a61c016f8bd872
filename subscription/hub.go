// Package subscription implements a process-wide, bounded pub/sub event
// router. It replaces the original Python implementation's generator +
// shared-stop-flag pattern (squeaknode's *_subscription_client classes)
// with explicit Go channels and context cancellation, per the REDESIGN
// FLAG in spec §9: "re-architect as bounded channels with explicit
// cancellation tokens."
package subscription

import (
	"context"
	"sync"

	"github.com/squeaknode/squeaknode/wire"
)

// Kind identifies one of the subscribable event streams. The Hub keeps a
// separate subscriber set per Kind, but a single Hub mutex guards all of
// the sets: Publish holds it only while copying its Kind's subscriber list,
// and publishers of different Kinds still contend on that one lock.
type Kind int

const (
	KindPeers Kind = iota
	KindOffers
	KindSqueakDisplay
	KindReceivedPayments
)

// EventKind is the concrete payload tag inside an Event.
type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventOfferReceived
	EventSqueakDisplay
	EventReceivedPayment
	EventLagged
)

// Event is the envelope delivered to subscribers. Only the fields relevant
// to Kind are populated; the rest are the zero value.
type Event struct {
	Kind EventKind

	Peer        wire.PeerAddress
	SqueakHash  wire.SqueakHash
	Offer       *wire.OfferPayload
	LaggedCount int
}

// channelCapacity is the bound on each subscription's channel, per spec
// §4.G.
const channelCapacity = 64

// Subscription is a single open subscription: a bounded channel of Events
// plus the means to cancel it. A Subscription is either drained by its
// consumer or Closed; the Hub never leaves a channel dangling (spec §3
// invariant).
type Subscription struct {
	kind   Kind
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	lagged bool

	hub *Hub
}

// Events returns the channel to read events from. The channel itself is
// never closed; consumers select on Done alongside it to notice
// cancellation.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done returns a channel closed when the subscription has been cancelled,
// mirroring context.Context's own Done semantics; consumers select on this
// alongside Events() to notice cancellation promptly even if no event is
// pending.
func (s *Subscription) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close cancels the subscription and releases its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.cancel()
	s.hub.remove(s)
}

// publish attempts a non-blocking send. If the channel is full, the event
// is dropped for this subscriber and the subscriber is marked lagged; the
// next successful delivery is replaced with a single Lagged marker so the
// consumer knows to resync from the store (spec §4.G).
func (s *Subscription) publish(ev Event) {
	s.mu.Lock()
	wasLagged := s.lagged
	s.mu.Unlock()

	toSend := ev
	if wasLagged {
		toSend = Event{Kind: EventLagged, LaggedCount: 1}
	}

	select {
	case s.events <- toSend:
		if wasLagged {
			s.mu.Lock()
			s.lagged = false
			s.mu.Unlock()
		}
	default:
		s.mu.Lock()
		s.lagged = true
		s.mu.Unlock()
	}
}

// Hub is the process-wide event router. One Hub is shared by ConnMgr, the
// sync controller, and the admin RPC server's streaming subscriptions.
type Hub struct {
	mu   sync.Mutex
	subs map[Kind]map[*Subscription]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[Kind]map[*Subscription]struct{}),
	}
}

// Subscribe opens a new bounded subscription for kind. The returned
// Subscription must eventually be Closed; ctx additionally allows a caller
// to cancel via a client-supplied cancellation token (e.g. a gRPC stream
// context), matching spec §6's "each subscription is bound to a client-
// cancellation token" requirement.
func (h *Hub) Subscribe(ctx context.Context, kind Kind) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)

	sub := &Subscription{
		kind:   kind,
		events: make(chan Event, channelCapacity),
		ctx:    subCtx,
		cancel: cancel,
		hub:    h,
	}

	h.mu.Lock()
	if h.subs[kind] == nil {
		h.subs[kind] = make(map[*Subscription]struct{})
	}
	h.subs[kind][sub] = struct{}{}
	h.mu.Unlock()

	// Release the subscription's channel promptly once the caller's
	// cancellation token fires, per spec §6.
	go func() {
		<-subCtx.Done()
		sub.Close()
	}()

	subsLog.Debugf("opened subscription kind=%d", kind)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.kind]; ok {
		delete(set, sub)
	}
	h.mu.Unlock()
}

// Publish fans ev out to every open subscription for kind. Delivery is
// non-blocking per subscriber (spec §4.G); a slow subscriber never stalls
// the publisher or other subscribers.
func (h *Hub) Publish(kind Kind, ev Event) {
	h.mu.Lock()
	set := h.subs[kind]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.publish(ev)
	}
}
