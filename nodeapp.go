package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/squeaknode/squeaknode/lightning"
	"github.com/squeaknode/squeaknode/network"
	"github.com/squeaknode/squeaknode/store"
	"github.com/squeaknode/squeaknode/subscription"
	"github.com/squeaknode/squeaknode/sync"
	"github.com/squeaknode/squeaknode/wire"
)

// nodeApp wires network.Handlers and the periodic reconciliation loop to
// the store, generalizing original_source/squeaknode/node/squeak_controller.py's
// role as the object every inbound message and outbound sync operation
// ultimately goes through. It also satisfies sync.NodeController so
// sync.Controller can ask it for scoping state without depending on *Manager
// or store.SqueakStore directly.
type nodeApp struct {
	network wire.Network
	store   store.SqueakStore
	hub     *subscription.Hub
	ln      lightning.Client

	manager *network.Manager

	payTimeout time.Duration

	// priceMsat is the default decryption-key price (sqk.price_msat);
	// a profile's own price overrides it.
	priceMsat int64
}

func newNodeApp(net wire.Network, st store.SqueakStore, hub *subscription.Hub, ln lightning.Client, payTimeout time.Duration, priceMsat int64) *nodeApp {
	return &nodeApp{network: net, store: st, hub: hub, ln: ln, payTimeout: payTimeout, priceMsat: priceMsat}
}

// handlers builds the network.Handlers callback set dispatched from every
// connected Peer's read loop.
func (n *nodeApp) handlers() network.Handlers {
	return network.Handlers{
		OnGetAddr:          n.onGetAddr,
		OnAddr:             n.onAddr,
		OnInv:              n.onInv,
		OnGetSqueaks:       n.onGetSqueaks,
		OnSqueak:           n.onSqueak,
		OnGetOffer:         n.onGetOffer,
		OnOffer:            n.onOffer,
		OnSubscribe:        n.onSubscribe,
		OnUnsubscribe:      n.onUnsubscribe,
		OnGetSqueakLocator: n.onGetSqueakLocator,
	}
}

// onGetSqueakLocator answers the three locator query shapes the sync-RPC
// client issues: a reply-thread query (ReplyTo set), an upload-direction
// query (negative MaxBlock, meaning this side decides the scope, per spec
// §4.F.2), and a plain author/range download query.
func (n *nodeApp) onGetSqueakLocator(p *network.Peer, req *wire.MsgGetSqueakLocatorPayload) {
	resp := &wire.MsgSqueakLocatorPayload{
		Addresses: req.FollowAddresses,
		MinBlock:  req.MinBlock,
		MaxBlock:  req.MaxBlock,
	}

	switch {
	case req.ReplyTo != nil:
		entries, err := n.store.GetThreadReplyEntries(*req.ReplyTo)
		if err != nil {
			ltndLog.Errorf("lookup replies to %v for %v: %v", req.ReplyTo, p, err)
			return
		}
		resp.Addresses = nil
		for _, e := range entries {
			resp.Hashes = append(resp.Hashes, e.Hash)
		}

	case req.MaxBlock < 0:
		// The requester wants to upload: scope its offered addresses to
		// the ones we actually follow and the window we sync over.
		followed, err := n.store.GetFollowedAddresses()
		if err != nil {
			ltndLog.Errorf("get followed addresses for %v: %v", p, err)
			return
		}
		wanted := intersect(req.FollowAddresses, followed)
		br, err := n.store.GetBlockRange()
		if err != nil {
			ltndLog.Errorf("get block range for %v: %v", p, err)
			return
		}
		hashes, err := n.store.Lookup(wanted, br.MinBlock, br.MaxBlock)
		if err != nil {
			ltndLog.Errorf("lookup for upload query from %v: %v", p, err)
			return
		}
		resp.Hashes = hashes
		resp.Addresses = wanted
		resp.MinBlock = br.MinBlock
		resp.MaxBlock = br.MaxBlock

	default:
		hashes, err := n.store.Lookup(req.FollowAddresses, req.MinBlock, req.MaxBlock)
		if err != nil {
			ltndLog.Errorf("lookup for download query from %v: %v", p, err)
			return
		}
		resp.Hashes = hashes
	}

	p.QueueMessage(resp)
}

func intersect(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := inB[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (n *nodeApp) onGetAddr(p *network.Peer) []wire.PeerAddress {
	learned, err := n.store.GetLearnedAddresses()
	if err != nil {
		ltndLog.Errorf("get learned addresses: %v", err)
		return nil
	}
	return learned
}

func (n *nodeApp) onAddr(p *network.Peer, addrs []wire.PeerAddress) {
	for _, a := range addrs {
		if err := n.store.RecordLearnedAddress(a.NormalizePort()); err != nil {
			ltndLog.Errorf("record learned address %v: %v", a, err)
		}
	}
}

// onInv requests every advertised squeak we don't already have. Offered
// decryption keys (InvOffer) are not proactively pulled; a peer fetches an
// offer only once it decides to pay for one.
func (n *nodeApp) onInv(p *network.Peer, items []wire.InvVect) {
	var want []wire.InvVect
	for _, item := range items {
		if item.Type != wire.InvSqueak {
			continue
		}
		sq, err := n.store.Get(item.Hash)
		if err != nil {
			ltndLog.Errorf("lookup %v before fetch: %v", item.Hash, err)
			continue
		}
		if sq == nil {
			want = append(want, item)
		}
	}
	if len(want) > 0 {
		p.QueueMessage(&wire.MsgGetSqueaksPayload{Items: want})
	}
}

func (n *nodeApp) onGetSqueaks(p *network.Peer, items []wire.InvVect) {
	for _, item := range items {
		if item.Type != wire.InvSqueak {
			continue
		}
		sq, err := n.store.Get(item.Hash)
		if err != nil {
			ltndLog.Errorf("lookup %v to serve: %v", item.Hash, err)
			continue
		}
		if sq == nil {
			continue
		}
		p.QueueMessage(&wire.MsgSqueakPayload{Squeak: *sq})
	}
}

// onSqueak validates a downloaded squeak's signature and anchored header
// before accepting it, matching Controller.downloadOne's acceptance check
// (sync/controller.go) for squeaks that arrive unsolicited over gossip
// rather than through an explicit sync Download.
func (n *nodeApp) onSqueak(p *network.Peer, sq *wire.Squeak) {
	if err := sq.VerifySignature(n.network); err != nil {
		ltndLog.Debugf("discarding squeak from %v: %v", p, err)
		return
	}
	if err := sq.Header.ValidateProofOfWork(); err != nil {
		ltndLog.Debugf("discarding squeak from %v: %v", p, err)
		return
	}

	hash, err := n.store.Insert(sq, sq.Header)
	if err != nil {
		ltndLog.Errorf("insert squeak from %v: %v", p, err)
		return
	}
	if hash == nil {
		return // already have it
	}

	n.hub.Publish(subscription.KindSqueakDisplay, subscription.Event{
		Kind:       subscription.EventSqueakDisplay,
		SqueakHash: *hash,
	})
	n.manager.BroadcastMsg(&wire.MsgInvPayload{
		Items: []wire.InvVect{{Type: wire.InvSqueak, Hash: *hash}},
	})
}

// offerInvoiceExpiry is how long a minted decryption-key invoice stays
// payable, in seconds.
const offerInvoiceExpiry = 3600

// onGetOffer sells a decryption key: it mints a BOLT-11 invoice whose
// preimage is the squeak's own decryption key, so settling the payment
// reveals exactly the 32 bytes the buyer's pay-for-key flow will use to
// unlock the content.
func (n *nodeApp) onGetOffer(p *network.Peer, hash wire.SqueakHash) {
	if n.ln == nil {
		ltndLog.Debugf("%v requested an offer for %v but no lightning backend is configured", p, hash)
		return
	}

	sq, err := n.store.Get(hash)
	if err != nil {
		ltndLog.Errorf("lookup %v to sell: %v", hash, err)
		return
	}
	if sq == nil || !sq.Unlocked() {
		ltndLog.Debugf("%v requested an offer for %v, which this node does not hold unlocked", p, hash)
		return
	}

	price := n.priceMsat
	if profile, err := n.store.GetProfile(sq.AuthorAddress); err == nil && profile != nil && profile.PriceMsat > 0 {
		price = profile.PriceMsat
	}
	if price <= 0 {
		ltndLog.Debugf("%v requested an offer for %v, which is not for sale", p, hash)
		return
	}

	var preimage [32]byte
	copy(preimage[:], sq.DecryptionKey)

	ctx, cancel := context.WithTimeout(context.Background(), n.payTimeout)
	defer cancel()

	payReq, err := n.ln.AddInvoice(ctx, preimage, price, "squeak "+hash.String(), offerInvoiceExpiry)
	if err != nil {
		ltndLog.Errorf("mint offer invoice for %v: %v", hash, err)
		return
	}

	var nodePubKey []byte
	if info, err := n.ln.GetInfo(ctx); err == nil {
		if pk, err := hex.DecodeString(info.IdentityPubkey); err == nil {
			nodePubKey = pk
		}
	}

	now := time.Now()
	local := n.manager.LocalAddr()
	p.QueueMessage(&wire.MsgOfferPayload{Offer: wire.OfferPayload{
		SqueakHash:       hash,
		PriceMsat:        uint64(price),
		PaymentRequest:   payReq,
		Host:             local.Host,
		Port:             local.Port,
		NodePubKey:       nodePubKey,
		Expiry:           now.Add(offerInvoiceExpiry * time.Second).Unix(),
		InvoiceTimestamp: now.Unix(),
	}})
	ltndLog.Infof("offered squeak %v to %v for %d msat", hash, p, price)
}

func (n *nodeApp) onOffer(p *network.Peer, offer *wire.OfferPayload) {
	inv, err := n.ln.DecodePaymentRequest(context.Background(), offer.PaymentRequest)
	if err != nil {
		ltndLog.Errorf("decode offer payment request from %v: %v", p, err)
		return
	}

	if err := n.store.SaveOffer(&store.ReceivedOffer{
		SqueakHash:       offer.SqueakHash,
		PeerAddress:      p.Address(),
		PriceMsat:        int64(offer.PriceMsat),
		PaymentRequest:   offer.PaymentRequest,
		PaymentHash:      inv.PaymentHash,
		DestinationNode:  offer.NodePubKey,
		Host:             offer.Host,
		Port:             offer.Port,
		Expiry:           time.Unix(offer.Expiry, 0),
		InvoiceTimestamp: time.Unix(offer.InvoiceTimestamp, 0),
	}); err != nil {
		ltndLog.Errorf("save offer from %v: %v", p, err)
		return
	}

	n.hub.Publish(subscription.KindOffers, subscription.Event{
		Kind:  subscription.EventOfferReceived,
		Peer:  p.Address(),
		Offer: offer,
	})
}

// onSubscribe/onUnsubscribe are no-ops: filtered server-push delivery to a
// gossip Peer is not one of the operations spec §4/§6 names, only the admin
// RPC's own subscription streams (rpcserver) are.
func (n *nodeApp) onSubscribe(p *network.Peer, filter wire.SubscribeFilter)   {}
func (n *nodeApp) onUnsubscribe(p *network.Peer, filter wire.SubscribeFilter) {}

// GetNetwork/GetBlockRange/GetFollowedAddresses/GetSharingAddresses satisfy
// sync.NodeController.
func (n *nodeApp) GetNetwork() wire.Network                { return n.network }
func (n *nodeApp) GetBlockRange() (sync.BlockRange, error) {
	br, err := n.store.GetBlockRange()
	if err != nil {
		return sync.BlockRange{}, err
	}
	return sync.BlockRange{MinBlock: br.MinBlock, MaxBlock: br.MaxBlock}, nil
}
func (n *nodeApp) GetFollowedAddresses() ([]string, error) { return n.store.GetFollowedAddresses() }
func (n *nodeApp) GetSharingAddresses() ([]string, error)  { return n.store.GetSharingAddresses() }

// syncLoop periodically runs a full Download+Upload against every connected
// peer, generalizing original_source/squeaknode/node/squeak_node.py's
// periodic sync thread (REDESIGN FLAG, spec §9: explicit ticker loop rather
// than a bare while-True/sleep thread).
func (n *nodeApp) syncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.syncAllPeers(ctx)
		}
	}
}

func (n *nodeApp) syncAllPeers(ctx context.Context) {
	n.forEachPeer(ctx, func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress) {
		if err := ctrl.Download(ctx, nil); err != nil {
			syncLog.Errorf("download from %v: %v", addr, err)
		}
		if err := ctrl.Upload(ctx); err != nil {
			syncLog.Errorf("upload to %v: %v", addr, err)
		}
	})
}

// forEachPeer opens a short-lived sync connection to every connected peer
// in turn and runs fn against it. Per-peer connection failures are logged
// and skipped; the sweep continues.
func (n *nodeApp) forEachPeer(ctx context.Context, fn func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress)) {
	for _, peer := range n.manager.GetConnectedPeers() {
		if ctx.Err() != nil {
			return
		}
		addr := peer.Address()
		rpcClient, err := network.DialPeerRPCClient(n.manager.LocalAddr(), addr, n.network, n.payTimeout)
		if err != nil {
			syncLog.Debugf("open sync connection to %v: %v", addr, err)
			continue
		}
		fn(ctx, sync.New(n, n.store, n.ln, addr, rpcClient, n.payTimeout), addr)
		rpcClient.Close()
	}
}

// DownloadSqueaks runs a full range download against every connected peer.
func (n *nodeApp) DownloadSqueaks(ctx context.Context) error {
	n.forEachPeer(ctx, func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress) {
		if err := ctrl.Download(ctx, nil); err != nil {
			syncLog.Errorf("download from %v: %v", addr, err)
		}
	})
	return ctx.Err()
}

// DownloadSqueak pulls one specific squeak (and its offer, if locked) from
// every connected peer until the store has it.
func (n *nodeApp) DownloadSqueak(ctx context.Context, hash wire.SqueakHash) error {
	n.forEachPeer(ctx, func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress) {
		if err := ctrl.DownloadSingleSqueak(ctx, hash); err != nil {
			syncLog.Errorf("download squeak %s from %v: %v", hash, addr, err)
		}
	})
	return ctx.Err()
}

// DownloadOffers refreshes decryption-key offers for a locked squeak from
// every connected peer.
func (n *nodeApp) DownloadOffers(ctx context.Context, hash wire.SqueakHash) error {
	n.forEachPeer(ctx, func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress) {
		if err := ctrl.DownloadOffer(ctx, hash); err != nil {
			syncLog.Errorf("download offer for %s from %v: %v", hash, addr, err)
		}
	})
	return ctx.Err()
}

// DownloadReplies pulls the reply thread under one squeak from every
// connected peer.
func (n *nodeApp) DownloadReplies(ctx context.Context, hash wire.SqueakHash) error {
	n.forEachPeer(ctx, func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress) {
		if err := ctrl.DownloadReplies(ctx, hash); err != nil {
			syncLog.Errorf("download replies to %s from %v: %v", hash, addr, err)
		}
	})
	return ctx.Err()
}

// DownloadAddressSqueaks pulls one author's full history from every
// connected peer.
func (n *nodeApp) DownloadAddressSqueaks(ctx context.Context, address string) error {
	n.forEachPeer(ctx, func(ctx context.Context, ctrl *sync.Controller, addr wire.PeerAddress) {
		if err := ctrl.DownloadAddressSqueaks(ctx, address); err != nil {
			syncLog.Errorf("download squeaks for %s from %v: %v", address, addr, err)
		}
	})
	return ctx.Err()
}

// PayOffer pays the saved offer for (hash, peer), unlocking the squeak with
// the returned preimage on success.
func (n *nodeApp) PayOffer(ctx context.Context, hash wire.SqueakHash, peer wire.PeerAddress) error {
	if n.ln == nil {
		return fmt.Errorf("no lightning backend configured; payments are disabled")
	}

	offer, err := n.store.GetReceivedOffer(hash, peer)
	if err != nil {
		return fmt.Errorf("lookup offer for %s/%v: %w", hash, peer, err)
	}
	if offer == nil {
		return fmt.Errorf("no offer saved for %s from %v", hash, peer)
	}

	// Paying needs no peer RPC connection; the controller only touches the
	// store and the lightning client on this path.
	ctrl := sync.New(n, n.store, n.ln, peer, nil, n.payTimeout)
	err = ctrl.PayOffer(ctx, offer, func(key []byte) ([]byte, error) {
		sq, err := n.store.Get(hash)
		if err != nil {
			return nil, err
		}
		if sq == nil {
			return nil, fmt.Errorf("squeak %s vanished before decryption", hash)
		}
		return sq.Decrypt(key)
	})
	if err != nil {
		return err
	}

	n.hub.Publish(subscription.KindSqueakDisplay, subscription.Event{
		Kind:       subscription.EventSqueakDisplay,
		SqueakHash: hash,
	})
	return nil
}

// MakeSqueak authors, signs, and stores a new squeak under a local signing
// profile, then announces it to connected peers.
func (n *nodeApp) MakeSqueak(ctx context.Context, profileAddress string, content string, replyTo *wire.SqueakHash) (*wire.SqueakHash, error) {
	profile, err := n.store.GetProfile(profileAddress)
	if err != nil {
		return nil, fmt.Errorf("lookup profile %s: %w", profileAddress, err)
	}
	if profile == nil {
		return nil, fmt.Errorf("no profile for %s", profileAddress)
	}
	if len(profile.PrivateKey) == 0 {
		return nil, fmt.Errorf("profile %s is a contact profile, not a signing profile", profileAddress)
	}
	priv, _ := btcec.PrivKeyFromBytes(profile.PrivateKey)

	br, err := n.store.GetBlockRange()
	if err != nil {
		return nil, fmt.Errorf("resolve block anchor: %w", err)
	}

	sq, key, err := wire.NewSqueak(priv, n.network, []byte(content),
		br.MaxBlock, [32]byte{}, replyTo, time.Now().Unix())
	if err != nil {
		return nil, err
	}

	hash, err := n.store.Insert(sq, sq.Header)
	if err != nil {
		return nil, fmt.Errorf("store new squeak: %w", err)
	}
	if hash == nil {
		h := sq.Hash()
		return &h, nil
	}
	if err := n.store.SetDecryptionKey(*hash, key, []byte(content)); err != nil {
		return nil, fmt.Errorf("record own decryption key: %w", err)
	}

	n.hub.Publish(subscription.KindSqueakDisplay, subscription.Event{
		Kind:       subscription.EventSqueakDisplay,
		SqueakHash: *hash,
	})
	n.manager.BroadcastMsg(&wire.MsgInvPayload{
		Items: []wire.InvVect{{Type: wire.InvSqueak, Hash: *hash}},
	})
	return hash, nil
}

// CreateSigningProfile generates a fresh keypair and stores it as a local
// signing profile, returning the derived author address.
func (n *nodeApp) CreateSigningProfile(ctx context.Context, name string) (string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate profile key: %w", err)
	}

	address, err := wire.AddressForPubKey(priv.PubKey(), n.network)
	if err != nil {
		return "", fmt.Errorf("derive profile address: %w", err)
	}

	err = n.store.CreateProfile(&store.Profile{
		Address:    address,
		Nickname:   name,
		Following:  true,
		Sharing:    true,
		PrivateKey: priv.Serialize(),
	})
	if err != nil {
		return "", fmt.Errorf("store signing profile: %w", err)
	}
	return address, nil
}

// ReprocessReceivedPayments republishes every recorded inbound payment to
// the subscription hub, letting a lagged admin subscriber resync.
func (n *nodeApp) ReprocessReceivedPayments(ctx context.Context) error {
	payments, err := n.store.GetReceivedPayments(0)
	if err != nil {
		return fmt.Errorf("load received payments: %w", err)
	}
	for i := len(payments) - 1; i >= 0; i-- {
		n.hub.Publish(subscription.KindReceivedPayments, subscription.Event{
			Kind:       subscription.EventReceivedPayment,
			SqueakHash: payments[i].SqueakHash,
		})
	}
	return nil
}
