package sync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/squeaknode/squeaknode/lightning"
	"github.com/squeaknode/squeaknode/store"
	"github.com/squeaknode/squeaknode/wire"
)

// PeerClient is the sync-RPC stub Controller issues request/response calls
// against for one peer, matching design note 3 of spec §9's "sync-RPC
// client" role. *network.PeerRPCClient satisfies this interface; Controller
// depends on the interface rather than the concrete type so tests can
// substitute a fake without opening a real socket.
type PeerClient interface {
	LookupSqueaksToDownload(followAddresses []string, minBlock, maxBlock int32) (*wire.MsgSqueakLocatorPayload, error)
	LookupRepliesToDownload(replyTo wire.SqueakHash) (*wire.MsgSqueakLocatorPayload, error)
	LookupSqueaksToUpload(sharingAddresses []string) (*wire.MsgSqueakLocatorPayload, error)
	DownloadSqueak(hash wire.SqueakHash) (*wire.Squeak, error)
	DownloadOffer(hash wire.SqueakHash) (*wire.OfferPayload, error)
	UploadSqueak(sq *wire.Squeak) error
}

// NodeController is the subset of the out-of-scope SqueakController
// collaborator (spec §1) that Controller needs: network/address scoping
// queries it otherwise has no business answering itself. It is a thin,
// consumer-defined interface -- Controller's own job (validating a
// downloaded squeak's signature and proof of work, deciding interest via
// Criteria, calling SqueakStore) stays in this package, generalizing
// original_source/squeaknode/sync/peer_connection.py's PeerConnection.
type NodeController interface {
	GetNetwork() wire.Network
	GetBlockRange() (BlockRange, error)
	GetFollowedAddresses() ([]string, error)
	GetSharingAddresses() ([]string, error)
}

// Controller is one SyncController (spec §4.F): it reconciles one remote
// peer's squeak/offer inventory against the local SqueakStore for the
// duration of a single sync operation, and separately drives the
// pay-for-decryption-key flow. One Controller is created per
// (NodeController, PeerAddress) pair, matching PeerConnection's
// constructor.
type Controller struct {
	node        NodeController
	store       store.SqueakStore
	lightning   lightning.Client
	peerAddress wire.PeerAddress
	client      PeerClient

	payTimeout time.Duration
}

// New constructs a Controller bound to one peer for the lifetime of client.
// Callers open client via network.DialPeerRPCClient and Close it once the
// sync operation (which may call Download, Upload, and/or PayOffer any
// number of times) is finished.
func New(node NodeController, st store.SqueakStore, ln lightning.Client,
	peerAddress wire.PeerAddress, client PeerClient, payTimeout time.Duration) *Controller {

	return &Controller{
		node:        node,
		store:       st,
		lightning:   ln,
		peerAddress: peerAddress,
		client:      client,
		payTimeout:  payTimeout,
	}
}

// Download resolves the squeaks a remote peer has for our followed
// addresses and pulls each one we don't already have, per spec §4.F.1. A
// nil blockRange falls back to the store's configured sync window.
func (c *Controller) Download(ctx context.Context, blockRange *BlockRange) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	followedAddresses, err := c.node.GetFollowedAddresses()
	if err != nil {
		return fmt.Errorf("get followed addresses: %w", err)
	}

	br := blockRange
	if br == nil {
		resolved, err := c.node.GetBlockRange()
		if err != nil {
			return fmt.Errorf("get block range: %w", err)
		}
		br = &resolved
	}

	locator, err := c.client.LookupSqueaksToDownload(followedAddresses, br.MinBlock, br.MaxBlock)
	if err != nil {
		return fmt.Errorf("lookup squeaks to download from %v: %w", c.peerAddress, err)
	}

	criteria := RangeCriteria{BlockRange: *br, FollowList: followedAddresses}
	for _, h := range locator.Hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.downloadOne(h, criteria); err != nil {
			log.Warnf("download of squeak %s from %v failed: %v", h, c.peerAddress, err)
		}
	}
	return nil
}

// DownloadSingleSqueak downloads one specific squeak (and its offer, if
// still locked), regardless of follow-list membership, matching
// download_single_squeak in the original source.
func (c *Controller) DownloadSingleSqueak(ctx context.Context, hash wire.SqueakHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Infof("downloading single squeak %s from %v", hash, c.peerAddress)
	return c.downloadOne(hash, HashCriteria{SqueakHash: hash})
}

// DownloadReplies pulls the direct replies to one squeak the remote peer
// has, regardless of follow-list membership.
func (c *Controller) DownloadReplies(ctx context.Context, hash wire.SqueakHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	locator, err := c.client.LookupRepliesToDownload(hash)
	if err != nil {
		return fmt.Errorf("lookup replies to %s from %v: %w", hash, c.peerAddress, err)
	}

	criteria := ReplyCriteria{ReplyTo: hash}
	for _, h := range locator.Hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.downloadOne(h, criteria); err != nil {
			log.Warnf("download of reply %s from %v failed: %v", h, c.peerAddress, err)
		}
	}
	return nil
}

// DownloadAddressSqueaks pulls everything the remote peer has from one
// author address, regardless of follow state or the current sync window.
func (c *Controller) DownloadAddressSqueaks(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	locator, err := c.client.LookupSqueaksToDownload([]string{address}, 0, int32(^uint32(0)>>1))
	if err != nil {
		return fmt.Errorf("lookup squeaks for %s from %v: %w", address, c.peerAddress, err)
	}

	criteria := AddressCriteria{Address: address}
	for _, h := range locator.Hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.downloadOne(h, criteria); err != nil {
			log.Warnf("download of squeak %s from %v failed: %v", h, c.peerAddress, err)
		}
	}
	return nil
}

// DownloadOffer fetches a fresh decryption-key offer for a locally-held,
// still-locked squeak, replacing any previously saved offer from this peer
// (prices and invoice expiries move).
func (c *Controller) DownloadOffer(ctx context.Context, hash wire.SqueakHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sq, err := c.store.Get(hash)
	if err != nil {
		return fmt.Errorf("lookup squeak %s: %w", hash, err)
	}
	if sq == nil || sq.Unlocked() {
		return nil
	}
	return c.downloadOffer(hash, HashCriteria{SqueakHash: hash})
}

// downloadOne is _download_squeak from peer_connection.py: fetch the
// squeak object if missing, then fetch its offer if the squeak is still
// locked and no offer has been recorded yet for this peer.
func (c *Controller) downloadOne(hash wire.SqueakHash, criteria Criteria) error {
	existing, err := c.store.Get(hash)
	if err != nil {
		return fmt.Errorf("lookup local squeak %s: %w", hash, err)
	}
	if existing == nil {
		if err := c.downloadSqueakObject(hash, criteria); err != nil {
			return err
		}
		existing, err = c.store.Get(hash)
		if err != nil {
			return fmt.Errorf("re-lookup local squeak %s: %w", hash, err)
		}
	}

	// A squeak that didn't pass its criteria is never persisted, so there
	// is nothing further to fetch for it.
	if existing == nil {
		return nil
	}
	if existing.Unlocked() {
		return nil
	}

	savedOffer, err := c.store.GetReceivedOffer(hash, c.peerAddress)
	if err != nil {
		return fmt.Errorf("lookup received offer for %s/%v: %w", hash, c.peerAddress, err)
	}
	if savedOffer == nil {
		return c.downloadOffer(hash, criteria)
	}
	return nil
}

// downloadSqueakObject is _download_squeak_object: fetch the full squeak,
// validate it, and persist it only if criteria still wants it. Validation
// failure is a "drop the item silently" outcome per spec §7, not a
// propagated error.
func (c *Controller) downloadSqueakObject(hash wire.SqueakHash, criteria Criteria) error {
	sq, err := c.client.DownloadSqueak(hash)
	if err != nil {
		return fmt.Errorf("download squeak %s: %w", hash, err)
	}

	if got := sq.Hash(); got != hash {
		log.Warnf("squeak from %v does not hash to the requested hash %s (got %s), discarding", c.peerAddress, hash, got)
		return nil
	}
	network := c.node.GetNetwork()
	if err := sq.VerifySignature(network); err != nil {
		log.Warnf("squeak %s from %v failed signature check, discarding: %v", hash, c.peerAddress, err)
		return nil
	}
	if err := sq.Header.ValidateProofOfWork(); err != nil {
		log.Warnf("squeak %s from %v failed proof-of-work check, discarding: %v", hash, c.peerAddress, err)
		return nil
	}

	if !criteria.IsInterested(sq) {
		return nil
	}

	if _, err := c.store.Insert(sq, sq.Header); err != nil {
		return fmt.Errorf("save downloaded squeak %s: %w", hash, err)
	}
	return nil
}

// downloadOffer is _download_offer: fetch the decryption-key offer for a
// still-locked squeak, decode it, and save it if criteria still wants it.
func (c *Controller) downloadOffer(hash wire.SqueakHash, criteria Criteria) error {
	sq, err := c.store.Get(hash)
	if err != nil {
		return fmt.Errorf("lookup squeak %s before offer fetch: %w", hash, err)
	}
	if sq == nil {
		return nil
	}

	offerPayload, err := c.client.DownloadOffer(hash)
	if err != nil {
		return fmt.Errorf("download offer for %s: %w", hash, err)
	}

	received, err := c.decodeOffer(hash, offerPayload)
	if err != nil {
		log.Warnf("offer for %s from %v is not valid for purchase, discarding: %v", hash, c.peerAddress, err)
		return nil
	}

	if !criteria.IsInterested(sq) {
		return nil
	}
	if err := c.store.SaveOffer(received); err != nil {
		return fmt.Errorf("save offer for %s: %w", hash, err)
	}
	log.Infof("downloaded offer for squeak %s from %v", hash, c.peerAddress)
	return nil
}

// decodeOffer decodes offerPayload's BOLT-11 payment request and checks it
// is valid for purchase per spec §3: when the offer claims a node pubkey,
// the invoice's signature-derived destination node (recovered via
// zpay32.Decode, see the invoice package) must match it, and the invoice's
// expiry must be in the future. An offer with an empty NodePubKey skips the
// destination check.
func (c *Controller) decodeOffer(hash wire.SqueakHash, payload *wire.OfferPayload) (*store.ReceivedOffer, error) {
	inv, err := c.lightning.DecodePaymentRequest(context.Background(), payload.PaymentRequest)
	if err != nil {
		return nil, fmt.Errorf("decode payment request: %w", err)
	}

	if len(payload.NodePubKey) > 0 {
		claimed := inv.Destination.SerializeCompressed()
		if len(payload.NodePubKey) != len(claimed) || string(payload.NodePubKey) != string(claimed) {
			return nil, fmt.Errorf("offer's claimed node pubkey does not match invoice destination")
		}
	}

	expiry := inv.Timestamp.Add(inv.Expiry)
	if !expiry.After(time.Now()) {
		return nil, fmt.Errorf("offer expired at %v", expiry)
	}

	return &store.ReceivedOffer{
		SqueakHash:       hash,
		PeerAddress:      c.peerAddress,
		PriceMsat:        int64(payload.PriceMsat),
		PaymentRequest:   payload.PaymentRequest,
		PaymentHash:      inv.PaymentHash,
		DestinationNode:  payload.NodePubKey,
		Host:             payload.Host,
		Port:             payload.Port,
		Expiry:           expiry,
		InvoiceTimestamp: inv.Timestamp,
	}, nil
}

// Upload resolves which squeaks the remote peer wants for our sharing
// addresses and pushes the ones we have that it doesn't, per spec §4.F.2.
func (c *Controller) Upload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sharingAddresses, err := c.node.GetSharingAddresses()
	if err != nil {
		return fmt.Errorf("get sharing addresses: %w", err)
	}

	locator, err := c.client.LookupSqueaksToUpload(sharingAddresses)
	if err != nil {
		return fmt.Errorf("lookup squeaks to upload to %v: %w", c.peerAddress, err)
	}

	localHashes, err := c.store.Lookup(locator.Addresses, locator.MinBlock, locator.MaxBlock)
	if err != nil {
		return fmt.Errorf("local lookup for upload: %w", err)
	}

	remote := make(map[wire.SqueakHash]struct{}, len(locator.Hashes))
	for _, h := range locator.Hashes {
		remote[h] = struct{}{}
	}

	for _, h := range localHashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, has := remote[h]; has {
			continue
		}
		// Per-hash failures are caught and logged so the rest of the
		// batch still uploads (spec §4.F.2).
		if err := c.uploadSqueak(h); err != nil {
			log.Warnf("upload of squeak %s to %v failed: %v", h, c.peerAddress, err)
		}
	}
	return nil
}

// UploadSingleSqueak uploads one locally-held squeak if it has a
// decryption key, matching upload_single_squeak in the original source.
func (c *Controller) UploadSingleSqueak(ctx context.Context, hash wire.SqueakHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sq, err := c.store.Get(hash)
	if err != nil {
		return fmt.Errorf("lookup squeak %s: %w", hash, err)
	}
	if sq == nil || !sq.Unlocked() {
		return nil
	}
	return c.uploadSqueak(hash)
}

func (c *Controller) uploadSqueak(hash wire.SqueakHash) error {
	sq, err := c.store.Get(hash)
	if err != nil {
		return fmt.Errorf("lookup squeak %s: %w", hash, err)
	}
	if sq == nil {
		return nil
	}
	if err := c.client.UploadSqueak(sq); err != nil {
		return fmt.Errorf("upload squeak %s: %w", hash, err)
	}
	log.Infof("uploaded squeak %s to %v", hash, c.peerAddress)
	return nil
}

// PayOffer drives the pay-for-decryption-key flow (spec §4.F.3): pay the
// offer's invoice, verify the returned preimage actually unlocks it, and
// persist both the payment outcome and the now-unlocked squeak.
func (c *Controller) PayOffer(ctx context.Context, offer *store.ReceivedOffer, decryptContent func(key []byte) ([]byte, error)) error {
	existing, err := c.store.GetSentPaymentForHash(offer.PaymentHash)
	if err != nil {
		return fmt.Errorf("check existing sent payment: %w", err)
	}
	if existing != nil && existing.Settled {
		return fmt.Errorf("offer for %s already paid", offer.SqueakHash)
	}

	result, err := c.lightning.SendPayment(ctx, offer.PaymentRequest, c.payTimeout)
	if err != nil {
		_ = c.store.CreateSentPayment(&store.SentPayment{
			SqueakHash:  offer.SqueakHash,
			PeerAddress: offer.PeerAddress,
			PaymentHash: offer.PaymentHash,
			AmountMsat:  offer.PriceMsat,
			Settled:     false,
			Error:       err.Error(),
			Time:        time.Now(),
		})
		return fmt.Errorf("send payment for %s: %w", offer.SqueakHash, err)
	}

	if sha256.Sum256(result.Preimage[:]) != offer.PaymentHash {
		_ = c.store.CreateSentPayment(&store.SentPayment{
			SqueakHash:  offer.SqueakHash,
			PeerAddress: offer.PeerAddress,
			PaymentHash: offer.PaymentHash,
			AmountMsat:  result.AmountMsat,
			Settled:     false,
			Error:       "preimage does not match invoice payment hash",
			Time:        time.Now(),
		})
		return fmt.Errorf("preimage mismatch for offer %s", offer.SqueakHash)
	}

	content, err := decryptContent(result.Preimage[:])
	if err != nil {
		_ = c.store.CreateSentPayment(&store.SentPayment{
			SqueakHash:  offer.SqueakHash,
			PeerAddress: offer.PeerAddress,
			PaymentHash: offer.PaymentHash,
			AmountMsat:  result.AmountMsat,
			Settled:     false,
			Error:       fmt.Sprintf("decrypt with preimage: %v", err),
			Time:        time.Now(),
		})
		return fmt.Errorf("decrypt squeak %s with preimage: %w", offer.SqueakHash, err)
	}

	if err := c.store.SetDecryptionKey(offer.SqueakHash, result.Preimage[:], content); err != nil {
		return fmt.Errorf("set decryption key for %s: %w", offer.SqueakHash, err)
	}

	return c.store.CreateSentPayment(&store.SentPayment{
		SqueakHash:  offer.SqueakHash,
		PeerAddress: offer.PeerAddress,
		PaymentHash: offer.PaymentHash,
		Preimage:    result.Preimage,
		AmountMsat:  result.AmountMsat,
		Settled:     true,
		Time:        time.Now(),
	})
}
