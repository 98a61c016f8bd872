package sync

import (
	"context"
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/require"

	"github.com/squeaknode/squeaknode/invoice"
	"github.com/squeaknode/squeaknode/lightning"
	"github.com/squeaknode/squeaknode/store"
	"github.com/squeaknode/squeaknode/wire"
)

// fakeNode is a stub NodeController with fields the test sets directly.
type fakeNode struct {
	network          wire.Network
	blockRange       BlockRange
	followedAddrs    []string
	sharingAddrs     []string
}

func (f *fakeNode) GetNetwork() wire.Network            { return f.network }
func (f *fakeNode) GetBlockRange() (BlockRange, error)  { return f.blockRange, nil }
func (f *fakeNode) GetFollowedAddresses() ([]string, error) { return f.followedAddrs, nil }
func (f *fakeNode) GetSharingAddresses() ([]string, error)  { return f.sharingAddrs, nil }

// fakePeerClient is a stub PeerClient a test wires up with canned responses.
type fakePeerClient struct {
	downloadLocator *wire.MsgSqueakLocatorPayload
	replyLocator    *wire.MsgSqueakLocatorPayload
	uploadLocator   *wire.MsgSqueakLocatorPayload
	squeaks         map[wire.SqueakHash]*wire.Squeak
	offers          map[wire.SqueakHash]*wire.OfferPayload
	uploaded        []wire.SqueakHash
}

func (f *fakePeerClient) LookupSqueaksToDownload(_ []string, _, _ int32) (*wire.MsgSqueakLocatorPayload, error) {
	return f.downloadLocator, nil
}

func (f *fakePeerClient) LookupRepliesToDownload(_ wire.SqueakHash) (*wire.MsgSqueakLocatorPayload, error) {
	return f.replyLocator, nil
}

func (f *fakePeerClient) LookupSqueaksToUpload(_ []string) (*wire.MsgSqueakLocatorPayload, error) {
	return f.uploadLocator, nil
}

func (f *fakePeerClient) DownloadSqueak(hash wire.SqueakHash) (*wire.Squeak, error) {
	return f.squeaks[hash], nil
}

func (f *fakePeerClient) DownloadOffer(hash wire.SqueakHash) (*wire.OfferPayload, error) {
	offer, ok := f.offers[hash]
	if !ok {
		return nil, errors.New("no offer for squeak")
	}
	return offer, nil
}

func (f *fakePeerClient) UploadSqueak(sq *wire.Squeak) error {
	f.uploaded = append(f.uploaded, sq.Hash())
	return nil
}

// fakeLightning is a stub lightning.Client. Only the two methods the sync
// package calls are exercised; the rest satisfy the interface for the
// admin-surface passthrough methods this package never calls.
type fakeLightning struct {
	sendResult *lightning.PaymentResult
	sendErr    error
	decodeInv  *invoice.Invoice
	decodeErr  error
}

func (f *fakeLightning) SendPayment(_ context.Context, _ string, _ time.Duration) (*lightning.PaymentResult, error) {
	return f.sendResult, f.sendErr
}
func (f *fakeLightning) AddInvoice(_ context.Context, _ [32]byte, _ int64, _ string, _ int64) (string, error) {
	return "", nil
}
func (f *fakeLightning) DecodePaymentRequest(_ context.Context, _ string) (*invoice.Invoice, error) {
	return f.decodeInv, f.decodeErr
}
func (f *fakeLightning) ListChannels(_ context.Context) ([]lightning.Channel, error) { return nil, nil }
func (f *fakeLightning) NewAddress(_ context.Context) (string, error)                { return "", nil }
func (f *fakeLightning) GetInfo(_ context.Context) (*lnrpc.GetInfoResponse, error)   { return nil, nil }
func (f *fakeLightning) WalletBalance(_ context.Context) (*lnrpc.WalletBalanceResponse, error) {
	return nil, nil
}
func (f *fakeLightning) PendingChannels(_ context.Context) (*lnrpc.PendingChannelsResponse, error) {
	return nil, nil
}
func (f *fakeLightning) ListPeers(_ context.Context) (*lnrpc.ListPeersResponse, error) {
	return nil, nil
}
func (f *fakeLightning) ConnectPeer(_ context.Context, _, _ string) error { return nil }

var _ lightning.Client = (*fakeLightning)(nil)

func newSignedSqueak(t *testing.T, author string, blockHeight int32) (*wire.Squeak, *btcec.PrivateKey) {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sq := &wire.Squeak{
		Version:          1,
		AuthorAddress:    author,
		BlockHeight:      blockHeight,
		EncryptedContent: []byte("ciphertext"),
		DataKey:          []byte("datakey"),
		IV:               []byte("iv"),
		Nonce:            1,
		Time:             1700000000,
		Header:           validHeader(blockHeight),
	}

	hash := sq.Hash()
	sq.Signature = ecdsa.SignCompact(priv, hash[:], true)

	return sq, priv
}

// addressFor derives the same AuthorAddress VerifySignature would recover,
// so tests can build a squeak whose signature actually matches its claim.
func addressFor(t *testing.T, priv *btcec.PrivateKey) string {
	t.Helper()
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// validHeader returns a BlockHeader whose Bits field encodes a target loose
// enough to always sit above its own hash, so ValidateProofOfWork passes
// without needing to grind a nonce.
func validHeader(blockHeight int32) wire.BlockHeader {
	h := wire.BlockHeader{
		Version: 1,
		Time:    1700000000,
		Nonce:   uint32(blockHeight),
	}
	hash := h.Hash()
	var reversed [32]byte
	for i := range hash {
		reversed[i] = hash[len(hash)-1-i]
	}
	target := new(big.Int).SetBytes(reversed[:])
	target.Lsh(target, 8) // generous margin against compact-encoding rounding
	h.Bits = blockchain.BigToCompact(target)
	return h
}

func TestDownloadFetchesMissingSqueakAndOffer(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr := addressFor(t, priv)

	sq := &wire.Squeak{
		Version:          1,
		AuthorAddress:    addr,
		BlockHeight:      10,
		EncryptedContent: []byte("ciphertext"),
		DataKey:          []byte("datakey"),
		IV:               []byte("iv"),
		Nonce:            1,
		Time:             1700000000,
		Header:           validHeader(10),
	}
	hash := sq.Hash()
	sq.Signature = ecdsa.SignCompact(priv, hash[:], true)

	offerPayload := &wire.OfferPayload{
		SqueakHash:       hash,
		PriceMsat:        1000,
		PaymentRequest:   "lnbc...",
		Host:             "peer.example.com",
		Port:             8368,
		Expiry:           3600,
		InvoiceTimestamp: time.Now().Unix(),
	}

	peer := &fakePeerClient{
		downloadLocator: &wire.MsgSqueakLocatorPayload{Hashes: []wire.SqueakHash{hash}},
		squeaks:         map[wire.SqueakHash]*wire.Squeak{hash: sq},
		offers:          map[wire.SqueakHash]*wire.OfferPayload{hash: offerPayload},
	}

	node := &fakeNode{
		network:       wire.MainNet,
		blockRange:    BlockRange{MinBlock: 0, MaxBlock: 1000},
		followedAddrs: []string{addr},
	}

	ln := &fakeLightning{
		decodeInv: &invoice.Invoice{
			PaymentHash: sha256.Sum256([]byte("preimage")),
			Destination: priv.PubKey(),
			Timestamp:   time.Now(),
			Expiry:      time.Hour,
		},
	}

	peerAddr := wire.PeerAddress{Network: wire.MainNet, Host: "peer.example.com", Port: 8368}
	c := New(node, st, ln, peerAddr, peer, 30*time.Second)

	require.NoError(t, c.Download(context.Background(), nil))

	got, err := st.Get(hash)
	require.NoError(t, err)
	require.NotNil(t, got, "squeak should have been downloaded and saved")
	require.False(t, got.Unlocked())

	offer, err := st.GetReceivedOffer(hash, peerAddr)
	require.NoError(t, err)
	require.NotNil(t, offer, "offer for the still-locked squeak should have been fetched and saved")
	require.Equal(t, int64(1000), offer.PriceMsat)

	// A second Download call must not re-fetch the squeak or its offer.
	peer.squeaks = nil
	peer.offers = nil
	require.NoError(t, c.Download(context.Background(), nil))
}

func TestDownloadDiscardsSqueakCriteriaDoesNotWant(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr := addressFor(t, priv)

	sq := &wire.Squeak{
		Version:       1,
		AuthorAddress: addr,
		BlockHeight:   10,
		Nonce:         1,
		Time:          1700000000,
		Header:        validHeader(10),
	}
	hash := sq.Hash()
	sq.Signature = ecdsa.SignCompact(priv, hash[:], true)

	peer := &fakePeerClient{
		downloadLocator: &wire.MsgSqueakLocatorPayload{Hashes: []wire.SqueakHash{hash}},
		squeaks:         map[wire.SqueakHash]*wire.Squeak{hash: sq},
	}

	node := &fakeNode{
		network:       wire.MainNet,
		blockRange:    BlockRange{MinBlock: 0, MaxBlock: 1000},
		followedAddrs: []string{"some-other-address"}, // doesn't follow addr
	}

	c := New(node, st, &fakeLightning{}, wire.PeerAddress{}, peer, time.Second)
	require.NoError(t, c.Download(context.Background(), nil))

	got, err := st.Get(hash)
	require.NoError(t, err)
	require.Nil(t, got, "squeak from an unfollowed author must not be persisted")
}

func TestDownloadDiscardsBadSignature(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr := addressFor(t, other) // claims an address that doesn't match priv

	sq := &wire.Squeak{
		Version:       1,
		AuthorAddress: addr,
		BlockHeight:   10,
		Nonce:         1,
		Time:          1700000000,
		Header:        validHeader(10),
	}
	hash := sq.Hash()
	sq.Signature = ecdsa.SignCompact(priv, hash[:], true)

	peer := &fakePeerClient{
		downloadLocator: &wire.MsgSqueakLocatorPayload{Hashes: []wire.SqueakHash{hash}},
		squeaks:         map[wire.SqueakHash]*wire.Squeak{hash: sq},
	}
	node := &fakeNode{network: wire.MainNet, blockRange: BlockRange{MinBlock: 0, MaxBlock: 1000}, followedAddrs: []string{addr}}

	c := New(node, st, &fakeLightning{}, wire.PeerAddress{}, peer, time.Second)
	require.NoError(t, c.Download(context.Background(), nil))

	got, err := st.Get(hash)
	require.NoError(t, err)
	require.Nil(t, got, "squeak whose signature does not match its claimed author must be discarded")
}

func TestUploadSkipsHashesRemoteAlreadyHas(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})
	sq, _ := newSignedSqueak(t, "addrA", 5)
	hash, err := st.Insert(sq, sq.Header)
	require.NoError(t, err)
	require.NotNil(t, hash)

	peer := &fakePeerClient{
		uploadLocator: &wire.MsgSqueakLocatorPayload{
			Hashes:    []wire.SqueakHash{*hash},
			Addresses: []string{"addrA"},
			MinBlock:  0,
			MaxBlock:  1000,
		},
	}
	node := &fakeNode{sharingAddrs: []string{"addrA"}}

	c := New(node, st, &fakeLightning{}, wire.PeerAddress{}, peer, time.Second)
	require.NoError(t, c.Upload(context.Background()))
	require.Empty(t, peer.uploaded, "remote already reported having this hash")
}

func TestUploadSendsHashesRemoteIsMissing(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})
	sq, _ := newSignedSqueak(t, "addrA", 5)
	hash, err := st.Insert(sq, sq.Header)
	require.NoError(t, err)
	require.NotNil(t, hash)

	peer := &fakePeerClient{
		uploadLocator: &wire.MsgSqueakLocatorPayload{
			Addresses: []string{"addrA"},
			MinBlock:  0,
			MaxBlock:  1000,
		},
	}
	node := &fakeNode{sharingAddrs: []string{"addrA"}}

	c := New(node, st, &fakeLightning{}, wire.PeerAddress{}, peer, time.Second)
	require.NoError(t, c.Upload(context.Background()))
	require.Equal(t, []wire.SqueakHash{*hash}, peer.uploaded)
}

func TestDownloadRepliesKeepsOnlyRepliesToThatSqueak(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{MinBlock: 0, MaxBlock: 1000})

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr := addressFor(t, priv)

	root := &wire.Squeak{
		Version:       1,
		AuthorAddress: addr,
		BlockHeight:   10,
		Nonce:         1,
		Time:          1700000000,
		Header:        validHeader(10),
	}
	rootHash := root.Hash()
	root.Signature = ecdsa.SignCompact(priv, rootHash[:], true)
	_, err = st.Insert(root, root.Header)
	require.NoError(t, err)

	reply := &wire.Squeak{
		Version:        1,
		AuthorAddress:  addr,
		BlockHeight:    11,
		PrevSqueakHash: &rootHash,
		Nonce:          2,
		Time:           1700000060,
		Header:         validHeader(11),
	}
	replyHash := reply.Hash()
	reply.Signature = ecdsa.SignCompact(priv, replyHash[:], true)

	unrelated := &wire.Squeak{
		Version:       1,
		AuthorAddress: addr,
		BlockHeight:   12,
		Nonce:         3,
		Time:          1700000120,
		Header:        validHeader(12),
	}
	unrelatedHash := unrelated.Hash()
	unrelated.Signature = ecdsa.SignCompact(priv, unrelatedHash[:], true)

	peer := &fakePeerClient{
		// The remote misbehaves and advertises an unrelated squeak in its
		// reply locator; criteria must drop it.
		replyLocator: &wire.MsgSqueakLocatorPayload{Hashes: []wire.SqueakHash{replyHash, unrelatedHash}},
		squeaks: map[wire.SqueakHash]*wire.Squeak{
			replyHash:     reply,
			unrelatedHash: unrelated,
		},
	}
	node := &fakeNode{network: wire.MainNet, blockRange: BlockRange{MinBlock: 0, MaxBlock: 1000}}

	c := New(node, st, &fakeLightning{}, wire.PeerAddress{}, peer, time.Second)
	require.NoError(t, c.DownloadReplies(context.Background(), rootHash))

	got, err := st.Get(replyHash)
	require.NoError(t, err)
	require.NotNil(t, got, "reply to the requested squeak should be persisted")

	got, err = st.Get(unrelatedHash)
	require.NoError(t, err)
	require.Nil(t, got, "non-reply advertised in the reply locator must be discarded")
}

func TestPayOfferHappyPath(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{})
	sq, _ := newSignedSqueak(t, "addrA", 1)
	hash, err := st.Insert(sq, sq.Header)
	require.NoError(t, err)

	preimage := sha256.Sum256([]byte("secret"))
	paymentHash := sha256.Sum256(preimage[:])

	offer := &store.ReceivedOffer{
		SqueakHash:     *hash,
		PeerAddress:    wire.PeerAddress{Host: "peer", Port: 1},
		PriceMsat:      500,
		PaymentRequest: "lnbc...",
		PaymentHash:    paymentHash,
	}

	ln := &fakeLightning{sendResult: &lightning.PaymentResult{Preimage: preimage, AmountMsat: 500}}
	c := New(&fakeNode{}, st, ln, wire.PeerAddress{}, &fakePeerClient{}, time.Second)

	decrypted := []byte("hello world")
	err = c.PayOffer(context.Background(), offer, func(key []byte) ([]byte, error) {
		require.Equal(t, preimage[:], key)
		return decrypted, nil
	})
	require.NoError(t, err)

	got, err := st.Get(*hash)
	require.NoError(t, err)
	require.True(t, got.Unlocked())

	payment, err := st.GetSentPaymentForHash(paymentHash)
	require.NoError(t, err)
	require.NotNil(t, payment)
	require.True(t, payment.Settled)
}

func TestPayOfferRejectsDoublePay(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{})
	sq, _ := newSignedSqueak(t, "addrA", 1)
	hash, err := st.Insert(sq, sq.Header)
	require.NoError(t, err)

	preimage := sha256.Sum256([]byte("secret"))
	paymentHash := sha256.Sum256(preimage[:])
	offer := &store.ReceivedOffer{SqueakHash: *hash, PaymentHash: paymentHash, PaymentRequest: "lnbc..."}

	ln := &fakeLightning{sendResult: &lightning.PaymentResult{Preimage: preimage, AmountMsat: 500}}
	c := New(&fakeNode{}, st, ln, wire.PeerAddress{}, &fakePeerClient{}, time.Second)

	noop := func(key []byte) ([]byte, error) { return []byte("content"), nil }
	require.NoError(t, c.PayOffer(context.Background(), offer, noop))

	err = c.PayOffer(context.Background(), offer, noop)
	require.Error(t, err, "a settled payment for this hash must not be paid again")
}

func TestPayOfferRejectsPreimageMismatch(t *testing.T) {
	st := store.NewMemoryStore(store.BlockRange{})
	sq, _ := newSignedSqueak(t, "addrA", 1)
	hash, err := st.Insert(sq, sq.Header)
	require.NoError(t, err)

	wrongPreimage := sha256.Sum256([]byte("wrong"))
	offer := &store.ReceivedOffer{
		SqueakHash:     *hash,
		PaymentHash:    sha256.Sum256([]byte("expected-preimage-hash-input")),
		PaymentRequest: "lnbc...",
	}

	ln := &fakeLightning{sendResult: &lightning.PaymentResult{Preimage: wrongPreimage, AmountMsat: 500}}
	c := New(&fakeNode{}, st, ln, wire.PeerAddress{}, &fakePeerClient{}, time.Second)

	err = c.PayOffer(context.Background(), offer, func([]byte) ([]byte, error) {
		t.Fatal("decryptContent must not be called when the preimage doesn't match")
		return nil, nil
	})
	require.Error(t, err)

	payment, err := st.GetSentPaymentForHash(offer.PaymentHash)
	require.NoError(t, err)
	require.Nil(t, payment, "MemoryStore only returns settled payments")

	got, err := st.Get(*hash)
	require.NoError(t, err)
	require.False(t, got.Unlocked())
}
