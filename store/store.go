// Package store defines the SqueakStore collaborator interface (spec §6)
// and its domain types, plus reference implementations selected by
// connection-string scheme. The store owns persistence and simple
// predicate logic (liked/followed/thread linkage); the reconciliation and
// payment-coupling algorithms that call it live in sync and network.
package store

import (
	"time"

	"github.com/squeaknode/squeaknode/wire"
)

// BlockRange is the inclusive block-height window a sync operation is
// scoped to.
type BlockRange struct {
	MinBlock int32
	MaxBlock int32
}

// ReceivedOffer is a decoded decryption-key offer received from a peer,
// coupling a squeak hash to the BOLT-11 invoice that will unlock it. At
// most one exists per (SqueakHash, PeerAddress) pair (spec §8).
type ReceivedOffer struct {
	SqueakHash       wire.SqueakHash
	PeerAddress      wire.PeerAddress
	PriceMsat        int64
	PaymentRequest   string
	PaymentHash      [32]byte
	DestinationNode  []byte
	Host             string
	Port             uint16
	Expiry           time.Time
	InvoiceTimestamp time.Time
}

// SentPayment records the node's attempt to pay for a ReceivedOffer.
// Settled is true only once a valid preimage has been obtained and
// verified against PaymentHash.
type SentPayment struct {
	ID          int64
	SqueakHash  wire.SqueakHash
	PeerAddress wire.PeerAddress
	PaymentHash [32]byte
	Preimage    [32]byte
	AmountMsat  int64
	Settled     bool
	Error       string
	Time        time.Time
}

// ReceivedPayment records an inbound payment for a squeak this node is
// selling the decryption key to.
type ReceivedPayment struct {
	ID         int64
	SqueakHash wire.SqueakHash
	PriceMsat  int64
	Time       time.Time
}

// Profile is a local record about a squeak author address: whether it is
// followed, and the price this node charges to sell its own content if
// the address is one of this node's own signing identities.
type Profile struct {
	Address       string
	Nickname      string
	Following     bool
	Sharing       bool
	PrivateKey    []byte // nil unless this is a local signing identity
	PriceMsat     int64
	ProfileImage  []byte
}

// PeerRecord is a stored, user-managed remote peer, independent of whether
// it currently has a live connection.
type PeerRecord struct {
	Address     wire.PeerAddress
	Autoconnect bool
	Share       bool
}

// SqueakEntry is a squeak joined with its display-relevant derived state
// (liked timestamp, author profile nickname) for admin-facing queries.
type SqueakEntry struct {
	Squeak        wire.Squeak
	Hash          wire.SqueakHash
	LikedTimeMs   *int64
	AuthorProfile *Profile
}

// SqueakStore is the persistence collaborator consumed by sync and
// network, per spec §6. Insert is idempotent on (hash): a duplicate
// returns a nil hash rather than an error (spec §7 "store conflict").
type SqueakStore interface {
	// Get returns the squeak for hash, or nil if absent.
	Get(hash wire.SqueakHash) (*wire.Squeak, error)

	// Insert stores a validated squeak under its header. It returns the
	// inserted hash, or nil if a squeak with this hash already exists.
	Insert(sq *wire.Squeak, header wire.BlockHeader) (*wire.SqueakHash, error)

	// SetDecryptionKey unlocks a previously-locked squeak, storing the
	// decrypted content alongside the key.
	SetDecryptionKey(hash wire.SqueakHash, key []byte, decryptedContent []byte) error

	// DeleteSqueak removes a squeak and its derived state (liked flag,
	// decrypted content). Deleting an absent hash is a no-op.
	DeleteSqueak(hash wire.SqueakHash) error

	// Lookup returns the hashes of locally-stored squeaks authored by one
	// of addresses within [minBlock, maxBlock].
	Lookup(addresses []string, minBlock, maxBlock int32) ([]wire.SqueakHash, error)

	// GetSqueakEntriesForTextSearch returns unlocked squeaks whose
	// decrypted content contains text, paginated after lastEntry.
	GetSqueakEntriesForTextSearch(text string, limit int, lastEntry *wire.SqueakHash) ([]SqueakEntry, error)

	// GetThreadAncestorEntries returns the root-to-leaf chain ending at
	// hash, inclusive, ordered root-first.
	GetThreadAncestorEntries(hash wire.SqueakHash) ([]SqueakEntry, error)

	// GetThreadReplyEntries returns the direct replies to hash.
	GetThreadReplyEntries(hash wire.SqueakHash) ([]SqueakEntry, error)

	// SetLiked/SetUnliked toggle a squeak's liked timestamp.
	SetLiked(hash wire.SqueakHash) error
	SetUnliked(hash wire.SqueakHash) error
	GetLikedEntries(limit int) ([]SqueakEntry, error)

	// GetTimeline returns the most recent squeaks from followed
	// addresses.
	GetTimeline(limit int) ([]SqueakEntry, error)

	// GetAddressEntries returns the most recent squeaks from one author,
	// regardless of follow state.
	GetAddressEntries(address string, limit int) ([]SqueakEntry, error)

	// GetBlockRange returns the sync window the controller should use
	// when the caller does not supply one explicitly.
	GetBlockRange() (BlockRange, error)

	// GetFollowedAddresses/GetSharingAddresses drive download/upload
	// scoping, respectively.
	GetFollowedAddresses() ([]string, error)
	GetSharingAddresses() ([]string, error)

	// Profile CRUD.
	CreateProfile(p *Profile) error
	GetProfile(address string) (*Profile, error)
	GetProfiles() ([]Profile, error)
	SetProfileFollowing(address string, following bool) error
	SetProfileSharing(address string, sharing bool) error
	SetProfilePrice(address string, priceMsat int64) error
	DeleteProfile(address string) error

	// Peer CRUD.
	CreatePeer(p *PeerRecord) error
	GetPeer(address wire.PeerAddress) (*PeerRecord, error)
	GetPeers() ([]PeerRecord, error)
	DeletePeer(address wire.PeerAddress) error
	SetPeerAutoconnect(address wire.PeerAddress, autoconnect bool) error
	GetAutoconnectPeers() ([]wire.PeerAddress, error)
	GetLearnedAddresses() ([]wire.PeerAddress, error)
	RecordLearnedAddress(address wire.PeerAddress) error

	// Received-offer coupling: at most one ReceivedOffer exists per
	// (SqueakHash, PeerAddress) (spec §8).
	GetReceivedOffer(hash wire.SqueakHash, peer wire.PeerAddress) (*ReceivedOffer, error)
	GetReceivedOffers(hash wire.SqueakHash) ([]ReceivedOffer, error)
	SaveOffer(offer *ReceivedOffer) error

	// Payment CRUD.
	CreateSentPayment(p *SentPayment) error
	GetSentPaymentForHash(paymentHash [32]byte) (*SentPayment, error)
	GetSentPayments(limit int) ([]SentPayment, error)
	CreateReceivedPayment(p *ReceivedPayment) error
	GetReceivedPayments(limit int) ([]ReceivedPayment, error)

	// Close releases any resources (file handles, connections) the store
	// holds. Reference implementations backed by process memory treat
	// this as a no-op.
	Close() error
}
