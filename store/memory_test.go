package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/squeaknode/squeaknode/wire"
)

func newTestSqueak(author string, blockHeight int32, nonce uint64) *wire.Squeak {
	return &wire.Squeak{
		Version:          1,
		AuthorAddress:    author,
		Signature:        []byte{0x01},
		BlockHeight:      blockHeight,
		EncryptedContent: []byte("ciphertext"),
		DataKey:          []byte("datakey"),
		IV:               []byte("iv"),
		Nonce:            nonce,
		Time:             1700000000,
	}
}

func TestDuplicateInsertReturnsNilHash(t *testing.T) {
	s := NewMemoryStore(BlockRange{MinBlock: 0, MaxBlock: 1000})
	sq := newTestSqueak("addrA", 100, 1)
	var header wire.BlockHeader

	hash1, err := s.Insert(sq, header)
	require.NoError(t, err)
	require.NotNil(t, hash1)

	hash2, err := s.Insert(sq, header)
	require.NoError(t, err)
	require.Nil(t, hash2)

	got, err := s.Get(*hash1)
	require.NoError(t, err)
	require.Equal(t, sq.AuthorAddress, got.AuthorAddress)
}

func TestLikedThenUnliked(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	sq := newTestSqueak("addrA", 1, 2)
	hash, err := s.Insert(sq, wire.BlockHeader{})
	require.NoError(t, err)
	require.NotNil(t, hash)

	require.NoError(t, s.SetLiked(*hash))
	entries, err := s.GetLikedEntries(200)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].LikedTimeMs)

	require.NoError(t, s.SetUnliked(*hash))
	entries, err = s.GetLikedEntries(200)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTimelineFollowGate(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	require.NoError(t, s.CreateProfile(&Profile{Address: "addrA", Following: false}))

	for i := 0; i < 100; i++ {
		_, err := s.Insert(newTestSqueak("addrA", int32(i), uint64(i)), wire.BlockHeader{})
		require.NoError(t, err)
	}

	entries, err := s.GetTimeline(2)
	require.NoError(t, err)
	require.Empty(t, entries, "unfollowed author should not appear in the timeline")

	require.NoError(t, s.SetProfileFollowing("addrA", true))
	entries, err = s.GetTimeline(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, s.SetProfileFollowing("addrA", false))
	entries, err = s.GetTimeline(2)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestThreadTraversal(t *testing.T) {
	s := NewMemoryStore(BlockRange{})

	root := newTestSqueak("addrA", 1, 10)
	rootHash, err := s.Insert(root, wire.BlockHeader{})
	require.NoError(t, err)

	reply := newTestSqueak("addrB", 2, 11)
	reply.PrevSqueakHash = rootHash
	replyHash, err := s.Insert(reply, wire.BlockHeader{})
	require.NoError(t, err)

	ancestors, err := s.GetThreadAncestorEntries(*replyHash)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.Equal(t, *rootHash, ancestors[0].Hash)
	require.Equal(t, *replyHash, ancestors[1].Hash)

	replies, err := s.GetThreadReplyEntries(*rootHash)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, *replyHash, replies[0].Hash)

	none, err := s.GetThreadAncestorEntries(wire.SqueakHash{0xff})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSearchVisibility(t *testing.T) {
	s := NewMemoryStore(BlockRange{})

	sq := newTestSqueak("addrA", 1, 1)
	hash, err := s.Insert(sq, wire.BlockHeader{})
	require.NoError(t, err)

	require.NoError(t, s.SetDecryptionKey(*hash, make([]byte, 32), []byte("hello world")))

	found, err := s.GetSqueakEntriesForTextSearch("hello", 10, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)

	notFound, err := s.GetSqueakEntriesForTextSearch("goodbye", 10, nil)
	require.NoError(t, err)
	require.Empty(t, notFound)
}

func TestReceivedOfferUniquePerHashAndPeer(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	hash := wire.SqueakHash{1, 2, 3}
	peer := wire.PeerAddress{Host: "peer.example.com", Port: 8368}

	require.NoError(t, s.SaveOffer(&ReceivedOffer{SqueakHash: hash, PeerAddress: peer, PriceMsat: 1000}))
	require.NoError(t, s.SaveOffer(&ReceivedOffer{SqueakHash: hash, PeerAddress: peer, PriceMsat: 2000}))

	offer, err := s.GetReceivedOffer(hash, peer)
	require.NoError(t, err)
	require.Equal(t, int64(2000), offer.PriceMsat, "second save for the same (hash, peer) replaces the first")
}

func TestGetReceivedOffersListsAllPeersForOneSqueak(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	hash := wire.SqueakHash{1, 2, 3}
	other := wire.SqueakHash{4, 5, 6}

	require.NoError(t, s.SaveOffer(&ReceivedOffer{SqueakHash: hash, PeerAddress: wire.PeerAddress{Host: "a", Port: 1}, PriceMsat: 100}))
	require.NoError(t, s.SaveOffer(&ReceivedOffer{SqueakHash: hash, PeerAddress: wire.PeerAddress{Host: "b", Port: 2}, PriceMsat: 200}))
	require.NoError(t, s.SaveOffer(&ReceivedOffer{SqueakHash: other, PeerAddress: wire.PeerAddress{Host: "c", Port: 3}, PriceMsat: 300}))

	offers, err := s.GetReceivedOffers(hash)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	for _, o := range offers {
		require.Equal(t, hash, o.SqueakHash)
	}
}

func TestDeleteSqueakRemovesDerivedState(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	sq := newTestSqueak("addrA", 1, 1)
	hash, err := s.Insert(sq, wire.BlockHeader{})
	require.NoError(t, err)
	require.NoError(t, s.SetLiked(*hash))

	require.NoError(t, s.DeleteSqueak(*hash))

	got, err := s.Get(*hash)
	require.NoError(t, err)
	require.Nil(t, got)

	entries, err := s.GetLikedEntries(10)
	require.NoError(t, err)
	require.Empty(t, entries)

	// A deleted squeak can be re-inserted.
	reinserted, err := s.Insert(sq, wire.BlockHeader{})
	require.NoError(t, err)
	require.NotNil(t, reinserted)
}

func TestProfileSharingAndPrice(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	require.NoError(t, s.CreateProfile(&Profile{Address: "addrA"}))

	require.NoError(t, s.SetProfileSharing("addrA", true))
	sharing, err := s.GetSharingAddresses()
	require.NoError(t, err)
	require.Equal(t, []string{"addrA"}, sharing)

	require.NoError(t, s.SetProfilePrice("addrA", 2500))
	p, err := s.GetProfile("addrA")
	require.NoError(t, err)
	require.Equal(t, int64(2500), p.PriceMsat)

	all, err := s.GetProfiles()
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.Error(t, s.SetProfilePrice("missing", 1))
}

func TestGetPeersListsStoredRecords(t *testing.T) {
	s := NewMemoryStore(BlockRange{})
	require.NoError(t, s.CreatePeer(&PeerRecord{Address: wire.PeerAddress{Host: "a", Port: 1}, Autoconnect: true}))
	require.NoError(t, s.CreatePeer(&PeerRecord{Address: wire.PeerAddress{Host: "b", Port: 2}}))

	peers, err := s.GetPeers()
	require.NoError(t, err)
	require.Len(t, peers, 2)
}
