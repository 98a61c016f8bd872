package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/squeaknode/squeaknode/wire"
)

// MemoryStore is an in-memory SqueakStore, used by tests and by
// squeaknoded when db.connection_string is empty or uses the mem:// scheme. Its locking
// follows the same "single mutex, never held during I/O" discipline as
// network.ConnMgr: there is no I/O here, so the mutex is held for the
// duration of each call, which is always O(1) or a bounded scan.
type MemoryStore struct {
	mu sync.Mutex

	squeaks    map[wire.SqueakHash]*wire.Squeak
	headers    map[wire.SqueakHash]wire.BlockHeader
	content    map[wire.SqueakHash][]byte
	liked      map[wire.SqueakHash]int64
	insertedAt map[wire.SqueakHash]int64

	profiles map[string]*Profile
	peers    map[wire.PeerAddress]*PeerRecord
	learned  map[wire.PeerAddress]struct{}

	receivedOffers map[offerKey]*ReceivedOffer

	sentPayments     []SentPayment
	receivedPayments []ReceivedPayment

	blockRange BlockRange
	seq        int64
}

type offerKey struct {
	hash wire.SqueakHash
	peer wire.PeerAddress
}

// NewMemoryStore returns an empty MemoryStore with the given default sync
// block range.
func NewMemoryStore(defaultRange BlockRange) *MemoryStore {
	return &MemoryStore{
		squeaks:        make(map[wire.SqueakHash]*wire.Squeak),
		headers:        make(map[wire.SqueakHash]wire.BlockHeader),
		content:        make(map[wire.SqueakHash][]byte),
		liked:          make(map[wire.SqueakHash]int64),
		insertedAt:     make(map[wire.SqueakHash]int64),
		profiles:       make(map[string]*Profile),
		peers:          make(map[wire.PeerAddress]*PeerRecord),
		learned:        make(map[wire.PeerAddress]struct{}),
		receivedOffers: make(map[offerKey]*ReceivedOffer),
		blockRange:     defaultRange,
	}
}

func (s *MemoryStore) Get(hash wire.SqueakHash) (*wire.Squeak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sq, ok := s.squeaks[hash]
	if !ok {
		return nil, nil
	}
	cp := *sq
	return &cp, nil
}

func (s *MemoryStore) Insert(sq *wire.Squeak, header wire.BlockHeader) (*wire.SqueakHash, error) {
	hash := sq.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.squeaks[hash]; exists {
		return nil, nil
	}

	cp := *sq
	s.squeaks[hash] = &cp
	s.headers[hash] = header
	s.seq++
	s.insertedAt[hash] = s.seq

	return &hash, nil
}

func (s *MemoryStore) SetDecryptionKey(hash wire.SqueakHash, key []byte, decryptedContent []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sq, ok := s.squeaks[hash]
	if !ok {
		return fmt.Errorf("no squeak for hash %s", hash)
	}
	sq.DecryptionKey = append([]byte(nil), key...)
	s.content[hash] = append([]byte(nil), decryptedContent...)
	return nil
}

func (s *MemoryStore) DeleteSqueak(hash wire.SqueakHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.squeaks, hash)
	delete(s.headers, hash)
	delete(s.content, hash)
	delete(s.liked, hash)
	delete(s.insertedAt, hash)
	return nil
}

func (s *MemoryStore) Lookup(addresses []string, minBlock, maxBlock int32) ([]wire.SqueakHash, error) {
	want := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		want[a] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []wire.SqueakHash
	for hash, sq := range s.squeaks {
		if _, ok := want[sq.AuthorAddress]; !ok {
			continue
		}
		if sq.BlockHeight < minBlock || sq.BlockHeight > maxBlock {
			continue
		}
		out = append(out, hash)
	}
	return out, nil
}

func (s *MemoryStore) GetSqueakEntriesForTextSearch(text string, limit int, lastEntry *wire.SqueakHash) ([]SqueakEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []wire.SqueakHash
	for hash, sq := range s.squeaks {
		if !sq.Unlocked() {
			continue
		}
		if strings.Contains(string(s.content[hash]), text) {
			matches = append(matches, hash)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return s.insertedAt[matches[i]] < s.insertedAt[matches[j]]
	})

	start := 0
	if lastEntry != nil {
		for i, h := range matches {
			if h == *lastEntry {
				start = i + 1
				break
			}
		}
	}
	if start > len(matches) {
		start = len(matches)
	}
	end := start + limit
	if limit <= 0 || end > len(matches) {
		end = len(matches)
	}

	return s.entriesForHashes(matches[start:end]), nil
}

func (s *MemoryStore) GetThreadAncestorEntries(hash wire.SqueakHash) ([]SqueakEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []wire.SqueakHash
	cur, ok := hash, true
	for ok {
		sq, exists := s.squeaks[cur]
		if !exists {
			if len(chain) == 0 {
				return nil, nil
			}
			break
		}
		chain = append([]wire.SqueakHash{cur}, chain...)
		if sq.PrevSqueakHash == nil {
			break
		}
		cur = *sq.PrevSqueakHash
		_, ok = s.squeaks[cur]
	}
	return s.entriesForHashes(chain), nil
}

func (s *MemoryStore) GetThreadReplyEntries(hash wire.SqueakHash) ([]SqueakEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var replies []wire.SqueakHash
	for h, sq := range s.squeaks {
		if sq.PrevSqueakHash != nil && *sq.PrevSqueakHash == hash {
			replies = append(replies, h)
		}
	}
	sort.Slice(replies, func(i, j int) bool {
		return s.insertedAt[replies[i]] < s.insertedAt[replies[j]]
	})
	return s.entriesForHashes(replies), nil
}

func (s *MemoryStore) SetLiked(hash wire.SqueakHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.squeaks[hash]; !ok {
		return fmt.Errorf("no squeak for hash %s", hash)
	}
	s.liked[hash] = time.Now().UnixMilli()
	return nil
}

func (s *MemoryStore) SetUnliked(hash wire.SqueakHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.liked, hash)
	return nil
}

func (s *MemoryStore) GetLikedEntries(limit int) ([]SqueakEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hashes []wire.SqueakHash
	for h := range s.liked {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return s.liked[hashes[i]] > s.liked[hashes[j]]
	})
	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return s.entriesForHashes(hashes), nil
}

func (s *MemoryStore) GetTimeline(limit int) ([]SqueakEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hashes []wire.SqueakHash
	for h, sq := range s.squeaks {
		p, ok := s.profiles[sq.AuthorAddress]
		if !ok || !p.Following {
			continue
		}
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return s.insertedAt[hashes[i]] > s.insertedAt[hashes[j]]
	})
	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return s.entriesForHashes(hashes), nil
}

func (s *MemoryStore) GetAddressEntries(address string, limit int) ([]SqueakEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hashes []wire.SqueakHash
	for h, sq := range s.squeaks {
		if sq.AuthorAddress == address {
			hashes = append(hashes, h)
		}
	}
	sort.Slice(hashes, func(i, j int) bool {
		return s.insertedAt[hashes[i]] > s.insertedAt[hashes[j]]
	})
	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return s.entriesForHashes(hashes), nil
}

func (s *MemoryStore) GetBlockRange() (BlockRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockRange, nil
}

func (s *MemoryStore) GetFollowedAddresses() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for addr, p := range s.profiles {
		if p.Following {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetSharingAddresses() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for addr, p := range s.profiles {
		if p.Sharing {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateProfile(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.Address]; exists {
		return fmt.Errorf("profile for %s already exists", p.Address)
	}
	cp := *p
	s.profiles[p.Address] = &cp
	return nil
}

func (s *MemoryStore) GetProfile(address string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[address]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetProfiles() ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *MemoryStore) SetProfileFollowing(address string, following bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[address]
	if !ok {
		return fmt.Errorf("no profile for %s", address)
	}
	p.Following = following
	return nil
}

func (s *MemoryStore) SetProfileSharing(address string, sharing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[address]
	if !ok {
		return fmt.Errorf("no profile for %s", address)
	}
	p.Sharing = sharing
	return nil
}

func (s *MemoryStore) SetProfilePrice(address string, priceMsat int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[address]
	if !ok {
		return fmt.Errorf("no profile for %s", address)
	}
	p.PriceMsat = priceMsat
	return nil
}

func (s *MemoryStore) DeleteProfile(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, address)
	return nil
}

func (s *MemoryStore) CreatePeer(p *PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.Address.Key()
	cp := *p
	s.peers[key] = &cp
	return nil
}

func (s *MemoryStore) GetPeer(address wire.PeerAddress) (*PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address.Key()]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPeers() ([]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (s *MemoryStore) DeletePeer(address wire.PeerAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, address.Key())
	return nil
}

func (s *MemoryStore) SetPeerAutoconnect(address wire.PeerAddress, autoconnect bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address.Key()]
	if !ok {
		return fmt.Errorf("no peer record for %v", address)
	}
	p.Autoconnect = autoconnect
	return nil
}

func (s *MemoryStore) GetAutoconnectPeers() ([]wire.PeerAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.PeerAddress
	for _, p := range s.peers {
		if p.Autoconnect {
			out = append(out, p.Address)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetLearnedAddresses() ([]wire.PeerAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.PeerAddress, 0, len(s.learned))
	for a := range s.learned {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) RecordLearnedAddress(address wire.PeerAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learned[address.Key()] = struct{}{}
	return nil
}

func (s *MemoryStore) GetReceivedOffer(hash wire.SqueakHash, peer wire.PeerAddress) (*ReceivedOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.receivedOffers[offerKey{hash, peer.Key()}]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetReceivedOffers(hash wire.SqueakHash) ([]ReceivedOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReceivedOffer
	for key, o := range s.receivedOffers {
		if key.hash == hash {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeerAddress.String() < out[j].PeerAddress.String()
	})
	return out, nil
}

func (s *MemoryStore) SaveOffer(offer *ReceivedOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *offer
	s.receivedOffers[offerKey{offer.SqueakHash, offer.PeerAddress.Key()}] = &cp
	return nil
}

func (s *MemoryStore) CreateSentPayment(p *SentPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cp := *p
	cp.ID = s.seq
	s.sentPayments = append(s.sentPayments, cp)
	return nil
}

func (s *MemoryStore) GetSentPaymentForHash(paymentHash [32]byte) (*SentPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sentPayments {
		p := &s.sentPayments[i]
		if p.PaymentHash == paymentHash && p.Settled {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetSentPayments(limit int) ([]SentPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]SentPayment(nil), s.sentPayments...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateReceivedPayment(p *ReceivedPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	cp := *p
	cp.ID = s.seq
	s.receivedPayments = append(s.receivedPayments, cp)
	return nil
}

func (s *MemoryStore) GetReceivedPayments(limit int) ([]ReceivedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]ReceivedPayment(nil), s.receivedPayments...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// entriesForHashes builds SqueakEntry values for hashes, in the order
// given. Callers must hold s.mu.
func (s *MemoryStore) entriesForHashes(hashes []wire.SqueakHash) []SqueakEntry {
	entries := make([]SqueakEntry, 0, len(hashes))
	for _, h := range hashes {
		sq, ok := s.squeaks[h]
		if !ok {
			continue
		}
		entry := SqueakEntry{Squeak: *sq, Hash: h}
		if liked, ok := s.liked[h]; ok {
			l := liked
			entry.LikedTimeMs = &l
		}
		if p, ok := s.profiles[sq.AuthorAddress]; ok {
			cp := *p
			entry.AuthorProfile = &cp
		}
		entries = append(entries, entry)
	}
	return entries
}

// Close is a no-op: MemoryStore holds no external resources.
func (s *MemoryStore) Close() error { return nil }

var _ SqueakStore = (*MemoryStore)(nil)
