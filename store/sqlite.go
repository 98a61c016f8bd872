package store

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/squeaknode/squeaknode/wire"
)

// SQLiteStore is a reference SqueakStore backed by a local SQLite database
// via the pure-Go modernc.org/sqlite driver, so squeaknoded can run without
// cgo. It is a reference/testing implementation: the real production store
// spec §1 scopes out is whatever backing store a deployment chooses, but the
// module ships this one so SqueakStore is exercised end to end against a
// real SQL engine rather than only MemoryStore.
//
// Schema bring-up is a single idempotent DDL script run on Open rather than
// golang-migrate-driven versioned migrations: golang-migrate's built-in
// sqlite database driver is built on the cgo mattn/go-sqlite3 bindings, which
// would reintroduce the cgo dependency this store exists to avoid, and no
// golang-migrate database driver for modernc.org/sqlite is present in this
// workspace's dependency set to ground a migration-driven approach against
// (see DESIGN.md).
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS squeaks (
	hash            TEXT PRIMARY KEY,
	author_address  TEXT NOT NULL,
	block_height    INTEGER NOT NULL,
	prev_hash       TEXT,
	squeak_blob     BLOB NOT NULL,
	header_blob     BLOB NOT NULL,
	decryption_key  BLOB,
	content         BLOB,
	liked_at_ms     INTEGER,
	inserted_seq    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_squeaks_author ON squeaks(author_address, block_height);
CREATE INDEX IF NOT EXISTS idx_squeaks_prev ON squeaks(prev_hash);

CREATE TABLE IF NOT EXISTS profiles (
	address       TEXT PRIMARY KEY,
	nickname      TEXT,
	following     INTEGER NOT NULL DEFAULT 0,
	sharing       INTEGER NOT NULL DEFAULT 0,
	private_key   BLOB,
	price_msat    INTEGER NOT NULL DEFAULT 0,
	profile_image BLOB
);

CREATE TABLE IF NOT EXISTS peers (
	network      INTEGER NOT NULL,
	host         TEXT NOT NULL,
	port         INTEGER NOT NULL,
	autoconnect  INTEGER NOT NULL DEFAULT 0,
	share        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (network, host, port)
);

CREATE TABLE IF NOT EXISTS learned_addresses (
	network TEXT NOT NULL,
	host    TEXT NOT NULL,
	port    INTEGER NOT NULL,
	PRIMARY KEY (network, host, port)
);

CREATE TABLE IF NOT EXISTS received_offers (
	hash               TEXT NOT NULL,
	peer_network       INTEGER NOT NULL,
	peer_host          TEXT NOT NULL,
	peer_port          INTEGER NOT NULL,
	price_msat         INTEGER NOT NULL,
	payment_request    TEXT NOT NULL,
	payment_hash       BLOB NOT NULL,
	destination_node   BLOB,
	host               TEXT,
	port               INTEGER,
	expiry             INTEGER NOT NULL,
	invoice_timestamp  INTEGER NOT NULL,
	PRIMARY KEY (hash, peer_network, peer_host, peer_port)
);

CREATE TABLE IF NOT EXISTS sent_payments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	hash         TEXT NOT NULL,
	peer_network INTEGER NOT NULL,
	peer_host    TEXT NOT NULL,
	peer_port    INTEGER NOT NULL,
	payment_hash BLOB NOT NULL,
	preimage     BLOB,
	amount_msat  INTEGER NOT NULL,
	settled      INTEGER NOT NULL,
	error        TEXT,
	time         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS received_payments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	hash        TEXT NOT NULL,
	price_msat  INTEGER NOT NULL,
	time        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_range (
	id        INTEGER PRIMARY KEY CHECK (id = 0),
	min_block INTEGER NOT NULL,
	max_block INTEGER NOT NULL
);
`

// OpenSQLite opens (creating if necessary) a SQLite-backed SqueakStore at
// path, applying the schema and seeding the default sync block range.
func OpenSQLite(path string, defaultRange BlockRange) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers per-connection; avoid SQLITE_BUSY churn.

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO sync_range (id, min_block, max_block) VALUES (0, ?, ?)`,
		defaultRange.MinBlock, defaultRange.MaxBlock,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed sync range: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeSqueak(sq *wire.Squeak) ([]byte, error) {
	var buf bytes.Buffer
	if err := sq.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSqueak(blob []byte) (*wire.Squeak, error) {
	sq := &wire.Squeak{}
	if err := sq.Decode(bytes.NewReader(blob)); err != nil {
		return nil, err
	}
	return sq, nil
}

func encodeHeader(h wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SQLiteStore) Get(hash wire.SqueakHash) (*wire.Squeak, error) {
	var squeakBlob, decryptionKey, content []byte
	err := s.db.QueryRow(
		`SELECT squeak_blob, decryption_key, content FROM squeaks WHERE hash = ?`,
		hash.String(),
	).Scan(&squeakBlob, &decryptionKey, &content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get squeak %s: %w", hash, err)
	}

	sq, err := decodeSqueak(squeakBlob)
	if err != nil {
		return nil, fmt.Errorf("decode squeak %s: %w", hash, err)
	}
	sq.DecryptionKey = decryptionKey
	return sq, nil
}

func (s *SQLiteStore) Insert(sq *wire.Squeak, header wire.BlockHeader) (*wire.SqueakHash, error) {
	hash := sq.Hash()

	var exists int
	if err := s.db.QueryRow(`SELECT 1 FROM squeaks WHERE hash = ?`, hash.String()).Scan(&exists); err == nil {
		return nil, nil
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing squeak %s: %w", hash, err)
	}

	squeakBlob, err := encodeSqueak(sq)
	if err != nil {
		return nil, fmt.Errorf("encode squeak %s: %w", hash, err)
	}
	headerBlob, err := encodeHeader(header)
	if err != nil {
		return nil, fmt.Errorf("encode header for %s: %w", hash, err)
	}

	var prevHash interface{}
	if sq.PrevSqueakHash != nil {
		prevHash = sq.PrevSqueakHash.String()
	}

	var nextSeq int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(inserted_seq), 0) + 1 FROM squeaks`).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("compute next insert sequence: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO squeaks (hash, author_address, block_height, prev_hash, squeak_blob, header_blob, inserted_seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hash.String(), sq.AuthorAddress, sq.BlockHeight, prevHash, squeakBlob, headerBlob, nextSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("insert squeak %s: %w", hash, err)
	}
	return &hash, nil
}

func (s *SQLiteStore) SetDecryptionKey(hash wire.SqueakHash, key []byte, decryptedContent []byte) error {
	res, err := s.db.Exec(
		`UPDATE squeaks SET decryption_key = ?, content = ? WHERE hash = ?`,
		key, decryptedContent, hash.String(),
	)
	if err != nil {
		return fmt.Errorf("set decryption key for %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no squeak for hash %s", hash)
	}
	return nil
}

func (s *SQLiteStore) DeleteSqueak(hash wire.SqueakHash) error {
	_, err := s.db.Exec(`DELETE FROM squeaks WHERE hash = ?`, hash.String())
	if err != nil {
		return fmt.Errorf("delete squeak %s: %w", hash, err)
	}
	return nil
}

func (s *SQLiteStore) Lookup(addresses []string, minBlock, maxBlock int32) ([]wire.SqueakHash, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(addresses)), ",")
	args := make([]interface{}, 0, len(addresses)+2)
	for _, a := range addresses {
		args = append(args, a)
	}
	args = append(args, minBlock, maxBlock)

	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT hash FROM squeaks WHERE author_address IN (%s) AND block_height BETWEEN ? AND ?`, placeholders),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	defer rows.Close()

	var out []wire.SqueakHash
	for rows.Next() {
		var hexHash string
		if err := rows.Scan(&hexHash); err != nil {
			return nil, err
		}
		h, err := hashFromHex(hexHash)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func hashFromHex(s string) (wire.SqueakHash, error) {
	var h wire.SqueakHash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != wire.SqueakHashSize {
		return h, fmt.Errorf("malformed hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func (s *SQLiteStore) GetSqueakEntriesForTextSearch(text string, limit int, lastEntry *wire.SqueakHash) ([]SqueakEntry, error) {
	var afterSeq int64
	if lastEntry != nil {
		if err := s.db.QueryRow(`SELECT inserted_seq FROM squeaks WHERE hash = ?`, lastEntry.String()).Scan(&afterSeq); err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(
		`SELECT hash FROM squeaks
		 WHERE decryption_key IS NOT NULL AND content LIKE '%' || ? || '%' AND inserted_seq > ?
		 ORDER BY inserted_seq ASC LIMIT ?`,
		text, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()
	return s.entriesForRows(rows)
}

func (s *SQLiteStore) GetThreadAncestorEntries(hash wire.SqueakHash) ([]SqueakEntry, error) {
	var chain []wire.SqueakHash
	cur := hash
	for {
		var prevHash sql.NullString
		err := s.db.QueryRow(`SELECT prev_hash FROM squeaks WHERE hash = ?`, cur.String()).Scan(&prevHash)
		if err == sql.ErrNoRows {
			if len(chain) == 0 {
				return nil, nil
			}
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append([]wire.SqueakHash{cur}, chain...)
		if !prevHash.Valid {
			break
		}
		cur, err = hashFromHex(prevHash.String)
		if err != nil {
			return nil, err
		}
	}
	return s.entriesForHashes(chain)
}

func (s *SQLiteStore) GetThreadReplyEntries(hash wire.SqueakHash) ([]SqueakEntry, error) {
	rows, err := s.db.Query(`SELECT hash FROM squeaks WHERE prev_hash = ? ORDER BY inserted_seq ASC`, hash.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.entriesForRows(rows)
}

func (s *SQLiteStore) SetLiked(hash wire.SqueakHash) error {
	res, err := s.db.Exec(`UPDATE squeaks SET liked_at_ms = ? WHERE hash = ?`, time.Now().UnixMilli(), hash.String())
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no squeak for hash %s", hash)
	}
	return nil
}

func (s *SQLiteStore) SetUnliked(hash wire.SqueakHash) error {
	_, err := s.db.Exec(`UPDATE squeaks SET liked_at_ms = NULL WHERE hash = ?`, hash.String())
	return err
}

func (s *SQLiteStore) GetLikedEntries(limit int) ([]SqueakEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT hash FROM squeaks WHERE liked_at_ms IS NOT NULL ORDER BY liked_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.entriesForRows(rows)
}

func (s *SQLiteStore) GetTimeline(limit int) ([]SqueakEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT sq.hash FROM squeaks sq
		 JOIN profiles p ON p.address = sq.author_address
		 WHERE p.following = 1
		 ORDER BY sq.inserted_seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.entriesForRows(rows)
}

func (s *SQLiteStore) GetAddressEntries(address string, limit int) ([]SqueakEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT hash FROM squeaks WHERE author_address = ? ORDER BY inserted_seq DESC LIMIT ?`,
		address, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.entriesForRows(rows)
}

func (s *SQLiteStore) GetBlockRange() (BlockRange, error) {
	var br BlockRange
	err := s.db.QueryRow(`SELECT min_block, max_block FROM sync_range WHERE id = 0`).Scan(&br.MinBlock, &br.MaxBlock)
	return br, err
}

func (s *SQLiteStore) GetFollowedAddresses() ([]string, error) {
	return s.queryAddresses(`SELECT address FROM profiles WHERE following = 1`)
}

func (s *SQLiteStore) GetSharingAddresses() ([]string, error) {
	return s.queryAddresses(`SELECT address FROM profiles WHERE sharing = 1`)
}

func (s *SQLiteStore) queryAddresses(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateProfile(p *Profile) error {
	_, err := s.db.Exec(
		`INSERT INTO profiles (address, nickname, following, sharing, private_key, price_msat, profile_image)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Address, p.Nickname, p.Following, p.Sharing, p.PrivateKey, p.PriceMsat, p.ProfileImage,
	)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", p.Address, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(address string) (*Profile, error) {
	p := &Profile{Address: address}
	var nickname sql.NullString
	err := s.db.QueryRow(
		`SELECT nickname, following, sharing, private_key, price_msat, profile_image FROM profiles WHERE address = ?`,
		address,
	).Scan(&nickname, &p.Following, &p.Sharing, &p.PrivateKey, &p.PriceMsat, &p.ProfileImage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Nickname = nickname.String
	return p, nil
}

func (s *SQLiteStore) GetProfiles() ([]Profile, error) {
	rows, err := s.db.Query(
		`SELECT address, nickname, following, sharing, private_key, price_msat, profile_image
		 FROM profiles ORDER BY address ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		var nickname sql.NullString
		if err := rows.Scan(&p.Address, &nickname, &p.Following, &p.Sharing,
			&p.PrivateKey, &p.PriceMsat, &p.ProfileImage); err != nil {
			return nil, err
		}
		p.Nickname = nickname.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetProfileFollowing(address string, following bool) error {
	return s.updateProfileColumn(address, `following`, following)
}

func (s *SQLiteStore) SetProfileSharing(address string, sharing bool) error {
	return s.updateProfileColumn(address, `sharing`, sharing)
}

func (s *SQLiteStore) SetProfilePrice(address string, priceMsat int64) error {
	return s.updateProfileColumn(address, `price_msat`, priceMsat)
}

func (s *SQLiteStore) updateProfileColumn(address, column string, value interface{}) error {
	res, err := s.db.Exec(`UPDATE profiles SET `+column+` = ? WHERE address = ?`, value, address)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no profile for %s", address)
	}
	return nil
}

func (s *SQLiteStore) DeleteProfile(address string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE address = ?`, address)
	return err
}

func (s *SQLiteStore) CreatePeer(p *PeerRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO peers (network, host, port, autoconnect, share) VALUES (?, ?, ?, ?, ?)`,
		p.Address.Network, p.Address.Host, p.Address.Port, p.Autoconnect, p.Share,
	)
	return err
}

func (s *SQLiteStore) GetPeer(address wire.PeerAddress) (*PeerRecord, error) {
	p := &PeerRecord{Address: address}
	err := s.db.QueryRow(
		`SELECT autoconnect, share FROM peers WHERE network = ? AND host = ? AND port = ?`,
		address.Network, address.Host, address.Port,
	).Scan(&p.Autoconnect, &p.Share)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) GetPeers() ([]PeerRecord, error) {
	rows, err := s.db.Query(`SELECT network, host, port, autoconnect, share FROM peers ORDER BY host, port`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var p PeerRecord
		if err := rows.Scan(&p.Address.Network, &p.Address.Host, &p.Address.Port, &p.Autoconnect, &p.Share); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePeer(address wire.PeerAddress) error {
	_, err := s.db.Exec(`DELETE FROM peers WHERE network = ? AND host = ? AND port = ?`, address.Network, address.Host, address.Port)
	return err
}

func (s *SQLiteStore) SetPeerAutoconnect(address wire.PeerAddress, autoconnect bool) error {
	res, err := s.db.Exec(
		`UPDATE peers SET autoconnect = ? WHERE network = ? AND host = ? AND port = ?`,
		autoconnect, address.Network, address.Host, address.Port,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no peer record for %v", address)
	}
	return nil
}

func (s *SQLiteStore) GetAutoconnectPeers() ([]wire.PeerAddress, error) {
	rows, err := s.db.Query(`SELECT network, host, port FROM peers WHERE autoconnect = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPeerAddresses(rows)
}

func (s *SQLiteStore) GetLearnedAddresses() ([]wire.PeerAddress, error) {
	rows, err := s.db.Query(`SELECT network, host, port FROM learned_addresses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPeerAddresses(rows)
}

func scanPeerAddresses(rows *sql.Rows) ([]wire.PeerAddress, error) {
	var out []wire.PeerAddress
	for rows.Next() {
		var a wire.PeerAddress
		if err := rows.Scan(&a.Network, &a.Host, &a.Port); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordLearnedAddress(address wire.PeerAddress) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO learned_addresses (network, host, port) VALUES (?, ?, ?)`,
		address.Network, address.Host, address.Port,
	)
	return err
}

func (s *SQLiteStore) GetReceivedOffer(hash wire.SqueakHash, peer wire.PeerAddress) (*ReceivedOffer, error) {
	o := &ReceivedOffer{SqueakHash: hash, PeerAddress: peer}
	var paymentHash []byte
	var expiryUnix, tsUnix int64
	err := s.db.QueryRow(
		`SELECT price_msat, payment_request, payment_hash, destination_node, host, port, expiry, invoice_timestamp
		 FROM received_offers WHERE hash = ? AND peer_network = ? AND peer_host = ? AND peer_port = ?`,
		hash.String(), peer.Network, peer.Host, peer.Port,
	).Scan(&o.PriceMsat, &o.PaymentRequest, &paymentHash, &o.DestinationNode, &o.Host, &o.Port, &expiryUnix, &tsUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	copy(o.PaymentHash[:], paymentHash)
	o.Expiry = time.Unix(expiryUnix, 0)
	o.InvoiceTimestamp = time.Unix(tsUnix, 0)
	return o, nil
}

func (s *SQLiteStore) GetReceivedOffers(hash wire.SqueakHash) ([]ReceivedOffer, error) {
	rows, err := s.db.Query(
		`SELECT peer_network, peer_host, peer_port, price_msat, payment_request, payment_hash, destination_node, host, port, expiry, invoice_timestamp
		 FROM received_offers WHERE hash = ? ORDER BY peer_host, peer_port`,
		hash.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReceivedOffer
	for rows.Next() {
		o := ReceivedOffer{SqueakHash: hash}
		var paymentHash []byte
		var expiryUnix, tsUnix int64
		if err := rows.Scan(&o.PeerAddress.Network, &o.PeerAddress.Host, &o.PeerAddress.Port,
			&o.PriceMsat, &o.PaymentRequest, &paymentHash, &o.DestinationNode,
			&o.Host, &o.Port, &expiryUnix, &tsUnix); err != nil {
			return nil, err
		}
		copy(o.PaymentHash[:], paymentHash)
		o.Expiry = time.Unix(expiryUnix, 0)
		o.InvoiceTimestamp = time.Unix(tsUnix, 0)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveOffer(offer *ReceivedOffer) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO received_offers
		 (hash, peer_network, peer_host, peer_port, price_msat, payment_request, payment_hash, destination_node, host, port, expiry, invoice_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.SqueakHash.String(), offer.PeerAddress.Network, offer.PeerAddress.Host, offer.PeerAddress.Port,
		offer.PriceMsat, offer.PaymentRequest, offer.PaymentHash[:], offer.DestinationNode,
		offer.Host, offer.Port, offer.Expiry.Unix(), offer.InvoiceTimestamp.Unix(),
	)
	return err
}

func (s *SQLiteStore) CreateSentPayment(p *SentPayment) error {
	var preimage interface{}
	if p.Preimage != ([32]byte{}) {
		preimage = p.Preimage[:]
	}
	res, err := s.db.Exec(
		`INSERT INTO sent_payments (hash, peer_network, peer_host, peer_port, payment_hash, preimage, amount_msat, settled, error, time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SqueakHash.String(), p.PeerAddress.Network, p.PeerAddress.Host, p.PeerAddress.Port,
		p.PaymentHash[:], preimage, p.AmountMsat, p.Settled, p.Error, p.Time.Unix(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (s *SQLiteStore) GetSentPaymentForHash(paymentHash [32]byte) (*SentPayment, error) {
	p := &SentPayment{PaymentHash: paymentHash}
	var hashHex string
	var preimage []byte
	var timeUnix int64
	err := s.db.QueryRow(
		`SELECT id, hash, peer_network, peer_host, peer_port, preimage, amount_msat, settled, error, time
		 FROM sent_payments WHERE payment_hash = ? AND settled = 1 ORDER BY id DESC LIMIT 1`,
		paymentHash[:],
	).Scan(&p.ID, &hashHex, &p.PeerAddress.Network, &p.PeerAddress.Host, &p.PeerAddress.Port,
		&preimage, &p.AmountMsat, &p.Settled, &p.Error, &timeUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	h, err := hashFromHex(hashHex)
	if err != nil {
		return nil, err
	}
	p.SqueakHash = h
	copy(p.Preimage[:], preimage)
	p.Time = time.Unix(timeUnix, 0)
	return p, nil
}

func (s *SQLiteStore) GetSentPayments(limit int) ([]SentPayment, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, hash, peer_network, peer_host, peer_port, payment_hash, preimage, amount_msat, settled, error, time
		 FROM sent_payments ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SentPayment
	for rows.Next() {
		var p SentPayment
		var hashHex string
		var paymentHash, preimage []byte
		var timeUnix int64
		if err := rows.Scan(&p.ID, &hashHex, &p.PeerAddress.Network, &p.PeerAddress.Host, &p.PeerAddress.Port,
			&paymentHash, &preimage, &p.AmountMsat, &p.Settled, &p.Error, &timeUnix); err != nil {
			return nil, err
		}
		h, err := hashFromHex(hashHex)
		if err != nil {
			return nil, err
		}
		p.SqueakHash = h
		copy(p.PaymentHash[:], paymentHash)
		copy(p.Preimage[:], preimage)
		p.Time = time.Unix(timeUnix, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateReceivedPayment(p *ReceivedPayment) error {
	res, err := s.db.Exec(
		`INSERT INTO received_payments (hash, price_msat, time) VALUES (?, ?, ?)`,
		p.SqueakHash.String(), p.PriceMsat, p.Time.Unix(),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (s *SQLiteStore) GetReceivedPayments(limit int) ([]ReceivedPayment, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, hash, price_msat, time FROM received_payments ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReceivedPayment
	for rows.Next() {
		var p ReceivedPayment
		var hashHex string
		var timeUnix int64
		if err := rows.Scan(&p.ID, &hashHex, &p.PriceMsat, &timeUnix); err != nil {
			return nil, err
		}
		h, err := hashFromHex(hashHex)
		if err != nil {
			return nil, err
		}
		p.SqueakHash = h
		p.Time = time.Unix(timeUnix, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) entriesForRows(rows *sql.Rows) ([]SqueakEntry, error) {
	var hashes []wire.SqueakHash
	for rows.Next() {
		var hexHash string
		if err := rows.Scan(&hexHash); err != nil {
			return nil, err
		}
		h, err := hashFromHex(hexHash)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.entriesForHashes(hashes)
}

func (s *SQLiteStore) entriesForHashes(hashes []wire.SqueakHash) ([]SqueakEntry, error) {
	entries := make([]SqueakEntry, 0, len(hashes))
	for _, h := range hashes {
		sq, err := s.Get(h)
		if err != nil {
			return nil, err
		}
		if sq == nil {
			continue
		}
		entry := SqueakEntry{Squeak: *sq, Hash: h}

		var likedMs sql.NullInt64
		if err := s.db.QueryRow(`SELECT liked_at_ms FROM squeaks WHERE hash = ?`, h.String()).Scan(&likedMs); err == nil && likedMs.Valid {
			entry.LikedTimeMs = &likedMs.Int64
		}
		if profile, err := s.GetProfile(sq.AuthorAddress); err == nil {
			entry.AuthorProfile = profile
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var _ SqueakStore = (*SQLiteStore)(nil)
