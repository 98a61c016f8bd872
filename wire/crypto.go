package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Content is encrypted in two layers: the plaintext is encrypted under a
// random data key, and the data key is itself encrypted under the
// decryption key the author later sells. Revealing the 32-byte decryption
// key (the invoice preimage, see the sync package) therefore unlocks the
// content without the author ever transmitting the content twice.
const (
	// DecryptionKeySize is the length of the key that unlocks a squeak. It
	// doubles as the Lightning invoice preimage, so it must match the
	// 32-byte preimage length BOLT-11 fixes.
	DecryptionKeySize = 32

	dataKeySize = 32
	ivSize      = aes.BlockSize
)

// Decrypt unwraps the data key with key and decrypts the content with it.
// The result must be non-empty valid UTF-8; anything else means the key is
// wrong for this squeak.
func (s *Squeak) Decrypt(key []byte) ([]byte, error) {
	if len(key) != DecryptionKeySize {
		return nil, fmt.Errorf("decryption key must be %d bytes, got %d", DecryptionKeySize, len(key))
	}
	if len(s.IV) != ivSize {
		return nil, fmt.Errorf("squeak IV must be %d bytes, got %d", ivSize, len(s.IV))
	}
	if len(s.DataKey) != dataKeySize {
		return nil, fmt.Errorf("squeak data key must be %d bytes, got %d", dataKeySize, len(s.DataKey))
	}

	dataKey, err := ctrCipher(key, s.IV, s.DataKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	content, err := ctrCipher(dataKey, s.IV, s.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("decrypt content: %w", err)
	}

	if len(content) == 0 || !utf8.Valid(content) {
		return nil, fmt.Errorf("decrypted content is not non-empty UTF-8; wrong key")
	}
	return content, nil
}

// Sign derives AuthorAddress from priv's public key on network and sets
// Signature to a compact, recoverable ECDSA signature over the squeak's
// hash, the inverse of VerifySignature.
func (s *Squeak) Sign(priv *btcec.PrivateKey, network Network) error {
	addr, err := addressForPubKey(priv.PubKey(), network)
	if err != nil {
		return fmt.Errorf("derive author address: %w", err)
	}
	s.AuthorAddress = addr

	hash := s.Hash()
	sig, err := ecdsa.SignCompact(priv, hash[:], true)
	if err != nil {
		return fmt.Errorf("sign squeak hash: %w", err)
	}
	s.Signature = sig
	return nil
}

// easyBits is the compact difficulty target authored squeaks anchor their
// header at: the maximum regtest-style target (just under 2^255), which
// roughly half of all header hashes satisfy, so NewSqueak grinds the header
// nonce until one does. The engine only checks a header against its own claimed
// difficulty (see ValidateProofOfWork); anchoring against a live chain is
// out of scope.
const easyBits = 0x207fffff

// NewSqueak authors, encrypts, and signs a squeak on network anchored at
// (blockHeight, blockHash). It returns the squeak with its decryption key
// already attached locally, plus the key itself for use as an invoice
// preimage when selling it.
func NewSqueak(priv *btcec.PrivateKey, network Network, content []byte,
	blockHeight int32, blockHash [32]byte, replyTo *SqueakHash,
	timestamp int64) (*Squeak, []byte, error) {

	if len(content) == 0 || !utf8.Valid(content) {
		return nil, nil, fmt.Errorf("squeak content must be non-empty UTF-8")
	}

	decryptionKey := make([]byte, DecryptionKeySize)
	dataKey := make([]byte, dataKeySize)
	iv := make([]byte, ivSize)
	for _, b := range [][]byte{decryptionKey, dataKey, iv} {
		if _, err := rand.Read(b); err != nil {
			return nil, nil, fmt.Errorf("generate squeak key material: %w", err)
		}
	}

	encContent, err := ctrCipher(dataKey, iv, content)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt content: %w", err)
	}
	wrappedDataKey, err := ctrCipher(decryptionKey, iv, dataKey)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap data key: %w", err)
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, nil, err
	}

	sq := &Squeak{
		Version:          1,
		BlockHeight:      blockHeight,
		BlockHash:        blockHash,
		EncryptedContent: encContent,
		DataKey:          wrappedDataKey,
		IV:               iv,
		Nonce:            nonce,
		Time:             timestamp,
		ReplyTo:          replyTo,
		PrevSqueakHash:   replyTo,
		Header: BlockHeader{
			Version:       1,
			Time:          uint32(timestamp),
			Bits:          easyBits,
			Nonce:         uint32(nonce),
			HashPrevBlock: blockHash,
		},
		DecryptionKey: decryptionKey,
	}

	// Even at the maximum target, a random header hash misses it a few
	// times out of four; grind the header nonce until this header meets
	// its own claimed difficulty.
	for sq.Header.ValidateProofOfWork() != nil {
		sq.Header.Nonce++
	}

	if err := sq.Sign(priv, network); err != nil {
		return nil, nil, err
	}
	return sq, decryptionKey, nil
}

// ctrCipher runs AES-256-CTR over data with key and iv. CTR is its own
// inverse, so the same call both encrypts and decrypts.
func ctrCipher(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}
