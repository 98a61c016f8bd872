package wire

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// VerifySignature checks that Signature is a compact, recoverable ECDSA
// signature over the squeak's content hash whose recovered public key
// hashes to AuthorAddress on network. This is the wire-level authenticity
// check spec §4.F.1 requires before a downloaded squeak is considered for
// persistence; it generalizes the recoverable-signature verification
// pattern the teacher uses for gossip messages (discovery/validation.go) to
// an address rather than a known pubkey.
func (s *Squeak) VerifySignature(network Network) error {
	hash := s.Hash()

	pubKey, _, err := ecdsa.RecoverCompact(s.Signature, hash[:])
	if err != nil {
		return fmt.Errorf("recover pubkey from signature: %w", err)
	}

	addr, err := addressForPubKey(pubKey, network)
	if err != nil {
		return fmt.Errorf("derive address from recovered pubkey: %w", err)
	}

	if addr != s.AuthorAddress {
		return fmt.Errorf("signature does not match claimed author address %s", s.AuthorAddress)
	}
	return nil
}

// AddressForPubKey derives the author address a squeak signed by pubKey's
// private key will carry on network.
func AddressForPubKey(pubKey *btcec.PublicKey, network Network) (string, error) {
	return addressForPubKey(pubKey, network)
}

func addressForPubKey(pubKey *btcec.PublicKey, network Network) (string, error) {
	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, network.ChainParams())
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// ValidateProofOfWork checks that the squeak's anchored BlockHeader is
// internally self-consistent: its double-SHA-256 hash, read as a
// little-endian number (see hashToBig), must not exceed the target its own Bits field claims. This
// is the header-shape check spec §3/§4.F.1 calls for; the core engine does
// not validate the header against a live chain (spec §1 non-goals), only
// that the header is not claiming a difficulty its own hash doesn't meet.
func (h *BlockHeader) ValidateProofOfWork() error {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return fmt.Errorf("block header has non-positive target for bits 0x%08x", h.Bits)
	}

	headerHash := h.Hash()
	hashNum := hashToBig(headerHash)
	if hashNum.Cmp(target) > 0 {
		return fmt.Errorf("block header hash %x exceeds target for bits 0x%08x", headerHash, h.Bits)
	}
	return nil
}

// hashToBig interprets a hash as a big-endian big.Int after reversing its
// byte order, matching blockchain.HashToBig's treatment of a chainhash.Hash
// (which is stored internally little-endian).
func hashToBig(hash [32]byte) *big.Int {
	var reversed chainhash.Hash
	for i := 0; i < len(hash); i++ {
		reversed[i] = hash[len(hash)-1-i]
	}
	return new(big.Int).SetBytes(reversed[:])
}
