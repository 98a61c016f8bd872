// Package invoice adapts the teacher's own zpay32 BOLT-11 decoder to the
// subset of a decoded payment request squeaknode's sync controller acts
// on: payment hash, amount, destination pubkey, expiry and creation
// timestamp.
package invoice

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

// Invoice is the subset of a decoded BOLT-11 payment request this node
// acts on.
type Invoice struct {
	PaymentHash [32]byte
	MilliSat    uint64
	Destination *btcec.PublicKey
	Timestamp   time.Time
	Expiry      time.Duration
}

// Decode parses and validates a bech32-encoded BOLT-11 payment request
// against net using zpay32.Decode, the same decoder the teacher's own
// rpcserver uses for DecodePayReq. zpay32 recovers the destination node's
// pubkey from the invoice's ECDSA signature (btcec.RecoverCompact) when
// the optional tagged "n" field is absent -- the common case for
// real-world invoices -- and verifies the signature against the tagged
// pubkey when "n" is present, so Destination is always the
// signature-derived node_pubkey spec §3 requires for "valid for
// purchase", never a value trusted from an unauthenticated field alone.
func Decode(payReq string, net *chaincfg.Params) (*Invoice, error) {
	decoded, err := zpay32.Decode(payReq, net)
	if err != nil {
		return nil, fmt.Errorf("decode bolt11 invoice: %w", err)
	}

	if decoded.Destination == nil {
		return nil, fmt.Errorf("invoice signature does not yield a recoverable destination pubkey")
	}
	if decoded.PaymentHash == nil {
		return nil, fmt.Errorf("invoice is missing a payment hash field")
	}

	inv := &Invoice{
		PaymentHash: *decoded.PaymentHash,
		Destination: decoded.Destination,
		Timestamp:   decoded.Timestamp,
		Expiry:      decoded.Expiry(),
	}
	if decoded.MilliSat != nil {
		inv.MilliSat = uint64(*decoded.MilliSat)
	}
	return inv, nil
}
