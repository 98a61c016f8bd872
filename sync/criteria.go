// Package sync implements the per-peer synchronization algorithm: deciding
// which squeaks and offers to pull from or push to one remote peer for the
// duration of a single sync operation. It is a direct generalization of
// PeerConnection from the original node's sync/peer_connection.py.
package sync

import "github.com/squeaknode/squeaknode/wire"

// BlockRange is the inclusive block-height window a sync operation is
// scoped to.
type BlockRange struct {
	MinBlock int32
	MaxBlock int32
}

// Criteria decides whether a downloaded squeak is worth keeping, per spec
// §4.H. It is an extension point only: no dynamic composition of criteria
// is required, matching download_criteria.py's two concrete variants.
type Criteria interface {
	IsInterested(sq *wire.Squeak) bool
}

// HashCriteria is interested in exactly one squeak hash, used by
// DownloadSingleSqueak.
type HashCriteria struct {
	SqueakHash wire.SqueakHash
}

func (c HashCriteria) IsInterested(sq *wire.Squeak) bool {
	return sq.Hash() == c.SqueakHash
}

// RangeCriteria is interested in squeaks within a block range authored by
// one of the followed addresses. An empty FollowList means no address is
// followed, so nothing matches -- callers must resolve at least one
// followed address before a range download is worth issuing.
type RangeCriteria struct {
	BlockRange BlockRange
	FollowList []string
}

func (c RangeCriteria) IsInterested(sq *wire.Squeak) bool {
	if sq.BlockHeight < c.BlockRange.MinBlock || sq.BlockHeight > c.BlockRange.MaxBlock {
		return false
	}
	for _, addr := range c.FollowList {
		if addr == sq.AuthorAddress {
			return true
		}
	}
	return false
}

// ReplyCriteria is interested in direct replies to one squeak, used by the
// thread-download action regardless of who authored the reply.
type ReplyCriteria struct {
	ReplyTo wire.SqueakHash
}

func (c ReplyCriteria) IsInterested(sq *wire.Squeak) bool {
	return sq.PrevSqueakHash != nil && *sq.PrevSqueakHash == c.ReplyTo
}

// AddressCriteria is interested in everything one author has squeaked,
// regardless of block height or follow state.
type AddressCriteria struct {
	Address string
}

func (c AddressCriteria) IsInterested(sq *wire.Squeak) bool {
	return sq.AuthorAddress == c.Address
}
