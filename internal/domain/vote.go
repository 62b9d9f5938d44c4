package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VoteKind distinguishes the two community voting rounds in a market's
// lifecycle.
type VoteKind string

const (
	// VoteKindProposal decides whether a proposed market is approved.
	VoteKindProposal VoteKind = "proposal"
	// VoteKindDispute decides whether a disputed resolution is upheld.
	VoteKindDispute VoteKind = "dispute"
)

// VoteRecord is one voter's ballot in one round. At most one record exists
// per (market, voter, kind); a second cast is rejected, never overwritten.
type VoteRecord struct {
	Address  common.Address
	MarketID uint64
	Voter    common.Address
	Kind     VoteKind

	// Approve means "list the market" for proposal votes and "the
	// disputer is right" for dispute votes.
	Approve bool

	CastAt time.Time
}

// VoteTally is the aggregate of one voting round.
type VoteTally struct {
	Approvals uint64
	Total     uint64
}

// RatioBps returns the approval ratio in basis points. A zero total yields
// zero rather than dividing.
func (t VoteTally) RatioBps() uint64 {
	if t.Total == 0 {
		return 0
	}
	return t.Approvals * BpsDenominator / t.Total
}

// Passes reports whether the approval ratio meets the threshold. The
// comparison is inclusive: a ratio exactly at the threshold passes.
func (t VoteTally) Passes(thresholdBps uint64) bool {
	return t.Total > 0 && t.RatioBps() >= thresholdBps
}
