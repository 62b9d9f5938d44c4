package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names every ledger event the engine emits.
type EventType string

const (
	EventMarketProposed  EventType = "market.proposed"
	EventMarketApproved  EventType = "market.approved"
	EventMarketActivated EventType = "market.activated"
	EventMarketResolving EventType = "market.resolving"
	EventMarketDisputed  EventType = "market.disputed"
	EventMarketFinalized EventType = "market.finalized"
	EventMarketCancelled EventType = "market.cancelled"

	EventTradeExecuted EventType = "trade.executed"
	EventVoteCast      EventType = "vote.cast"
	EventVotesTallied  EventType = "votes.tallied"

	EventSharesClaimed      EventType = "claim.shares"
	EventLiquidityWithdrawn EventType = "claim.liquidity"
)

// Event is the flat wire form of one ledger event. Unused fields are zero
// and omitted from JSON. Seq is a strictly increasing per-engine sequence
// number assigned at commit time.
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	MarketID uint64    `json:"market_id"`
	At       time.Time `json:"at"`

	Actor common.Address `json:"actor,omitempty"`
	State MarketState    `json:"state,omitempty"`

	// Trade fields.
	Side    Outcome `json:"side,omitempty"`
	IsBuy   bool    `json:"is_buy,omitempty"`
	Shares  uint64  `json:"shares,omitempty"`
	Amount  uint64  `json:"amount,omitempty"`
	FeePaid uint64  `json:"fee_paid,omitempty"`

	// Cached prices after the event, when they changed.
	YesPrice uint64 `json:"yes_price,omitempty"`
	NoPrice  uint64 `json:"no_price,omitempty"`

	// Vote fields.
	VoteKind VoteKind   `json:"vote_kind,omitempty"`
	Approve  bool       `json:"approve,omitempty"`
	Tally    *VoteTally `json:"tally,omitempty"`

	Outcome Outcome `json:"outcome,omitempty"`
}
