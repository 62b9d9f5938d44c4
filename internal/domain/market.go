package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketState represents the lifecycle state of a market. States only move
// forward through the transition table; there are no backward edges.
type MarketState string

const (
	MarketStateProposed  MarketState = "proposed"
	MarketStateApproved  MarketState = "approved"
	MarketStateActive    MarketState = "active"
	MarketStateResolving MarketState = "resolving"
	MarketStateDisputed  MarketState = "disputed"
	MarketStateFinalized MarketState = "finalized"
	MarketStateCancelled MarketState = "cancelled"
)

// transitions is the complete set of legal state edges. Finalized and
// cancelled are terminal.
var transitions = map[MarketState][]MarketState{
	MarketStateProposed:  {MarketStateApproved, MarketStateCancelled},
	MarketStateApproved:  {MarketStateActive, MarketStateCancelled},
	MarketStateActive:    {MarketStateResolving, MarketStateCancelled},
	MarketStateResolving: {MarketStateDisputed, MarketStateFinalized},
	MarketStateDisputed:  {MarketStateFinalized},
	MarketStateFinalized: {},
	MarketStateCancelled: {},
}

// CanTransition reports whether the edge from -> to exists in the lifecycle.
func CanTransition(from, to MarketState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s MarketState) Terminal() bool {
	return len(transitions[s]) == 0
}

// Outcome is the resolved result of a binary market.
type Outcome uint8

const (
	OutcomeUnresolved Outcome = iota
	OutcomeYes
	OutcomeNo
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeYes:
		return "yes"
	case OutcomeNo:
		return "no"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unresolved"
	}
}

// Opposite returns the flipped side. Invalid and unresolved map to
// themselves.
func (o Outcome) Opposite() Outcome {
	switch o {
	case OutcomeYes:
		return OutcomeNo
	case OutcomeNo:
		return OutcomeYes
	default:
		return o
	}
}

// Market is the full on-ledger state of one prediction market. All monetary
// quantities are fixed-point with 9 decimals.
type Market struct {
	ID       uint64
	Address  common.Address
	Creator  common.Address
	Question string

	State MarketState

	// ProposedOutcome is set by the resolver entering resolving state;
	// WinningOutcome is set only at finalization and never changes after.
	ProposedOutcome Outcome
	WinningOutcome  Outcome

	// LMSR parameters and share book.
	B                uint64
	QYes             uint64
	QNo              uint64
	InitialLiquidity uint64
	CurrentLiquidity uint64

	// Cached spot prices, refreshed after every trade.
	YesPrice uint64
	NoPrice  uint64

	TotalVolume uint64

	// Fee buckets accumulated from trades, released at finalization.
	ProtocolFeesCollected uint64
	CreatorFeesCollected  uint64
	StakerFeesCollected   uint64
	CreatorFeesClaimed    bool

	// TotalClaimed tracks winning-share payouts already made, so the
	// creator's residual withdraw can net out the remaining obligation.
	TotalClaimed uint64

	ResolutionDeadline time.Time
	DisputeWindowEnd   time.Time
	DisputeInitiator   common.Address

	CreatedAt   time.Time
	ApprovedAt  *time.Time
	ActivatedAt *time.Time
	ResolvedAt  *time.Time
	FinalizedAt *time.Time
}

// IsTradable reports whether buy and sell orders are accepted.
func (m *Market) IsTradable() bool {
	return m.State == MarketStateActive
}

// IsFinalized reports whether the market reached a terminal resolved state.
func (m *Market) IsFinalized() bool {
	return m.State == MarketStateFinalized
}

// IsCancelled reports whether the market was cancelled before resolution.
func (m *Market) IsCancelled() bool {
	return m.State == MarketStateCancelled
}

// WasDisputed reports whether a dispute was ever raised against the
// resolution, regardless of the current state.
func (m *Market) WasDisputed() bool {
	return m.DisputeInitiator != (common.Address{})
}

// WinningOutstanding returns the unpaid winning-share obligation.
func (m *Market) WinningOutstanding() uint64 {
	var winning uint64
	switch m.WinningOutcome {
	case OutcomeYes:
		winning = m.QYes
	case OutcomeNo:
		winning = m.QNo
	default:
		return 0
	}
	if m.TotalClaimed >= winning {
		return 0
	}
	return winning - m.TotalClaimed
}
