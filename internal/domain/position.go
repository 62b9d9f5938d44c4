package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one trader's share holdings in one market. There is exactly
// one position per (market, owner) pair; buys and sells mutate it in place.
type Position struct {
	Address  common.Address
	MarketID uint64
	Owner    common.Address

	YesShares uint64
	NoShares  uint64

	// CostBasis is the net collateral spent: gross buy spend minus sell
	// proceeds, floored at zero. Invalid-outcome refunds pay this amount.
	CostBasis uint64

	Claimed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SharesOf returns the holdings on one side.
func (p *Position) SharesOf(o Outcome) uint64 {
	switch o {
	case OutcomeYes:
		return p.YesShares
	case OutcomeNo:
		return p.NoShares
	default:
		return 0
	}
}

// Empty reports whether the position holds no shares on either side.
func (p *Position) Empty() bool {
	return p.YesShares == 0 && p.NoShares == 0
}
