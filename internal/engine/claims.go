package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// claimable reports whether the market is in a terminal state with claims
// open.
func claimable(m *domain.Market) bool {
	return m.State == domain.MarketStateFinalized || m.State == domain.MarketStateCancelled
}

// payoutFor computes one position's claim under the market's terminal
// outcome. Winning shares pay one collateral unit each. A cancelled market
// refunds the net cost basis, as does an invalid outcome under the
// refund policy.
func (e *Engine) payoutFor(m *domain.Market, pos *domain.Position) uint64 {
	if m.State == domain.MarketStateCancelled {
		return pos.CostBasis
	}
	switch m.WinningOutcome {
	case domain.OutcomeYes, domain.OutcomeNo:
		return pos.SharesOf(m.WinningOutcome)
	case domain.OutcomeInvalid:
		if e.cfg.InvalidOutcomePolicy == domain.InvalidPolicyRefundCost {
			return pos.CostBasis
		}
	}
	return 0
}

// ClaimWinnings pays out one position after the market reached a terminal
// state. A position claims exactly once; the second attempt fails with
// ErrAlreadyClaimed regardless of the first payout's size.
func (e *Engine) ClaimWinnings(cfgAddr, claimant common.Address, marketID uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return 0, err
	}
	if err := e.requireUnpaused(); err != nil {
		return 0, err
	}
	m, err := e.market(marketID)
	if err != nil {
		return 0, err
	}
	if !claimable(m) {
		return 0, fmt.Errorf("engine: claim: market %d in %s: %w", m.ID, m.State, domain.ErrInvalidTransition)
	}
	key := positionKey{marketID, claimant}
	pos, ok := e.positions[key]
	if !ok {
		return 0, fmt.Errorf("engine: claim: %w", domain.ErrNothingToClaim)
	}
	if pos.Claimed {
		return 0, fmt.Errorf("engine: claim: market %d claimant %s: %w", marketID, claimant, domain.ErrAlreadyClaimed)
	}

	payout := e.payoutFor(m, pos)
	if payout == 0 {
		return 0, fmt.Errorf("engine: claim: %w", domain.ErrNothingToClaim)
	}
	if available := availablePool(m); payout > available {
		// A short pool is an accounting defect that demands operator action;
		// paying a partial refund would hide it.
		return 0, fmt.Errorf("engine: claim: market %d: payout %d exceeds pool %d: %w",
			m.ID, payout, available, domain.ErrInsufficientLiquidity)
	}

	next := *m
	next.CurrentLiquidity -= payout
	next.TotalClaimed += payout
	nextPos := *pos
	nextPos.Claimed = true
	nextPos.UpdatedAt = e.now()

	*m = next
	e.positions[key] = &nextPos
	e.emit(domain.Event{
		Type:     domain.EventSharesClaimed,
		MarketID: m.ID,
		Actor:    claimant,
		Amount:   payout,
		Outcome:  m.WinningOutcome,
	})
	e.log.Info("claim paid", "market", m.ID, "claimant", claimant, "payout", payout)
	return payout, nil
}

// unclaimedObligation sums the payouts the pool still owes to positions
// that have not claimed yet.
func (e *Engine) unclaimedObligation(m *domain.Market) uint64 {
	switch {
	case m.State == domain.MarketStateFinalized &&
		(m.WinningOutcome == domain.OutcomeYes || m.WinningOutcome == domain.OutcomeNo):
		return m.WinningOutstanding()
	case m.State == domain.MarketStateCancelled,
		m.WinningOutcome == domain.OutcomeInvalid && e.cfg.InvalidOutcomePolicy == domain.InvalidPolicyRefundCost:
		var sum uint64
		for key, pos := range e.positions {
			if key.marketID == m.ID && !pos.Claimed {
				sum += pos.CostBasis
			}
		}
		return sum
	default:
		return 0
	}
}

// WithdrawLiquidity returns the creator's residual pool share after a
// terminal state: the accrued creator fees plus whatever collateral is not
// reserved for outstanding claims. Single use per market.
func (e *Engine) WithdrawLiquidity(cfgAddr, caller common.Address, marketID uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return 0, err
	}
	if err := e.requireUnpaused(); err != nil {
		return 0, err
	}
	m, err := e.market(marketID)
	if err != nil {
		return 0, err
	}
	if caller != m.Creator {
		return 0, fmt.Errorf("engine: withdraw: %w", domain.ErrUnauthorized)
	}
	if !claimable(m) {
		return 0, fmt.Errorf("engine: withdraw: market %d in %s: %w", m.ID, m.State, domain.ErrInvalidTransition)
	}
	if m.CreatorFeesClaimed {
		return 0, fmt.Errorf("engine: withdraw: market %d: %w", m.ID, domain.ErrAlreadyClaimed)
	}

	reserve := e.unclaimedObligation(m)
	if m.CurrentLiquidity < reserve {
		return 0, fmt.Errorf("engine: withdraw: market %d: %w", m.ID, domain.ErrBoundedLossViolated)
	}
	amount := m.CurrentLiquidity - reserve
	creatorFees := m.CreatorFeesCollected

	next := *m
	next.CurrentLiquidity -= amount
	next.CreatorFeesCollected = 0
	next.CreatorFeesClaimed = true

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventLiquidityWithdrawn,
		MarketID: m.ID,
		Actor:    caller,
		Amount:   amount,
		FeePaid:  creatorFees,
	})
	e.log.Info("liquidity withdrawn", "market", m.ID, "amount", amount, "creator_fees", creatorFees)
	return amount, nil
}
