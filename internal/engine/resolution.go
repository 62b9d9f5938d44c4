package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/lmsr"
)

// ResolveMarket records the resolver's proposed outcome and opens the
// dispute window. Only the creator or the admin may resolve, and only once
// the resolution deadline has passed.
func (e *Engine) ResolveMarket(cfgAddr, resolver common.Address, marketID uint64, outcome domain.Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if err := e.requireUnpaused(); err != nil {
		return err
	}
	if outcome != domain.OutcomeYes && outcome != domain.OutcomeNo && outcome != domain.OutcomeInvalid {
		return fmt.Errorf("engine: resolve: %w: %s", domain.ErrInvalidOutcome, outcome)
	}
	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if resolver != m.Creator && resolver != e.cfg.Authority {
		return fmt.Errorf("engine: resolve: %w", domain.ErrUnauthorized)
	}
	now := e.now()
	if now.Before(m.ResolutionDeadline) {
		return fmt.Errorf("engine: resolve: %w", domain.ErrDeadlineNotReached)
	}

	next := *m
	if err := e.transition(&next, domain.MarketStateResolving); err != nil {
		return err
	}
	next.ProposedOutcome = outcome
	next.ResolvedAt = &now
	next.DisputeWindowEnd = now.Add(e.cfg.DisputeWindow)

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventMarketResolving,
		MarketID: m.ID,
		Actor:    resolver,
		State:    m.State,
		Outcome:  outcome,
	})
	e.log.Info("resolution proposed", "market", m.ID, "outcome", outcome, "window_end", m.DisputeWindowEnd)
	return nil
}

// InitiateDispute challenges the proposed resolution. Any party may dispute
// while the window is open; the market moves to disputed state and awaits
// the community dispute vote.
func (e *Engine) InitiateDispute(cfgAddr, challenger common.Address, marketID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if err := e.requireUnpaused(); err != nil {
		return err
	}
	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if m.State != domain.MarketStateResolving {
		return fmt.Errorf("engine: dispute: market %d in %s: %w", m.ID, m.State, domain.ErrMarketNotResolving)
	}
	now := e.now()
	if now.After(m.DisputeWindowEnd) {
		return fmt.Errorf("engine: dispute: %w", domain.ErrDisputeWindowClosed)
	}

	next := *m
	if err := e.transition(&next, domain.MarketStateDisputed); err != nil {
		return err
	}
	next.DisputeInitiator = challenger

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventMarketDisputed,
		MarketID: m.ID,
		Actor:    challenger,
		State:    m.State,
	})
	e.log.Info("dispute raised", "market", m.ID, "challenger", challenger)
	return nil
}

// FinalizeMarket completes the no-dispute path once the window has closed.
// The call is permissionless and idempotent: anyone may crank it, and a
// market that is already finalized is a silent no-op so at-least-once
// scheduling cannot fail.
func (e *Engine) FinalizeMarket(cfgAddr, caller common.Address, marketID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if m.State == domain.MarketStateFinalized {
		return nil
	}
	if m.State != domain.MarketStateResolving {
		return fmt.Errorf("engine: finalize: market %d in %s: %w", m.ID, m.State, domain.ErrInvalidTransition)
	}
	if e.now().Before(m.DisputeWindowEnd) {
		return fmt.Errorf("engine: finalize: %w", domain.ErrDisputeWindowOpen)
	}
	if err := e.finalizeLocked(m, m.ProposedOutcome); err != nil {
		return err
	}
	e.log.Info("market finalized", "market", m.ID, "outcome", m.WinningOutcome, "caller", caller)
	return nil
}

// finalizeLocked performs the terminal transition shared by the dispute and
// no-dispute paths. It re-verifies solvency before claims open, sweeps the
// protocol and staker fee shares out of the pool, and emits the finalized
// event. Callers hold the engine lock.
func (e *Engine) finalizeLocked(m *domain.Market, outcome domain.Outcome) error {
	next := *m
	if err := e.transition(&next, domain.MarketStateFinalized); err != nil {
		return err
	}
	next.WinningOutcome = outcome
	ts := e.now()
	next.FinalizedAt = &ts

	if err := lmsr.VerifyBoundedLoss(0, next.WinningOutstanding(), availablePool(&next)); err != nil {
		// Solvency violations block finalization and demand operator
		// action; they must never be swallowed.
		e.log.Error("solvency violation at finalization",
			"market", m.ID,
			"outstanding", next.WinningOutstanding(),
			"available", availablePool(&next))
		return fmt.Errorf("engine: finalize market %d: %w", m.ID, err)
	}

	e.sweepFees(&next)

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventMarketFinalized,
		MarketID: m.ID,
		State:    m.State,
		Outcome:  m.WinningOutcome,
	})
	return nil
}

// sweepFees moves the protocol and staker fee shares out of the market pool
// into the treasury and staker pool. Every terminal transition must sweep
// before claims open so the creator's residual withdrawal cannot capture
// collateral earmarked for those shares. Callers hold the engine lock.
func (e *Engine) sweepFees(next *domain.Market) {
	sweep := next.ProtocolFeesCollected + next.StakerFeesCollected
	if sweep > next.CurrentLiquidity {
		sweep = next.CurrentLiquidity
	}
	e.treasury += next.ProtocolFeesCollected
	e.stakerPool += next.StakerFeesCollected
	next.CurrentLiquidity -= sweep
	next.ProtocolFeesCollected = 0
	next.StakerFeesCollected = 0
}
