package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

func validateConfig(cfg domain.GlobalConfig) error {
	if cfg.Authority == (common.Address{}) || cfg.BackendAuthority == (common.Address{}) {
		return fmt.Errorf("engine: %w: zero authority", domain.ErrInvalidParameter)
	}
	if cfg.TotalFeeBps() >= domain.BpsDenominator {
		return fmt.Errorf("engine: %w: fee splits %d bps", domain.ErrInvalidParameter, cfg.TotalFeeBps())
	}
	if cfg.ProposalThresholdBps > domain.BpsDenominator || cfg.DisputeThresholdBps > domain.BpsDenominator {
		return fmt.Errorf("engine: %w: threshold above 10000 bps", domain.ErrInvalidParameter)
	}
	if cfg.DisputeWindow <= 0 || cfg.MinResolutionDelay <= 0 {
		return fmt.Errorf("engine: %w: non-positive window", domain.ErrInvalidParameter)
	}
	switch cfg.ProposalFloorPolicy {
	case domain.FloorPolicyReject, domain.FloorPolicyHold:
	default:
		return fmt.Errorf("engine: %w: floor policy %q", domain.ErrInvalidParameter, cfg.ProposalFloorPolicy)
	}
	switch cfg.InvalidOutcomePolicy {
	case domain.InvalidPolicyRefundCost, domain.InvalidPolicyNoPayout:
	default:
		return fmt.Errorf("engine: %w: invalid-outcome policy %q", domain.ErrInvalidParameter, cfg.InvalidOutcomePolicy)
	}
	return nil
}

// InitializeConfig creates the singleton global config. It can only run
// once; the canonical config address is derived from the admin authority.
func (e *Engine) InitializeConfig(cfg domain.GlobalConfig) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg != nil {
		return common.Address{}, fmt.Errorf("engine: config: %w", domain.ErrAlreadyExists)
	}
	if err := validateConfig(cfg); err != nil {
		return common.Address{}, err
	}
	cfg.Version = 1
	e.cfg = &cfg
	e.configAddr = DeriveConfigAddress(cfg.Authority)
	e.log.Info("config initialized",
		"address", e.configAddr,
		"authority", cfg.Authority,
		"backend", cfg.BackendAuthority)
	return e.configAddr, nil
}

// UpdateConfig replaces the mutable config parameters. Admin only. Rotating
// the admin authority re-derives the canonical address.
func (e *Engine) UpdateConfig(cfgAddr, authority common.Address, cfg domain.GlobalConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if authority != e.cfg.Authority {
		return fmt.Errorf("engine: update config: %w", domain.ErrUnauthorized)
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	cfg.Version = e.cfg.Version + 1
	cfg.Paused = e.cfg.Paused
	e.cfg = &cfg
	e.configAddr = DeriveConfigAddress(cfg.Authority)
	e.log.Info("config updated", "version", cfg.Version, "address", e.configAddr)
	return nil
}

// EmergencyPause toggles the pause flag. While paused, all user-facing
// instructions are rejected; admin instructions still work so the protocol
// can be repaired and unpaused.
func (e *Engine) EmergencyPause(cfgAddr, authority common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if authority != e.cfg.Authority {
		return fmt.Errorf("engine: pause: %w", domain.ErrUnauthorized)
	}
	e.cfg.Paused = paused
	e.log.Warn("pause flag changed", "paused", paused)
	return nil
}

// CancelMarket moves a pre-resolution market to cancelled. Admin only.
// Accrued protocol and staker fees are swept out of the pool, traders
// recover their cost basis through ClaimWinnings, and the creator recovers
// the residual pool through WithdrawLiquidity.
func (e *Engine) CancelMarket(cfgAddr, authority common.Address, marketID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if authority != e.cfg.Authority {
		return fmt.Errorf("engine: cancel market: %w", domain.ErrUnauthorized)
	}
	m, err := e.market(marketID)
	if err != nil {
		return err
	}

	next := *m
	if err := e.transition(&next, domain.MarketStateCancelled); err != nil {
		return err
	}
	ts := e.now()
	next.FinalizedAt = &ts
	e.sweepFees(&next)

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventMarketCancelled,
		MarketID: m.ID,
		Actor:    authority,
		State:    m.State,
	})
	e.log.Info("market cancelled", "market", m.ID)
	return nil
}
