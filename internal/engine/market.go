package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/fixedpoint"
	"github.com/zmartlabs/zmart-engine/internal/lmsr"
)

// CreateMarket proposes a new market. The creator seeds the pool with at
// least the worst-case maker loss b*ln(2); anything above the minimum is
// extra cushion. The market starts in proposed state awaiting the community
// proposal vote.
func (e *Engine) CreateMarket(cfgAddr, creator common.Address, question string, b, initialLiquidity uint64, resolutionDeadline time.Time) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return domain.Market{}, err
	}
	if err := e.requireUnpaused(); err != nil {
		return domain.Market{}, err
	}
	if strings.TrimSpace(question) == "" {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: empty question", domain.ErrInvalidParameter)
	}
	if err := lmsr.ValidateB(b); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}
	minSeed, err := lmsr.MaxLoss(b)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}
	if initialLiquidity < minSeed {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: seed %d below required %d",
			domain.ErrInsufficientLiquidity, initialLiquidity, minSeed)
	}
	now := e.now()
	if resolutionDeadline.Before(now.Add(e.cfg.MinResolutionDelay)) {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: deadline inside minimum resolution delay",
			domain.ErrInvalidParameter)
	}

	id := e.nextID
	m := &domain.Market{
		ID:                 id,
		Address:            DeriveMarketAddress(id),
		Creator:            creator,
		Question:           question,
		State:              domain.MarketStateProposed,
		B:                  b,
		InitialLiquidity:   initialLiquidity,
		CurrentLiquidity:   initialLiquidity,
		YesPrice:           fixedpoint.Precision / 2,
		NoPrice:            fixedpoint.Precision / 2,
		ResolutionDeadline: resolutionDeadline,
		CreatedAt:          now,
	}
	e.nextID++
	e.markets[id] = m

	e.emit(domain.Event{
		Type:     domain.EventMarketProposed,
		MarketID: id,
		Actor:    creator,
		State:    m.State,
		Amount:   initialLiquidity,
		YesPrice: m.YesPrice,
		NoPrice:  m.NoPrice,
	})
	e.log.Info("market proposed", "market", id, "creator", creator, "b", b)
	return *m, nil
}

// ApproveProposal moves a proposed market straight to approved. Admin only;
// the normal path is AggregateProposalVotes driven by the community vote.
func (e *Engine) ApproveProposal(cfgAddr, authority common.Address, marketID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if authority != e.cfg.Authority {
		return fmt.Errorf("engine: approve proposal: %w", domain.ErrUnauthorized)
	}
	m, err := e.market(marketID)
	if err != nil {
		return err
	}

	next := *m
	if err := e.transition(&next, domain.MarketStateApproved); err != nil {
		return err
	}
	ts := e.now()
	next.ApprovedAt = &ts

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventMarketApproved,
		MarketID: m.ID,
		Actor:    authority,
		State:    m.State,
	})
	e.log.Info("market approved by admin", "market", m.ID)
	return nil
}

// ActivateMarket opens an approved market for trading. Only the creator or
// the admin may activate.
func (e *Engine) ActivateMarket(cfgAddr, caller common.Address, marketID uint64) error {
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
	if caller != m.Creator && caller != e.cfg.Authority {
		return fmt.Errorf("engine: activate market: %w", domain.ErrUnauthorized)
	}
	now := e.now()
	if !m.ResolutionDeadline.After(now) {
		return fmt.Errorf("engine: activate market: %w: resolution deadline already passed",
			domain.ErrInvalidParameter)
	}

	next := *m
	if err := e.transition(&next, domain.MarketStateActive); err != nil {
		return err
	}
	next.ActivatedAt = &now

	*m = next
	e.emit(domain.Event{
		Type:     domain.EventMarketActivated,
		MarketID: m.ID,
		Actor:    caller,
		State:    m.State,
		YesPrice: m.YesPrice,
		NoPrice:  m.NoPrice,
	})
	e.log.Info("market activated", "market", m.ID)
	return nil
}
