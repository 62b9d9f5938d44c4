package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/lmsr"
)

// TradeResult reports the executed size and money flow of one trade.
type TradeResult struct {
	Shares uint64
	// Cost is the LMSR cost difference, before fees.
	Cost uint64
	Fee  FeeBreakdown
	// Amount is the collateral the trader paid (buy) or received (sell),
	// fees included.
	Amount   uint64
	YesPrice uint64
	NoPrice  uint64
}

// availablePool is the collateral free for payouts: the pool minus fees
// still earmarked for the protocol, creator and stakers.
func availablePool(m *domain.Market) uint64 {
	earmarked := m.ProtocolFeesCollected + m.CreatorFeesCollected + m.StakerFeesCollected
	if earmarked > m.CurrentLiquidity {
		return 0
	}
	return m.CurrentLiquidity - earmarked
}

func validSide(side domain.Outcome) error {
	if side != domain.OutcomeYes && side != domain.OutcomeNo {
		return fmt.Errorf("engine: %w: side %s", domain.ErrInvalidOutcome, side)
	}
	return nil
}

// BuyShares spends up to maxSpend collateral on one side. The engine solves
// for the largest share quantity whose cost plus fees fits inside maxSpend;
// if the result lands below minSharesOut the trade fails with
// ErrSlippageExceeded and nothing changes.
func (e *Engine) BuyShares(cfgAddr, trader common.Address, marketID uint64, side domain.Outcome, maxSpend, minSharesOut uint64) (TradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return TradeResult{}, err
	}
	if err := e.requireUnpaused(); err != nil {
		return TradeResult{}, err
	}
	if err := validSide(side); err != nil {
		return TradeResult{}, err
	}
	m, err := e.market(marketID)
	if err != nil {
		return TradeResult{}, err
	}
	if !m.IsTradable() {
		return TradeResult{}, fmt.Errorf("engine: buy: market %d in %s: %w", m.ID, m.State, domain.ErrMarketNotTradable)
	}
	if maxSpend < e.cfg.MinTradeAmount {
		return TradeResult{}, fmt.Errorf("engine: buy: %w: %d below %d", domain.ErrBelowMinimumTrade, maxSpend, e.cfg.MinTradeAmount)
	}

	// Reserve the fee headroom up front so the solved cost plus its fees
	// cannot exceed the spend limit.
	netBudget, err := mulDiv(maxSpend, domain.BpsDenominator, domain.BpsDenominator+e.cfg.TotalFeeBps())
	if err != nil {
		return TradeResult{}, err
	}

	buyYes := side == domain.OutcomeYes
	shares, err := lmsr.SharesForCost(m.B, m.QYes, m.QNo, netBudget, buyYes)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: buy: %w", err)
	}
	if shares == 0 {
		return TradeResult{}, fmt.Errorf("engine: buy: %w: spend too small to move the book", domain.ErrBelowMinimumTrade)
	}
	if shares < minSharesOut {
		return TradeResult{}, fmt.Errorf("engine: buy: %w: got %d want at least %d", domain.ErrSlippageExceeded, shares, minSharesOut)
	}
	cost, err := lmsr.BuyCost(m.B, m.QYes, m.QNo, shares, buyYes)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: buy: %w", err)
	}
	fee, err := calculateFees(cost, e.cfg)
	if err != nil {
		return TradeResult{}, err
	}
	gross := cost + fee.Total
	if gross > maxSpend {
		return TradeResult{}, fmt.Errorf("engine: buy: %w: cost %d exceeds limit %d", domain.ErrSlippageExceeded, gross, maxSpend)
	}

	next := *m
	if buyYes {
		next.QYes += shares
	} else {
		next.QNo += shares
	}
	next.CurrentLiquidity += gross
	next.ProtocolFeesCollected += fee.Protocol
	next.CreatorFeesCollected += fee.Creator
	next.StakerFeesCollected += fee.Staker
	next.TotalVolume += gross
	next.YesPrice, next.NoPrice, err = lmsr.Price(next.B, next.QYes, next.QNo)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: buy: %w", err)
	}
	if err := lmsr.VerifyBoundedLoss(next.QYes, next.QNo, availablePool(&next)); err != nil {
		return TradeResult{}, fmt.Errorf("engine: buy: %w", err)
	}

	key := positionKey{m.ID, trader}
	now := e.now()
	pos, ok := e.positions[key]
	var nextPos domain.Position
	if ok {
		nextPos = *pos
	} else {
		nextPos = domain.Position{
			Address:   DerivePositionAddress(m.ID, trader),
			MarketID:  m.ID,
			Owner:     trader,
			CreatedAt: now,
		}
	}
	if buyYes {
		nextPos.YesShares += shares
	} else {
		nextPos.NoShares += shares
	}
	nextPos.CostBasis += gross
	nextPos.UpdatedAt = now

	*m = next
	e.positions[key] = &nextPos
	e.emit(domain.Event{
		Type:     domain.EventTradeExecuted,
		MarketID: m.ID,
		Actor:    trader,
		Side:     side,
		IsBuy:    true,
		Shares:   shares,
		Amount:   gross,
		FeePaid:  fee.Total,
		YesPrice: m.YesPrice,
		NoPrice:  m.NoPrice,
	})
	e.log.Debug("buy executed", "market", m.ID, "trader", trader, "side", side, "shares", shares, "gross", gross)
	return TradeResult{Shares: shares, Cost: cost, Fee: fee, Amount: gross, YesPrice: m.YesPrice, NoPrice: m.NoPrice}, nil
}

// SellShares sells shares back into the pool. The trader receives the LMSR
// proceeds minus fees; if that net lands below minProceeds the trade fails
// with ErrSlippageExceeded and nothing changes.
func (e *Engine) SellShares(cfgAddr, trader common.Address, marketID uint64, side domain.Outcome, shares, minProceeds uint64) (TradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return TradeResult{}, err
	}
	if err := e.requireUnpaused(); err != nil {
		return TradeResult{}, err
	}
	if err := validSide(side); err != nil {
		return TradeResult{}, err
	}
	if shares == 0 {
		return TradeResult{}, fmt.Errorf("engine: sell: %w: zero shares", domain.ErrInvalidParameter)
	}
	m, err := e.market(marketID)
	if err != nil {
		return TradeResult{}, err
	}
	if !m.IsTradable() {
		return TradeResult{}, fmt.Errorf("engine: sell: market %d in %s: %w", m.ID, m.State, domain.ErrMarketNotTradable)
	}
	key := positionKey{m.ID, trader}
	pos, ok := e.positions[key]
	if !ok || pos.SharesOf(side) < shares {
		return TradeResult{}, fmt.Errorf("engine: sell: %w", domain.ErrInsufficientShares)
	}

	sellYes := side == domain.OutcomeYes
	proceeds, err := lmsr.SellProceeds(m.B, m.QYes, m.QNo, shares, sellYes)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: sell: %w", err)
	}
	fee, err := calculateFees(proceeds, e.cfg)
	if err != nil {
		return TradeResult{}, err
	}
	net := proceeds - fee.Total
	if net < minProceeds {
		return TradeResult{}, fmt.Errorf("engine: sell: %w: net %d below %d", domain.ErrSlippageExceeded, net, minProceeds)
	}
	if m.CurrentLiquidity < net {
		return TradeResult{}, fmt.Errorf("engine: sell: %w", domain.ErrInsufficientLiquidity)
	}

	next := *m
	if sellYes {
		next.QYes -= shares
	} else {
		next.QNo -= shares
	}
	next.CurrentLiquidity -= net
	next.ProtocolFeesCollected += fee.Protocol
	next.CreatorFeesCollected += fee.Creator
	next.StakerFeesCollected += fee.Staker
	next.TotalVolume += proceeds
	next.YesPrice, next.NoPrice, err = lmsr.Price(next.B, next.QYes, next.QNo)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: sell: %w", err)
	}
	if err := lmsr.VerifyBoundedLoss(next.QYes, next.QNo, availablePool(&next)); err != nil {
		return TradeResult{}, fmt.Errorf("engine: sell: %w", err)
	}

	nextPos := *pos
	if sellYes {
		nextPos.YesShares -= shares
	} else {
		nextPos.NoShares -= shares
	}
	if nextPos.CostBasis > net {
		nextPos.CostBasis -= net
	} else {
		nextPos.CostBasis = 0
	}
	nextPos.UpdatedAt = e.now()

	*m = next
	e.positions[key] = &nextPos
	e.emit(domain.Event{
		Type:     domain.EventTradeExecuted,
		MarketID: m.ID,
		Actor:    trader,
		Side:     side,
		IsBuy:    false,
		Shares:   shares,
		Amount:   net,
		FeePaid:  fee.Total,
		YesPrice: m.YesPrice,
		NoPrice:  m.NoPrice,
	})
	e.log.Debug("sell executed", "market", m.ID, "trader", trader, "side", side, "shares", shares, "net", net)
	return TradeResult{Shares: shares, Cost: proceeds, Fee: fee, Amount: net, YesPrice: m.YesPrice, NoPrice: m.NoPrice}, nil
}

// QuoteBuy previews a buy without mutating anything.
func (e *Engine) QuoteBuy(marketID uint64, side domain.Outcome, maxSpend uint64) (TradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg == nil {
		return TradeResult{}, fmt.Errorf("engine: %w: config not initialized", domain.ErrNotFound)
	}
	if err := validSide(side); err != nil {
		return TradeResult{}, err
	}
	m, err := e.market(marketID)
	if err != nil {
		return TradeResult{}, err
	}
	netBudget, err := mulDiv(maxSpend, domain.BpsDenominator, domain.BpsDenominator+e.cfg.TotalFeeBps())
	if err != nil {
		return TradeResult{}, err
	}
	buyYes := side == domain.OutcomeYes
	shares, err := lmsr.SharesForCost(m.B, m.QYes, m.QNo, netBudget, buyYes)
	if err != nil {
		return TradeResult{}, err
	}
	cost, err := lmsr.BuyCost(m.B, m.QYes, m.QNo, shares, buyYes)
	if err != nil {
		return TradeResult{}, err
	}
	fee, err := calculateFees(cost, e.cfg)
	if err != nil {
		return TradeResult{}, err
	}
	return TradeResult{Shares: shares, Cost: cost, Fee: fee, Amount: cost + fee.Total}, nil
}
