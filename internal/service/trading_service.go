package service

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/engine"
)

// TradingService executes trades against the engine.
type TradingService struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// NewTradingService creates a TradingService.
func NewTradingService(eng *engine.Engine, logger *slog.Logger) *TradingService {
	return &TradingService{eng: eng, logger: logger}
}

// Buy spends up to maxSpend collateral on shares of one side. minSharesOut
// is the slippage floor.
func (s *TradingService) Buy(ctx context.Context, trader common.Address, marketID uint64, side domain.Outcome, maxSpend, minSharesOut uint64) (engine.TradeResult, error) {
	res, err := s.eng.BuyShares(s.eng.ConfigAddress(), trader, marketID, side, maxSpend, minSharesOut)
	if err != nil {
		return engine.TradeResult{}, err
	}

	s.logger.InfoContext(ctx, "buy executed",
		slog.Uint64("market_id", marketID),
		slog.String("trader", trader.Hex()),
		slog.String("side", side.String()),
		slog.Uint64("shares", res.Shares),
		slog.Uint64("cost", res.Cost),
		slog.Uint64("fee", res.Fee.Total),
	)
	return res, nil
}

// Sell disposes of shares on one side. minProceeds is the slippage floor on
// the net payout.
func (s *TradingService) Sell(ctx context.Context, trader common.Address, marketID uint64, side domain.Outcome, shares, minProceeds uint64) (engine.TradeResult, error) {
	res, err := s.eng.SellShares(s.eng.ConfigAddress(), trader, marketID, side, shares, minProceeds)
	if err != nil {
		return engine.TradeResult{}, err
	}

	s.logger.InfoContext(ctx, "sell executed",
		slog.Uint64("market_id", marketID),
		slog.String("trader", trader.Hex()),
		slog.String("side", side.String()),
		slog.Uint64("shares", res.Shares),
		slog.Uint64("proceeds", res.Amount),
		slog.Uint64("fee", res.Fee.Total),
	)
	return res, nil
}

// Quote previews a buy without committing it.
func (s *TradingService) Quote(_ context.Context, marketID uint64, side domain.Outcome, maxSpend uint64) (engine.TradeResult, error) {
	return s.eng.QuoteBuy(marketID, side, maxSpend)
}
