// Package service sits between the HTTP layer and the engine. Reads are
// served from the PostgreSQL index and the Redis price cache; writes go
// straight to the engine, which stays the single source of truth.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// MarketService handles market, position, vote and event queries.
type MarketService struct {
	markets   domain.MarketStore
	positions domain.PositionStore
	votes     domain.VoteStore
	events    domain.EventStore
	prices    domain.PriceCache
	logger    *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
// The price cache may be nil; reads then fall back to the indexed prices.
func NewMarketService(
	markets domain.MarketStore,
	positions domain.PositionStore,
	votes domain.VoteStore,
	events domain.EventStore,
	prices domain.PriceCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:   markets,
		positions: positions,
		votes:     votes,
		events:    events,
		prices:    prices,
		logger:    logger,
	}
}

// GetMarket retrieves a market by ID. When the price cache holds a fresher
// quote than the index, the cached prices win.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	if s.prices != nil {
		if p, cacheErr := s.prices.GetPrice(ctx, id); cacheErr == nil {
			m.YesPrice = p.YesPrice
			m.NoPrice = p.NoPrice
		}
	}

	return m, nil
}

// ListByState returns markets in the given lifecycle state.
func (s *MarketService) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByState(ctx, state, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by state %s: %w", state, err)
	}
	return markets, nil
}

// Count returns the total number of markets in the index.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// GetPosition returns one owner's position in one market.
func (s *MarketService) GetPosition(ctx context.Context, marketID uint64, owner common.Address) (domain.Position, error) {
	pos, err := s.positions.Get(ctx, marketID, owner)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: get position %d/%s: %w", marketID, owner, err)
	}
	return pos, nil
}

// ListPositionsByOwner returns all positions one owner holds.
func (s *MarketService) ListPositionsByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions by owner %s: %w", owner, err)
	}
	return positions, nil
}

// ListPositionsByMarket returns all positions in one market.
func (s *MarketService) ListPositionsByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions by market %d: %w", marketID, err)
	}
	return positions, nil
}

// ListVotes returns one round's ballots.
func (s *MarketService) ListVotes(ctx context.Context, marketID uint64, kind domain.VoteKind, opts domain.ListOpts) ([]domain.VoteRecord, error) {
	votes, err := s.votes.ListByMarket(ctx, marketID, kind, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list votes %d/%s: %w", marketID, kind, err)
	}
	return votes, nil
}

// Tally aggregates one round's ballots.
func (s *MarketService) Tally(ctx context.Context, marketID uint64, kind domain.VoteKind) (domain.VoteTally, error) {
	tally, err := s.votes.Tally(ctx, marketID, kind)
	if err != nil {
		return domain.VoteTally{}, fmt.Errorf("market_service: tally %d/%s: %w", marketID, kind, err)
	}
	return tally, nil
}

// ListEvents returns one market's ledger events in sequence order.
func (s *MarketService) ListEvents(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	events, err := s.events.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list events %d: %w", marketID, err)
	}
	return events, nil
}

// Prices returns the cached spot prices for a set of markets.
func (s *MarketService) Prices(ctx context.Context, marketIDs []uint64) (map[uint64]domain.MarketPrice, error) {
	if s.prices == nil {
		return map[uint64]domain.MarketPrice{}, nil
	}
	prices, err := s.prices.GetPrices(ctx, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("market_service: prices: %w", err)
	}
	return prices, nil
}
