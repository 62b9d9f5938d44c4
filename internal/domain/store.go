package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore is the queryable index of engine market state.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	ListByState(ctx context.Context, state MarketState, opts ListOpts) ([]Market, error)
	// ListResolvable returns markets in resolving state whose dispute
	// window has closed, oldest window end first.
	ListResolvable(ctx context.Context, now time.Time, limit int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore is the queryable index of trader positions.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, marketID uint64, owner common.Address) (Position, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]Position, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Position, error)
}

// VoteStore is the queryable index of vote records.
type VoteStore interface {
	Insert(ctx context.Context, rec VoteRecord) error
	Get(ctx context.Context, marketID uint64, voter common.Address, kind VoteKind) (VoteRecord, error)
	Tally(ctx context.Context, marketID uint64, kind VoteKind) (VoteTally, error)
	ListByMarket(ctx context.Context, marketID uint64, kind VoteKind, opts ListOpts) ([]VoteRecord, error)
}

// EventStore persists the engine event log.
type EventStore interface {
	InsertBatch(ctx context.Context, events []Event) error
	GetLastSeq(ctx context.Context) (uint64, error)
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Event, error)
}

// FinalizationFailure is a permanent record of a finalization attempt that
// exhausted its retries.
type FinalizationFailure struct {
	ID        int64
	MarketID  uint64
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// FailureStore persists finalization failures for operator review.
type FailureStore interface {
	Insert(ctx context.Context, f FinalizationFailure) error
	ListRecent(ctx context.Context, limit int) ([]FinalizationFailure, error)
}
