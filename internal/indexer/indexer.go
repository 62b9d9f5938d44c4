// Package indexer mirrors committed engine events into PostgreSQL, the
// price cache, and the pub/sub bus. The engine itself stays storage-free;
// everything queryable lives behind this projection.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/engine"
)

// EventChannel is the pub/sub channel carrying every committed event.
const EventChannel = "events"

// marketChannel returns the per-market pub/sub channel name.
func marketChannel(marketID uint64) string {
	return fmt.Sprintf("events.market.%d", marketID)
}

const (
	defaultBufferSize    = 4096
	defaultBatchSize     = 256
	defaultFlushInterval = 250 * time.Millisecond
)

// Indexer consumes the engine's event stream and projects it into the
// stores. Events enter through Handler, which the engine calls at commit
// time, and are applied in sequence order by Run.
type Indexer struct {
	eng       *engine.Engine
	events    domain.EventStore
	markets   domain.MarketStore
	positions domain.PositionStore
	votes     domain.VoteStore
	prices    domain.PriceCache
	bus       domain.SignalBus
	logger    *slog.Logger

	ch      chan domain.Event
	dropped atomic.Uint64
}

// New creates an Indexer wired to the given stores. Any of prices or bus may
// be nil, in which case that projection is skipped.
func New(
	eng *engine.Engine,
	events domain.EventStore,
	markets domain.MarketStore,
	positions domain.PositionStore,
	votes domain.VoteStore,
	prices domain.PriceCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Indexer {
	return &Indexer{
		eng:       eng,
		events:    events,
		markets:   markets,
		positions: positions,
		votes:     votes,
		prices:    prices,
		bus:       bus,
		logger:    logger.With(slog.String("component", "indexer")),
		ch:        make(chan domain.Event, defaultBufferSize),
	}
}

// Handler returns the event sink to register on the engine. The engine calls
// it with its lock held, so the handler must never block: when the buffer is
// full the event is dropped and counted, and the market projection catches up
// from the next snapshot refresh.
func (ix *Indexer) Handler() func(domain.Event) {
	return func(ev domain.Event) {
		select {
		case ix.ch <- ev:
		default:
			ix.logger.Warn("event buffer full, event dropped",
				slog.Uint64("seq", ev.Seq),
				slog.Uint64("dropped_total", ix.dropped.Add(1)),
			)
		}
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (ix *Indexer) Dropped() uint64 {
	return ix.dropped.Load()
}

// Run drains the event buffer until the context is cancelled. Events are
// flushed in batches, either when the batch fills or on a short timer.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.logger.InfoContext(ctx, "indexer starting")

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	batch := make([]domain.Event, 0, defaultBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ix.apply(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			ix.logger.Info("indexer stopped")
			return ctx.Err()
		case ev := <-ix.ch:
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// apply projects one batch of events. Store failures are logged rather than
// propagated: the engine remains the source of truth and the projection
// catches up from later snapshots.
func (ix *Indexer) apply(ctx context.Context, batch []domain.Event) {
	if err := ix.events.InsertBatch(ctx, batch); err != nil {
		ix.logger.ErrorContext(ctx, "event batch insert failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}

	// Refresh each touched market once per batch. Config-level events carry
	// no market ID and do not trigger a snapshot.
	touched := make(map[uint64]bool, len(batch))

	for _, ev := range batch {
		if ev.MarketID != 0 {
			touched[ev.MarketID] = true
		}

		switch ev.Type {
		case domain.EventTradeExecuted:
			ix.upsertPosition(ctx, ev)
			ix.setPrice(ctx, ev)
		case domain.EventSharesClaimed:
			ix.upsertPosition(ctx, ev)
		case domain.EventVoteCast:
			ix.insertVote(ctx, ev)
		}

		ix.publish(ctx, ev)
	}

	for id := range touched {
		ix.upsertMarket(ctx, id)
	}
}

func (ix *Indexer) upsertMarket(ctx context.Context, marketID uint64) {
	m, err := ix.eng.Snapshot(marketID)
	if err != nil {
		ix.logger.WarnContext(ctx, "market snapshot failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := ix.markets.Upsert(ctx, m); err != nil {
		ix.logger.ErrorContext(ctx, "market upsert failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (ix *Indexer) upsertPosition(ctx context.Context, ev domain.Event) {
	pos, err := ix.eng.PositionSnapshot(ev.MarketID, ev.Actor)
	if err != nil {
		ix.logger.WarnContext(ctx, "position snapshot failed",
			slog.Uint64("market_id", ev.MarketID),
			slog.String("owner", ev.Actor.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := ix.positions.Upsert(ctx, pos); err != nil {
		ix.logger.ErrorContext(ctx, "position upsert failed",
			slog.Uint64("market_id", ev.MarketID),
			slog.String("owner", ev.Actor.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (ix *Indexer) insertVote(ctx context.Context, ev domain.Event) {
	rec := domain.VoteRecord{
		Address:  engine.DeriveVoteAddress(ev.MarketID, ev.Actor, ev.VoteKind),
		MarketID: ev.MarketID,
		Voter:    ev.Actor,
		Kind:     ev.VoteKind,
		Approve:  ev.Approve,
		CastAt:   ev.At,
	}
	if err := ix.votes.Insert(ctx, rec); err != nil {
		ix.logger.ErrorContext(ctx, "vote insert failed",
			slog.Uint64("market_id", ev.MarketID),
			slog.String("voter", ev.Actor.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (ix *Indexer) setPrice(ctx context.Context, ev domain.Event) {
	if ix.prices == nil {
		return
	}
	price := domain.MarketPrice{
		YesPrice:  ev.YesPrice,
		NoPrice:   ev.NoPrice,
		UpdatedAt: ev.At,
	}
	if err := ix.prices.SetPrice(ctx, ev.MarketID, price); err != nil {
		ix.logger.WarnContext(ctx, "price cache set failed",
			slog.Uint64("market_id", ev.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (ix *Indexer) publish(ctx context.Context, ev domain.Event) {
	if ix.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		ix.logger.WarnContext(ctx, "event marshal failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := ix.bus.Publish(ctx, EventChannel, payload); err != nil {
		ix.logger.WarnContext(ctx, "event publish failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
	if err := ix.bus.Publish(ctx, marketChannel(ev.MarketID), payload); err != nil {
		ix.logger.WarnContext(ctx, "market event publish failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
}
