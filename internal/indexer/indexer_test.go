package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/engine"
	"github.com/zmartlabs/zmart-engine/internal/fixedpoint"
	"github.com/zmartlabs/zmart-engine/internal/lmsr"
)

var (
	admin   = common.HexToAddress("0xA0")
	backend = common.HexToAddress("0xB0")
	creator = common.HexToAddress("0xC0")
	alice   = common.HexToAddress("0xA11CE")
)

type memEvents struct {
	mu      sync.Mutex
	events  []domain.Event
	lastSeq uint64
}

func (s *memEvents) InsertBatch(_ context.Context, batch []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range batch {
		if ev.Seq <= s.lastSeq {
			continue
		}
		s.events = append(s.events, ev)
		s.lastSeq = ev.Seq
	}
	return nil
}

func (s *memEvents) GetLastSeq(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, nil
}

func (s *memEvents) ListByMarket(_ context.Context, marketID uint64, _ domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.MarketID == marketID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type memMarkets struct {
	mu      sync.Mutex
	markets map[uint64]domain.Market
}

func newMemMarkets() *memMarkets {
	return &memMarkets{markets: make(map[uint64]domain.Market)}
}

func (s *memMarkets) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) ListByState(_ context.Context, state domain.MarketState, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarkets) ListResolvable(_ context.Context, now time.Time, limit int) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.State == domain.MarketStateResolving && !m.DisputeWindowEnd.After(now) {
			out = append(out, m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memMarkets) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.markets)), nil
}

type memPositions struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{positions: make(map[string]domain.Position)}
}

func posKey(marketID uint64, owner common.Address) string {
	return fmt.Sprintf("%d/%s", marketID, owner.Hex())
}

func (s *memPositions) Upsert(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[posKey(p.MarketID, p.Owner)] = p
	return nil
}

func (s *memPositions) Get(_ context.Context, marketID uint64, owner common.Address) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[posKey(marketID, owner)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositions) ListByOwner(_ context.Context, owner common.Address, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListByMarket(_ context.Context, marketID uint64, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memVotes struct {
	mu    sync.Mutex
	votes []domain.VoteRecord
}

func (s *memVotes) Insert(_ context.Context, v domain.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = append(s.votes, v)
	return nil
}

func (s *memVotes) Get(_ context.Context, marketID uint64, voter common.Address, kind domain.VoteKind) (domain.VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.votes {
		if v.MarketID == marketID && v.Voter == voter && v.Kind == kind {
			return v, nil
		}
	}
	return domain.VoteRecord{}, domain.ErrNotFound
}

func (s *memVotes) Tally(_ context.Context, marketID uint64, kind domain.VoteKind) (domain.VoteTally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t domain.VoteTally
	for _, v := range s.votes {
		if v.MarketID != marketID || v.Kind != kind {
			continue
		}
		t.Total++
		if v.Approve {
			t.Approvals++
		}
	}
	return t, nil
}

func (s *memVotes) ListByMarket(_ context.Context, marketID uint64, kind domain.VoteKind, _ domain.ListOpts) ([]domain.VoteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VoteRecord
	for _, v := range s.votes {
		if v.MarketID == marketID && v.Kind == kind {
			out = append(out, v)
		}
	}
	return out, nil
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type fixture struct {
	eng       *engine.Engine
	ix        *Indexer
	cfgAddr   common.Address
	events    *memEvents
	markets   *memMarkets
	positions *memPositions
	votes     *memVotes
	bus       *memBus
	captured  []domain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		events:    &memEvents{},
		markets:   newMemMarkets(),
		positions: newMemPositions(),
		votes:     &memVotes{},
		bus:       newMemBus(),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.eng = engine.New(log, engine.WithEventHandler(func(ev domain.Event) {
		f.captured = append(f.captured, ev)
	}))
	f.ix = New(f.eng, f.events, f.markets, f.positions, f.votes, nil, f.bus, log)

	addr, err := f.eng.InitializeConfig(domain.GlobalConfig{
		Authority:            admin,
		BackendAuthority:     backend,
		ProtocolFeeBps:       domain.DefaultProtocolFeeBps,
		CreatorFeeBps:        domain.DefaultCreatorFeeBps,
		StakerFeeBps:         domain.DefaultStakerFeeBps,
		ProposalThresholdBps: domain.DefaultProposalThresholdBps,
		DisputeThresholdBps:  domain.DefaultDisputeThresholdBps,
		MinProposalVotes:     10,
		MinDisputeVotes:      10,
		MinResolutionDelay:   time.Hour,
		DisputeWindow:        48 * time.Hour,
		MinTradeAmount:       fixedpoint.Precision / 1000,
		ProposalFloorPolicy:  domain.FloorPolicyReject,
		InvalidOutcomePolicy: domain.InvalidPolicyRefundCost,
	})
	require.NoError(t, err)
	f.cfgAddr = addr
	return f
}

// activeMarket walks a fresh market to active via the approval vote path.
func (f *fixture) activeMarket(t *testing.T) domain.Market {
	t.Helper()
	b := lmsr.MinB
	seed, err := lmsr.MaxLoss(b)
	require.NoError(t, err)
	m, err := f.eng.CreateMarket(f.cfgAddr, creator, "Will the launch slip?", b, seed, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		voter := common.BigToAddress(common.Big1)
		voter[0] = byte(i + 1)
		require.NoError(t, f.eng.SubmitProposalVote(f.cfgAddr, voter, m.ID, i < 7))
	}
	_, err = f.eng.AggregateProposalVotes(f.cfgAddr, backend, m.ID)
	require.NoError(t, err)
	require.NoError(t, f.eng.ActivateMarket(f.cfgAddr, creator, m.ID))
	return m
}

// drain applies everything the engine emitted so far as one batch.
func (f *fixture) drain(ctx context.Context) {
	f.ix.apply(ctx, f.captured)
	f.captured = nil
}

func TestApplyProjectsMarketAndVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.activeMarket(t)
	f.drain(ctx)

	// Events are persisted in sequence order.
	seq, err := f.events.GetLastSeq(ctx)
	require.NoError(t, err)
	assert.Greater(t, seq, uint64(0))

	// The market snapshot reflects the live engine state.
	stored, err := f.markets.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateActive, stored.State)

	// All ten proposal votes were reconstructed with their approve flags.
	tally, err := f.votes.Tally(ctx, m.ID, domain.VoteKindProposal)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tally.Total)
	assert.Equal(t, uint64(7), tally.Approvals)
}

func TestApplyProjectsTrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.activeMarket(t)
	_, err := f.eng.BuyShares(f.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*fixedpoint.Precision, 0)
	require.NoError(t, err)
	f.drain(ctx)

	pos, err := f.positions.Get(ctx, m.ID, alice)
	require.NoError(t, err)
	assert.Greater(t, pos.YesShares, uint64(0))
	assert.Zero(t, pos.NoShares)

	stored, err := f.markets.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Greater(t, stored.TotalVolume, uint64(0))
}

func TestApplyPublishesToFirehoseAndMarketChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.activeMarket(t)
	emitted := len(f.captured)
	f.drain(ctx)

	assert.Equal(t, emitted, f.bus.count(EventChannel))
	// Market-scoped events are mirrored on the per-market channel.
	assert.Greater(t, f.bus.count(marketChannel(m.ID)), 0)
}

func TestEventInsertsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.activeMarket(t)
	batch := make([]domain.Event, len(f.captured))
	copy(batch, f.captured)
	f.drain(ctx)

	before := len(f.events.events)
	f.ix.apply(ctx, batch) // replay after restart
	assert.Len(t, f.events.events, before)
}

func TestHandlerNeverBlocksOnFullBuffer(t *testing.T) {
	f := newFixture(t)

	// Shrink the buffer and leave Run stopped; the engine-side sink must
	// still return immediately.
	f.ix.ch = make(chan domain.Event, 2)
	sink := f.ix.Handler()

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 5; i++ {
			sink(domain.Event{Seq: i, MarketID: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked with a full event buffer")
	}
	assert.Equal(t, uint64(3), f.ix.Dropped())
	assert.Len(t, f.ix.ch, 2)
}

func TestRunFlushesOnCancel(t *testing.T) {
	f := newFixture(t)

	m := f.activeMarket(t)
	for _, ev := range f.captured {
		f.ix.Handler()(ev)
	}
	f.captured = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ix.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := f.markets.GetByID(context.Background(), m.ID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
