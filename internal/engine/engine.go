// Package engine implements the market ledger. Every instruction executes as
// an atomic check-then-act unit under a single mutex: preconditions are
// validated against current state, mutations happen on copies, and the copies
// are committed together with their events only when the whole instruction
// succeeded. A failed instruction leaves no observable change.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

type positionKey struct {
	marketID uint64
	owner    common.Address
}

type voteKey struct {
	marketID uint64
	voter    common.Address
	kind     domain.VoteKind
}

type tallyKey struct {
	marketID uint64
	kind     domain.VoteKind
}

// Engine is the in-process ledger holding all markets, positions and votes.
type Engine struct {
	mu  sync.Mutex
	log *slog.Logger
	now func() time.Time

	cfg        *domain.GlobalConfig
	configAddr common.Address

	markets   map[uint64]*domain.Market
	positions map[positionKey]*domain.Position
	votes     map[voteKey]*domain.VoteRecord
	tallies   map[tallyKey]domain.VoteTally

	nextID uint64
	seq    uint64

	// Protocol fees swept at finalization and the pooled staker share.
	treasury   uint64
	stakerPool uint64

	handler func(domain.Event)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source. Tests use this to control deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEventHandler registers a sink invoked synchronously, in sequence
// order, after each committed instruction. The handler must not call back
// into the engine.
func WithEventHandler(h func(domain.Event)) Option {
	return func(e *Engine) { e.handler = h }
}

// New creates an empty engine. The global config must be initialized with
// InitializeConfig before any market instruction is accepted.
func New(log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:       log.With("component", "engine"),
		now:       time.Now,
		markets:   make(map[uint64]*domain.Market),
		positions: make(map[positionKey]*domain.Position),
		votes:     make(map[voteKey]*domain.VoteRecord),
		tallies:   make(map[tallyKey]domain.VoteTally),
		nextID:    1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ConfigAddress returns the canonical derived config address. Instructions
// that are config-dependent require callers to present this address.
func (e *Engine) ConfigAddress() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configAddr
}

// requireConfig validates the protocol is initialized and the presented
// config address is the canonical derived one.
func (e *Engine) requireConfig(cfgAddr common.Address) error {
	if e.cfg == nil {
		return fmt.Errorf("engine: %w: config not initialized", domain.ErrNotFound)
	}
	if cfgAddr != e.configAddr {
		return fmt.Errorf("engine: %w: got %s want %s", domain.ErrInvalidConfig, cfgAddr, e.configAddr)
	}
	return nil
}

// requireUnpaused rejects user instructions while the protocol is paused.
func (e *Engine) requireUnpaused() error {
	if e.cfg.Paused {
		return fmt.Errorf("engine: %w", domain.ErrProtocolPaused)
	}
	return nil
}

// market returns the live market record or ErrNotFound.
func (e *Engine) market(id uint64) (*domain.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return nil, fmt.Errorf("engine: market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// transition is the single gate through which every state change passes. It
// validates the edge against the lifecycle table and performs the mutation;
// no other code assigns m.State.
func (e *Engine) transition(m *domain.Market, to domain.MarketState) error {
	if !domain.CanTransition(m.State, to) {
		return fmt.Errorf("engine: market %d: %w: %s -> %s", m.ID, domain.ErrInvalidTransition, m.State, to)
	}
	m.State = to
	return nil
}

// emit assigns the next sequence number and hands the event to the sink.
// Called with the engine lock held so ordering matches commit order.
func (e *Engine) emit(ev domain.Event) {
	e.seq++
	ev.Seq = e.seq
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if e.handler != nil {
		e.handler(ev)
	}
}

// Snapshot returns a copy of one market's current state for read-only use.
func (e *Engine) Snapshot(marketID uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, err := e.market(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	return *m, nil
}

// PositionSnapshot returns a copy of one position, or ErrNotFound if the
// owner never traded the market.
func (e *Engine) PositionSnapshot(marketID uint64, owner common.Address) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[positionKey{marketID, owner}]
	if !ok {
		return domain.Position{}, fmt.Errorf("engine: position %d/%s: %w", marketID, owner, domain.ErrNotFound)
	}
	return *p, nil
}

// TreasuryBalance returns accumulated protocol fees swept at finalization.
func (e *Engine) TreasuryBalance() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treasury
}

// StakerPoolBalance returns the accumulated staker fee share.
func (e *Engine) StakerPoolBalance() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stakerPool
}
