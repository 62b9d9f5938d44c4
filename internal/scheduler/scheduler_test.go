package scheduler

import (
	"context"
	"errors"
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
)

var (
	cfgAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	operator = common.HexToAddress("0x000000000000000000000000000000000000000b")
)

// fakeEngine scripts finalize outcomes per market. Each call pops the next
// error from the queue; an empty queue means success. Finalize calls carrying
// a non-canonical config address fail the way the real engine does.
type fakeEngine struct {
	mu       sync.Mutex
	cfgAddr  common.Address
	markets  map[uint64]domain.Market
	failures map[uint64][]error
	calls    map[uint64]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		cfgAddr:  cfgAddr,
		markets:  make(map[uint64]domain.Market),
		failures: make(map[uint64][]error),
		calls:    make(map[uint64]int),
	}
}

// rotate simulates an admin authority rotation re-deriving the canonical
// config address.
func (f *fakeEngine) rotate(addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfgAddr = addr
}

func (f *fakeEngine) ConfigAddress() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfgAddr
}

func (f *fakeEngine) add(m domain.Market, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[m.ID] = m
	f.failures[m.ID] = errs
}

func (f *fakeEngine) Snapshot(marketID uint64) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.markets[marketID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeEngine) FinalizeMarket(addr, _ common.Address, marketID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[marketID]++
	if addr != f.cfgAddr {
		return domain.ErrInvalidConfig
	}
	queue := f.failures[marketID]
	if len(queue) > 0 {
		err := queue[0]
		f.failures[marketID] = queue[1:]
		return err
	}
	m := f.markets[marketID]
	m.State = domain.MarketStateFinalized
	f.markets[marketID] = m
	return nil
}

func (f *fakeEngine) callCount(marketID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[marketID]
}

func (f *fakeEngine) state(marketID uint64) domain.MarketState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets[marketID].State
}

// memMarkets is an in-memory MarketStore serving ListResolvable from the
// fake engine's current state.
type memMarkets struct {
	eng *fakeEngine
}

func (s *memMarkets) Upsert(context.Context, domain.Market) error { return nil }

func (s *memMarkets) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	return s.eng.Snapshot(id)
}

func (s *memMarkets) ListByState(context.Context, domain.MarketState, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

func (s *memMarkets) ListResolvable(_ context.Context, now time.Time, limit int) ([]domain.Market, error) {
	s.eng.mu.Lock()
	defer s.eng.mu.Unlock()
	var due []domain.Market
	for _, m := range s.eng.markets {
		if m.State == domain.MarketStateResolving && !now.Before(m.DisputeWindowEnd) {
			due = append(due, m)
		}
	}
	// Oldest window end first.
	for i := 0; i < len(due); i++ {
		for j := i + 1; j < len(due); j++ {
			if due[j].DisputeWindowEnd.Before(due[i].DisputeWindowEnd) {
				due[i], due[j] = due[j], due[i]
			}
		}
	}
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memMarkets) Count(context.Context) (int64, error) {
	return int64(len(s.eng.markets)), nil
}

type memFailures struct {
	mu      sync.Mutex
	records []domain.FinalizationFailure
}

func (s *memFailures) Insert(_ context.Context, f domain.FinalizationFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, f)
	return nil
}

func (s *memFailures) ListRecent(_ context.Context, limit int) ([]domain.FinalizationFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > limit {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func (s *memFailures) all() []domain.FinalizationFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FinalizationFailure, len(s.records))
	copy(out, s.records)
	return out
}

// heldLock always reports the lock as taken by another holder.
type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func resolvingMarket(id uint64, windowEnd time.Time) domain.Market {
	return domain.Market{
		ID:               id,
		State:            domain.MarketStateResolving,
		ProposedOutcome:  domain.OutcomeYes,
		DisputeWindowEnd: windowEnd,
	}
}

func newScheduler(t *testing.T, eng *fakeEngine, failures *memFailures, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(eng, operator, &memMarkets{eng: eng}, failures, cfg, log, opts...)
}

func TestCycleFinalizesDueMarkets(t *testing.T) {
	eng := newFakeEngine()
	now := time.Now()
	eng.add(resolvingMarket(1, now.Add(-time.Hour)))
	eng.add(resolvingMarket(2, now.Add(-time.Minute)))
	eng.add(resolvingMarket(3, now.Add(time.Hour))) // window still open

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{RetryBackoff: time.Millisecond})

	s.RunCycle(context.Background())

	assert.Equal(t, domain.MarketStateFinalized, eng.state(1))
	assert.Equal(t, domain.MarketStateFinalized, eng.state(2))
	assert.Equal(t, domain.MarketStateResolving, eng.state(3))
	assert.Zero(t, eng.callCount(3))
	assert.Empty(t, failures.all())
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	eng := newFakeEngine()
	transient := errors.New("store unavailable")
	eng.add(resolvingMarket(1, time.Now().Add(-time.Hour)), transient, transient)

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{MaxRetries: 3, RetryBackoff: time.Millisecond})

	s.RunCycle(context.Background())

	assert.Equal(t, 3, eng.callCount(1))
	assert.Equal(t, domain.MarketStateFinalized, eng.state(1))
	assert.Empty(t, failures.all(), "a recovered market must not be recorded as failed")
}

func TestRetriesExhaustedRecordsFailure(t *testing.T) {
	eng := newFakeEngine()
	transient := errors.New("store unavailable")
	eng.add(resolvingMarket(1, time.Now().Add(-time.Hour)), transient, transient, transient)

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{MaxRetries: 3, RetryBackoff: time.Millisecond})

	s.RunCycle(context.Background())

	assert.Equal(t, 3, eng.callCount(1))
	assert.Equal(t, domain.MarketStateResolving, eng.state(1))

	recs := failures.all()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].MarketID)
	assert.Equal(t, 3, recs[0].Attempts)
	assert.Contains(t, recs[0].LastError, "store unavailable")
}

func TestSolvencyViolationFailsImmediately(t *testing.T) {
	eng := newFakeEngine()
	cause := fmt.Errorf("pool short: %w", domain.ErrBoundedLossViolated)
	eng.add(resolvingMarket(1, time.Now().Add(-time.Hour)), cause, cause, cause)

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{MaxRetries: 3, RetryBackoff: time.Millisecond})

	s.RunCycle(context.Background())

	assert.Equal(t, 1, eng.callCount(1), "permanent errors must not be retried")
	recs := failures.all()
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Attempts)
}

func TestSkipsMarketThatMovedOn(t *testing.T) {
	eng := newFakeEngine()
	m := resolvingMarket(1, time.Now().Add(-time.Hour))
	eng.add(m)

	// The index says resolving but the engine already finalized it.
	eng.mu.Lock()
	m.State = domain.MarketStateFinalized
	eng.markets[1] = m
	eng.mu.Unlock()

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{RetryBackoff: time.Millisecond})

	// Hand the cycle a stale listing directly.
	s.processMarket(context.Background(), 1)

	assert.Zero(t, eng.callCount(1))
	assert.Empty(t, failures.all())
}

func TestBatchSizeBoundsCycle(t *testing.T) {
	eng := newFakeEngine()
	now := time.Now()
	for id := uint64(1); id <= 15; id++ {
		eng.add(resolvingMarket(id, now.Add(-time.Duration(id)*time.Minute)))
	}

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{BatchSize: 10, RetryBackoff: time.Millisecond})

	s.RunCycle(context.Background())

	var finalized int
	for id := uint64(1); id <= 15; id++ {
		if eng.state(id) == domain.MarketStateFinalized {
			finalized++
		}
	}
	assert.Equal(t, 10, finalized)

	s.RunCycle(context.Background())
	for id := uint64(1); id <= 15; id++ {
		assert.Equal(t, domain.MarketStateFinalized, eng.state(id))
	}
}

func TestFinalizeFollowsAuthorityRotation(t *testing.T) {
	eng := newFakeEngine()
	eng.add(resolvingMarket(1, time.Now().Add(-time.Hour)))

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{RetryBackoff: time.Millisecond})

	// The canonical address changes after the scheduler was built.
	eng.rotate(common.HexToAddress("0x00000000000000000000000000000000000000c1"))

	s.RunCycle(context.Background())

	assert.Equal(t, domain.MarketStateFinalized, eng.state(1))
	assert.Empty(t, failures.all(), "a rotated authority must not strand due markets")
}

func TestCycleSkippedWhenLockHeld(t *testing.T) {
	eng := newFakeEngine()
	eng.add(resolvingMarket(1, time.Now().Add(-time.Hour)))

	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{RetryBackoff: time.Millisecond},
		WithLockManager(heldLock{}))

	s.RunCycle(context.Background())

	assert.Zero(t, eng.callCount(1))
	assert.Equal(t, domain.MarketStateResolving, eng.state(1))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	eng := newFakeEngine()
	failures := &memFailures{}
	s := newScheduler(t, eng, failures, Config{PollInterval: 10 * time.Millisecond, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
