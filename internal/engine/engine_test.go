package engine

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/fixedpoint"
	"github.com/zmartlabs/zmart-engine/internal/lmsr"
)

var (
	admin   = common.HexToAddress("0xA0")
	backend = common.HexToAddress("0xB0")
	creator = common.HexToAddress("0xC0")
	alice   = common.HexToAddress("0xA11CE")
	bob     = common.HexToAddress("0xB0B")
)

const unit = fixedpoint.Precision

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testHarness struct {
	eng     *Engine
	clock   *fakeClock
	cfgAddr common.Address
	events  []domain.Event
}

func testConfig() domain.GlobalConfig {
	return domain.GlobalConfig{
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
		MinTradeAmount:       unit / 1000,
		ProposalFloorPolicy:  domain.FloorPolicyReject,
		InvalidOutcomePolicy: domain.InvalidPolicyRefundCost,
	}
}

func newHarness(t *testing.T, mutate ...func(*domain.GlobalConfig)) *testHarness {
	t.Helper()
	h := &testHarness{clock: &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.eng = New(log,
		WithClock(h.clock.Now),
		WithEventHandler(func(ev domain.Event) { h.events = append(h.events, ev) }),
	)
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	addr, err := h.eng.InitializeConfig(cfg)
	require.NoError(t, err)
	h.cfgAddr = addr
	return h
}

// newMarket creates a market with b = 100 units seeded at the minimum.
func (h *testHarness) newMarket(t *testing.T) domain.Market {
	t.Helper()
	b := lmsr.MinB
	seed, err := lmsr.MaxLoss(b)
	require.NoError(t, err)
	deadline := h.clock.Now().Add(24 * time.Hour)
	m, err := h.eng.CreateMarket(h.cfgAddr, creator, "Will it rain tomorrow?", b, seed, deadline)
	require.NoError(t, err)
	return m
}

// approveAndActivate walks a fresh market to active via the vote path with
// 7 of 10 approvals.
func (h *testHarness) approveAndActivate(t *testing.T, marketID uint64) {
	t.Helper()
	for i := 0; i < 10; i++ {
		voter := common.BigToAddress(common.Big1)
		voter[0] = byte(i + 1)
		require.NoError(t, h.eng.SubmitProposalVote(h.cfgAddr, voter, marketID, i < 7))
	}
	_, err := h.eng.AggregateProposalVotes(h.cfgAddr, backend, marketID)
	require.NoError(t, err)
	require.NoError(t, h.eng.ActivateMarket(h.cfgAddr, creator, marketID))
}

// resolveAs moves an active market into resolving with the given outcome.
func (h *testHarness) resolveAs(t *testing.T, marketID uint64, outcome domain.Outcome) {
	t.Helper()
	m, err := h.eng.Snapshot(marketID)
	require.NoError(t, err)
	if d := m.ResolutionDeadline.Sub(h.clock.Now()); d > 0 {
		h.clock.Advance(d)
	}
	require.NoError(t, h.eng.ResolveMarket(h.cfgAddr, creator, marketID, outcome))
}

func TestInitializeConfigOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.InitializeConfig(testConfig())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestInitializeConfigValidation(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.ProtocolFeeBps = 9000
	cfg.StakerFeeBps = 2000
	_, err := New(log).InitializeConfig(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	cfg = testConfig()
	cfg.BackendAuthority = common.Address{}
	_, err = New(log).InitializeConfig(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	cfg = testConfig()
	cfg.ProposalThresholdBps = 10_001
	_, err = New(log).InitializeConfig(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestForgedConfigAddressRejected(t *testing.T) {
	h := newHarness(t)
	forged := common.HexToAddress("0xDEAD")

	_, err := h.eng.CreateMarket(forged, creator, "q", lmsr.MinB, 100*unit, h.clock.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	err = h.eng.EmergencyPause(forged, admin, true)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestConfigAddressIsDerived(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, DeriveConfigAddress(admin), h.cfgAddr)
	assert.Equal(t, h.cfgAddr, h.eng.ConfigAddress())
}

func TestUpdateConfigAdminOnly(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	cfg.DisputeThresholdBps = 5500

	err := h.eng.UpdateConfig(h.cfgAddr, alice, cfg)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, h.eng.UpdateConfig(h.cfgAddr, admin, cfg))
}

func TestCreateMarketValidation(t *testing.T) {
	h := newHarness(t)
	deadline := h.clock.Now().Add(24 * time.Hour)

	_, err := h.eng.CreateMarket(h.cfgAddr, creator, "q", lmsr.MinB-1, 100*unit, deadline)
	assert.ErrorIs(t, err, lmsr.ErrInvalidLiquidity)

	_, err = h.eng.CreateMarket(h.cfgAddr, creator, "q", lmsr.MinB, 10*unit, deadline)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	_, err = h.eng.CreateMarket(h.cfgAddr, creator, "q", lmsr.MinB, 100*unit, h.clock.Now().Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	_, err = h.eng.CreateMarket(h.cfgAddr, creator, "  ", lmsr.MinB, 100*unit, deadline)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestFreshMarketPricesAreEven(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	assert.Equal(t, uint64(unit/2), m.YesPrice)
	assert.Equal(t, uint64(unit/2), m.NoPrice)
	assert.Equal(t, domain.MarketStateProposed, m.State)
	assert.Equal(t, DeriveMarketAddress(m.ID), m.Address)
}

func TestProposalVoteApproval(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	// 7 of 10 approvals meets the 70% threshold exactly.
	h.approveAndActivate(t, m.ID)

	got, err := h.eng.Snapshot(m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateActive, got.State)
	require.NotNil(t, got.ApprovedAt)
	require.NotNil(t, got.ActivatedAt)
}

func TestProposalBelowFloorKeepsCollecting(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	// 4 of 5: above threshold ratio would not matter, floor not reached.
	for i := 0; i < 5; i++ {
		voter := common.Address{byte(i + 1)}
		require.NoError(t, h.eng.SubmitProposalVote(h.cfgAddr, voter, m.ID, i < 2))
	}
	tally, err := h.eng.AggregateProposalVotes(h.cfgAddr, backend, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), tally.Total)

	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateProposed, got.State)
}

func TestProposalFloorRejectPolicy(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	// 6 of 10 misses the 70% threshold with the floor reached.
	for i := 0; i < 10; i++ {
		voter := common.Address{byte(i + 1)}
		require.NoError(t, h.eng.SubmitProposalVote(h.cfgAddr, voter, m.ID, i < 6))
	}
	_, err := h.eng.AggregateProposalVotes(h.cfgAddr, backend, m.ID)
	require.NoError(t, err)

	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateCancelled, got.State)
}

func TestProposalFloorHoldPolicy(t *testing.T) {
	h := newHarness(t, func(c *domain.GlobalConfig) {
		c.ProposalFloorPolicy = domain.FloorPolicyHold
	})
	m := h.newMarket(t)

	for i := 0; i < 10; i++ {
		voter := common.Address{byte(i + 1)}
		require.NoError(t, h.eng.SubmitProposalVote(h.cfgAddr, voter, m.ID, i < 6))
	}
	_, err := h.eng.AggregateProposalVotes(h.cfgAddr, backend, m.ID)
	require.NoError(t, err)

	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateProposed, got.State)
}

func TestDuplicateVoteRejected(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	require.NoError(t, h.eng.SubmitProposalVote(h.cfgAddr, alice, m.ID, true))
	err := h.eng.SubmitProposalVote(h.cfgAddr, alice, m.ID, false)
	assert.ErrorIs(t, err, domain.ErrDuplicateVote)

	// The first ballot stands untouched.
	tally := h.eng.Tally(m.ID, domain.VoteKindProposal)
	assert.Equal(t, domain.VoteTally{Approvals: 1, Total: 1}, tally)
}

func TestVoteOutsideRoundRejected(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	err := h.eng.SubmitProposalVote(h.cfgAddr, alice, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrVoteClosed)

	err = h.eng.SubmitDisputeVote(h.cfgAddr, alice, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrVoteClosed)
}

func TestAggregationRequiresBackendAuthority(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	_, err := h.eng.AggregateProposalVotes(h.cfgAddr, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.eng.AggregateDisputeVotes(h.cfgAddr, admin, m.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAggregationIdempotentAfterTransition(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	// Re-running aggregation after approval is a harmless no-op.
	_, err := h.eng.AggregateProposalVotes(h.cfgAddr, backend, m.ID)
	require.NoError(t, err)

	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateActive, got.State)
}

func TestBuyShares(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	res, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*unit, 0)
	require.NoError(t, err)
	assert.NotZero(t, res.Shares)
	assert.LessOrEqual(t, res.Amount, uint64(10*unit))
	assert.Equal(t, res.Cost+res.Fee.Total, res.Amount)

	// Fee conservation: the split sums exactly.
	assert.Equal(t, res.Fee.Total, res.Fee.Protocol+res.Fee.Creator+res.Fee.Staker)

	// Price invariant and direction.
	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, uint64(unit), got.YesPrice+got.NoPrice)
	assert.Greater(t, got.YesPrice, uint64(unit/2))

	pos, err := h.eng.PositionSnapshot(m.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, res.Shares, pos.YesShares)
	assert.Equal(t, res.Amount, pos.CostBasis)
}

func TestBuySlippageGuard(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	// Demanding far more shares than a small spend can buy trips the guard.
	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 100*unit)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	// Nothing changed.
	_, err = h.eng.PositionSnapshot(m.ID, alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuyBelowMinimum(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit/10_000, 0)
	assert.ErrorIs(t, err, domain.ErrBelowMinimumTrade)
}

func TestTradeRequiresActiveState(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotTradable)

	_, err = h.eng.SellShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 0)
	assert.ErrorIs(t, err, domain.ErrMarketNotTradable)
}

func TestSellShares(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	bought, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*unit, 0)
	require.NoError(t, err)

	sold, err := h.eng.SellShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, bought.Shares, 0)
	require.NoError(t, err)
	assert.NotZero(t, sold.Amount)
	// Round trip loses the two fee charges.
	assert.Less(t, sold.Amount, bought.Amount)

	pos, err := h.eng.PositionSnapshot(m.ID, alice)
	require.NoError(t, err)
	assert.True(t, pos.Empty())
}

func TestSellMoreThanHeld(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	bought, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeNo, unit, 0)
	require.NoError(t, err)

	_, err = h.eng.SellShares(h.cfgAddr, alice, m.ID, domain.OutcomeNo, bought.Shares+1, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	_, err = h.eng.SellShares(h.cfgAddr, bob, m.ID, domain.OutcomeNo, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestBoundedLossUnderTradeSequences(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	// A lopsided sequence of trades must never break maker solvency; every
	// trade re-verifies the invariant internally, so completing the
	// sequence is itself the assertion.
	traders := []common.Address{alice, bob}
	for i := 0; i < 20; i++ {
		side := domain.OutcomeYes
		if i%5 == 0 {
			side = domain.OutcomeNo
		}
		_, err := h.eng.BuyShares(h.cfgAddr, traders[i%2], m.ID, side, 25*unit, 0)
		require.NoError(t, err, "trade %d", i)
	}

	got, _ := h.eng.Snapshot(m.ID)
	assert.NoError(t, lmsr.VerifyBoundedLoss(got.QYes, got.QNo, availablePool(&got)))
}

func TestResolveMarket(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	err := h.eng.ResolveMarket(h.cfgAddr, creator, m.ID, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrDeadlineNotReached)

	h.clock.Advance(24 * time.Hour)
	err = h.eng.ResolveMarket(h.cfgAddr, alice, m.ID, domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = h.eng.ResolveMarket(h.cfgAddr, creator, m.ID, domain.OutcomeUnresolved)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	require.NoError(t, h.eng.ResolveMarket(h.cfgAddr, creator, m.ID, domain.OutcomeYes))
	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateResolving, got.State)
	assert.Equal(t, domain.OutcomeYes, got.ProposedOutcome)
	assert.Equal(t, h.clock.Now().Add(48*time.Hour), got.DisputeWindowEnd)
}

func TestFinalizeNoDispute(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	h.resolveAs(t, m.ID, domain.OutcomeYes)

	err := h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID)
	assert.ErrorIs(t, err, domain.ErrDisputeWindowOpen)

	h.clock.Advance(48*time.Hour + time.Second)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateFinalized, got.State)
	assert.Equal(t, domain.OutcomeYes, got.WinningOutcome)
	assert.False(t, got.WasDisputed())
}

func TestFinalizeIdempotent(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	h.resolveAs(t, m.ID, domain.OutcomeNo)
	h.clock.Advance(49 * time.Hour)

	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))
	before, _ := h.eng.Snapshot(m.ID)

	// Re-finalizing is a silent no-op that changes nothing.
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))
	after, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, before, after)
}

func TestDisputeUpheldFlipsOutcome(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	h.resolveAs(t, m.ID, domain.OutcomeYes)

	require.NoError(t, h.eng.InitiateDispute(h.cfgAddr, bob, m.ID))
	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateDisputed, got.State)

	// 6 of 10 agree with the disputer, meeting the 60% threshold exactly.
	for i := 0; i < 10; i++ {
		voter := common.Address{byte(i + 1)}
		require.NoError(t, h.eng.SubmitDisputeVote(h.cfgAddr, voter, m.ID, i < 6))
	}
	_, err := h.eng.AggregateDisputeVotes(h.cfgAddr, backend, m.ID)
	require.NoError(t, err)

	got, _ = h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.MarketStateFinalized, got.State)
	assert.Equal(t, domain.OutcomeNo, got.WinningOutcome)
	assert.True(t, got.WasDisputed())
}

func TestDisputeRejectedKeepsOutcome(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	h.resolveAs(t, m.ID, domain.OutcomeYes)
	require.NoError(t, h.eng.InitiateDispute(h.cfgAddr, bob, m.ID))

	for i := 0; i < 10; i++ {
		voter := common.Address{byte(i + 1)}
		require.NoError(t, h.eng.SubmitDisputeVote(h.cfgAddr, voter, m.ID, i < 5))
	}
	_, err := h.eng.AggregateDisputeVotes(h.cfgAddr, backend, m.ID)
	require.NoError(t, err)

	got, _ := h.eng.Snapshot(m.ID)
	assert.Equal(t, domain.OutcomeYes, got.WinningOutcome)
	assert.True(t, got.WasDisputed())
}

func TestDisputeWindowClosed(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	h.resolveAs(t, m.ID, domain.OutcomeYes)

	h.clock.Advance(48*time.Hour + time.Minute)
	err := h.eng.InitiateDispute(h.cfgAddr, bob, m.ID)
	assert.ErrorIs(t, err, domain.ErrDisputeWindowClosed)
}

func TestClaimWinnings(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	aliceBuy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*unit, 0)
	require.NoError(t, err)
	_, err = h.eng.BuyShares(h.cfgAddr, bob, m.ID, domain.OutcomeNo, 10*unit, 0)
	require.NoError(t, err)

	h.resolveAs(t, m.ID, domain.OutcomeYes)
	h.clock.Advance(49 * time.Hour)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	// Winner is paid one unit per share.
	payout, err := h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceBuy.Shares, payout)

	// Second claim pays nothing and fails loudly.
	_, err = h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	// Losing side has nothing to claim.
	_, err = h.eng.ClaimWinnings(h.cfgAddr, bob, m.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimBeforeTerminalState(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 0)
	require.NoError(t, err)

	_, err = h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestInvalidOutcomeRefundsCostBasis(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	buy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 5*unit, 0)
	require.NoError(t, err)

	h.resolveAs(t, m.ID, domain.OutcomeInvalid)
	h.clock.Advance(49 * time.Hour)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	payout, err := h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.Amount, payout)
}

func TestInvalidOutcomeNoPayoutPolicy(t *testing.T) {
	h := newHarness(t, func(c *domain.GlobalConfig) {
		c.InvalidOutcomePolicy = domain.InvalidPolicyNoPayout
	})
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 5*unit, 0)
	require.NoError(t, err)

	h.resolveAs(t, m.ID, domain.OutcomeInvalid)
	h.clock.Advance(49 * time.Hour)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	_, err = h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestCancelledMarketRefunds(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	buy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeNo, 3*unit, 0)
	require.NoError(t, err)

	require.NoError(t, h.eng.CancelMarket(h.cfgAddr, admin, m.ID))

	payout, err := h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.Amount, payout)
}

func TestCancelSweepsFeesBeforeWithdraw(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	buy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*unit, 0)
	require.NoError(t, err)

	require.NoError(t, h.eng.CancelMarket(h.cfgAddr, admin, m.ID))
	assert.Equal(t, buy.Fee.Protocol, h.eng.TreasuryBalance())
	assert.Equal(t, buy.Fee.Staker, h.eng.StakerPoolBalance())

	// Creator withdraws first; the refund reserve must survive intact.
	residual, err := h.eng.WithdrawLiquidity(h.cfgAddr, creator, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.InitialLiquidity-buy.Fee.Protocol-buy.Fee.Staker, residual)

	payout, err := h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.Amount, payout)
}

func TestCancelRefundShortfallIsAnError(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	// Trade enough volume that the swept fees exceed the liquidity seed.
	var basis uint64
	for i := 0; i < 30; i++ {
		buy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 50*unit, 0)
		require.NoError(t, err)
		basis += buy.Amount
	}
	require.NoError(t, h.eng.CancelMarket(h.cfgAddr, admin, m.ID))

	got, err := h.eng.Snapshot(m.ID)
	require.NoError(t, err)
	require.Less(t, got.CurrentLiquidity, basis)

	_, err = h.eng.WithdrawLiquidity(h.cfgAddr, creator, m.ID)
	assert.ErrorIs(t, err, domain.ErrBoundedLossViolated)

	_, err = h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	// A failed claim stays open.
	pos, err := h.eng.PositionSnapshot(m.ID, alice)
	require.NoError(t, err)
	assert.False(t, pos.Claimed)
}

func TestCancelMarketAdminOnly(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)

	err := h.eng.CancelMarket(h.cfgAddr, creator, m.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, h.eng.CancelMarket(h.cfgAddr, admin, m.ID))

	// A terminal market cannot be cancelled again.
	err = h.eng.CancelMarket(h.cfgAddr, admin, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestWithdrawLiquidity(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*unit, 0)
	require.NoError(t, err)

	h.resolveAs(t, m.ID, domain.OutcomeYes)
	h.clock.Advance(49 * time.Hour)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	_, err = h.eng.WithdrawLiquidity(h.cfgAddr, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)

	amount, err := h.eng.WithdrawLiquidity(h.cfgAddr, creator, m.ID)
	require.NoError(t, err)
	assert.NotZero(t, amount)

	_, err = h.eng.WithdrawLiquidity(h.cfgAddr, creator, m.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestWithdrawReservesUnclaimedPayouts(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	buy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 10*unit, 0)
	require.NoError(t, err)

	h.resolveAs(t, m.ID, domain.OutcomeYes)
	h.clock.Advance(49 * time.Hour)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	// Creator withdraws before the winner claims; the winner's payout must
	// still be fully covered.
	_, err = h.eng.WithdrawLiquidity(h.cfgAddr, creator, m.ID)
	require.NoError(t, err)

	payout, err := h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)
	assert.Equal(t, buy.Shares, payout)
}

func TestCollateralConservation(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	seed := m.InitialLiquidity
	var deposits uint64
	aliceBuy, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, 20*unit, 0)
	require.NoError(t, err)
	deposits += aliceBuy.Amount
	bobBuy, err := h.eng.BuyShares(h.cfgAddr, bob, m.ID, domain.OutcomeNo, 15*unit, 0)
	require.NoError(t, err)
	deposits += bobBuy.Amount

	h.resolveAs(t, m.ID, domain.OutcomeYes)
	h.clock.Advance(49 * time.Hour)
	require.NoError(t, h.eng.FinalizeMarket(h.cfgAddr, backend, m.ID))

	var withdrawals uint64
	payout, err := h.eng.ClaimWinnings(h.cfgAddr, alice, m.ID)
	require.NoError(t, err)
	withdrawals += payout
	residual, err := h.eng.WithdrawLiquidity(h.cfgAddr, creator, m.ID)
	require.NoError(t, err)
	withdrawals += residual

	got, _ := h.eng.Snapshot(m.ID)
	total := withdrawals + got.CurrentLiquidity + h.eng.TreasuryBalance() + h.eng.StakerPoolBalance()
	assert.Equal(t, seed+deposits, total)
}

func TestEmergencyPauseBlocksUserInstructions(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)

	require.NoError(t, h.eng.EmergencyPause(h.cfgAddr, admin, true))

	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 0)
	assert.ErrorIs(t, err, domain.ErrProtocolPaused)
	err = h.eng.SubmitProposalVote(h.cfgAddr, alice, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrProtocolPaused)

	// Admin instructions still work so the protocol can be repaired.
	require.NoError(t, h.eng.EmergencyPause(h.cfgAddr, admin, false))
	_, err = h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 0)
	require.NoError(t, err)
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	h := newHarness(t)
	m := h.newMarket(t)
	h.approveAndActivate(t, m.ID)
	_, err := h.eng.BuyShares(h.cfgAddr, alice, m.ID, domain.OutcomeYes, unit, 0)
	require.NoError(t, err)

	require.NotEmpty(t, h.events)
	for i := 1; i < len(h.events); i++ {
		assert.Equal(t, h.events[i-1].Seq+1, h.events[i].Seq)
	}
	assert.Equal(t, domain.EventMarketProposed, h.events[0].Type)
	assert.Equal(t, domain.EventTradeExecuted, h.events[len(h.events)-1].Type)
}

func TestAddressDerivationIsStable(t *testing.T) {
	a1 := DeriveMarketAddress(7)
	a2 := DeriveMarketAddress(7)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, DeriveMarketAddress(8))

	p1 := DerivePositionAddress(7, alice)
	assert.NotEqual(t, p1, DerivePositionAddress(7, bob))
	assert.NotEqual(t, p1, DeriveVoteAddress(7, alice, domain.VoteKindProposal))
	assert.NotEqual(t,
		DeriveVoteAddress(7, alice, domain.VoteKindProposal),
		DeriveVoteAddress(7, alice, domain.VoteKindDispute))
}
