package domain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to MarketState }{
		{MarketStateProposed, MarketStateApproved},
		{MarketStateProposed, MarketStateCancelled},
		{MarketStateApproved, MarketStateActive},
		{MarketStateApproved, MarketStateCancelled},
		{MarketStateActive, MarketStateResolving},
		{MarketStateActive, MarketStateCancelled},
		{MarketStateResolving, MarketStateDisputed},
		{MarketStateResolving, MarketStateFinalized},
		{MarketStateDisputed, MarketStateFinalized},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	illegal := []struct{ from, to MarketState }{
		{MarketStateProposed, MarketStateActive},
		{MarketStateApproved, MarketStateResolving},
		{MarketStateActive, MarketStateFinalized},
		{MarketStateResolving, MarketStateActive},
		{MarketStateResolving, MarketStateCancelled},
		{MarketStateDisputed, MarketStateResolving},
		{MarketStateDisputed, MarketStateCancelled},
		{MarketStateFinalized, MarketStateActive},
		{MarketStateCancelled, MarketStateProposed},
		{MarketStateApproved, MarketStateApproved},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, MarketStateFinalized.Terminal())
	assert.True(t, MarketStateCancelled.Terminal())
	assert.False(t, MarketStateProposed.Terminal())
	assert.False(t, MarketStateResolving.Terminal())
}

func TestOutcomeOpposite(t *testing.T) {
	assert.Equal(t, OutcomeNo, OutcomeYes.Opposite())
	assert.Equal(t, OutcomeYes, OutcomeNo.Opposite())
	assert.Equal(t, OutcomeInvalid, OutcomeInvalid.Opposite())
	assert.Equal(t, OutcomeUnresolved, OutcomeUnresolved.Opposite())
}

func TestWasDisputed(t *testing.T) {
	m := Market{State: MarketStateFinalized}
	assert.False(t, m.WasDisputed())

	m.DisputeInitiator = common.HexToAddress("0x01")
	assert.True(t, m.WasDisputed())
}

func TestWinningOutstanding(t *testing.T) {
	m := Market{
		WinningOutcome: OutcomeYes,
		QYes:           1000,
		QNo:            400,
		TotalClaimed:   300,
	}
	assert.Equal(t, uint64(700), m.WinningOutstanding())

	m.TotalClaimed = 1000
	assert.Zero(t, m.WinningOutstanding())

	m.WinningOutcome = OutcomeInvalid
	assert.Zero(t, m.WinningOutstanding())
}

func TestVoteTallyRatio(t *testing.T) {
	assert.Zero(t, VoteTally{}.RatioBps())
	assert.Equal(t, uint64(7000), VoteTally{Approvals: 7, Total: 10}.RatioBps())
	assert.Equal(t, uint64(6666), VoteTally{Approvals: 2, Total: 3}.RatioBps())
}

func TestVoteTallyPasses(t *testing.T) {
	// The threshold comparison is inclusive.
	assert.True(t, VoteTally{Approvals: 7, Total: 10}.Passes(DefaultProposalThresholdBps))
	assert.False(t, VoteTally{Approvals: 69, Total: 100}.Passes(DefaultProposalThresholdBps))
	assert.True(t, VoteTally{Approvals: 6, Total: 10}.Passes(DefaultDisputeThresholdBps))
	assert.False(t, VoteTally{}.Passes(0))
}

func TestMarketAccessors(t *testing.T) {
	now := time.Now()
	m := Market{State: MarketStateActive, CreatedAt: now}
	assert.True(t, m.IsTradable())
	assert.False(t, m.IsFinalized())
	assert.False(t, m.IsCancelled())

	m.State = MarketStateFinalized
	assert.False(t, m.IsTradable())
	assert.True(t, m.IsFinalized())
}
