package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// voteSourceState maps a vote kind to the market state in which its round
// is open.
func voteSourceState(kind domain.VoteKind) domain.MarketState {
	if kind == domain.VoteKindProposal {
		return domain.MarketStateProposed
	}
	return domain.MarketStateDisputed
}

func (e *Engine) castVote(cfgAddr, voter common.Address, marketID uint64, kind domain.VoteKind, approve bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return err
	}
	if err := e.requireUnpaused(); err != nil {
		return err
	}
	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if m.State != voteSourceState(kind) {
		return fmt.Errorf("engine: %s vote: market %d in %s: %w", kind, m.ID, m.State, domain.ErrVoteClosed)
	}
	key := voteKey{marketID, voter, kind}
	if _, ok := e.votes[key]; ok {
		return fmt.Errorf("engine: %s vote: market %d voter %s: %w", kind, marketID, voter, domain.ErrDuplicateVote)
	}

	rec := &domain.VoteRecord{
		Address:  DeriveVoteAddress(marketID, voter, kind),
		MarketID: marketID,
		Voter:    voter,
		Kind:     kind,
		Approve:  approve,
		CastAt:   e.now(),
	}
	e.votes[key] = rec
	tk := tallyKey{marketID, kind}
	tally := e.tallies[tk]
	tally.Total++
	if approve {
		tally.Approvals++
	}
	e.tallies[tk] = tally

	e.emit(domain.Event{
		Type:     domain.EventVoteCast,
		MarketID: marketID,
		Actor:    voter,
		VoteKind: kind,
		Approve:  approve,
	})
	return nil
}

// SubmitProposalVote records one voter's ballot on whether a proposed
// market should be listed. A voter gets exactly one ballot per round.
func (e *Engine) SubmitProposalVote(cfgAddr, voter common.Address, marketID uint64, approve bool) error {
	return e.castVote(cfgAddr, voter, marketID, domain.VoteKindProposal, approve)
}

// SubmitDisputeVote records one voter's ballot on whether the challenged
// resolution should be overturned.
func (e *Engine) SubmitDisputeVote(cfgAddr, voter common.Address, marketID uint64, approve bool) error {
	return e.castVote(cfgAddr, voter, marketID, domain.VoteKindDispute, approve)
}

// AggregateProposalVotes tallies the proposal round and applies the result.
// Backend authority only. When the market already left proposed state the
// call is a no-op so scheduler retries are harmless. Below the participation
// floor nothing happens and collection continues; at the floor without the
// threshold the configured floor policy decides between holding the round
// open and cancelling the market.
func (e *Engine) AggregateProposalVotes(cfgAddr, authority common.Address, marketID uint64) (domain.VoteTally, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return domain.VoteTally{}, err
	}
	if authority != e.cfg.BackendAuthority {
		return domain.VoteTally{}, fmt.Errorf("engine: aggregate proposal: %w", domain.ErrUnauthorized)
	}
	m, err := e.market(marketID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	tally := e.tallies[tallyKey{marketID, domain.VoteKindProposal}]
	if m.State != domain.MarketStateProposed {
		return tally, nil
	}

	switch {
	case tally.Passes(e.cfg.ProposalThresholdBps):
		next := *m
		if err := e.transition(&next, domain.MarketStateApproved); err != nil {
			return tally, err
		}
		ts := e.now()
		next.ApprovedAt = &ts
		*m = next
		e.emit(domain.Event{
			Type:     domain.EventVotesTallied,
			MarketID: m.ID,
			VoteKind: domain.VoteKindProposal,
			Tally:    &tally,
			State:    m.State,
		})
		e.log.Info("proposal approved", "market", m.ID, "ratio_bps", tally.RatioBps())

	case tally.Total < e.cfg.MinProposalVotes:
		// Not enough ballots yet; the round stays open.

	case e.cfg.ProposalFloorPolicy == domain.FloorPolicyReject:
		next := *m
		if err := e.transition(&next, domain.MarketStateCancelled); err != nil {
			return tally, err
		}
		ts := e.now()
		next.FinalizedAt = &ts
		*m = next
		e.emit(domain.Event{
			Type:     domain.EventMarketCancelled,
			MarketID: m.ID,
			State:    m.State,
			Tally:    &tally,
			VoteKind: domain.VoteKindProposal,
		})
		e.log.Info("proposal rejected", "market", m.ID, "ratio_bps", tally.RatioBps())
	}
	return tally, nil
}

// AggregateDisputeVotes tallies the dispute round and finalizes the market.
// Backend authority only; a no-op once the market left disputed state. An
// upheld dispute flips a yes/no resolution to its opposite; an invalid
// resolution stays invalid either way.
func (e *Engine) AggregateDisputeVotes(cfgAddr, authority common.Address, marketID uint64) (domain.VoteTally, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireConfig(cfgAddr); err != nil {
		return domain.VoteTally{}, err
	}
	if authority != e.cfg.BackendAuthority {
		return domain.VoteTally{}, fmt.Errorf("engine: aggregate dispute: %w", domain.ErrUnauthorized)
	}
	m, err := e.market(marketID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	tally := e.tallies[tallyKey{marketID, domain.VoteKindDispute}]
	if m.State != domain.MarketStateDisputed {
		return tally, nil
	}
	if tally.Total < e.cfg.MinDisputeVotes {
		return tally, nil
	}

	outcome := m.ProposedOutcome
	if tally.Passes(e.cfg.DisputeThresholdBps) {
		outcome = m.ProposedOutcome.Opposite()
	}
	if err := e.finalizeLocked(m, outcome); err != nil {
		return tally, err
	}
	e.emit(domain.Event{
		Type:     domain.EventVotesTallied,
		MarketID: m.ID,
		VoteKind: domain.VoteKindDispute,
		Tally:    &tally,
		State:    m.State,
		Outcome:  m.WinningOutcome,
	})
	e.log.Info("dispute decided", "market", m.ID, "ratio_bps", tally.RatioBps(), "outcome", outcome)
	return tally, nil
}

// Tally returns the current tally of one voting round.
func (e *Engine) Tally(marketID uint64, kind domain.VoteKind) domain.VoteTally {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tallies[tallyKey{marketID, kind}]
}
