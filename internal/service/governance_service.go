package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/engine"
)

// GovernanceService drives the market lifecycle: creation, voting,
// resolution, disputes, finalization, claims and admin controls.
type GovernanceService struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// NewGovernanceService creates a GovernanceService.
func NewGovernanceService(eng *engine.Engine, logger *slog.Logger) *GovernanceService {
	return &GovernanceService{eng: eng, logger: logger}
}

func (s *GovernanceService) cfgAddr() common.Address {
	return s.eng.ConfigAddress()
}

// CreateMarket proposes a new market funded with initialLiquidity.
func (s *GovernanceService) CreateMarket(ctx context.Context, creator common.Address, question string, b, initialLiquidity uint64, resolutionDeadline time.Time) (domain.Market, error) {
	m, err := s.eng.CreateMarket(s.cfgAddr(), creator, question, b, initialLiquidity, resolutionDeadline)
	if err != nil {
		return domain.Market{}, err
	}
	s.logger.InfoContext(ctx, "market proposed",
		slog.Uint64("market_id", m.ID),
		slog.String("creator", creator.Hex()),
		slog.Uint64("b", b),
	)
	return m, nil
}

// SubmitProposalVote records a ballot on listing a proposed market.
func (s *GovernanceService) SubmitProposalVote(_ context.Context, voter common.Address, marketID uint64, approve bool) error {
	return s.eng.SubmitProposalVote(s.cfgAddr(), voter, marketID, approve)
}

// SubmitDisputeVote records a ballot on a disputed resolution.
func (s *GovernanceService) SubmitDisputeVote(_ context.Context, voter common.Address, marketID uint64, approve bool) error {
	return s.eng.SubmitDisputeVote(s.cfgAddr(), voter, marketID, approve)
}

// AggregateProposalVotes tallies the proposal round and applies the result.
func (s *GovernanceService) AggregateProposalVotes(ctx context.Context, authority common.Address, marketID uint64) (domain.VoteTally, error) {
	tally, err := s.eng.AggregateProposalVotes(s.cfgAddr(), authority, marketID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	s.logger.InfoContext(ctx, "proposal votes aggregated",
		slog.Uint64("market_id", marketID),
		slog.Uint64("approvals", tally.Approvals),
		slog.Uint64("total", tally.Total),
	)
	return tally, nil
}

// AggregateDisputeVotes tallies the dispute round and finalizes the market.
func (s *GovernanceService) AggregateDisputeVotes(ctx context.Context, authority common.Address, marketID uint64) (domain.VoteTally, error) {
	tally, err := s.eng.AggregateDisputeVotes(s.cfgAddr(), authority, marketID)
	if err != nil {
		return domain.VoteTally{}, err
	}
	s.logger.InfoContext(ctx, "dispute votes aggregated",
		slog.Uint64("market_id", marketID),
		slog.Uint64("approvals", tally.Approvals),
		slog.Uint64("total", tally.Total),
	)
	return tally, nil
}

// ApproveProposal lists a proposed market directly by admin action.
func (s *GovernanceService) ApproveProposal(_ context.Context, authority common.Address, marketID uint64) error {
	return s.eng.ApproveProposal(s.cfgAddr(), authority, marketID)
}

// ActivateMarket opens an approved market for trading.
func (s *GovernanceService) ActivateMarket(_ context.Context, caller common.Address, marketID uint64) error {
	return s.eng.ActivateMarket(s.cfgAddr(), caller, marketID)
}

// ResolveMarket proposes an outcome once the resolution deadline passed.
func (s *GovernanceService) ResolveMarket(ctx context.Context, resolver common.Address, marketID uint64, outcome domain.Outcome) error {
	if err := s.eng.ResolveMarket(s.cfgAddr(), resolver, marketID, outcome); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "market resolving",
		slog.Uint64("market_id", marketID),
		slog.String("outcome", outcome.String()),
	)
	return nil
}

// InitiateDispute challenges a proposed resolution inside the window.
func (s *GovernanceService) InitiateDispute(ctx context.Context, challenger common.Address, marketID uint64) error {
	if err := s.eng.InitiateDispute(s.cfgAddr(), challenger, marketID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "dispute initiated",
		slog.Uint64("market_id", marketID),
		slog.String("challenger", challenger.Hex()),
	)
	return nil
}

// FinalizeMarket settles an undisputed market after the window closes.
func (s *GovernanceService) FinalizeMarket(ctx context.Context, caller common.Address, marketID uint64) error {
	if err := s.eng.FinalizeMarket(s.cfgAddr(), caller, marketID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "market finalized", slog.Uint64("market_id", marketID))
	return nil
}

// ClaimWinnings pays out a claimant's terminal-state entitlement.
func (s *GovernanceService) ClaimWinnings(ctx context.Context, claimant common.Address, marketID uint64) (uint64, error) {
	payout, err := s.eng.ClaimWinnings(s.cfgAddr(), claimant, marketID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "winnings claimed",
		slog.Uint64("market_id", marketID),
		slog.String("claimant", claimant.Hex()),
		slog.Uint64("payout", payout),
	)
	return payout, nil
}

// WithdrawLiquidity returns the creator's residual pool and fee share.
func (s *GovernanceService) WithdrawLiquidity(ctx context.Context, caller common.Address, marketID uint64) (uint64, error) {
	amount, err := s.eng.WithdrawLiquidity(s.cfgAddr(), caller, marketID)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "liquidity withdrawn",
		slog.Uint64("market_id", marketID),
		slog.Uint64("amount", amount),
	)
	return amount, nil
}

// UpdateConfig replaces the protocol parameters.
func (s *GovernanceService) UpdateConfig(ctx context.Context, authority common.Address, cfg domain.GlobalConfig) error {
	if err := s.eng.UpdateConfig(s.cfgAddr(), authority, cfg); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "config updated", slog.String("authority", authority.Hex()))
	return nil
}

// EmergencyPause halts or resumes user-facing instructions.
func (s *GovernanceService) EmergencyPause(ctx context.Context, authority common.Address, paused bool) error {
	if err := s.eng.EmergencyPause(s.cfgAddr(), authority, paused); err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "emergency pause toggled", slog.Bool("paused", paused))
	return nil
}

// CancelMarket aborts a market before it becomes resolvable.
func (s *GovernanceService) CancelMarket(ctx context.Context, authority common.Address, marketID uint64) error {
	if err := s.eng.CancelMarket(s.cfgAddr(), authority, marketID); err != nil {
		return err
	}
	s.logger.WarnContext(ctx, "market cancelled", slog.Uint64("market_id", marketID))
	return nil
}

// Status summarises engine-level balances for operators.
type Status struct {
	Treasury   uint64 `json:"treasury"`
	StakerPool uint64 `json:"staker_pool"`
}

// Status reports the engine's protocol-level balances.
func (s *GovernanceService) Status(context.Context) Status {
	return Status{
		Treasury:   s.eng.TreasuryBalance(),
		StakerPool: s.eng.StakerPoolBalance(),
	}
}
