package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// GovernanceService defines the lifecycle methods the governance handler
// requires: voting, resolution, disputes, finalization and claims.
type GovernanceService interface {
	SubmitProposalVote(ctx context.Context, voter common.Address, marketID uint64, approve bool) error
	SubmitDisputeVote(ctx context.Context, voter common.Address, marketID uint64, approve bool) error
	AggregateProposalVotes(ctx context.Context, authority common.Address, marketID uint64) (domain.VoteTally, error)
	AggregateDisputeVotes(ctx context.Context, authority common.Address, marketID uint64) (domain.VoteTally, error)
	ApproveProposal(ctx context.Context, authority common.Address, marketID uint64) error
	ResolveMarket(ctx context.Context, resolver common.Address, marketID uint64, outcome domain.Outcome) error
	InitiateDispute(ctx context.Context, challenger common.Address, marketID uint64) error
	FinalizeMarket(ctx context.Context, caller common.Address, marketID uint64) error
	ClaimWinnings(ctx context.Context, claimant common.Address, marketID uint64) (uint64, error)
	WithdrawLiquidity(ctx context.Context, caller common.Address, marketID uint64) (uint64, error)
}

// GovernanceHandler serves lifecycle HTTP endpoints.
type GovernanceHandler struct {
	gov    GovernanceService
	logger *slog.Logger
}

// NewGovernanceHandler creates a GovernanceHandler.
func NewGovernanceHandler(gov GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logger}
}

// voteRequest is the JSON body for ballot submission.
type voteRequest struct {
	Voter   string `json:"voter"`
	Kind    string `json:"kind"`
	Approve bool   `json:"approve"`
}

// SubmitVote records one ballot in a market's current voting round.
// POST /api/markets/{id}/votes
func (h *GovernanceHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	voter, err := parseAddress(req.Voter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := parseVoteKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if kind == domain.VoteKindProposal {
		err = h.gov.SubmitProposalVote(r.Context(), voter, id, req.Approve)
	} else {
		err = h.gov.SubmitDisputeVote(r.Context(), voter, id, req.Approve)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// aggregateRequest is the JSON body for tally aggregation.
type aggregateRequest struct {
	Authority string `json:"authority"`
	Kind      string `json:"kind"`
}

// AggregateVotes tallies a voting round and applies the outcome.
// POST /api/markets/{id}/votes/aggregate
func (h *GovernanceHandler) AggregateVotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req aggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parseAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := parseVoteKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tally domain.VoteTally
	if kind == domain.VoteKindProposal {
		tally, err = h.gov.AggregateProposalVotes(r.Context(), authority, id)
	} else {
		tally, err = h.gov.AggregateDisputeVotes(r.Context(), authority, id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tally)
}

// authorityRequest is the JSON body for admin-authority operations.
type authorityRequest struct {
	Authority string `json:"authority"`
}

// ApproveProposal lists a proposed market by direct admin action.
// POST /api/markets/{id}/approve
func (h *GovernanceHandler) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req authorityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parseAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gov.ApproveProposal(r.Context(), authority, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// resolveRequest is the JSON body for outcome proposal.
type resolveRequest struct {
	Resolver string `json:"resolver"`
	Outcome  string `json:"outcome"`
}

// ResolveMarket proposes an outcome after the resolution deadline.
// POST /api/markets/{id}/resolve
func (h *GovernanceHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolver, err := parseAddress(req.Resolver)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gov.ResolveMarket(r.Context(), resolver, id, outcome); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolving"})
}

// disputeRequest is the JSON body for dispute initiation.
type disputeRequest struct {
	Challenger string `json:"challenger"`
}

// InitiateDispute challenges a proposed resolution inside the window.
// POST /api/markets/{id}/dispute
func (h *GovernanceHandler) InitiateDispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req disputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	challenger, err := parseAddress(req.Challenger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gov.InitiateDispute(r.Context(), challenger, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

// FinalizeMarket settles an undisputed market after the window closes.
// POST /api/markets/{id}/finalize
func (h *GovernanceHandler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.gov.FinalizeMarket(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

// claimRequest is the JSON body for payout claims.
type claimRequest struct {
	Claimant string `json:"claimant"`
}

// ClaimWinnings pays out a terminal-state entitlement.
// POST /api/markets/{id}/claim
func (h *GovernanceHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	claimant, err := parseAddress(req.Claimant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.gov.ClaimWinnings(r.Context(), claimant, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"payout": payout})
}

// WithdrawLiquidity returns the creator's residual pool and fee share.
// POST /api/markets/{id}/withdraw
func (h *GovernanceHandler) WithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := h.gov.WithdrawLiquidity(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"amount": amount})
}
