package domain

import (
	"errors"

	"github.com/zmartlabs/zmart-engine/internal/fixedpoint"
	"github.com/zmartlabs/zmart-engine/internal/lmsr"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrInvalidConfig      = errors.New("config address is not canonical")
	ErrMarketNotTradable  = errors.New("market not accepting trades")
	ErrMarketNotResolving = errors.New("market not awaiting resolution")
	ErrProtocolPaused     = errors.New("protocol is paused")

	ErrDuplicateVote = errors.New("vote already cast")
	ErrVoteClosed    = errors.New("voting round closed")

	ErrSlippageExceeded      = errors.New("cost exceeds slippage limit")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrBelowMinimumTrade     = errors.New("trade below minimum size")

	ErrDeadlineNotReached   = errors.New("resolution deadline not reached")
	ErrDisputeWindowClosed  = errors.New("dispute window closed")
	ErrDisputeWindowOpen    = errors.New("dispute window still open")
	ErrInvalidOutcome       = errors.New("invalid outcome value")
	ErrNothingToClaim       = errors.New("nothing to claim")
	ErrAlreadyClaimed       = errors.New("already claimed")

	// Math failures surface under the same identities the math packages
	// return, so errors.Is works across layers.
	ErrOverflow            = fixedpoint.ErrOverflow
	ErrInvalidLiquidity    = lmsr.ErrInvalidLiquidity
	ErrBoundedLossViolated = lmsr.ErrBoundedLossViolated
)
