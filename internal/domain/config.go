package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Fee and vote threshold defaults, in basis points.
const (
	DefaultProtocolFeeBps uint64 = 300
	DefaultCreatorFeeBps  uint64 = 200
	DefaultStakerFeeBps   uint64 = 500

	DefaultProposalThresholdBps uint64 = 7000
	DefaultDisputeThresholdBps  uint64 = 6000

	BpsDenominator uint64 = 10_000
)

// FloorPolicy decides what happens when a proposal vote closes below the
// minimum participation floor.
type FloorPolicy string

const (
	// FloorPolicyReject cancels the market when participation is short.
	FloorPolicyReject FloorPolicy = "reject"
	// FloorPolicyHold leaves the market in proposed state for another
	// aggregation round.
	FloorPolicyHold FloorPolicy = "hold"
)

// InvalidPolicy decides how positions are paid out when a market finalizes
// as invalid.
type InvalidPolicy string

const (
	// InvalidPolicyRefundCost refunds each position its net cost basis.
	InvalidPolicyRefundCost InvalidPolicy = "refund-cost-basis"
	// InvalidPolicyNoPayout pays nothing; all pool funds go to the creator
	// residual withdraw.
	InvalidPolicyNoPayout InvalidPolicy = "no-payout"
)

// GlobalConfig is the singleton protocol configuration. Only Authority may
// change it, and only BackendAuthority may drive vote aggregation and
// autonomous finalization.
type GlobalConfig struct {
	Authority        common.Address
	BackendAuthority common.Address

	ProtocolFeeBps uint64
	CreatorFeeBps  uint64
	StakerFeeBps   uint64

	ProposalThresholdBps uint64
	DisputeThresholdBps  uint64
	MinProposalVotes     uint64
	MinDisputeVotes      uint64

	// MinResolutionDelay is the shortest allowed gap between activation
	// and the resolution deadline.
	MinResolutionDelay time.Duration
	DisputeWindow      time.Duration

	// MinTradeAmount rejects dust trades whose cost rounds to nothing.
	MinTradeAmount uint64

	ProposalFloorPolicy  FloorPolicy
	InvalidOutcomePolicy InvalidPolicy

	Paused  bool
	Version uint32
}

// TotalFeeBps returns the combined trade fee rate.
func (c *GlobalConfig) TotalFeeBps() uint64 {
	return c.ProtocolFeeBps + c.CreatorFeeBps + c.StakerFeeBps
}
