package config

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// ToDomain converts the TOML protocol section into the engine's genesis
// global config. Validate must have passed before calling this.
func (p ProtocolConfig) ToDomain() domain.GlobalConfig {
	return domain.GlobalConfig{
		Authority:            common.HexToAddress(p.Authority),
		BackendAuthority:     common.HexToAddress(p.BackendAuthority),
		ProtocolFeeBps:       p.ProtocolFeeBps,
		CreatorFeeBps:        p.CreatorFeeBps,
		StakerFeeBps:         p.StakerFeeBps,
		ProposalThresholdBps: p.ProposalThresholdBps,
		DisputeThresholdBps:  p.DisputeThresholdBps,
		MinProposalVotes:     p.MinProposalVotes,
		MinDisputeVotes:      p.MinDisputeVotes,
		MinResolutionDelay:   p.MinResolutionDelay.Duration,
		DisputeWindow:        p.DisputeWindow.Duration,
		MinTradeAmount:       p.MinTradeAmount,
		ProposalFloorPolicy:  domain.FloorPolicy(p.ProposalFloorPolicy),
		InvalidOutcomePolicy: domain.InvalidPolicy(p.InvalidOutcomePolicy),
	}
}
