package engine

import (
	"fmt"
	"math/bits"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// FeeBreakdown is the fee split of one trade. Protocol + Creator + Staker
// always equals Total exactly.
type FeeBreakdown struct {
	Total    uint64
	Protocol uint64
	Creator  uint64
	Staker   uint64
}

// mulDiv computes a * num / den with a 128-bit intermediate so large
// amounts cannot overflow.
func mulDiv(a, num, den uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, num)
	if hi >= den {
		return 0, fmt.Errorf("engine: fee math: %w", domain.ErrOverflow)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// bpsOf computes amount * bps / 10000.
func bpsOf(amount, bps uint64) (uint64, error) {
	return mulDiv(amount, bps, domain.BpsDenominator)
}

// calculateFees splits amount into the configured fee buckets. The total is
// computed with a single division, then the creator and staker shares are
// carved out and the protocol takes the remainder, so the parts always sum
// to the total with no rounding leakage.
func calculateFees(amount uint64, cfg *domain.GlobalConfig) (FeeBreakdown, error) {
	total, err := bpsOf(amount, cfg.TotalFeeBps())
	if err != nil {
		return FeeBreakdown{}, err
	}
	creator, err := bpsOf(amount, cfg.CreatorFeeBps)
	if err != nil {
		return FeeBreakdown{}, err
	}
	staker, err := bpsOf(amount, cfg.StakerFeeBps)
	if err != nil {
		return FeeBreakdown{}, err
	}
	return FeeBreakdown{
		Total:    total,
		Protocol: total - creator - staker,
		Creator:  creator,
		Staker:   staker,
	}, nil
}
